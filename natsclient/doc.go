// Package natsclient manages the connection the connector uses to publish
// metric snapshots and alert notifications over NATS.
//
// NATS is optional. When configured, the client connects at startup with
// exponential backoff (pkg/retry), reconnects on its own afterwards and
// doubles as a dependency probe for the health-check loop:
//
//	client, err := natsclient.NewClient(cfg.URL,
//	    natsclient.WithName("s3sentinel"),
//	    natsclient.WithLogger(logger),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(context.Background())
//
//	err = client.Publish(ctx, "s3sentinel.alerts", payload)
//
// Publish on a disconnected client returns a transient error wrapping
// ErrNotConnected; callers treat it like any other sink failure.
package natsclient
