// Package retry provides exponential backoff for transient failures.
//
// Two callers matter in this repository: the NATS client connects at startup
// with Connect(), and the replay-failed command repeats replay passes with
// Replay() until no batch fails or the attempts run out.
//
//	err := retry.Do(ctx, retry.Replay(), func() error {
//	    res, err := replayer.Replay(ctx, router, logType)
//	    if err != nil {
//	        return retry.NonRetryable(err)
//	    }
//	    if res.Failed > 0 {
//	        return fmt.Errorf("%d batches still failing", res.Failed)
//	    }
//	    return nil
//	})
//
// Wrap an error with NonRetryable to stop immediately. Sleeps between attempts
// observe ctx cancellation.
package retry
