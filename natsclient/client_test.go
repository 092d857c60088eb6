package natsclient

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/topazyo/s3-sentinel-connector-sub001/errors"
	"github.com/topazyo/s3-sentinel-connector-sub001/pkg/retry"
)

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func TestConnectionStatus_String(t *testing.T) {
	tests := map[ConnectionStatus]string{
		StatusDisconnected:   "disconnected",
		StatusConnecting:     "connecting",
		StatusConnected:      "connected",
		StatusReconnecting:   "reconnecting",
		StatusClosed:         "closed",
		ConnectionStatus(42): "unknown",
	}
	for status, expected := range tests {
		assert.Equal(t, expected, status.String())
	}
}

func TestNewClient(t *testing.T) {
	client, err := NewClient("nats://localhost:4222",
		WithName("s3sentinel"),
		WithTimeout(time.Second),
		WithMaxReconnects(3),
		WithReconnectWait(10*time.Millisecond),
		WithDrainTimeout(time.Second),
		WithToken("t0ken"),
		WithLogger(slog.Default()),
	)
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", client.URL())
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.False(t, client.IsHealthy())
	assert.Equal(t, ProbeName, client.Name())
	assert.Equal(t, 3, client.maxReconnects)
	assert.Len(t, client.connectionOptions(), 10)
}

func TestNewClient_InvalidOptions(t *testing.T) {
	_, err := NewClient("")
	assert.True(t, cerrors.IsInvalid(err))

	_, err = NewClient("nats://localhost:4222", WithTimeout(0))
	assert.True(t, cerrors.IsInvalid(err))

	_, err = NewClient("nats://localhost:4222", WithLogger(nil))
	assert.Error(t, err)
}

func TestClient_NotConnected(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	ctx := context.Background()

	err = client.Publish(ctx, "s3sentinel.metrics", []byte("{}"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.True(t, cerrors.IsTransient(err))

	err = client.Probe(ctx)
	assert.ErrorIs(t, err, cerrors.ErrDependencyUnreachable)

	_, err = client.RTT()
	assert.ErrorIs(t, err, ErrNotConnected)

	assert.Error(t, client.Subscribe("x", func([]byte) {}))
}

func TestClient_ConnectFailsAfterRetries(t *testing.T) {
	client, err := NewClient("nats://127.0.0.1:1",
		WithTimeout(200*time.Millisecond),
		WithConnectRetry(fastRetry()),
	)
	require.NoError(t, err)

	err = client.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, cerrors.IsTransient(err))
	assert.Equal(t, StatusDisconnected, client.Status())
}

func TestClient_CloseIdempotent(t *testing.T) {
	client, err := NewClient("nats://localhost:4222", WithCredentials("u", "p"))
	require.NoError(t, err)

	assert.NoError(t, client.Close(context.Background()))
	assert.NoError(t, client.Close(context.Background()))
	assert.Equal(t, StatusClosed, client.Status())
	assert.Empty(t, client.password, "credentials are cleared on close")

	err = client.Connect(context.Background())
	assert.ErrorIs(t, err, cerrors.ErrShuttingDown)
}
