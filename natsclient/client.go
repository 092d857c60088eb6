package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/topazyo/s3-sentinel-connector-sub001/errors"
	"github.com/topazyo/s3-sentinel-connector-sub001/pkg/retry"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int32

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusClosed
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrNotConnected is returned by operations that need a live connection
var ErrNotConnected = stderrors.New("not connected to NATS")

// ProbeName is the dependency name the client reports as a prober
const ProbeName = "nats"

// Client owns a single NATS connection
type Client struct {
	url    string
	status atomic.Int32
	logger *slog.Logger

	conn *nats.Conn
	mu   sync.RWMutex

	reconnects atomic.Int64

	clientName    string
	timeout       time.Duration
	maxReconnects int
	reconnectWait time.Duration
	drainTimeout  time.Duration
	connectRetry  retry.Config

	username string
	password string
	token    string

	closeOnce sync.Once
}

// NewClient creates a disconnected client
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	if url == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Client", "NewClient", "NATS url is required")
	}

	c := &Client{
		url:           url,
		logger:        slog.Default().With("component", "natsclient"),
		timeout:       5 * time.Second,
		maxReconnects: -1,
		reconnectWait: 2 * time.Second,
		drainTimeout:  10 * time.Second,
		connectRetry:  retry.Connect(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}
	c.setStatus(StatusDisconnected)
	return c, nil
}

// URL returns the server URL
func (c *Client) URL() string {
	return c.url
}

// Status returns the current connection status
func (c *Client) Status() ConnectionStatus {
	return ConnectionStatus(c.status.Load())
}

func (c *Client) setStatus(s ConnectionStatus) {
	c.status.Store(int32(s))
}

// IsHealthy reports whether the connection is up
func (c *Client) IsHealthy() bool {
	return c.Status() == StatusConnected
}

// Reconnects returns how many times the connection was re-established
func (c *Client) Reconnects() int64 {
	return c.reconnects.Load()
}

func (c *Client) connectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.Timeout(c.timeout),
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ReconnectHandler(c.handleReconnect),
		nats.ClosedHandler(c.handleClosed),
		nats.ErrorHandler(c.handleError),
	}
	if c.clientName != "" {
		opts = append(opts, nats.Name(c.clientName))
	}
	if c.username != "" && c.password != "" {
		opts = append(opts, nats.UserInfo(c.username, c.password))
	}
	if c.token != "" {
		opts = append(opts, nats.Token(c.token))
	}
	return opts
}

// Connect dials the server, retrying with backoff until it succeeds, the
// attempts run out or ctx is cancelled
func (c *Client) Connect(ctx context.Context) error {
	if c.Status() == StatusClosed {
		return errors.WrapInvalid(errors.ErrShuttingDown, "Client", "Connect", "client closed")
	}
	if c.IsHealthy() {
		return nil
	}

	c.setStatus(StatusConnecting)
	c.logger.Info("Connecting to NATS", "url", c.url)

	attempt := 0
	conn, err := retry.DoWithResult(ctx, c.connectRetry, func() (*nats.Conn, error) {
		attempt++
		conn, err := nats.Connect(c.url, c.connectionOptions()...)
		if err != nil {
			c.logger.Warn("NATS connection attempt failed", "attempt", attempt, "error", err)
			return nil, err
		}
		return conn, nil
	})
	if err != nil {
		c.setStatus(StatusDisconnected)
		return errors.WrapTransient(err, "Client", "Connect", "establish connection")
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setStatus(StatusConnected)

	c.logger.Info("Connected to NATS", "url", c.url, "attempts", attempt)
	return nil
}

func (c *Client) connection() (*nats.Conn, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil || !conn.IsConnected() {
		return nil, ErrNotConnected
	}
	return conn, nil
}

// Publish sends data on subject
func (c *Client) Publish(_ context.Context, subject string, data []byte) error {
	conn, err := c.connection()
	if err != nil {
		return errors.WrapTransient(err, "Client", "Publish", fmt.Sprintf("publish to %s", subject))
	}
	if err := conn.Publish(subject, data); err != nil {
		return errors.WrapTransient(err, "Client", "Publish", fmt.Sprintf("publish to %s", subject))
	}
	return nil
}

// Subscribe registers handler for subject. The subscription lives until the
// client is closed.
func (c *Client) Subscribe(subject string, handler func(data []byte)) error {
	conn, err := c.connection()
	if err != nil {
		return errors.WrapTransient(err, "Client", "Subscribe", subject)
	}
	_, err = conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return errors.WrapTransient(err, "Client", "Subscribe", subject)
	}
	return nil
}

// RTT returns the round-trip time to the server
func (c *Client) RTT() (time.Duration, error) {
	conn, err := c.connection()
	if err != nil {
		return 0, err
	}
	return conn.RTT()
}

// Name identifies the client as a dependency probe
func (c *Client) Name() string {
	return ProbeName
}

// Probe checks the connection with a server round trip bounded by ctx
func (c *Client) Probe(ctx context.Context) error {
	conn, err := c.connection()
	if err != nil {
		return errors.WrapTransient(errors.ErrDependencyUnreachable, "Client", "Probe", err.Error())
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if err := conn.FlushWithContext(ctx); err != nil {
		return errors.WrapTransient(errors.ErrDependencyUnreachable, "Client", "Probe", err.Error())
	}
	return nil
}

// Close drains the connection. Safe to call more than once.
func (c *Client) Close(ctx context.Context) error {
	var closeErr error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		conn := c.conn
		c.conn = nil
		c.username, c.password, c.token = "", "", ""
		c.mu.Unlock()

		c.setStatus(StatusClosed)
		if conn == nil {
			return
		}

		drained := make(chan error, 1)
		go func() { drained <- conn.Drain() }()

		select {
		case err := <-drained:
			if err != nil {
				closeErr = errors.Wrap(err, "Client", "Close", "drain connection")
			}
		case <-ctx.Done():
			closeErr = errors.Wrap(ctx.Err(), "Client", "Close", "drain interrupted")
		case <-time.After(c.drainTimeout):
			closeErr = errors.WrapTransient(errors.ErrConnectionTimeout, "Client", "Close",
				fmt.Sprintf("drain did not finish within %v", c.drainTimeout))
		}
		conn.Close()
	})
	return closeErr
}

func (c *Client) handleDisconnect(_ *nats.Conn, err error) {
	if c.Status() == StatusClosed {
		return
	}
	c.setStatus(StatusReconnecting)
	c.logger.Warn("NATS disconnected", "error", err)
}

func (c *Client) handleReconnect(_ *nats.Conn) {
	c.reconnects.Add(1)
	c.setStatus(StatusConnected)
	c.logger.Info("NATS reconnected", "reconnects", c.reconnects.Load())
}

func (c *Client) handleClosed(_ *nats.Conn) {
	if c.Status() != StatusClosed {
		c.setStatus(StatusDisconnected)
	}
}

func (c *Client) handleError(_ *nats.Conn, _ *nats.Subscription, err error) {
	c.logger.Error("NATS error", "error", err)
}
