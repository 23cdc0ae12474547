package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Iwinswap/iwinswap-solvency-pool-go/protocols/solvency"
	"github.com/Iwinswap/iwinswap-solvency-pool-go/streams/jsonrpc/server"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
)

// Constants for reconnection logic
const (
	initialReconnectDelay = 1 * time.Second
	maxReconnectDelay     = 30 * time.Second
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config holds the configuration for the client.
type Config struct {
	URL        string
	Pool       common.Address
	Logger     Logger
	BufferSize uint
}

// validate checks if the configuration is valid.
func (c *Config) validate() error {
	if c.URL == "" {
		return errors.New("config: URL is required")
	}
	if c.Pool == (common.Address{}) {
		return errors.New("config: Pool is required")
	}
	if c.BufferSize < 1 {
		return errors.New("config: BufferSize must be greater than 0")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	return nil
}

// Update is one pool state received from the server.
type Update struct {
	// Op is the committed operation, or "snapshot" for the first state of a
	// subscription.
	Op         string
	Pool       solvency.PoolView
	SentAt     time.Time
	ReceivedAt time.Time
}

// SubscriptionEvent is the wrapper object received from the server.
type SubscriptionEvent struct {
	Type    string          `json:"type"`
	Op      string          `json:"op"`
	Payload json.RawMessage `json:"payload"`
	SentAt  int64           `json:"sentAt"`
}

// Client follows the state of one pool, reconnecting until its context is
// canceled.
type Client struct {
	pool     common.Address
	updateCh chan *Update
	errCh    chan error
	logger   Logger

	mu   sync.RWMutex
	last *Update
}

// NewClient creates a new client and starts the connection and subscription manager.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	client := &Client{
		pool:     cfg.Pool,
		updateCh: make(chan *Update, cfg.BufferSize),
		errCh:    make(chan error, 1),
		logger:   cfg.Logger,
	}

	go client.run(ctx, cfg.URL)
	return client, nil
}

// Updates returns a read-only channel for receiving pool states. It is
// closed when the client stops.
func (c *Client) Updates() <-chan *Update {
	return c.updateCh
}

// Err returns a read-only channel for receiving fatal (unrecoverable) errors.
func (c *Client) Err() <-chan error {
	return c.errCh
}

// run handles the entire lifecycle of the client, including reconnection.
func (c *Client) run(ctx context.Context, url string) {
	defer close(c.updateCh)
	defer close(c.errCh)
	reconnectDelay := initialReconnectDelay

	for {
		if ctx.Err() != nil {
			c.logger.Info("Client context canceled, shutting down.")
			return
		}

		c.logger.Info("Attempting to connect to RPC server", "url", url)
		rpcClient, err := rpc.DialContext(ctx, url)
		if err != nil {
			c.logger.Error("Failed to connect to RPC server, will retry...", "error", err, "delay", reconnectDelay)
			if !sleep(ctx, reconnectDelay) {
				return
			}
			reconnectDelay = min(reconnectDelay*2, maxReconnectDelay)
			continue
		}

		c.logger.Info("Successfully connected to RPC server.")
		reconnectDelay = initialReconnectDelay

		err = c.subscribeAndProcess(ctx, rpcClient)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				c.logger.Info("Context canceled during subscription, shutting down.", "error", err)
				return
			}
			var rpcErr rpc.Error
			if errors.As(err, &rpcErr) {
				// The server rejected the subscription; retrying cannot help.
				c.logger.Error("Subscription rejected", "pool", c.pool.Hex(), "error", err)
				c.errCh <- err
				return
			}
			c.logger.Error("Subscription failed, will reconnect...", "error", err, "delay", reconnectDelay)
			if !sleep(ctx, reconnectDelay) {
				return
			}
			reconnectDelay = min(reconnectDelay*2, maxReconnectDelay)
		}
	}
}

// subscribeAndProcess handles the subscription and processing of messages.
func (c *Client) subscribeAndProcess(ctx context.Context, rpcClient *rpc.Client) error {
	defer rpcClient.Close()

	rawCh := make(chan json.RawMessage)
	sub, err := rpcClient.Subscribe(ctx, server.RpcNamespace, rawCh, server.PoolStateSubscriptionMethod, c.pool)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	c.logger.Info("Successfully subscribed. Waiting for data...", "pool", c.pool.Hex())
	for {
		select {
		case rawData := <-rawCh:
			if err := c.processMessage(ctx, rawData); err != nil {
				return err
			}
		case err := <-sub.Err():
			if err == nil {
				return errors.New("subscription closed by server")
			}
			return err
		case <-ctx.Done():
			c.logger.Info("Context cancelled, stopping subscription.")
			return ctx.Err()
		}
	}
}

// processMessage handles unmarshalling and routing of incoming server
// events. Malformed events are logged and dropped; only a canceled context
// is returned.
func (c *Client) processMessage(ctx context.Context, rawData json.RawMessage) error {
	receivedAt := time.Now()
	var event SubscriptionEvent
	if err := json.Unmarshal(rawData, &event); err != nil {
		c.logger.Error("Failed to unmarshal subscription event", "error", err)
		return nil
	}

	switch event.Type {
	case server.EventTypeFull:
		var view solvency.PoolView
		if err := json.Unmarshal(event.Payload, &view); err != nil {
			c.logger.Error("Failed to unmarshal pool state payload", "error", err)
			return nil
		}
		if view.Address != c.pool {
			c.logger.Warn("Received state for another pool; discarding.", "want", c.pool.Hex(), "got", view.Address.Hex())
			return nil
		}
		update := &Update{
			Op:         event.Op,
			Pool:       view,
			SentAt:     time.Unix(0, event.SentAt),
			ReceivedAt: receivedAt,
		}
		c.logMetrics(update, time.Since(receivedAt))
		c.storeUpdate(update)

		select {
		case c.updateCh <- update:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}

	default:
		c.logger.Warn("Received unknown event type", "type", event.Type)
		return nil
	}
}

func (c *Client) storeUpdate(u *Update) {
	c.mu.Lock()
	c.last = u
	c.mu.Unlock()
}

// Last returns the most recent update, or nil before the first one.
func (c *Client) Last() *Update {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// logMetrics logs transport latency and decoding time for an update.
func (c *Client) logMetrics(u *Update, clientProcessingDur time.Duration) {
	transportTime := u.ReceivedAt.Sub(u.SentAt)
	c.logger.Debug("Received pool state",
		"pool", u.Pool.Address.Hex(),
		"op", u.Op,
		"assets", len(u.Pool.Assets),
		"transport_ms", transportTime.Round(time.Millisecond).Milliseconds(),
		"client_processing_us", clientProcessingDur.Microseconds(),
	)
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
