// Package websocket provides a reusable WebSocket client with automatic reconnection
package websocket

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"copytrader/internal/core"
	"copytrader/pkg/telemetry"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// MessageHandler handles incoming WebSocket messages
type MessageHandler func(message []byte)

// Option configures a Client
type Option func(*settings)

type settings struct {
	pingInterval time.Duration
	pingWait     time.Duration
	readTimeout  time.Duration
	pingMessage  interface{}
	minBackoff   time.Duration
	maxBackoff   time.Duration
	onConnected  func(c *Client)
}

// WithPing sets the heartbeat interval, the write deadline of one
// heartbeat, and how long the connection may stay silent
func WithPing(interval, wait, readTimeout time.Duration) Option {
	return func(s *settings) {
		s.pingInterval = interval
		s.pingWait = wait
		s.readTimeout = readTimeout
	}
}

// WithPingMessage makes the heartbeat send msg as JSON instead of a ping
// frame. Any inbound message then extends the read deadline.
func WithPingMessage(msg interface{}) Option {
	return func(s *settings) { s.pingMessage = msg }
}

// WithReconnectBackoff sets the pause before a reconnect. It doubles after
// every failed dial up to max and resets once a dial succeeds.
func WithReconnectBackoff(min, max time.Duration) Option {
	return func(s *settings) {
		s.minBackoff = min
		s.maxBackoff = max
	}
}

// WithOnConnected runs cb after every (re)connect, typically to re-send
// subscriptions
func WithOnConnected(cb func(c *Client)) Option {
	return func(s *settings) { s.onConnected = cb }
}

// Client is a resilient WebSocket client
type Client struct {
	url     string
	handler MessageHandler
	cfg     settings
	logger  core.ILogger

	mu         sync.Mutex
	conn       *websocket.Conn
	connected  atomic.Bool
	reconnects atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	tracer      trace.Tracer
	msgCounter  metric.Int64Counter
	connCounter metric.Int64Counter
	latencyHist metric.Float64Histogram
}

// NewClient creates a stopped client for url
func NewClient(url string, handler MessageHandler, logger core.ILogger, opts ...Option) *Client {
	cfg := settings{
		pingInterval: 20 * time.Second,
		pingWait:     10 * time.Second,
		readTimeout:  60 * time.Second,
		minBackoff:   time.Second,
		maxBackoff:   30 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxBackoff < cfg.minBackoff {
		cfg.maxBackoff = cfg.minBackoff
	}

	meter := telemetry.GetMeter("ws-client")
	msgCounter, _ := meter.Int64Counter("ws_messages_total",
		metric.WithDescription("Total number of WebSocket messages received"))
	connCounter, _ := meter.Int64Counter("ws_connections_total",
		metric.WithDescription("Total number of WebSocket connections initiated"))
	latencyHist, _ := meter.Float64Histogram("ws_message_processing_latency_seconds",
		metric.WithDescription("Latency of processing WebSocket messages in seconds"))

	return &Client{
		url:         url,
		handler:     handler,
		cfg:         cfg,
		logger:      logger.WithField("component", "ws_client"),
		tracer:      telemetry.GetTracer("ws-client"),
		msgCounter:  msgCounter,
		connCounter: connCounter,
		latencyHist: latencyHist,
	}
}

// Connected reports whether a connection is currently open
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Reconnects counts connections opened after the first one
func (c *Client) Reconnects() int64 {
	return c.reconnects.Load()
}

// Send writes message as JSON on the open connection
func (c *Client) Send(message interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	return c.conn.WriteJSON(message)
}

// Start connects and keeps the connection alive until ctx is done or Stop is called
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	c.wg.Add(1)
	go c.runLoop()
}

// Stop closes the connection and waits for the loop to exit
func (c *Client) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	c.closeConn()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		c.logger.Warn("WebSocket client Stop: some goroutines did not exit within timeout")
	}
}

func (c *Client) runLoop() {
	defer c.wg.Done()

	backoff := c.cfg.minBackoff
	opened := 0
	for c.ctx.Err() == nil {
		conn, err := c.connect()
		if err != nil {
			c.logger.Warn("WebSocket connect failed", "url", c.url, "retry_in", backoff, "error", err)
			if !c.wait(backoff) {
				return
			}
			backoff = min(backoff*2, c.cfg.maxBackoff)
			continue
		}
		backoff = c.cfg.minBackoff
		if opened++; opened > 1 {
			c.reconnects.Add(1)
		}

		if c.cfg.onConnected != nil {
			c.cfg.onConnected(c)
		}

		heartbeatCtx, stopHeartbeat := context.WithCancel(c.ctx)
		if c.cfg.pingInterval > 0 {
			c.wg.Add(1)
			go c.heartbeat(heartbeatCtx, conn)
		}
		c.readLoop(conn)
		stopHeartbeat()

		if !c.wait(backoff) {
			return
		}
	}
}

// wait pauses for d and reports false once the client is stopped
func (c *Client) wait(d time.Duration) bool {
	select {
	case <-c.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (c *Client) heartbeat(ctx context.Context, conn *websocket.Conn) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.ping(conn); err != nil {
				// Closing the conn makes readLoop return and reconnect
				_ = conn.Close()
				return
			}
		}
	}
}

func (c *Client) ping(conn *websocket.Conn) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(c.cfg.pingWait)
	if c.cfg.pingMessage != nil {
		_ = conn.SetWriteDeadline(deadline)
		return conn.WriteJSON(c.cfg.pingMessage)
	}
	return conn.WriteControl(websocket.PingMessage, []byte{}, deadline)
}

func (c *Client) connect() (*websocket.Conn, error) {
	ctx, span := c.tracer.Start(c.ctx, "WS Connect",
		trace.WithAttributes(attribute.String("ws.url", c.url)),
	)
	defer span.End()

	c.connCounter.Add(ctx, 1)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	readTimeout := c.cfg.readTimeout
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.connected.Store(true)
	return conn, nil
}

func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connected.Store(false)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.closeConn()

	appPing := c.cfg.pingMessage != nil
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil {
				c.logger.Debug("WebSocket read ended", "error", err)
			}
			return
		}

		if appPing {
			_ = conn.SetReadDeadline(time.Now().Add(c.cfg.readTimeout))
		}

		start := time.Now()
		c.msgCounter.Add(c.ctx, 1)
		if c.handler != nil {
			c.handler(message)
		}
		c.latencyHist.Record(c.ctx, time.Since(start).Seconds())
	}
}
