// Package client is the player-side half of the lobby protocol. It is used by
// the game front end and by scripted clients alike.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/dungeon-lobby/internal/protocol"
	"github.com/DoyleJ11/dungeon-lobby/internal/transport"
)

const DefaultConnectTimeout = 5 * time.Second

var (
	ErrNotConnected     = errors.New("client: not connected")
	ErrAlreadyConnected = errors.New("client: already connected")
	ErrClosed           = errors.New("client: closed")
)

// MessageFunc is called once per received message, in arrival order, from
// the receive goroutine.
type MessageFunc func(protocol.Message)

type Option func(*Client)

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithConnectTimeout(d time.Duration) Option {
	return func(c *Client) { c.connectTimeout = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(c *Client) { c.writeTimeout = d }
}

type Client struct {
	addr           string
	onMessage      MessageFunc
	connectTimeout time.Duration
	writeTimeout   time.Duration
	logger         *zap.Logger

	// dial is transport.Dial outside of tests.
	dial func(ctx context.Context, addr string, writeTimeout time.Duration, logger *zap.Logger) (*transport.Conn, error)

	mu         sync.Mutex
	conn       *transport.Conn
	connecting bool
	cancelDial context.CancelFunc
	started    bool
	closed     bool

	done     chan struct{}
	doneOnce sync.Once
}

// New builds an unconnected client for host:port. onMessage may be nil.
func New(host string, port int, onMessage MessageFunc, opts ...Option) *Client {
	c := &Client{
		addr:           net.JoinHostPort(host, strconv.Itoa(port)),
		onMessage:      onMessage,
		connectTimeout: DefaultConnectTimeout,
		writeTimeout:   transport.DefaultWriteTimeout,
		logger:         zap.NewNop(),
		dial:           transport.Dial,
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Addr() string { return c.addr }

// Connect dials the server, giving up after the connect timeout or when ctx
// ends, and starts the receive loop. A client connects at most once. The
// dial runs without holding the client lock, so Close and Send never wait on
// it; Close during a dial aborts it and Connect returns ErrClosed.
func (c *Client) Connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case c.started, c.connecting:
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.connecting = true
	c.cancelDial = cancel
	c.mu.Unlock()

	conn, err := c.dial(dialCtx, c.addr, c.writeTimeout, c.logger)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.connecting = false
	c.cancelDial = nil

	if c.closed {
		if conn != nil {
			_ = conn.Close()
		}
		return ErrClosed
	}
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	c.conn = conn
	c.started = true
	go c.receiveLoop(conn)
	c.logger.Debug("connected", zap.String("addr", c.addr), zap.String("conn_id", conn.ID()))
	return nil
}

// Send encodes and writes msg synchronously.
func (c *Client) Send(msg protocol.Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	if err := conn.Send(msg); err != nil {
		if errors.Is(err, transport.ErrClosed) {
			return ErrNotConnected
		}
		return fmt.Errorf("send %s: %w", msg.Type(), err)
	}
	return nil
}

func (c *Client) Join(clientID string) error { return c.Send(protocol.Join{ClientID: clientID}) }

func (c *Client) StartLevel(level int) error { return c.Send(protocol.StartLevel{Level: level}) }

func (c *Client) Leave() error { return c.Send(protocol.Leave{}) }

// Close shuts the connection down and stops the receive loop. It is
// idempotent and may be called from any goroutine, including from inside the
// message callback; it does not wait for the loop to exit (see Done).
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	started := c.started
	cancelDial := c.cancelDial
	c.conn = nil
	c.closed = true
	c.mu.Unlock()

	if cancelDial != nil {
		cancelDial()
	}
	if !started {
		c.doneOnce.Do(func() { close(c.done) })
	}
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Done is closed when the receive loop has exited, or on Close if the client
// never connected.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) receiveLoop(conn *transport.Conn) {
	defer c.doneOnce.Do(func() { close(c.done) })
	defer func() { _ = c.Close() }()

	for {
		msg, err := conn.Receive(context.Background())
		if err != nil {
			c.logger.Debug("receive loop stopped", zap.Error(err))
			return
		}
		c.deliver(msg)
	}
}

func (c *Client) deliver(msg protocol.Message) {
	if c.onMessage == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("message callback panicked",
				zap.String("type", string(msg.Type())),
				zap.Any("panic", r))
		}
	}()
	c.onMessage(msg)
}
