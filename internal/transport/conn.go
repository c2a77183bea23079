// Package transport wraps a TCP stream with the lobby frame codec. The same
// Conn serves the server's per-connection handler and the client stub.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/dungeon-lobby/internal/protocol"
)

// DefaultWriteTimeout bounds a single frame write.
const DefaultWriteTimeout = 5 * time.Second

var ErrClosed = errors.New("connection closed")

type Conn struct {
	id           string
	conn         net.Conn
	reader       *protocol.Reader
	writeTimeout time.Duration
	logger       *zap.Logger

	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// NewConn takes ownership of c. writeTimeout <= 0 means DefaultWriteTimeout.
func NewConn(c net.Conn, writeTimeout time.Duration, logger *zap.Logger) *Conn {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	conn := &Conn{
		id:           id,
		conn:         c,
		reader:       protocol.NewReader(c),
		writeTimeout: writeTimeout,
		logger:       logger.With(zap.String("conn_id", id)),
		done:         make(chan struct{}),
	}
	conn.reader.OnSkip = func(line []byte, err error) {
		conn.logger.Debug("dropped frame", zap.Int("bytes", len(line)), zap.Error(err))
	}
	return conn
}

// Dial connects to addr; ctx bounds the connection attempt only.
func Dial(ctx context.Context, addr string, writeTimeout time.Duration, logger *zap.Logger) (*Conn, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewConn(c, writeTimeout, logger), nil
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) RemoteAddr() string { return c.conn.RemoteAddr().String() }

// Send writes one frame. Concurrent Sends are serialized so frames never
// interleave on the wire.
func (c *Conn) Send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return c.wrapErr("set write deadline", err)
	}
	if _, err := c.conn.Write(data); err != nil {
		return c.wrapErr("write", err)
	}
	return nil
}

// Receive blocks until the next well-formed frame arrives. Malformed lines
// are dropped. Cancelling ctx unblocks a pending read; the Conn is not usable
// for reads afterwards.
func (c *Conn) Receive(ctx context.Context) (protocol.Message, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	msg, err := c.reader.Read()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, c.wrapErr("read", err)
	}
	return msg, nil
}

// Close releases the socket. It is idempotent and safe to call while a
// Send or Receive is in flight.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// Done is closed once Close has been called.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) wrapErr(op string, err error) error {
	select {
	case <-c.done:
		return fmt.Errorf("%s: %w", op, ErrClosed)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
