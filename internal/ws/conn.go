package ws

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/dungeon-lobby/internal/protocol"
	"github.com/DoyleJ11/dungeon-lobby/internal/transport"
)

// Conn carries lobby frames over a websocket: one text message per frame.
type Conn struct {
	id           string
	ws           *websocket.Conn
	writeTimeout time.Duration
	logger       *zap.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func NewConn(c *websocket.Conn, writeTimeout time.Duration, logger *zap.Logger) *Conn {
	if writeTimeout <= 0 {
		writeTimeout = transport.DefaultWriteTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c.SetReadLimit(protocol.MaxFrameSize)
	id := uuid.NewString()
	return &Conn{
		id:           id,
		ws:           c,
		writeTimeout: writeTimeout,
		logger:       logger.With(zap.String("conn_id", id), zap.String("transport", "websocket")),
		done:         make(chan struct{}),
	}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return transport.ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
	defer cancel()
	if err := c.ws.Write(ctx, websocket.MessageText, bytes.TrimSuffix(data, []byte("\n"))); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// Receive returns the next text message that parses as a frame. Binary and
// malformed messages are dropped.
func (c *Conn) Receive(ctx context.Context) (protocol.Message, error) {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			select {
			case <-c.done:
				return nil, fmt.Errorf("read: %w", transport.ErrClosed)
			default:
			}
			return nil, fmt.Errorf("read: %w", err)
		}
		if typ != websocket.MessageText {
			c.logger.Debug("dropped binary message", zap.Int("bytes", len(data)))
			continue
		}
		msg, err := protocol.Parse(data)
		if err != nil {
			c.logger.Debug("dropped frame", zap.Int("bytes", len(data)), zap.Error(err))
			continue
		}
		return msg, nil
	}
}

// Close tears the websocket down without waiting for the peer's close frame.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.ws.CloseNow()
	})
	return err
}
