package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/a-essam23/go-chat/pkg/metrics"
)

// ErrReplaced closes a connection whose actor connected again elsewhere.
var ErrReplaced = errors.New("session replaced by a newer connection")

// Sender is the write side of a connection as seen by the session registry.
type Sender interface {
	ID() uuid.UUID
	// Send queues a frame without blocking. It reports false when the frame was dropped.
	Send(message []byte) bool
	Close(err error)
}

// callback executed when a message is received.
type MessageHandler func(ctx context.Context, conn *Connection, msg []byte)

type OnCloseHandler func(conn *Connection, err error)

type ConnectionConfig struct {
	ReadTimeout  time.Duration // zero disables the idle read deadline
	PingInterval time.Duration // zero disables keepalive pings
	SendBuffer   int
}

// Connection represents a single, thread-safe WebSocket connection.
type Connection struct {
	id     uuid.UUID
	conn   *websocket.Conn
	config ConnectionConfig
	send   chan []byte

	onMessage MessageHandler
	onClose   OnCloseHandler

	done      chan struct{}
	wg        *sync.WaitGroup
	ctx       context.Context
	closeOnce sync.Once
	cancel    context.CancelFunc

	// stateMu orders Run against Close so the WaitGroup is released exactly once.
	stateMu sync.Mutex
	started bool
	closed  bool

	logger *slog.Logger
}

// closeHandshakeTimeout bounds how long Close waits for the peer to answer the close frame.
const closeHandshakeTimeout = time.Second

var _ Sender = (*Connection)(nil)

func NewConnection(parentCtx context.Context, wg *sync.WaitGroup, conn *websocket.Conn, config ConnectionConfig, onMessage MessageHandler, onClose OnCloseHandler, logger *slog.Logger) *Connection {
	id := uuid.New()
	connCtx, cancel := context.WithCancel(parentCtx)
	if config.SendBuffer <= 0 {
		config.SendBuffer = 256
	}

	return &Connection{
		id:        id,
		conn:      conn,
		logger:    logger.With(slog.String("connID", id.String())),
		config:    config,
		onMessage: onMessage,
		send:      make(chan []byte, config.SendBuffer),
		done:      make(chan struct{}),
		ctx:       connCtx,
		cancel:    cancel,
		onClose:   onClose,
		wg:        wg,
	}
}

// Run starts the pumps. The connection stays open until Close or a read/write failure.
// Run on a connection that is already closed does nothing.
func (c *Connection) Run() {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.closed {
		c.logger.Debug("run on closed connection ignored")
		return
	}
	c.started = true
	c.wg.Add(1)
	go c.readPump()
	go c.writePump()

	c.logger.Info("connection established")
}

// readPump pumps messages from the WebSocket connection to the message handler.
// Frames of one connection are handled one at a time, in arrival order.
func (c *Connection) readPump() {
	var readErr error
	defer func() {
		c.Close(readErr)
	}()

	for {
		message, err := c.read()
		if err != nil {
			readErr = err
			return
		}
		if message == nil {
			continue
		}
		c.onMessage(c.ctx, c, message)
	}
}

func (c *Connection) read() ([]byte, error) {
	readCtx := c.ctx
	if c.config.ReadTimeout > 0 {
		var cancel context.CancelFunc
		readCtx, cancel = context.WithTimeout(c.ctx, c.config.ReadTimeout)
		defer cancel()
	}
	typ, r, err := c.conn.Reader(readCtx)
	if err != nil {
		return nil, err
	}
	// text or binary only
	if typ != websocket.MessageText && typ != websocket.MessageBinary {
		return nil, nil
	}
	message, err := io.ReadAll(r)
	if err != nil {
		c.logger.Error("failed to read frame", slog.Any("error", err))
		return nil, err
	}
	return message, nil
}

// writePump pumps messages from the send channel to the WebSocket connection.
func (c *Connection) writePump() {
	var writeErr error
	defer func() {
		c.Close(writeErr)
	}()

	var ping <-chan time.Time
	if c.config.PingInterval > 0 {
		ticker := time.NewTicker(c.config.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case message := <-c.send:
			if err := c.conn.Write(c.ctx, websocket.MessageText, message); err != nil {
				writeErr = err
				return
			}
		case <-ping:
			pingCtx, cancel := context.WithTimeout(c.ctx, c.config.PingInterval)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				writeErr = err
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// Send queues a frame for the client. It is safe for concurrent use and never blocks:
// a frame that does not fit the buffer is dropped.
func (c *Connection) Send(message []byte) bool {
	if c.ctx.Err() != nil {
		c.logger.Debug("dropped frame for closed connection")
		metrics.FramesDropped.Inc()
		return false
	}
	select {
	case c.send <- message:
		return true
	default:
		c.logger.Warn("send buffer full, dropping frame")
		metrics.FramesDropped.Inc()
		return false
	}
}

// Close gracefully shuts down the connection and its resources. It returns within
// closeHandshakeTimeout even if the peer never answers.
func (c *Connection) Close(err error) {
	c.closeOnce.Do(func() {
		c.stateMu.Lock()
		c.closed = true
		started := c.started
		c.stateMu.Unlock()

		status := websocket.CloseStatus(err)
		c.logger.Info("connection closing", slog.Any("reason", err), slog.String("status", status.String()))

		// the close frame goes out before the pumps are cancelled
		if c.conn != nil {
			c.closeConn(err)
		}
		c.cancel()
		if c.onClose != nil {
			c.onClose(c, err)
		}
		if started {
			c.wg.Done()
		}
		close(c.done)
	})
}

func (c *Connection) closeConn(err error) {
	code, reason := closeFrame(err)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		c.conn.Close(code, reason)
	}()

	timer := time.NewTimer(closeHandshakeTimeout)
	defer timer.Stop()
	select {
	case <-finished:
	case <-timer.C:
		c.logger.Debug("close handshake timed out")
		c.conn.CloseNow()
	}
}

func closeFrame(err error) (websocket.StatusCode, string) {
	if errors.Is(err, ErrReplaced) {
		return websocket.StatusPolicyViolation, ErrReplaced.Error()
	}
	return websocket.StatusNormalClosure, ""
}

// Done returns a channel that is closed when the connection is fully terminated.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// ID returns the unique identifier of the connection.
func (c *Connection) ID() uuid.UUID {
	return c.id
}
