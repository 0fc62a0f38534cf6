// Package ws serves the room and notification websocket endpoints.
package ws

import (
	"chat-relay/domain/chat"
	"chat-relay/errors"
	stderrors "errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Conn wraps one websocket. A single writer goroutine owns every write to the socket;
// Send only queues, so a slow client can never stall a broadcast pass.
type Conn struct {
	id     string
	userID chat.UserID
	ws     *websocket.Conn
	send   chan []byte
	log    *slog.Logger

	writeTimeout time.Duration
	pongTimeout  time.Duration
	pingInterval time.Duration

	closeOnce   sync.Once
	done        chan struct{}
	writerDone  chan struct{}
	closeCode   int
	closeReason string
}

type connOptions struct {
	bufferSize   int
	maxFrameSize int64
	writeTimeout time.Duration
	pongTimeout  time.Duration
}

func newConn(ws *websocket.Conn, opts connOptions, log *slog.Logger) *Conn {
	ws.SetReadLimit(opts.maxFrameSize)
	id := uuid.NewString()
	return &Conn{
		id:           id,
		ws:           ws,
		send:         make(chan []byte, opts.bufferSize),
		log:          log.With("conn_id", id),
		writeTimeout: opts.writeTimeout,
		pongTimeout:  opts.pongTimeout,
		pingInterval: opts.pongTimeout * 9 / 10,
		done:         make(chan struct{}),
		writerDone:   make(chan struct{}),
	}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) UserID() chat.UserID { return c.userID }

// bindUser is called once, by the session, after authentication and before registration.
func (c *Conn) bindUser(user chat.UserID) {
	c.userID = user
}

// Send queues a payload for the writer. It fails instead of blocking when the buffer is full.
func (c *Conn) Send(payload []byte) error {
	select {
	case <-c.done:
		return errors.ErrConnectionClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return errors.ErrConnectionClosed
	default:
		return errors.ErrSendBufferFull
	}
}

// Close asks the writer to send a close frame and release the socket. Only the first call counts.
func (c *Conn) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.done)
	})
	return nil
}

// wait blocks until the writer has released the socket.
func (c *Conn) wait() {
	<-c.writerDone
}

// read returns the next text frame.
func (c *Conn) read() ([]byte, error) {
	for {
		messageType, raw, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if messageType == websocket.TextMessage || messageType == websocket.BinaryMessage {
			return raw, nil
		}
	}
}

func (c *Conn) setupRead() {
	if err := c.ws.SetReadDeadline(time.Now().Add(c.pongTimeout)); err != nil {
		c.log.Debug("Unable to set read deadline", "error", err)
	}
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.pongTimeout))
	})
}

// writePump is the only writer of the socket. It sends queued payloads and pings
// until Close is called, then sends the close frame and closes the socket,
// which also unblocks the reader.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		if err := c.ws.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Debug("Error closing socket", "error", err)
		}
		close(c.writerDone)
	}()

	for {
		select {
		case payload := <-c.send:
			if err := c.write(websocket.TextMessage, payload); err != nil {
				c.log.Debug("Write failed", "error", err)
				c.abort()
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.log.Debug("Ping failed", "error", err)
				c.abort()
				return
			}
		case <-c.done:
			c.flush()
			message := websocket.FormatCloseMessage(c.closeCode, c.closeReason)
			deadline := time.Now().Add(c.writeTimeout)
			if err := c.ws.WriteControl(websocket.CloseMessage, message, deadline); err != nil && !isExpectedCloseError(err) {
				c.log.Debug("Unable to send close frame", "error", err)
			}
			return
		}
	}
}

// flush writes what was queued before Close, so a final error frame reaches the client.
func (c *Conn) flush() {
	for {
		select {
		case payload := <-c.send:
			if err := c.write(websocket.TextMessage, payload); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Conn) write(messageType int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, payload)
}

// abort marks the connection closed after a transport failure. The peer is gone,
// so no close frame is attempted.
func (c *Conn) abort() {
	c.closeOnce.Do(func() {
		c.closeCode = websocket.CloseAbnormalClosure
		close(c.done)
	})
}

func isExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, net.ErrClosed) || stderrors.Is(err, io.EOF) || stderrors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure)
}
