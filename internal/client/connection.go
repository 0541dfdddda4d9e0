/*
Package client implements the client side of the chat core.

This file defines Connection, which owns one WebSocket stream to a chat server: it sends
client events, and a background receive loop hands every server event to a callback in the
order it arrived.
*/
package client

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"dogechat/internal/pkg/errs"
	"dogechat/internal/pkg/logx"
	"dogechat/internal/protocol"
)

const (
	// timeout duration for writing one frame.
	writeWait = 10 * time.Second

	// timeout duration for the opening handshake.
	handshakeTimeout = 10 * time.Second

	// WebSocket path served by the chat server.
	streamPath = "/ws"
)

// Handler receives server events. It runs on the connection's receive goroutine, one event
// at a time, and must not call Close on the connection delivering the event.
type Handler func(protocol.ServerEvent)

// Endpoint returns the stream URL of the chat server at address:port.
func Endpoint(address string, port int) string {
	u := url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(address, strconv.Itoa(port)),
		Path:   streamPath,
	}
	return u.String()
}

// Connection is one open stream to a chat server.
type Connection struct {
	// underlying WebSocket connection.
	conn *websocket.Conn

	// receives every decoded server event.
	handler Handler

	// writeMu serializes writers; gorilla connections allow one writer at a time.
	writeMu sync.Mutex

	// cancelled when Close starts; the receive loop drops events once it is.
	ctx    context.Context
	cancel context.CancelFunc

	// closed when the receive loop has returned.
	done chan struct{}

	// flips once on Close.
	disposed atomic.Bool

	// structured logger with connection context.
	logger zerolog.Logger
}

// Open dials target (a ws:// URL, see Endpoint) and starts the receive loop.
// Transport failures are reported as ErrConnectionFailed.
func Open(ctx context.Context, target string, handler Handler) (*Connection, error) {
	if handler == nil {
		return nil, errs.NewError(errs.ErrInvalidParams, "handler cannot be nil")
	}
	if _, err := url.ParseRequestURI(target); err != nil {
		return nil, errs.Wrap(errs.ErrInvalidParams, err, "malformed target")
	}

	logger := logx.Component("Connection").With().Str("target", target).Logger()
	logger.Info().Msg("Creating new connection...")

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, target, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, errs.Wrap(errs.ErrConnectionFailed, err, "cannot reach "+target)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:    conn,
		handler: handler,
		ctx:     loopCtx,
		cancel:  cancel,
		done:    make(chan struct{}),
		logger:  logger,
	}

	go c.receiveLoop()

	logger.Info().Msg("Successfully created new connection.")
	return c, nil
}

// Send validates event and writes it to the server.
func (c *Connection) Send(event protocol.ClientEvent) error {
	if c.disposed.Load() {
		return errs.NewError(errs.ErrObjectDisposed, "connection")
	}

	if err := protocol.Validate(event); err != nil {
		return err
	}

	frame, err := protocol.Encode(event)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.disposed.Load() {
		return errs.NewError(errs.ErrObjectDisposed, "connection")
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return errs.Wrap(errs.ErrConnectionFailed, err, "cannot set write deadline")
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return errs.Wrap(errs.ErrConnectionFailed, err, "cannot write "+string(event.Type()))
	}
	return nil
}

// Done is closed once the receive loop has stopped, whether by Close or because the
// server went away.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Close cancels the receive loop, completes the outbound half with a close frame, releases
// the socket and waits for the receive loop to return. No event is handed to the handler
// after Close returns. Close never fails and is safe to call more than once.
func (c *Connection) Close() {
	if !c.disposed.CompareAndSwap(false, true) {
		return
	}

	c.logger.Info().Msg("Disconnecting from the server...")
	c.cancel()

	c.writeMu.Lock()
	closeMessage := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteControl(websocket.CloseMessage, closeMessage, time.Now().Add(time.Second)); err != nil && !isClosedConnError(err) {
		c.logger.Debug().Err(err).Msg("Failed to send close frame.")
	}
	c.writeMu.Unlock()

	if err := c.conn.Close(); err != nil && !isClosedConnError(err) {
		c.logger.Warn().Err(err).Msg("Connection close error.")
	}

	<-c.done
	c.logger.Info().Msg("Successfully disconnected from the server.")
}

func (c *Connection) receiveLoop() {
	defer close(c.done)

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() != nil {
				c.logger.Debug().Msg("Receive loop stopped by Close.")
			} else {
				c.logger.Warn().Err(err).Msg("The message consumer has stopped.")
			}
			return
		}

		if c.ctx.Err() != nil {
			return
		}

		event, err := protocol.DecodeServerEvent(frame)
		if err != nil {
			c.logger.Warn().
				Err(err).
				Bool("protocol_violation", true).
				Msg("Server sent an undecodable frame")
			continue
		}

		if u, ok := event.(protocol.Unknown); ok {
			c.logger.Info().Str("msg_type", string(u.Kind)).Msg("Ignored unknown server event")
			continue
		}

		c.handler(event)
	}
}

// isClosedConnError reports errors that only say the connection is already gone.
func isClosedConnError(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, websocket.ErrCloseSent)
}
