/*
Package client implements the client side of the chat core.

This file defines Client, the facade a display layer drives: Join opens a Connection and
announces the user, SendMessage posts chat lines, Leave drops the connection, and Close
disposes the client.
*/
package client

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"dogechat/internal/pkg/errs"
	"dogechat/internal/pkg/logx"
	"dogechat/internal/protocol"
)

// Client guards a Connection against misuse: double join, use after dispose, and sends
// without a connection.
type Client struct {
	// receives every server event of every connection this client opens.
	handler Handler

	// mu protects conn and serializes Join against Leave.
	mu sync.Mutex

	// current connection; nil when not joined.
	conn *Connection

	// flips once on Close.
	disposed atomic.Bool

	// structured logger with client context.
	logger zerolog.Logger
}

// New returns a Client delivering server events to handler.
func New(handler Handler) *Client {
	return &Client{
		handler: handler,
		logger:  logx.Component("Client"),
	}
}

// Join connects to the server at address:port and joins the chat as name.
// If the Join event cannot be sent the connection is dropped again, so a later Join may retry.
func (c *Client) Join(ctx context.Context, address string, port int, name string) error {
	if strings.TrimSpace(address) == "" {
		return errs.NewError(errs.ErrInvalidParams, "address cannot be blank")
	}
	if port < 0 || port > 65535 {
		return errs.NewError(errs.ErrInvalidParams, "port must be within 0-65535")
	}
	if strings.TrimSpace(name) == "" {
		return errs.NewError(errs.ErrInvalidParams, "name cannot be blank")
	}

	if c.disposed.Load() {
		return errs.NewError(errs.ErrObjectDisposed, "client")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return errs.NewError(errs.ErrAlreadyConnected)
	}

	conn, err := Open(ctx, Endpoint(address, port), c.handler)
	if err != nil {
		return err
	}

	if err := conn.Send(protocol.Join{Name: name}); err != nil {
		conn.Close()
		return err
	}

	// Close may have run while we were dialing.
	if c.disposed.Load() {
		conn.Close()
		return errs.NewError(errs.ErrObjectDisposed, "client")
	}

	c.conn = conn
	c.logger.Info().Str("name", name).Str("target", Endpoint(address, port)).Msg("Joined the chat.")
	return nil
}

// SendMessage posts one chat line. Blank text is rejected before anything is sent.
func (c *Client) SendMessage(text string) error {
	if strings.TrimSpace(text) == "" {
		return errs.NewError(errs.ErrInvalidParams, "text cannot be blank")
	}

	if c.disposed.Load() {
		return errs.NewError(errs.ErrObjectDisposed, "client")
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return errs.NewError(errs.ErrNotConnected)
	}

	return conn.Send(protocol.SendMessage{Text: text})
}

// Leave drops the current connection. Leaving without a connection is a no-op.
func (c *Client) Leave() error {
	if c.disposed.Load() {
		return errs.NewError(errs.ErrObjectDisposed, "client")
	}

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		c.logger.Debug().Msg("Leave called without a connection.")
		return nil
	}

	conn.Close()
	return nil
}

// Connected reports whether the client currently holds a connection.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close disposes the client and its connection. It never fails and is safe to call more
// than once; every other method fails with ErrObjectDisposed afterwards.
func (c *Client) Close() {
	if !c.disposed.CompareAndSwap(false, true) {
		return
	}

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}
