/*
Package chat contains the server side of the chat core: the participant registry, the
per-connection protocol state machine, and the hub that drives one connection end to end.

This file defines the Participant, which owns one WebSocket connection: its read loop
(readPump), its single writer (writePump), its display name, and the handling of every
inbound client event.
*/
package chat

import (
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"dogechat/internal/pkg/errs"
	"dogechat/internal/pkg/logx"
	"dogechat/internal/protocol"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of a frame sent by the client.
	maxFrameSize = 8192

	// capacity of the outbound queue drained by writePump.
	sendQueueSize = 256

	// time allowed for the close frame during teardown.
	closeWait = time.Second
)

// Conn is the part of *websocket.Conn a Participant drives.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Participant is the server-side handle of one connected client.
type Participant struct {
	// id never changes after construction.
	id protocol.Identifier

	// underlying WebSocket connection.
	conn Conn

	// mu protects name and named.
	mu sync.RWMutex

	// display name declared by the latest Join.
	name string

	// whether a Join has been handled.
	named bool

	// queue of encoded frames waiting for writePump. Never closed; done signals shutdown.
	send chan []byte

	// closed when the participant is torn down.
	done chan struct{}

	// flips once on teardown.
	closed atomic.Bool

	// limits the rate of inbound events.
	limiter *rate.Limiter

	// structured logger with participant context.
	logger zerolog.Logger
}

// NewParticipant constructs a Participant for conn. limiter may be nil for no limit.
func NewParticipant(id protocol.Identifier, conn Conn, limiter *rate.Limiter) *Participant {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}

	return &Participant{
		id:      id,
		conn:    conn,
		send:    make(chan []byte, sendQueueSize),
		done:    make(chan struct{}),
		limiter: limiter,
		logger: logx.Logger().With().
			Str("component", "Participant").
			Stringer("participant_id", id).
			Logger(),
	}
}

// ID returns the participant's identifier.
func (p *Participant) ID() protocol.Identifier {
	return p.id
}

// Name returns the display name and whether one has been declared.
func (p *Participant) Name() (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.name, p.named
}

func (p *Participant) setName(name string) (previous string, renamed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	previous, renamed = p.name, p.named
	p.name, p.named = name, true
	return previous, renamed
}

// Done is closed once the participant has been torn down.
func (p *Participant) Done() <-chan struct{} {
	return p.done
}

// Deliver queues one encoded frame for this participant without blocking.
// A closed participant or a full queue is reported as ErrConnectionFailed; a full queue
// also tears the participant down, since it can no longer keep up with the room.
func (p *Participant) Deliver(frame []byte) error {
	select {
	case <-p.done:
		return errs.NewError(errs.ErrConnectionFailed, "participant is closed")
	default:
	}

	select {
	case p.send <- frame:
		return nil
	case <-p.done:
		return errs.NewError(errs.ErrConnectionFailed, "participant is closed")
	default:
		p.logger.Warn().Int("queue_len", len(p.send)).Msg("Outbound queue full, closing slow participant.")
		if p.markClosed() {
			// writePump may hold the writer; tear the transport down off the broadcaster's goroutine.
			go p.closeTransport()
		}
		return errs.NewError(errs.ErrConnectionFailed, "outbound queue full")
	}
}

// Close tears the participant down: writePump stops, a close frame is attempted and the
// connection is closed, which unblocks readPump. Safe to call more than once and from any goroutine.
func (p *Participant) Close() {
	if p.markClosed() {
		p.closeTransport()
	}
}

// markClosed flips the closed flag and signals done. It reports whether this call did so.
func (p *Participant) markClosed() bool {
	if !p.closed.CompareAndSwap(false, true) {
		return false
	}
	close(p.done)
	return true
}

// closeTransport attempts a close frame and releases the connection. It may block for up
// to closeWait while a stuck writer holds the connection.
func (p *Participant) closeTransport() {
	closeMessage := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := p.conn.WriteControl(websocket.CloseMessage, closeMessage, time.Now().Add(closeWait)); err != nil && !isClosedConnError(err) {
		p.logger.Debug().Err(err).Msg("Failed to send close frame.")
	}

	if err := p.conn.Close(); err != nil && !isClosedConnError(err) {
		p.logger.Error().Err(err).Msg("Participant connection close error.")
	}
}

// readPump reads client events one at a time and hands each to handle, in arrival order,
// until the connection fails or the participant is closed.
func (p *Participant) readPump(handle func(protocol.ClientEvent)) {
	p.conn.SetReadLimit(maxFrameSize)

	if err := p.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		p.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := p.conn.ReadMessage()
		if err != nil {
			switch {
			case p.closed.Load():
				p.logger.Debug().Msg("Read loop stopped by teardown.")
			case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure):
				p.logger.Info().Err(err).Msg("Error reading message (client close/going away)")
			default:
				p.logger.Debug().Err(err).Msg("Read loop finished.")
			}
			return
		}

		event, err := protocol.DecodeClientEvent(frame)
		if err != nil {
			p.logger.Warn().
				Err(err).
				Bool("protocol_violation", true).
				Int("frame_bytes", len(frame)).
				Msg("Client sent an undecodable frame")
			continue
		}

		handle(event)
	}
}

// writePump is the only writer of data frames on the connection, which keeps framing intact
// when broadcasts from several connections target this participant at once.
func (p *Participant) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame := <-p.send:
			if !p.write(websocket.TextMessage, frame) {
				p.Close()
				return
			}

		case <-ticker.C:
			if !p.write(websocket.PingMessage, nil) {
				p.Close()
				return
			}

		case <-p.done:
			return
		}
	}
}

// write sends one frame with a deadline. It returns false when the connection is unusable.
func (p *Participant) write(messageType int, data []byte) bool {
	if err := p.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		p.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if err := p.conn.WriteMessage(messageType, data); err != nil {
		if !p.closed.Load() {
			p.logger.Warn().Err(err).Int("message_type", messageType).Msg("Error writing message")
		}
		return false
	}

	return true
}

// HandleEvent interprets one client event and broadcasts the result through registry.
//
// Join sets the display name (a repeated Join renames) and announces it with UserJoined.
// SendMessage relays the text with MessageReceived; before any Join the name is empty and
// the event is logged as a protocol violation. Unknown events are logged and ignored.
func (p *Participant) HandleEvent(event protocol.ClientEvent, registry *Registry) {
	if !p.limiter.Allow() {
		p.logger.Warn().
			Str("msg_type", string(event.Type())).
			Bool("protocol_violation", true).
			Msg("Client exceeded the message rate, event dropped")
		return
	}

	switch e := event.(type) {
	case protocol.Join:
		p.handleJoin(e, registry)

	case protocol.SendMessage:
		p.handleSendMessage(e, registry)

	default:
		p.logger.Warn().
			Str("msg_type", string(event.Type())).
			Bool("protocol_violation", true).
			Msg("Ignored unknown client event")
	}
}

func (p *Participant) handleJoin(e protocol.Join, registry *Registry) {
	if strings.TrimSpace(e.Name) == "" {
		p.logger.Warn().Bool("protocol_violation", true).Msg("Client sent JOIN with a blank name")
		return
	}

	previous, renamed := p.setName(e.Name)
	if renamed {
		p.logger.Info().Str("previous_name", previous).Str("name", e.Name).Msg("Participant joined again, name replaced.")
	} else {
		p.logger.Info().Str("name", e.Name).Msg("Participant joined.")
	}

	registry.Broadcast(protocol.UserJoined{ID: p.id, Name: e.Name})
}

func (p *Participant) handleSendMessage(e protocol.SendMessage, registry *Registry) {
	if strings.TrimSpace(e.Text) == "" {
		p.logger.Warn().Bool("protocol_violation", true).Msg("Client sent SEND_MESSAGE with blank text")
		return
	}

	if len(e.Text) > protocol.MaxTextBytes {
		p.logger.Warn().
			Bool("protocol_violation", true).
			Int("text_bytes", len(e.Text)).
			Msg("Client sent SEND_MESSAGE over the size limit")
		return
	}

	name, named := p.Name()
	if !named {
		p.logger.Warn().Bool("protocol_violation", true).Msg("Client sent SEND_MESSAGE before JOIN")
	}

	registry.Broadcast(protocol.MessageReceived{ID: p.id, Name: name, Text: e.Text})
}

// isClosedConnError reports errors that only say the connection is already gone.
func isClosedConnError(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, websocket.ErrCloseSent)
}
