/*
Package chat contains the server side of the chat core: the participant registry, the
per-connection protocol state machine, and the hub that drives one connection end to end.

This file defines the Hub, which owns the Registry and runs every accepted connection:
it assigns an identifier, registers the participant, runs its loops, and guarantees the
participant is unregistered exactly once when the connection ends.
*/
package chat

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"dogechat/internal/pkg/errs"
	"dogechat/internal/pkg/logx"
	"dogechat/internal/protocol"
)

// HubConfig holds the per-participant limits applied by a Hub.
type HubConfig struct {
	// MessageRate is the sustained inbound events per second per participant. Zero or less disables the limit.
	MessageRate float64

	// MessageBurst is the bucket size of the per-participant limiter.
	MessageBurst int
}

// Hub runs connections against a shared Registry.
type Hub struct {
	// registry of every live participant.
	registry *Registry

	// cancelled by Shutdown; every running connection watches it.
	ctx    context.Context
	cancel context.CancelFunc

	// mu protects closed and orders wg.Add against Shutdown.
	mu     sync.Mutex
	closed bool

	// wg tracks running Serve calls.
	wg sync.WaitGroup

	// per-participant limiter settings.
	messageRate  rate.Limit
	messageBurst int

	// structured logger with hub context.
	logger zerolog.Logger
}

// NewHub constructs a Hub with an empty Registry.
func NewHub(cfg HubConfig) *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	limit := rate.Inf
	if cfg.MessageRate > 0 {
		limit = rate.Limit(cfg.MessageRate)
	}

	return &Hub{
		registry:     NewRegistry(),
		ctx:          ctx,
		cancel:       cancel,
		messageRate:  limit,
		messageBurst: cfg.MessageBurst,
		logger:       logx.Component("Hub"),
	}
}

// Len returns the number of connected participants.
func (h *Hub) Len() int {
	return h.registry.Len()
}

// Serve runs one accepted connection until it ends and returns afterwards.
// Events from the connection are handled strictly in arrival order. When the hub is shut
// down the connection is closed and Serve returns promptly.
func (h *Hub) Serve(conn Conn) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		if err := conn.Close(); err != nil && !isClosedConnError(err) {
			h.logger.Debug().Err(err).Msg("Close of rejected connection failed.")
		}
		return errs.NewError(errs.ErrObjectDisposed, "hub is shut down")
	}
	h.wg.Add(1)
	h.mu.Unlock()
	defer h.wg.Done()

	p := NewParticipant(protocol.NewIdentifier(), conn, rate.NewLimiter(h.messageRate, h.messageBurst))
	h.registry.Register(p)

	logger := h.logger.With().Stringer("participant_id", p.ID()).Logger()
	logger.Info().Int("total_participants", h.registry.Len()).Msg("A new participant has connected.")

	defer func() {
		h.registry.Unregister(p.ID())
		p.Close()
		logger.Info().Int("total_participants", h.registry.Len()).Msg("The participant has left.")
	}()

	stop := context.AfterFunc(h.ctx, p.Close)
	defer stop()

	go p.writePump()

	p.readPump(func(event protocol.ClientEvent) {
		p.HandleEvent(event, h.registry)
	})

	return nil
}

// Shutdown stops accepting connections, closes every running one and waits for them to
// finish or for ctx to expire. Calling it again is a no-op.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	h.logger.Info().Int("total_participants", h.registry.Len()).Msg("Shutting down hub...")
	h.cancel()

	finished := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		h.logger.Info().Msg("Hub shutdown complete.")
		return nil
	case <-ctx.Done():
		h.logger.Warn().Int("total_participants", h.registry.Len()).Msg("Hub shutdown timed out with connections still open.")
		return ctx.Err()
	}
}
