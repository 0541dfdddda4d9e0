/*
Package chat contains the server side of the chat core: the participant registry, the
per-connection protocol state machine, and the hub that drives one connection end to end.

This file defines the Registry, the only structure shared between connection-handling
goroutines. Readers get a snapshot of membership; writes never block a broadcast in flight.
*/
package chat

import (
	"sync"

	"github.com/rs/zerolog"

	"dogechat/internal/pkg/logx"
	"dogechat/internal/protocol"
)

// Registry maps participant identifiers to their handles.
// It is safe for concurrent use by any number of goroutines.
type Registry struct {
	// mu protects participants.
	mu sync.RWMutex

	// participants holds every registered participant, keyed by id.
	participants map[protocol.Identifier]*Participant

	// structured logger with registry context.
	logger zerolog.Logger
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		participants: make(map[protocol.Identifier]*Participant),
		logger:       logx.Component("Registry"),
	}
}

// Register inserts p under its id, replacing any stale entry with the same id.
func (r *Registry) Register(p *Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.participants[p.ID()]; ok {
		r.logger.Warn().
			Stringer("participant_id", p.ID()).
			Msg("Replacing stale participant with the same id.")
	}

	r.participants[p.ID()] = p
	r.logger.Debug().
		Stringer("participant_id", p.ID()).
		Int("total_participants", len(r.participants)).
		Msg("Participant registered.")
}

// Unregister removes the participant with the given id. It reports whether an entry was removed;
// removing an absent id is a no-op.
func (r *Registry) Unregister(id protocol.Identifier) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.participants[id]; !ok {
		return false
	}

	delete(r.participants, id)
	r.logger.Debug().
		Stringer("participant_id", id).
		Int("total_participants", len(r.participants)).
		Msg("Participant unregistered.")
	return true
}

// Snapshot returns the participants registered at the time of the call.
// The returned slice is owned by the caller.
func (r *Registry) Snapshot() []*Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make([]*Participant, 0, len(r.participants))
	for _, p := range r.participants {
		snapshot = append(snapshot, p)
	}
	return snapshot
}

// Len returns the number of registered participants.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

// Broadcast encodes event once and queues it for every registered participant,
// including the originator. Delivery is independent per recipient: a failed recipient is
// logged and skipped. It returns how many recipients accepted the frame.
func (r *Registry) Broadcast(event protocol.ServerEvent) int {
	frame, err := protocol.Encode(event)
	if err != nil {
		r.logger.Error().
			Err(err).
			Str("msg_type", string(event.Type())).
			Msg("Error encoding event for broadcast.")
		return 0
	}

	delivered := 0
	for _, p := range r.Snapshot() {
		if err := p.Deliver(frame); err != nil {
			r.logger.Warn().
				Err(err).
				Stringer("participant_id", p.ID()).
				Str("msg_type", string(event.Type())).
				Msg("Broadcast to participant failed.")
			continue
		}
		delivered++
	}
	return delivered
}
