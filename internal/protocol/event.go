/*
Package protocol defines the wire vocabulary shared by the chat server and its clients.

This file defines the two closed event sets: ClientEvent (client to server) and ServerEvent
(server to client), plus Unknown, which stands in for any tag a peer does not recognize.
*/
package protocol

import (
	"encoding/json"
	"strings"

	"dogechat/internal/pkg/errs"
)

// MessageType is the tag carried in every envelope.
type MessageType string

const (
	// TypeJoin declares the sender's display name. First message on a connection.
	TypeJoin MessageType = "JOIN"

	// TypeSendMessage carries one chat line from a joined participant.
	TypeSendMessage MessageType = "SEND_MESSAGE"

	// TypeUserJoined announces a participant's name to everyone in the room.
	TypeUserJoined MessageType = "USER_JOINED"

	// TypeMessageReceived relays a chat line to everyone in the room.
	TypeMessageReceived MessageType = "MESSAGE_RECEIVED"
)

// MaxTextBytes is the largest chat line accepted, in bytes.
const MaxTextBytes = 5000

// Event is anything that can travel inside an envelope.
type Event interface {
	Type() MessageType
}

// ClientEvent is an event sent from a client to the server.
type ClientEvent interface {
	Event
	isClientEvent()
}

// ServerEvent is an event sent from the server to a client.
type ServerEvent interface {
	Event
	isServerEvent()
}

// Join is the first event on a new connection.
type Join struct {
	Name string `json:"name"`
}

// SendMessage is a chat line from an already-joined participant.
type SendMessage struct {
	Text string `json:"text"`
}

// UserJoined tells every participant that ID joined as Name.
type UserJoined struct {
	ID   Identifier `json:"id"`
	Name string     `json:"name"`
}

// MessageReceived relays Text written by participant ID. Name is empty when the sender
// never joined.
type MessageReceived struct {
	ID   Identifier `json:"id"`
	Name string     `json:"name"`
	Text string     `json:"text"`
}

// Unknown holds an event whose tag this build does not recognize.
// It satisfies both ClientEvent and ServerEvent so decoders never fail on newer peers.
type Unknown struct {
	Kind    MessageType
	Payload json.RawMessage
}

func (Join) Type() MessageType            { return TypeJoin }
func (SendMessage) Type() MessageType     { return TypeSendMessage }
func (UserJoined) Type() MessageType      { return TypeUserJoined }
func (MessageReceived) Type() MessageType { return TypeMessageReceived }
func (u Unknown) Type() MessageType       { return u.Kind }

func (Join) isClientEvent()        {}
func (SendMessage) isClientEvent() {}
func (Unknown) isClientEvent()     {}

func (UserJoined) isServerEvent()      {}
func (MessageReceived) isServerEvent() {}
func (Unknown) isServerEvent()         {}

// Validate checks a client event before it is put on the wire.
func Validate(event ClientEvent) error {
	switch e := event.(type) {
	case nil:
		return errs.NewError(errs.ErrInvalidParams, "event cannot be nil")
	case Join:
		if strings.TrimSpace(e.Name) == "" {
			return errs.NewError(errs.ErrInvalidParams, "name cannot be blank")
		}
	case SendMessage:
		if strings.TrimSpace(e.Text) == "" {
			return errs.NewError(errs.ErrInvalidParams, "text cannot be blank")
		}
		if len(e.Text) > MaxTextBytes {
			return errs.NewError(errs.ErrInvalidParams, "text is too long")
		}
	case Unknown:
		return errs.NewError(errs.ErrInvalidParams, "cannot send an event of unknown type")
	}
	return nil
}
