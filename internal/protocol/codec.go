/*
Package protocol defines the wire vocabulary shared by the chat server and its clients.

This file implements the JSON envelope codec. Every frame is one object of the form
{"type": "<TAG>", "payload": {...}}. Unknown fields are ignored; unknown tags decode to Unknown.
*/
package protocol

import (
	"encoding/json"

	"dogechat/internal/pkg/errs"
)

type envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode serializes event into one envelope frame.
func Encode(event Event) ([]byte, error) {
	if event == nil {
		return nil, errs.NewError(errs.ErrInvalidParams, "event cannot be nil")
	}

	var payload json.RawMessage
	if u, ok := event.(Unknown); ok {
		payload = u.Payload
	} else {
		raw, err := json.Marshal(event)
		if err != nil {
			return nil, errs.Wrap(errs.ErrInvalidParams, err, "event cannot be encoded")
		}
		payload = raw
	}

	return json.Marshal(envelope{Type: event.Type(), Payload: payload})
}

// DecodeClientEvent parses one frame sent by a client.
func DecodeClientEvent(data []byte) (ClientEvent, error) {
	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}

	switch env.Type {
	case TypeJoin:
		var e Join
		if err := decodePayload(env, &e); err != nil {
			return nil, err
		}
		return e, nil
	case TypeSendMessage:
		var e SendMessage
		if err := decodePayload(env, &e); err != nil {
			return nil, err
		}
		return e, nil
	default:
		return Unknown{Kind: env.Type, Payload: env.Payload}, nil
	}
}

// DecodeServerEvent parses one frame sent by the server.
func DecodeServerEvent(data []byte) (ServerEvent, error) {
	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}

	switch env.Type {
	case TypeUserJoined:
		var e UserJoined
		if err := decodePayload(env, &e); err != nil {
			return nil, err
		}
		return e, nil
	case TypeMessageReceived:
		var e MessageReceived
		if err := decodePayload(env, &e); err != nil {
			return nil, err
		}
		return e, nil
	default:
		return Unknown{Kind: env.Type, Payload: env.Payload}, nil
	}
}

func decodeEnvelope(data []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, errs.Wrap(errs.ErrProtocolViolation, err, "frame is not a JSON envelope")
	}
	if env.Type == "" {
		return envelope{}, errs.NewError(errs.ErrProtocolViolation, "envelope has no type")
	}
	return env, nil
}

func decodePayload(env envelope, dst any) error {
	if len(env.Payload) == 0 {
		return errs.NewError(errs.ErrProtocolViolation, "envelope has no payload")
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return errs.Wrap(errs.ErrProtocolViolation, err, "invalid "+string(env.Type)+" payload")
	}
	return nil
}
