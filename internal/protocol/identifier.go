/*
Package protocol defines the wire vocabulary shared by the chat server and its clients.

This file defines Identifier, the random 128-bit value naming one server-side participant
for the lifetime of its connection.
*/
package protocol

import (
	"github.com/google/uuid"

	"dogechat/internal/pkg/errs"
)

// Identifier uniquely names a participant. The zero value is invalid and never produced
// by NewIdentifier or accepted by ParseIdentifier.
type Identifier struct {
	u uuid.UUID
}

// NewIdentifier returns a fresh random (version 4) Identifier.
func NewIdentifier() Identifier {
	return Identifier{u: uuid.New()}
}

// IdentifierFromUUID wraps u, rejecting the all-zero UUID.
func IdentifierFromUUID(u uuid.UUID) (Identifier, error) {
	if u == uuid.Nil {
		return Identifier{}, errs.NewError(errs.ErrInvalidParams, "identifier cannot be the nil UUID")
	}
	return Identifier{u: u}, nil
}

// ParseIdentifier parses the canonical textual form of an Identifier.
func ParseIdentifier(s string) (Identifier, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Identifier{}, errs.Wrap(errs.ErrInvalidParams, err, "malformed identifier")
	}
	return IdentifierFromUUID(u)
}

// IsZero reports whether id is the invalid zero Identifier.
func (id Identifier) IsZero() bool {
	return id.u == uuid.Nil
}

// String returns the canonical textual form.
func (id Identifier) String() string {
	return id.u.String()
}

// MarshalText implements encoding.TextMarshaler. The zero Identifier cannot be encoded.
func (id Identifier) MarshalText() ([]byte, error) {
	if id.IsZero() {
		return nil, errs.NewError(errs.ErrInvalidParams, "identifier is unset")
	}
	return id.u.MarshalText()
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *Identifier) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentifier(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
