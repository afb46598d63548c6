package branching

import (
	"fmt"

	"github.com/google/uuid"
)

const rootText = "root"

// ParentKey identifies a branch group: either the chat root (messages
// without a parent) or one parent message. The zero value is the root key.
type ParentKey struct {
	id    uuid.UUID
	isMsg bool
}

// RootKey groups messages that have no parent
func RootKey() ParentKey {
	return ParentKey{}
}

// MessageKey groups the children of message id
func MessageKey(id uuid.UUID) ParentKey {
	return ParentKey{id: id, isMsg: true}
}

// IsRoot reports whether k is the root key
func (k ParentKey) IsRoot() bool {
	return !k.isMsg
}

// MessageID returns the parent message id, false for the root key
func (k ParentKey) MessageID() (uuid.UUID, bool) {
	return k.id, k.isMsg
}

func (k ParentKey) String() string {
	if !k.isMsg {
		return rootText
	}
	return k.id.String()
}

// MarshalText encodes the root key as "root" and a message key as its
// UUID, which can never collide.
func (k ParentKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (k *ParentKey) UnmarshalText(text []byte) error {
	if string(text) == rootText {
		*k = RootKey()
		return nil
	}
	id, err := uuid.ParseBytes(text)
	if err != nil {
		return fmt.Errorf("invalid parent key %q: %w", text, err)
	}
	*k = MessageKey(id)
	return nil
}
