package instance

import (
	"github.com/google/uuid"
)

// Ref is the stable identifier of an instance within one tree. It is an
// opaque 128-bit handle: refs are never meaningful across different trees,
// which is why the matching engine compares referenced instances by identity
// signature instead of by handle.
type Ref [16]byte

// NoneRef is the zero Ref, used where a reference property is unset.
var NoneRef Ref

// NewRef returns a fresh random Ref.
func NewRef() Ref {
	return Ref(uuid.New())
}

// IsNone reports whether the ref is the unset sentinel.
func (r Ref) IsNone() bool {
	return r == NoneRef
}

// String renders the ref in canonical UUID form for logs and wire payloads.
func (r Ref) String() string {
	return uuid.UUID(r).String()
}

// ParseRef parses a ref from its canonical UUID form.
func ParseRef(s string) (Ref, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return NoneRef, err
	}
	return Ref(id), nil
}
