// Package ids provides opaque 128-bit identifiers used throughout agentcore.
package ids

import "github.com/google/uuid"

// ID is an opaque identifier rendered as a UUID string. Equality is plain
// string comparison.
type ID string

// New returns a fresh random ID.
func New() ID {
	return ID(uuid.New().String())
}

// Empty reports whether id is the zero value.
func (id ID) Empty() bool {
	return id == ""
}

func (id ID) String() string {
	return string(id)
}
