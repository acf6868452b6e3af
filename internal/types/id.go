// README: Opaque identifiers shared across modules.
package types

import "github.com/google/uuid"

// ID is an opaque identifier; entity store ids are passed through unchanged.
type ID string

func NewID() ID {
	return ID(uuid.NewString())
}

func (id ID) String() string {
	return string(id)
}
