package model

import "github.com/oklog/ulid/v2"

// NewID generates a new ULID string for use as a task identifier.
// ulid.Make is monotonic within the process, so identifiers never repeat.
func NewID() string {
	return ulid.Make().String()
}
