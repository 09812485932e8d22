package diff

import (
	"errors"
	"fmt"
)

// ErrInvalidInput is the only failure class of the comparator: a snapshot
// whose services break the unique-port invariant or lack a port or protocol.
var ErrInvalidInput = errors.New("invalid comparator input")

// Sides named in InputError.
const (
	SideOld = "old"
	SideNew = "new"
)

// InputError describes which snapshot and port made the input malformed.
type InputError struct {
	Side   string // SideOld or SideNew
	Port   int
	Reason string
}

func (e *InputError) Error() string {
	if e.Port != 0 {
		return fmt.Sprintf("%s snapshot, port %d: %s", e.Side, e.Port, e.Reason)
	}
	return fmt.Sprintf("%s snapshot: %s", e.Side, e.Reason)
}

// Is lets errors.Is(err, ErrInvalidInput) match any InputError.
func (e *InputError) Is(target error) bool {
	return target == ErrInvalidInput
}
