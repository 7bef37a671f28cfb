package model

import (
	"errors"
	"fmt"
	"strings"
)

var ErrNoFrame = errors.New("no frame published yet")

// FatalError aborts startup. It names the resource and what was attempted.
type FatalError struct {
	Resource  string
	Attempted []string
	Err       error
}

func (e *FatalError) Error() string {
	msg := fmt.Sprintf("%s unavailable", e.Resource)
	if len(e.Attempted) > 0 {
		msg += fmt.Sprintf(" (tried: %s)", strings.Join(e.Attempted, ", "))
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// DecodeError reports an output tensor layout whose boxes/scores/classes roles
// could not be resolved.
type DecodeError struct {
	Shapes  [][]int
	Missing []TensorRole
}

func (e *DecodeError) Error() string {
	missing := make([]string, 0, len(e.Missing))
	for _, r := range e.Missing {
		missing = append(missing, r.String())
	}
	return fmt.Sprintf("cannot identify detection outputs (missing %s), shapes=%v", strings.Join(missing, ","), e.Shapes)
}
