package render

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a render failure.
type ErrorKind int

const (
	// MissingSlot means a required slot had no value and no default.
	MissingSlot ErrorKind = iota + 1
	// InvalidField means a value did not fit its slot.
	InvalidField
	// SelectorNotFound means the capture element is absent from the document.
	SelectorNotFound
	// EngineFailure means the rendering engine crashed or timed out.
	EngineFailure
)

func (k ErrorKind) String() string {
	switch k {
	case MissingSlot:
		return "missing_slot"
	case InvalidField:
		return "invalid_field"
	case SelectorNotFound:
		return "selector_not_found"
	case EngineFailure:
		return "engine_failure"
	}
	return "unknown"
}

// ErrElementNotFound is returned by an Engine when the selector matches
// nothing in the loaded page.
var ErrElementNotFound = errors.New("element not found")

// RenderError is returned by Renderer.Render.
type RenderError struct {
	Kind     ErrorKind
	Slot     string
	Selector string
	Err      error
}

func (e *RenderError) Error() string {
	msg := "render " + e.Kind.String()
	if e.Slot != "" {
		msg += fmt.Sprintf(" (slot %s)", e.Slot)
	}
	if e.Selector != "" {
		msg += fmt.Sprintf(" (selector %s)", e.Selector)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RenderError) Unwrap() error { return e.Err }

// IsKind reports whether err is a RenderError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var re *RenderError
	return errors.As(err, &re) && re.Kind == kind
}
