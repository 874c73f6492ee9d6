package compositor

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a compositing failure.
type ErrorKind int

const (
	// InvalidInput means the media or edit parameters cannot be composited.
	InvalidInput ErrorKind = iota + 1
	// MediaEngineFailure means ffmpeg or ffprobe failed.
	MediaEngineFailure
)

func (k ErrorKind) String() string {
	switch k {
	case InvalidInput:
		return "invalid_input"
	case MediaEngineFailure:
		return "media_engine_failure"
	}
	return "unknown"
}

// ErrTooNarrow means an image scaled to the target height is narrower than
// the target width.
var ErrTooNarrow = errors.New("image too narrow for target aspect")

// CompositeError is returned by every compositor operation.
type CompositeError struct {
	Kind ErrorKind
	Err  error
}

func (e *CompositeError) Error() string {
	return fmt.Sprintf("composite %s: %v", e.Kind, e.Err)
}

func (e *CompositeError) Unwrap() error { return e.Err }

func invalid(format string, args ...any) *CompositeError {
	return &CompositeError{Kind: InvalidInput, Err: fmt.Errorf(format, args...)}
}

// IsKind reports whether err is a CompositeError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ce *CompositeError
	return errors.As(err, &ce) && ce.Kind == kind
}
