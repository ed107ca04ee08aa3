package inference

import "errors"

var (
	// ErrImageTooBig is raised by the backend when an input exceeds the
	// model's size ceiling.
	ErrImageTooBig = errors.New("image too big")
	// ErrImageTooSmall is raised when an input is below the model's floor.
	ErrImageTooSmall = errors.New("image too small")
)

// Kind is the user-surfaceable classification of a backend failure.
type Kind string

const (
	KindTooBig   Kind = "image_too_big"
	KindTooSmall Kind = "image_too_small"
	KindUnknown  Kind = "unknown"
)

// KindOf classifies a backend error. Cancellation is not a Kind: callers
// normalize context errors to a cancelled outcome before classifying.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrImageTooBig):
		return KindTooBig
	case errors.Is(err, ErrImageTooSmall):
		return KindTooSmall
	default:
		return KindUnknown
	}
}
