package video

import "errors"

// Error kinds shared by every stage of a job. Concrete failures wrap one of
// these with fmt.Errorf("%w: %w", kind, cause) so callers can use errors.Is.
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotFound          = errors.New("video not found")
	ErrProvider          = errors.New("provider error")
	ErrSourceUnavailable = errors.New("audio source unavailable")
	ErrSourceBroken      = errors.New("audio source stream broken")
	ErrTranscode         = errors.New("transcode failed")
	ErrDelivery          = errors.New("delivery failed")
	ErrOverloaded        = errors.New("server overloaded")
)

// UserFault reports whether err was caused by the request rather than the server.
func UserFault(err error) bool {
	return errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrNotFound)
}
