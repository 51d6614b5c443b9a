package entities

import "errors"

var (
	// ErrUpstreamUnavailable covers transport failures, non-success statuses,
	// timeouts and streams that end without a done frame. Nothing was persisted.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrUpstreamFailed is matched by *UpstreamError.
	ErrUpstreamFailed = errors.New("upstream reported an error")

	// ErrMalformedFrame marks a frame whose payload fails structural decoding.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrCanceled is returned when the subscriber detached before the terminal result.
	ErrCanceled = errors.New("interaction canceled")

	ErrConversationNotFound = errors.New("conversation not found")
	ErrAccessDenied         = errors.New("access denied")
	ErrInvalidRequest       = errors.New("invalid request")
	ErrUnauthenticated      = errors.New("unauthenticated")
)

// UpstreamError carries the message of an error frame sent by the upstream.
type UpstreamError struct {
	Message string
}

func (e *UpstreamError) Error() string {
	return "upstream error: " + e.Message
}

// Is makes errors.Is(err, ErrUpstreamFailed) hold.
func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstreamFailed
}
