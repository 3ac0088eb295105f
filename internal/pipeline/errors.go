package pipeline

import (
	"errors"
	"fmt"
)

// Kind is the caller-visible category of a resolution failure.
type Kind int

const (
	// KindUnexpected is any failure outside the taxonomy below.
	KindUnexpected Kind = iota
	// KindValidation is a malformed VIN, rejected before any network call.
	KindValidation
	// KindUpstream is a decoder transport failure, timeout or non-success status.
	KindUpstream
	// KindNotFound is a successful decoder response with no usable vehicle.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUpstream:
		return "upstream"
	case KindNotFound:
		return "not_found"
	default:
		return "unexpected"
	}
}

// ValidationError reports a malformed VIN.
type ValidationError struct {
	VIN    string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// UpstreamError reports a decoder failure. StatusCode is the upstream HTTP
// status when one was received, otherwise 0.
type UpstreamError struct {
	VIN        string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("decoder failed with status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("decoder unavailable: %v", e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// NotFoundError reports that the decoder had no usable vehicle for a VIN.
type NotFoundError struct {
	VIN string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no vehicle found for VIN %s", e.VIN)
}

// Classify maps err onto its taxonomy kind.
func Classify(err error) Kind {
	var (
		ve *ValidationError
		ue *UpstreamError
		ne *NotFoundError
	)
	switch {
	case errors.As(err, &ve):
		return KindValidation
	case errors.As(err, &ue):
		return KindUpstream
	case errors.As(err, &ne):
		return KindNotFound
	default:
		return KindUnexpected
	}
}

// statusCoder is implemented by decoder errors that carry an HTTP status.
type statusCoder interface {
	HTTPStatus() int
}

func upstreamStatus(err error) int {
	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.HTTPStatus()
	}
	return 0
}
