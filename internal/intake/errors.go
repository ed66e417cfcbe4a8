package intake

import (
	"fmt"
	"net/http"
)

// Reason classifies a client-caused upload rejection.
type Reason int

const (
	NotAnImage Reason = iota + 1
	UnsupportedMediaType
	TooLarge
	InvalidImage
)

// Code is the machine-readable error code sent to clients.
func (r Reason) Code() string {
	switch r {
	case NotAnImage:
		return "not_an_image"
	case UnsupportedMediaType:
		return "unsupported_media_type"
	case TooLarge:
		return "too_large"
	case InvalidImage:
		return "invalid_image"
	}
	return "rejected"
}

func (r Reason) String() string { return r.Code() }

// Status maps the reason to an HTTP status code.
func (r Reason) Status() int {
	switch r {
	case UnsupportedMediaType:
		return http.StatusUnsupportedMediaType
	case TooLarge:
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

// Rejection is returned when an upload fails validation or decoding.
type Rejection struct {
	Reason Reason
	Detail string
	Err    error
}

func (e *Rejection) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Reason.Code(), e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Reason.Code(), e.Detail)
}

func (e *Rejection) Unwrap() error { return e.Err }

func reject(reason Reason, detail string, err error) *Rejection {
	return &Rejection{Reason: reason, Detail: detail, Err: err}
}
