package faults

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a turn failure so the transport layer can map it to a status.
type Kind string

const (
	KindValidation Kind = "validation"
	KindModel      Kind = "model"
	KindStore      Kind = "store"
	KindTool       Kind = "tool"
	KindTimeout    Kind = "timeout"
	KindConflict   Kind = "conflict"
	KindInternal   Kind = "internal"
)

// Fault is the single failure surfaced at the turn boundary.
type Fault struct {
	Kind    Kind
	Message string
	// Missing lists absent request fields for validation faults.
	Missing []string
	Err     error
}

func (f *Fault) Error() string {
	if f.Err != nil && f.Message != "" {
		return fmt.Sprintf("%s: %v", f.Message, f.Err)
	}
	if f.Message != "" {
		return f.Message
	}
	if f.Err != nil {
		return f.Err.Error()
	}
	return string(f.Kind) + " fault"
}

func (f *Fault) Unwrap() error {
	return f.Err
}

func Validation(message string, missing ...string) *Fault {
	return &Fault{Kind: KindValidation, Message: message, Missing: missing}
}

func Model(message string, err error) *Fault {
	return &Fault{Kind: KindModel, Message: message, Err: err}
}

func Store(message string, err error) *Fault {
	return &Fault{Kind: KindStore, Message: message, Err: err}
}

func Tool(message string, err error) *Fault {
	return &Fault{Kind: KindTool, Message: message, Err: err}
}

func Timeout(message string, err error) *Fault {
	return &Fault{Kind: KindTimeout, Message: message, Err: err}
}

func Conflict(message string, err error) *Fault {
	return &Fault{Kind: KindConflict, Message: message, Err: err}
}

// KindOf returns the kind of the first Fault in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindInternal
}

// As returns the first Fault in err's chain, wrapping unknown errors as internal.
func As(err error) *Fault {
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return &Fault{Kind: KindInternal, Message: "internal error", Err: err}
}

// HTTPStatus maps a fault kind to the status the HTTP transport returns.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindModel, KindTool:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
