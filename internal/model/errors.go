package model

import (
	"context"
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
)

var (
	ErrUnsupportedArchitecture = eris.New("unsupported architecture")
	ErrModelUnavailable        = eris.New("model unavailable")
	ErrInferenceUnavailable    = eris.New("inference unavailable")
	ErrWeatherUnavailable      = eris.New("weather unavailable")
	ErrPrediction              = eris.New("prediction error")
	ErrInvalidInput            = eris.New("invalid input")

	// ErrUnsupportedIntentOutput marks classifier output outside the accepted
	// tokens. The router absorbs it into the default route.
	ErrUnsupportedIntentOutput = eris.New("unsupported intent output")
)

// Error pairs a taxonomy sentinel with the underlying cause so that both
// errors.Is(err, ErrWeatherUnavailable) and errors.Is(err, cause) hold.
type Error struct {
	Kind  error
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// Wrap tags cause with a taxonomy sentinel.
func Wrap(kind, cause error, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

// Error classes used for logging and for the transport's retry hints.
const (
	KindDependency = "dependency"
	KindInput      = "input"
	KindModel      = "model"
	KindCanceled   = "canceled"
)

// Kind reports whether err comes from an external dependency, from the
// caller's input, or from the model itself.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, ErrWeatherUnavailable), errors.Is(err, context.DeadlineExceeded):
		return KindDependency
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrUnsupportedArchitecture):
		return KindInput
	default:
		return KindModel
	}
}
