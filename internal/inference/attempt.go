package inference

import (
	"github.com/rotisserie/eris"

	"github.com/Brownie44l1/cropai-api/internal/model"
)

var (
	errEmptyOutput = eris.New("model returned no scores")
	errNonFinite   = eris.New("model returned non-finite scores")
)

type failureKind string

const (
	failureLoad    failureKind = "load"
	failureShape   failureKind = "shape"
	failureRuntime failureKind = "runtime"
)

// attemptError is a backend failure that allows falling through to the
// next backend. Anything else aborts the prediction.
type attemptError struct {
	backend model.BackendKind
	kind    failureKind
	err     error
}

func (e *attemptError) Error() string {
	return string(e.backend) + " backend " + string(e.kind) + " failure: " + e.err.Error()
}

func (e *attemptError) Unwrap() error { return e.err }
