// Package backend loads disease-classification weights into executable
// handles. Two runtimes are supported: a graph-compiled ONNX Runtime session
// and an eager PyTorch sidecar reached over HTTP.
package backend

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/Brownie44l1/cropai-api/internal/model"
)

// ErrShapeMismatch is returned by Infer when the input tensor does not match
// what the loaded weights expect.
var ErrShapeMismatch = eris.New("tensor shape mismatch")

// Handle is a loaded model. Implementations are immutable after Load and
// safe for concurrent Infer calls.
type Handle interface {
	Info() model.HandleInfo
	// Infer runs one forward pass over a [1,3,size,size] CHW tensor and
	// returns the raw output scores.
	Infer(ctx context.Context, input []float32) ([]float32, error)
	Close() error
}

// Loader constructs handles for one backend kind.
type Loader interface {
	Kind() model.BackendKind
	Load(ctx context.Context, arch model.Architecture) (Handle, error)
}
