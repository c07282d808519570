package inference

import (
	"context"
	"errors"
	"image"
	"math"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Brownie44l1/cropai-api/internal/backend"
	"github.com/Brownie44l1/cropai-api/internal/imaging"
	"github.com/Brownie44l1/cropai-api/internal/metrics"
	"github.com/Brownie44l1/cropai-api/internal/model"
)

// DefaultConfidenceThreshold flags predictions below this probability.
const DefaultConfidenceThreshold = 0.5

// HandleSource resolves loaded models. *registry.Registry implements it.
type HandleSource interface {
	Get(ctx context.Context, arch model.Architecture, kind model.BackendKind) (backend.Handle, error)
}

// Pipeline classifies leaf images with whichever backend answers first.
type Pipeline struct {
	models           HandleSource
	batchConcurrency int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithBatchConcurrency bounds how many batch items run at once.
func WithBatchConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.batchConcurrency = n
		}
	}
}

func NewPipeline(models HandleSource, opts ...Option) *Pipeline {
	p := &Pipeline{models: models, batchConcurrency: 4}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// backendOrder lists the backends to try for a preference. Graph falls back
// to eager; an explicit eager request stays on eager.
func backendOrder(prefer model.BackendKind) []model.BackendKind {
	if prefer == model.BackendEager {
		return []model.BackendKind{model.BackendEager}
	}
	return []model.BackendKind{model.BackendGraph, model.BackendEager}
}

// PredictImage decodes data, runs it through the preferred backend (falling
// back as backendOrder allows) and decodes the top class. threshold <= 0
// means DefaultConfidenceThreshold.
func (p *Pipeline) PredictImage(ctx context.Context, data []byte, arch model.Architecture, prefer model.BackendKind, threshold float64) (*model.PredictionResult, error) {
	arch, err := model.ParseArchitecture(string(arch))
	if err != nil {
		return nil, err
	}
	if threshold <= 0 {
		threshold = DefaultConfidenceThreshold
	}

	img, _, err := imaging.Decode(data)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, kind := range backendOrder(prefer) {
		result, err := p.attempt(ctx, img, arch, kind, threshold)
		if err == nil {
			return result, nil
		}

		var ae *attemptError
		if !errors.As(err, &ae) {
			return nil, err
		}
		lastErr = ae
		metrics.BackendFallbacks.WithLabelValues(string(arch), string(kind), string(ae.kind)).Inc()
		zap.L().Warn("backend attempt failed",
			zap.String("architecture", string(arch)),
			zap.String("backend", string(kind)),
			zap.String("failure", string(ae.kind)),
			zap.Error(ae.err),
		)
	}

	return nil, model.Wrap(model.ErrInferenceUnavailable, lastErr, "%s: all backends failed", arch)
}

func (p *Pipeline) attempt(ctx context.Context, img image.Image, arch model.Architecture, kind model.BackendKind, threshold float64) (*model.PredictionResult, error) {
	handle, err := p.models.Get(ctx, arch, kind)
	if err != nil {
		if errors.Is(err, model.ErrUnsupportedArchitecture) {
			return nil, err
		}
		return nil, &attemptError{backend: kind, kind: failureLoad, err: err}
	}

	info := handle.Info()
	if info.InputSize <= 0 {
		return nil, &attemptError{backend: kind, kind: failureShape, err: backend.ErrShapeMismatch}
	}

	logits, err := handle.Infer(ctx, imaging.ToTensor(img, info.InputSize))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, backend.ErrShapeMismatch) {
			return nil, &attemptError{backend: kind, kind: failureShape, err: err}
		}
		return nil, &attemptError{backend: kind, kind: failureRuntime, err: err}
	}
	if len(logits) == 0 {
		return nil, &attemptError{backend: kind, kind: failureShape, err: errEmptyOutput}
	}
	if !finite(logits) {
		return nil, &attemptError{backend: kind, kind: failureRuntime, err: errNonFinite}
	}

	idx, confidence := Top(Softmax(logits))
	label := model.DiseaseLabel(idx, info.Classes)
	plant, status := model.SplitLabel(label)

	return &model.PredictionResult{
		PredictedClass: label,
		PlantName:      plant,
		DiseaseStatus:  status,
		ClassIndex:     idx,
		Confidence:     confidence,
		IsConfident:    confidence >= threshold,
		ModelUsed:      string(arch),
		InferenceType:  info.Backend,
	}, nil
}

// BatchInput is one image of a batch request.
// Err is set when the upload itself could not be read; the item then fails
// with it.
type BatchInput struct {
	Filename string
	Data     []byte
	Err      error
}

// PredictBatch classifies every input independently. Results keep input
// order; a failing item carries its own error and never affects the others.
func (p *Pipeline) PredictBatch(ctx context.Context, inputs []BatchInput, arch model.Architecture, prefer model.BackendKind, threshold float64) []model.BatchItem {
	items := make([]model.BatchItem, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.batchConcurrency)

	for i, in := range inputs {
		g.Go(func() error {
			item := model.BatchItem{Index: i, Filename: in.Filename}
			var (
				result *model.PredictionResult
				err    error
			)
			if in.Err != nil {
				err = model.Wrap(model.ErrInvalidInput, in.Err, "read upload %q", in.Filename)
			} else {
				result, err = p.PredictImage(gctx, in.Data, arch, prefer, threshold)
			}
			if err != nil {
				item.Error = err.Error()
				zap.L().Warn("batch item failed",
					zap.Int("index", i),
					zap.String("filename", in.Filename),
					zap.Error(err),
				)
			} else {
				item.Result = result
			}
			items[i] = item
			return nil
		})
	}
	_ = g.Wait()

	return items
}

func finite(xs []float32) bool {
	for _, x := range xs {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
