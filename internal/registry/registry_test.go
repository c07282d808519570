package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/cropai-api/internal/backend"
	"github.com/Brownie44l1/cropai-api/internal/model"
)

type stubHandle struct {
	info   model.HandleInfo
	closed atomic.Bool
}

func (h *stubHandle) Info() model.HandleInfo { return h.info }

func (h *stubHandle) Infer(context.Context, []float32) ([]float32, error) {
	return []float32{1}, nil
}

func (h *stubHandle) Close() error {
	h.closed.Store(true)
	return nil
}

type stubLoader struct {
	kind  model.BackendKind
	err   error
	delay time.Duration
	loads atomic.Int32
}

func (l *stubLoader) Kind() model.BackendKind { return l.kind }

func (l *stubLoader) Load(ctx context.Context, arch model.Architecture) (backend.Handle, error) {
	l.loads.Add(1)
	if l.delay > 0 {
		time.Sleep(l.delay)
	}
	if l.err != nil {
		return nil, l.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &stubHandle{info: model.HandleInfo{Architecture: arch, Backend: l.kind, InputSize: 256}}, nil
}

func TestGetCachesHandle(t *testing.T) {
	loader := &stubLoader{kind: model.BackendGraph}
	r := New(loader)

	h1, err := r.Get(context.Background(), model.ResNet9, model.BackendGraph)
	require.NoError(t, err)
	h2, err := r.Get(context.Background(), "RESNET9", model.BackendGraph)
	require.NoError(t, err)

	assert.Same(t, h1, h2)
	assert.EqualValues(t, 1, loader.loads.Load())
}

func TestGetKeysByBackend(t *testing.T) {
	graph := &stubLoader{kind: model.BackendGraph}
	eager := &stubLoader{kind: model.BackendEager}
	r := New(graph, eager)

	g, err := r.Get(context.Background(), model.ResNet18, model.BackendGraph)
	require.NoError(t, err)
	e, err := r.Get(context.Background(), model.ResNet18, model.BackendEager)
	require.NoError(t, err)

	assert.NotSame(t, g, e)
	assert.Equal(t, model.BackendEager, e.Info().Backend)
}

func TestGetCachesFailure(t *testing.T) {
	loader := &stubLoader{
		kind: model.BackendGraph,
		err:  model.Wrap(model.ErrModelUnavailable, nil, "weights missing"),
	}
	r := New(loader)

	_, err1 := r.Get(context.Background(), model.ResNet50, model.BackendGraph)
	_, err2 := r.Get(context.Background(), model.ResNet50, model.BackendGraph)

	require.Error(t, err1)
	assert.True(t, errors.Is(err1, model.ErrModelUnavailable))
	assert.Equal(t, err1, err2)
	assert.EqualValues(t, 1, loader.loads.Load())
}

func TestGetConcurrentFirstUseLoadsOnce(t *testing.T) {
	loader := &stubLoader{kind: model.BackendGraph, delay: 50 * time.Millisecond}
	r := New(loader)

	const n = 16
	handles := make([]backend.Handle, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := r.Get(context.Background(), model.ResNet9, model.BackendGraph)
			assert.NoError(t, err)
			handles[i] = h
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, loader.loads.Load())
	for _, h := range handles[1:] {
		assert.Same(t, handles[0], h)
	}
}

func TestGetUnsupportedArchitecture(t *testing.T) {
	loader := &stubLoader{kind: model.BackendGraph}
	r := New(loader)

	_, err := r.Get(context.Background(), "mobilenet", model.BackendGraph)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrUnsupportedArchitecture))
	assert.Zero(t, loader.loads.Load())
	assert.Empty(t, r.Snapshot())
}

func TestGetMissingLoader(t *testing.T) {
	r := New(&stubLoader{kind: model.BackendGraph})

	_, err := r.Get(context.Background(), model.ResNet9, model.BackendEager)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrModelUnavailable))
}

func TestGetIgnoresCallerCancellation(t *testing.T) {
	loader := &stubLoader{kind: model.BackendGraph}
	r := New(loader)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Get(ctx, model.ResNet9, model.BackendGraph)
	require.NoError(t, err)
}

func TestEvictReloads(t *testing.T) {
	loader := &stubLoader{kind: model.BackendGraph}
	r := New(loader)

	h, err := r.Get(context.Background(), model.ResNet9, model.BackendGraph)
	require.NoError(t, err)
	require.NoError(t, r.Evict(model.ResNet9, model.BackendGraph))
	assert.True(t, h.(*stubHandle).closed.Load())

	_, err = r.Get(context.Background(), model.ResNet9, model.BackendGraph)
	require.NoError(t, err)
	assert.EqualValues(t, 2, loader.loads.Load())
}

func TestSnapshotAndClose(t *testing.T) {
	r := New(
		&stubLoader{kind: model.BackendGraph},
		&stubLoader{kind: model.BackendEager, err: errors.New("sidecar down")},
	)

	h, err := r.Get(context.Background(), model.ResNet18, model.BackendGraph)
	require.NoError(t, err)
	_, err = r.Get(context.Background(), model.ResNet18, model.BackendEager)
	require.Error(t, err)

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "resnet18/eager", snap[0].Key)
	assert.False(t, snap[0].Loaded)
	assert.Contains(t, snap[0].Error, "sidecar down")
	assert.Equal(t, "resnet18/graph", snap[1].Key)
	assert.True(t, snap[1].Loaded)
	require.NotNil(t, snap[1].Info)
	assert.Equal(t, 256, snap[1].Info.InputSize)

	require.NoError(t, r.Close())
	assert.True(t, h.(*stubHandle).closed.Load())
	assert.Empty(t, r.Snapshot())
}
