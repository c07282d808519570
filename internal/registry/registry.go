// Package registry resolves (architecture, backend) pairs to loaded model
// handles. Handles are loaded on first use and cached for the life of the
// process, as are load failures.
package registry

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Brownie44l1/cropai-api/internal/backend"
	"github.com/Brownie44l1/cropai-api/internal/metrics"
	"github.com/Brownie44l1/cropai-api/internal/model"
)

// Key identifies one cache slot.
type Key struct {
	Architecture model.Architecture
	Backend      model.BackendKind
}

func (k Key) String() string {
	return string(k.Architecture) + "/" + string(k.Backend)
}

// entry is either a loaded handle or a load-failure marker.
type entry struct {
	handle backend.Handle
	err    error
}

// Registry caches one handle per key. Reads never block each other; writes
// take the exclusive lock, and concurrent first requests for a key share a
// single load.
type Registry struct {
	mu      sync.RWMutex
	entries map[Key]entry
	loaders map[model.BackendKind]backend.Loader
	group   singleflight.Group
}

func New(loaders ...backend.Loader) *Registry {
	r := &Registry{
		entries: make(map[Key]entry),
		loaders: make(map[model.BackendKind]backend.Loader, len(loaders)),
	}
	for _, l := range loaders {
		r.loaders[l.Kind()] = l
	}
	return r
}

// Get returns the cached handle for (arch, kind), loading it on first use.
// A key whose load failed keeps returning the same error.
func (r *Registry) Get(ctx context.Context, arch model.Architecture, kind model.BackendKind) (backend.Handle, error) {
	arch, err := model.ParseArchitecture(string(arch))
	if err != nil {
		return nil, err
	}
	key := Key{Architecture: arch, Backend: kind}

	if e, ok := r.lookup(key); ok {
		return e.handle, e.err
	}

	loader, ok := r.loaders[kind]
	if !ok {
		return nil, model.Wrap(model.ErrModelUnavailable, nil, "no loader configured for backend %q", kind)
	}

	v, _, _ := r.group.Do(key.String(), func() (any, error) {
		if e, ok := r.lookup(key); ok {
			return e, nil
		}
		e := r.load(ctx, loader, key)
		r.mu.Lock()
		r.entries[key] = e
		r.mu.Unlock()
		return e, nil
	})
	e := v.(entry)
	return e.handle, e.err
}

func (r *Registry) lookup(key Key) (entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key]
	return e, ok
}

func (r *Registry) load(ctx context.Context, loader backend.Loader, key Key) entry {
	arch, kind := string(key.Architecture), string(key.Backend)
	start := time.Now()

	// Loads outlive the request that triggered them; a caller hanging up
	// must not poison the cache with a cancellation error.
	handle, err := loader.Load(context.WithoutCancel(ctx), key.Architecture)
	metrics.ModelLoadDuration.WithLabelValues(arch, kind).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.ModelLoads.WithLabelValues(arch, kind, "failed").Inc()
		zap.L().Error("model load failed",
			zap.String("architecture", arch),
			zap.String("backend", kind),
			zap.Error(err),
		)
		return entry{err: err}
	}

	metrics.ModelLoads.WithLabelValues(arch, kind, "loaded").Inc()
	return entry{handle: handle}
}

// Evict drops one cache slot so the next Get reloads it.
func (r *Registry) Evict(arch model.Architecture, kind model.BackendKind) error {
	key := Key{Architecture: arch, Backend: kind}
	r.mu.Lock()
	e, ok := r.entries[key]
	delete(r.entries, key)
	r.mu.Unlock()
	if ok && e.handle != nil {
		return e.handle.Close()
	}
	return nil
}

// Status describes one cache slot.
type Status struct {
	Key    string            `json:"key"`
	Loaded bool              `json:"loaded"`
	Info   *model.HandleInfo `json:"info,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// Snapshot lists cached slots ordered by key.
func (r *Registry) Snapshot() []Status {
	r.mu.RLock()
	out := make([]Status, 0, len(r.entries))
	for k, e := range r.entries {
		s := Status{Key: k.String(), Loaded: e.handle != nil}
		if e.handle != nil {
			info := e.handle.Info()
			s.Info = &info
		}
		if e.err != nil {
			s.Error = e.err.Error()
		}
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Close releases every cached handle and any loader-held runtime.
func (r *Registry) Close() error {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[Key]entry)
	r.mu.Unlock()

	var firstErr error
	for key, e := range entries {
		if e.handle == nil {
			continue
		}
		if err := e.handle.Close(); err != nil {
			zap.L().Warn("close model handle", zap.String("key", key.String()), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	for _, l := range r.loaders {
		if c, ok := l.(io.Closer); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
