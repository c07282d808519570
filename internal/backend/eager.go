package backend

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/Brownie44l1/cropai-api/internal/metrics"
	"github.com/Brownie44l1/cropai-api/internal/model"
)

// EagerLoader talks to the PyTorch sidecar that runs <arch>.pth weights in
// eager mode. The sidecar owns the weights; this side only asks it to load
// them and ships preprocessed tensors for each forward pass.
type EagerLoader struct {
	baseURL      string
	client       *http.Client
	artifacts    Artifacts
	attempts     int
	backoff      time.Duration
	localWeights bool
}

// EagerOption configures the eager loader.
type EagerOption func(*EagerLoader)

// WithHTTPClient replaces the default client.
func WithHTTPClient(hc *http.Client) EagerOption {
	return func(l *EagerLoader) {
		l.client = hc
	}
}

// WithRetry sets how many times a sidecar call is attempted and the base
// backoff between attempts.
func WithRetry(attempts int, backoff time.Duration) EagerOption {
	return func(l *EagerLoader) {
		l.attempts = attempts
		l.backoff = backoff
	}
}

// WithLocalWeights makes Load check <arch>.pth under the model directory and
// hand the sidecar its full path. Use it when both sides mount the same
// directory.
func WithLocalWeights() EagerOption {
	return func(l *EagerLoader) {
		l.localWeights = true
	}
}

func NewEagerLoader(baseURL string, artifacts Artifacts, timeout time.Duration, opts ...EagerOption) *EagerLoader {
	if baseURL == "" {
		baseURL = "http://localhost:5001"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	l := &EagerLoader{
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{Timeout: timeout},
		artifacts: artifacts,
		attempts:  3,
		backoff:   200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *EagerLoader) Kind() model.BackendKind { return model.BackendEager }

type loadRequest struct {
	Weights string `json:"weights"`
}

type loadResponse struct {
	ClassCount int    `json:"class_count"`
	Device     string `json:"device"`
	ImageSize  int    `json:"image_size"`
}

func (l *EagerLoader) Load(ctx context.Context, arch model.Architecture) (Handle, error) {
	meta, err := ReadMetadata(l.artifacts.MetadataPath(arch), arch)
	if err != nil {
		return nil, err
	}

	weights := string(arch) + ".pth"
	if l.localWeights {
		if weights, err = l.artifacts.Require(arch, model.BackendEager); err != nil {
			return nil, err
		}
	}

	body, err := json.Marshal(loadRequest{Weights: weights})
	if err != nil {
		return nil, eris.Wrap(err, "eager: marshal load request")
	}

	url := fmt.Sprintf("%s/v1/models/%s/load", l.baseURL, arch)
	resp, err := l.retrier().do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, eris.Wrap(err, "eager: build load request")
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, model.Wrap(model.ErrModelUnavailable, err, "%s eager sidecar", arch)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, model.Wrap(model.ErrModelUnavailable, nil,
			"%s eager sidecar returned status %d: %s", arch, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var lr loadResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, model.Wrap(model.ErrModelUnavailable, err, "%s eager load response", arch)
	}

	inputSize := meta.ImageSize
	if lr.ImageSize > 0 {
		inputSize = lr.ImageSize
	}
	device := model.DeviceCPU
	if strings.HasPrefix(lr.Device, "cuda") {
		device = model.DeviceCUDA
	}

	info := model.HandleInfo{
		Architecture: arch,
		Backend:      model.BackendEager,
		ClassCount:   reconcileClasses(meta.Classes, lr.ClassCount, arch, model.BackendEager),
		Device:       device,
		InputSize:    inputSize,
		Classes:      meta.Classes,
	}

	zap.L().Info("eager model loaded",
		zap.String("architecture", string(arch)),
		zap.String("device", string(device)),
		zap.Int("classes", info.ClassCount),
	)

	return &eagerHandle{
		url:   fmt.Sprintf("%s/v1/models/%s/forward", l.baseURL, arch),
		retry: l.retrier(),
		info:  info,
	}, nil
}

func (l *EagerLoader) retrier() retrier {
	return retrier{client: l.client, attempts: l.attempts, base: l.backoff}
}

type eagerHandle struct {
	url   string
	retry retrier
	info  model.HandleInfo
}

type forwardResponse struct {
	Logits []float32 `json:"logits"`
}

func (h *eagerHandle) Info() model.HandleInfo { return h.info }

func (h *eagerHandle) Infer(ctx context.Context, input []float32) ([]float32, error) {
	size := h.info.InputSize
	if len(input) != 3*size*size {
		return nil, eris.Wrapf(ErrShapeMismatch, "got %d values, want 3x%dx%d", len(input), size, size)
	}

	var body bytes.Buffer
	body.Grow(4 * len(input))
	if err := binary.Write(&body, binary.LittleEndian, input); err != nil {
		return nil, eris.Wrap(err, "eager: encode tensor")
	}

	payload := body.Bytes()
	shape := fmt.Sprintf("1,3,%d,%d", size, size)

	start := time.Now()
	resp, err := h.retry.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(payload))
		if err != nil {
			return nil, eris.Wrap(err, "eager: build forward request")
		}
		req.Header.Set("Content-Type", "application/octet-stream")
		req.Header.Set("X-Tensor-Shape", shape)
		return req, nil
	})
	metrics.InferenceLatency.WithLabelValues(string(h.info.Architecture), string(h.info.Backend)).
		Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, eris.Wrap(err, "eager: forward request")
	}
	defer resp.Body.Close() //nolint:errcheck

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnprocessableEntity:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, eris.Wrapf(ErrShapeMismatch, "eager sidecar: %s", strings.TrimSpace(string(msg)))
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, eris.Errorf("eager: sidecar returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var fr forwardResponse
	if err := json.NewDecoder(resp.Body).Decode(&fr); err != nil {
		return nil, eris.Wrap(err, "eager: decode forward response")
	}
	if len(fr.Logits) == 0 {
		return nil, eris.New("eager: sidecar returned no logits")
	}
	return fr.Logits, nil
}

func (h *eagerHandle) Close() error { return nil }

// retrier re-sends sidecar requests that fail in transport or come back
// with a gateway status. Other statuses go straight to the caller.
type retrier struct {
	client   *http.Client
	attempts int
	base     time.Duration
}

func transientStatus(code int) bool {
	switch code {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func (r retrier) do(ctx context.Context, newReq func() (*http.Request, error)) (*http.Response, error) {
	attempts := max(r.attempts, 1)
	for attempt := 0; ; attempt++ {
		req, err := newReq()
		if err != nil {
			return nil, err
		}
		last := attempt+1 >= attempts

		resp, err := r.client.Do(req)
		switch {
		case err != nil:
			if last || ctx.Err() != nil {
				return nil, err
			}
			zap.L().Warn("eager sidecar request failed, retrying",
				zap.String("url", req.URL.String()),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
		case transientStatus(resp.StatusCode) && !last:
			_ = resp.Body.Close()
			zap.L().Warn("eager sidecar unavailable, retrying",
				zap.String("url", req.URL.String()),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt+1),
			)
		default:
			return resp, nil
		}

		if err := sleepBackoff(ctx, r.base, attempt); err != nil {
			return nil, err
		}
	}
}

func sleepBackoff(ctx context.Context, base time.Duration, attempt int) error {
	d := base << attempt
	if d > 0 {
		d += time.Duration(rand.Int64N(int64(d)/2 + 1))
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
