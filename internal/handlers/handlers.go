package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Brownie44l1/cropai-api/internal/crop"
	"github.com/Brownie44l1/cropai-api/internal/inference"
	"github.com/Brownie44l1/cropai-api/internal/intent"
	"github.com/Brownie44l1/cropai-api/internal/model"
	"github.com/Brownie44l1/cropai-api/internal/registry"
)

// ImagePredictor is satisfied by *inference.Pipeline.
type ImagePredictor interface {
	PredictImage(ctx context.Context, data []byte, arch model.Architecture, prefer model.BackendKind, threshold float64) (*model.PredictionResult, error)
	PredictBatch(ctx context.Context, inputs []inference.BatchInput, arch model.Architecture, prefer model.BackendKind, threshold float64) []model.BatchItem
}

// CropRecommender is satisfied by *crop.Pipeline.
type CropRecommender interface {
	Recommend(ctx context.Context, req crop.Request) (*model.CropPrediction, error)
}

// QueryRouter is satisfied by *intent.Router.
type QueryRouter interface {
	Route(ctx context.Context, query string) intent.Decision
}

// Answerer is satisfied by *intent.Advisor.
type Answerer interface {
	Answer(ctx context.Context, query string) (string, error)
}

// ModelLister is satisfied by *registry.Registry.
type ModelLister interface {
	Snapshot() []registry.Status
}

// Auditor is satisfied by *store.SQLiteStore.
type Auditor interface {
	RecordImage(ctx context.Context, res *model.PredictionResult) (string, error)
	RecordCrop(ctx context.Context, pred *model.CropPrediction) (string, error)
}

// Deps wires the handler to its services. Router, Advisor, Audit and Models
// may be nil.
type Deps struct {
	Images      ImagePredictor
	Crops       CropRecommender
	Router      QueryRouter
	Advisor     Answerer
	Models      ModelLister
	Audit       Auditor
	Threshold   float64
	MaxUpload   int64
	DefaultArch model.Architecture
}

type Handler struct {
	deps    Deps
	started time.Time
}

func NewHandler(deps Deps) *Handler {
	if deps.MaxUpload <= 0 {
		deps.MaxUpload = 10 << 20
	}
	if deps.DefaultArch == "" {
		deps.DefaultArch = model.ResNet9
	}
	return &Handler{deps: deps, started: time.Now()}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	})
}

func (h *Handler) Models(w http.ResponseWriter, r *http.Request) {
	var loaded []registry.Status
	if h.deps.Models != nil {
		loaded = h.deps.Models.Snapshot()
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"architectures": model.Architectures,
		"backends":      []model.BackendKind{model.BackendGraph, model.BackendEager},
		"loaded":        loaded,
	})
}

// predictParams reads the architecture path segment and the backend and
// threshold query parameters.
func (h *Handler) predictParams(r *http.Request) (model.Architecture, model.BackendKind, float64, error) {
	arch, err := model.ParseArchitecture(chi.URLParam(r, "arch"))
	if err != nil {
		return "", "", 0, err
	}
	prefer, err := model.ParseBackendKind(r.URL.Query().Get("backend"))
	if err != nil {
		return "", "", 0, err
	}
	threshold := h.deps.Threshold
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		threshold, err = strconv.ParseFloat(raw, 64)
		if err != nil || threshold < 0 || threshold > 1 {
			return "", "", 0, model.Wrap(model.ErrInvalidInput, nil, "threshold %q must be a number in [0, 1]", raw)
		}
	}
	return arch, prefer, threshold, nil
}

func (h *Handler) PredictImage(w http.ResponseWriter, r *http.Request) {
	arch, prefer, threshold, err := h.predictParams(r)
	if err != nil {
		respondErr(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.deps.MaxUpload)
	if err := r.ParseMultipartForm(h.deps.MaxUpload); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "no image file provided, use 'file' as the form field name")
		return
	}
	data, err := readPart(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read uploaded file")
		return
	}

	zap.L().Debug("received image",
		zap.String("filename", header.Filename),
		zap.Int64("size", header.Size),
		zap.String("architecture", string(arch)),
	)

	result, err := h.deps.Images.PredictImage(r.Context(), data, arch, prefer, threshold)
	if err != nil {
		respondErr(w, err)
		return
	}
	h.auditImage(r.Context(), result)

	respondJSON(w, http.StatusOK, result)
}

func (h *Handler) PredictBatch(w http.ResponseWriter, r *http.Request) {
	arch, prefer, threshold, err := h.predictParams(r)
	if err != nil {
		respondErr(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.deps.MaxUpload)
	if err := r.ParseMultipartForm(h.deps.MaxUpload); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		respondError(w, http.StatusBadRequest, "no image files provided, use 'files' as the form field name")
		return
	}

	inputs := make([]inference.BatchInput, 0, len(headers))
	for _, fh := range headers {
		in := inference.BatchInput{Filename: fh.Filename}
		if f, err := fh.Open(); err != nil {
			in.Err = err
		} else {
			in.Data, in.Err = readPart(f)
		}
		inputs = append(inputs, in)
	}

	items := h.deps.Images.PredictBatch(r.Context(), inputs, arch, prefer, threshold)
	for _, item := range items {
		if item.Result != nil {
			h.auditImage(r.Context(), item.Result)
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"architecture": arch,
		"count":        len(items),
		"results":      items,
	})
}

// cropBody mirrors crop.Request with every field required. "pottasium" is
// the spelling older clients send.
type cropBody struct {
	Nitrogen    *float64 `json:"nitrogen"`
	Phosphorous *float64 `json:"phosphorous"`
	Potassium   *float64 `json:"potassium"`
	Pottasium   *float64 `json:"pottasium"`
	PH          *float64 `json:"ph"`
	Rainfall    *float64 `json:"rainfall"`
	Lat         *float64 `json:"lat"`
	Lon         *float64 `json:"lon"`
}

func (b cropBody) request() (crop.Request, error) {
	if b.Potassium == nil {
		b.Potassium = b.Pottasium
	}
	for _, f := range []struct {
		name string
		v    *float64
	}{
		{"nitrogen", b.Nitrogen},
		{"phosphorous", b.Phosphorous},
		{"potassium", b.Potassium},
		{"ph", b.PH},
		{"rainfall", b.Rainfall},
		{"lat", b.Lat},
		{"lon", b.Lon},
	} {
		if f.v == nil {
			return crop.Request{}, model.Wrap(model.ErrInvalidInput, nil, "%s is required", f.name)
		}
	}
	return crop.Request{
		Nitrogen:    *b.Nitrogen,
		Phosphorous: *b.Phosphorous,
		Potassium:   *b.Potassium,
		PH:          *b.PH,
		Rainfall:    *b.Rainfall,
		Lat:         *b.Lat,
		Lon:         *b.Lon,
	}, nil
}

func (h *Handler) RecommendCrop(w http.ResponseWriter, r *http.Request) {
	var body cropBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req, err := body.request()
	if err != nil {
		respondErr(w, err)
		return
	}

	pred, err := h.deps.Crops.Recommend(r.Context(), req)
	if err != nil {
		respondErr(w, err)
		return
	}
	if h.deps.Audit != nil {
		if _, err := h.deps.Audit.RecordCrop(r.Context(), pred); err != nil {
			zap.L().Warn("audit crop prediction", zap.Error(err))
		}
	}

	respondJSON(w, http.StatusOK, pred)
}

type queryBody struct {
	Query string `json:"query"`
}

func (h *Handler) Route(w http.ResponseWriter, r *http.Request) {
	var body queryBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	respondJSON(w, http.StatusOK, h.route(r.Context(), body.Query))
}

func (h *Handler) route(ctx context.Context, query string) intent.Decision {
	if h.deps.Router == nil {
		return intent.Decision{Route: model.RouteAdvisory, State: intent.StateAdvisoryPath}
	}
	return h.deps.Router.Route(ctx, query)
}

type chatResponse struct {
	Route      model.Route             `json:"route"`
	Answer     string                  `json:"answer,omitempty"`
	Prediction *model.PredictionResult `json:"prediction,omitempty"`
}

// Chat routes a query and answers it on the chosen path. It accepts JSON
// {query} or a multipart form with "query" and an optional leaf "file".
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var (
		query string
		image []byte
	)
	if isMultipart(r) {
		r.Body = http.MaxBytesReader(w, r.Body, h.deps.MaxUpload)
		if err := r.ParseMultipartForm(h.deps.MaxUpload); err != nil {
			respondError(w, http.StatusBadRequest, "failed to parse multipart form")
			return
		}
		query = r.FormValue("query")
		if file, _, err := r.FormFile("file"); err == nil {
			if image, err = readPart(file); err != nil {
				respondError(w, http.StatusBadRequest, "failed to read uploaded file")
				return
			}
		}
	} else {
		var body queryBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			respondError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		query = body.Query
	}

	decision := h.route(r.Context(), query)
	resp := chatResponse{Route: decision.Route}

	if decision.Route == model.RouteDisease {
		if len(image) == 0 {
			resp.Answer = "Please upload a clear photo of the affected leaf so the disease model can examine it."
			respondJSON(w, http.StatusOK, resp)
			return
		}
		result, err := h.deps.Images.PredictImage(r.Context(), image, h.deps.DefaultArch, model.BackendGraph, h.deps.Threshold)
		if err != nil {
			respondErr(w, err)
			return
		}
		h.auditImage(r.Context(), result)
		resp.Prediction = result
		respondJSON(w, http.StatusOK, resp)
		return
	}

	if h.deps.Advisor == nil {
		respondError(w, http.StatusServiceUnavailable, "advisory model is not configured")
		return
	}
	answer, err := h.deps.Advisor.Answer(r.Context(), query)
	if err != nil {
		zap.L().Error("advisor failed", zap.Error(err))
		respondError(w, http.StatusBadGateway, "advisory model failed")
		return
	}
	resp.Answer = answer
	respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) auditImage(ctx context.Context, res *model.PredictionResult) {
	if h.deps.Audit == nil {
		return
	}
	if _, err := h.deps.Audit.RecordImage(ctx, res); err != nil {
		zap.L().Warn("audit image prediction", zap.Error(err))
	}
}

func readPart(f multipart.File) ([]byte, error) {
	defer f.Close()
	return io.ReadAll(f)
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
}

// StatusFor maps the error taxonomy onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrUnsupportedArchitecture):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidInput):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrWeatherUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, model.ErrModelUnavailable), errors.Is(err, model.ErrInferenceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondErr(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		zap.L().Error("request failed",
			zap.String("kind", model.Kind(err)),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	respondJSON(w, status, map[string]string{
		"error": err.Error(),
		"kind":  model.Kind(err),
	})
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
