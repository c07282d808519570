package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cropai_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "cropai_request_duration_seconds",
			Help: "HTTP request duration in seconds",
		},
		[]string{"method", "route"},
	)

	ModelLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cropai_model_loads_total",
			Help: "Model load attempts by outcome",
		},
		[]string{"architecture", "backend", "outcome"},
	)

	ModelLoadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "cropai_model_load_duration_seconds",
			Help: "Time spent loading a model handle",
		},
		[]string{"architecture", "backend"},
	)

	InferenceLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "cropai_inference_latency_seconds",
			Help: "Forward pass latency in seconds",
		},
		[]string{"architecture", "backend"},
	)

	BackendFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cropai_backend_fallbacks_total",
			Help: "Number of times a backend failure fell through to the next backend",
		},
		[]string{"architecture", "from", "reason"},
	)

	WeatherCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cropai_weather_calls_total",
			Help: "Weather lookups by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	Routes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cropai_intent_routes_total",
			Help: "Intent routing decisions",
		},
		[]string{"route", "matched"},
	)
)
