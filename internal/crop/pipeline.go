// Package crop recommends a crop from soil chemistry and location. Current
// temperature and humidity come from a weather provider and are fed with the
// soil readings into a gradient-boosted classifier.
package crop

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Brownie44l1/cropai-api/internal/model"
	"github.com/Brownie44l1/cropai-api/internal/weather"
)

// Request carries the caller-supplied readings. Temperature and humidity are
// not part of it; they come from the weather lookup.
type Request struct {
	Nitrogen    float64 `json:"nitrogen"`
	Phosphorous float64 `json:"phosphorous"`
	Potassium   float64 `json:"potassium"`
	PH          float64 `json:"ph"`
	Rainfall    float64 `json:"rainfall"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
}

// Validate rejects readings no soil sample can produce.
func (r Request) Validate() error {
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"nitrogen", r.Nitrogen},
		{"phosphorous", r.Phosphorous},
		{"potassium", r.Potassium},
		{"rainfall", r.Rainfall},
	} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) || f.v < 0 {
			return model.Wrap(model.ErrInvalidInput, nil, "%s must be a non-negative number, got %v", f.name, f.v)
		}
	}
	if math.IsNaN(r.PH) || r.PH < 0 || r.PH > 14 {
		return model.Wrap(model.ErrInvalidInput, nil, "ph must be within [0, 14], got %v", r.PH)
	}
	if math.IsNaN(r.Lat) || r.Lat < -90 || r.Lat > 90 {
		return model.Wrap(model.ErrInvalidInput, nil, "lat must be within [-90, 90], got %v", r.Lat)
	}
	if math.IsNaN(r.Lon) || r.Lon < -180 || r.Lon > 180 {
		return model.Wrap(model.ErrInvalidInput, nil, "lon must be within [-180, 180], got %v", r.Lon)
	}
	return nil
}

// Pipeline chains the weather lookup into the tabular model.
type Pipeline struct {
	weather        weather.Provider
	load           func() (Model, error)
	weatherTimeout time.Duration

	once    sync.Once
	model   Model
	loadErr error
}

// NewPipeline builds a pipeline whose model is loaded by load on first use.
// A failed load is remembered and reported on every later call.
func NewPipeline(provider weather.Provider, load func() (Model, error), weatherTimeout time.Duration) *Pipeline {
	if weatherTimeout <= 0 {
		weatherTimeout = 5 * time.Second
	}
	return &Pipeline{
		weather:        provider,
		load:           load,
		weatherTimeout: weatherTimeout,
	}
}

// FromFile returns a loader for an XGBoost model file.
func FromFile(path string) func() (Model, error) {
	return func() (Model, error) {
		m, err := LoadXGBoost(path)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
}

func (p *Pipeline) classifier() (Model, error) {
	p.once.Do(func() {
		m, err := p.load()
		if err != nil {
			zap.L().Error("crop model load failed", zap.Error(err))
			p.loadErr = model.Wrap(model.ErrModelUnavailable, err, "crop recommendation model")
			return
		}
		p.model = m
	})
	return p.model, p.loadErr
}

// Recommend returns the crop the model ranks highest for req. Errors wrap
// ErrInvalidInput, ErrModelUnavailable, ErrWeatherUnavailable or
// ErrPrediction; weather failures never reach the model.
func (p *Pipeline) Recommend(ctx context.Context, req Request) (*model.CropPrediction, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	clf, err := p.classifier()
	if err != nil {
		return nil, err
	}

	obs, err := p.observe(ctx, req.Lat, req.Lon)
	if err != nil {
		return nil, err
	}

	features := model.CropFeatures{
		Nitrogen:    req.Nitrogen,
		Phosphorous: req.Phosphorous,
		Potassium:   req.Potassium,
		Temperature: obs.TemperatureC,
		Humidity:    obs.HumidityPct,
		PH:          req.PH,
		Rainfall:    req.Rainfall,
	}

	idx, err := clf.PredictClass(features.Vector())
	if err != nil {
		return nil, model.Wrap(model.ErrPrediction, err, "crop model rejected features")
	}

	label, err := model.CropLabel(idx)
	if err != nil {
		return nil, err
	}

	zap.L().Info("crop recommended",
		zap.String("crop", label),
		zap.Int("class", idx),
		zap.String("weather_source", obs.Source),
	)

	return &model.CropPrediction{
		Prediction: label,
		Inputs:     features,
		Location:   model.Location{Lat: req.Lat, Lon: req.Lon},
	}, nil
}

func (p *Pipeline) observe(ctx context.Context, lat, lon float64) (*weather.Observation, error) {
	ctx, cancel := context.WithTimeout(ctx, p.weatherTimeout)
	defer cancel()

	obs, err := p.weather.Current(ctx, lat, lon)
	if err != nil {
		return nil, model.Wrap(model.ErrWeatherUnavailable, err, "lat=%v lon=%v", lat, lon)
	}
	if obs == nil {
		return nil, model.Wrap(model.ErrWeatherUnavailable, weather.ErrNoData, "lat=%v lon=%v", lat, lon)
	}
	return obs, nil
}
