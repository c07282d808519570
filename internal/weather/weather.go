// Package weather fetches the current temperature and humidity at a point.
package weather

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/Brownie44l1/cropai-api/internal/metrics"
)

// ErrNoData is returned when a provider answers but has no observation for
// the coordinates.
var ErrNoData = eris.New("weather: no data for coordinates")

// Observation is a point-in-time reading.
type Observation struct {
	TemperatureC float64 `json:"temperature"`
	HumidityPct  float64 `json:"humidity"`
	Source       string  `json:"source"`
}

// Provider returns the current observation at (lat, lon).
type Provider interface {
	Current(ctx context.Context, lat, lon float64) (*Observation, error)
}

// Chain tries each provider in order and returns the first observation.
type Chain []namedProvider

type namedProvider struct {
	name    string
	p       Provider
	timeout time.Duration
}

// NewChain builds a Chain. Names are used for logs and metrics only.
func NewChain() Chain { return nil }

// With appends a provider to the chain.
func (c Chain) With(name string, p Provider) Chain {
	return append(c, namedProvider{name: name, p: p})
}

// WithTimeout appends a provider that gets at most timeout of the caller's
// deadline, so a hung provider leaves time for the next one.
func (c Chain) WithTimeout(name string, p Provider, timeout time.Duration) Chain {
	return append(c, namedProvider{name: name, p: p, timeout: timeout})
}

// Timeout is the sum of the per-provider timeouts: the deadline a caller
// needs for every provider to get its turn.
func (c Chain) Timeout() time.Duration {
	var total time.Duration
	for _, np := range c {
		total += np.timeout
	}
	return total
}

func (np namedProvider) current(ctx context.Context, lat, lon float64) (*Observation, error) {
	if np.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, np.timeout)
		defer cancel()
	}
	return np.p.Current(ctx, lat, lon)
}

func (c Chain) Current(ctx context.Context, lat, lon float64) (*Observation, error) {
	if len(c) == 0 {
		return nil, eris.New("weather: no providers configured")
	}

	var errs []error
	for _, np := range c {
		obs, err := np.current(ctx, lat, lon)
		if err == nil && obs == nil {
			err = ErrNoData
		}
		if err == nil {
			metrics.WeatherCalls.WithLabelValues(np.name, "ok").Inc()
			return obs, nil
		}

		metrics.WeatherCalls.WithLabelValues(np.name, "failed").Inc()
		zap.L().Warn("weather provider failed",
			zap.String("provider", np.name),
			zap.Float64("lat", lat),
			zap.Float64("lon", lon),
			zap.Error(err),
		)
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.Join(errs...)
}
