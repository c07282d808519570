package main

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/Brownie44l1/cropai-api/internal/backend"
	"github.com/Brownie44l1/cropai-api/internal/config"
	"github.com/Brownie44l1/cropai-api/internal/crop"
	"github.com/Brownie44l1/cropai-api/internal/inference"
	"github.com/Brownie44l1/cropai-api/internal/intent"
	"github.com/Brownie44l1/cropai-api/internal/model"
	"github.com/Brownie44l1/cropai-api/internal/registry"
	"github.com/Brownie44l1/cropai-api/internal/store"
	"github.com/Brownie44l1/cropai-api/internal/weather"
)

// env holds the services every command shares.
type env struct {
	Registry *registry.Registry
	Images   *inference.Pipeline
	Crops    *crop.Pipeline
	Router   *intent.Router
	Advisor  *intent.Advisor
	Store    *store.SQLiteStore
	Cache    *weather.RedisCache
}

func initEnv(ctx context.Context) (*env, error) {
	artifacts := backend.Artifacts{Dir: cfg.Models.Dir}

	loaders := []backend.Loader{
		backend.NewONNXLoader(artifacts, backend.ONNXConfig{
			LibraryPath:    cfg.Models.ONNXLibrary,
			Device:         model.Device(cfg.Models.Device),
			IntraOpThreads: cfg.Models.IntraOpThreads,
		}),
	}
	if cfg.Eager.Enabled {
		opts := []backend.EagerOption{backend.WithRetry(cfg.Eager.RetryAttempts, 200*time.Millisecond)}
		if cfg.Eager.SharedModels {
			opts = append(opts, backend.WithLocalWeights())
		}
		loaders = append(loaders, backend.NewEagerLoader(cfg.Eager.URL, artifacts, config.Seconds(cfg.Eager.TimeoutSecs), opts...))
	}

	e := &env{Registry: registry.New(loaders...)}
	e.Images = inference.NewPipeline(e.Registry, inference.WithBatchConcurrency(cfg.Inference.BatchConcurrency))

	for _, name := range cfg.Models.Preload {
		arch, err := model.ParseArchitecture(name)
		if err != nil {
			e.Close()
			return nil, eris.Wrap(err, "models.preload")
		}
		if _, err := e.Registry.Get(ctx, arch, model.BackendGraph); err != nil {
			zap.L().Warn("preload failed", zap.String("architecture", string(arch)), zap.Error(err))
		}
	}

	weatherTimeout := config.Seconds(cfg.Weather.TimeoutSecs)
	chain := weather.NewChain()
	if cfg.Weather.OpenWeatherKey != "" {
		chain = chain.WithTimeout("openweather", weather.NewOpenWeather(cfg.Weather.OpenWeatherKey, weatherTimeout,
			weather.WithRateLimit(cfg.Weather.RateLimit)), weatherTimeout)
	}
	if cfg.Weather.OpenMeteoEnabled {
		chain = chain.WithTimeout("open-meteo", weather.NewOpenMeteo(weatherTimeout,
			weather.WithRateLimit(cfg.Weather.RateLimit)), weatherTimeout)
	}
	var provider weather.Provider = chain
	if cfg.Redis.Addr != "" {
		cache, err := weather.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			zap.L().Warn("weather cache disabled", zap.Error(err))
		} else {
			e.Cache = cache
			provider = weather.NewCached(chain, cache, config.Seconds(cfg.Redis.WeatherTTLSecs))
		}
	}
	e.Crops = crop.NewPipeline(provider, crop.FromFile(cfg.Crop.ModelPath), max(chain.Timeout(), weatherTimeout))

	llm, err := newCompleter(ctx, cfg)
	if err != nil {
		zap.L().Warn("no intent model, every query takes the advisory path", zap.Error(err))
		e.Router = intent.NewRouter(nil, config.Seconds(cfg.Intent.TimeoutSecs))
	} else {
		e.Router = intent.NewRouter(intent.NewLLMClassifier(llm), config.Seconds(cfg.Intent.TimeoutSecs))
		e.Advisor = intent.NewAdvisor(llm)
	}

	if cfg.Store.DatabaseURL != "" {
		st, err := store.NewSQLite(cfg.Store.DatabaseURL)
		if err != nil {
			e.Close()
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			st.Close()
			e.Close()
			return nil, err
		}
		e.Store = st
	}

	return e, nil
}

func newCompleter(ctx context.Context, c *config.Config) (intent.Completer, error) {
	switch c.Intent.Provider {
	case "gemini":
		return intent.NewGemini(ctx, c.Gemini.Key, c.Gemini.Model, c.Gemini.BaseURL)
	case "anthropic":
		return intent.NewAnthropic(c.Anthropic.Key, c.Anthropic.Model, c.Anthropic.BaseURL)
	default:
		return nil, eris.Errorf("intent provider %q disabled", c.Intent.Provider)
	}
}

func (e *env) Close() error {
	var errs []error
	if e.Registry != nil {
		errs = append(errs, e.Registry.Close())
	}
	if e.Store != nil {
		errs = append(errs, e.Store.Close())
	}
	if e.Cache != nil {
		errs = append(errs, e.Cache.Close())
	}
	return errors.Join(errs...)
}
