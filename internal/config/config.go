package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Models    ModelsConfig    `yaml:"models" mapstructure:"models"`
	Eager     EagerConfig     `yaml:"eager" mapstructure:"eager"`
	Inference InferenceConfig `yaml:"inference" mapstructure:"inference"`
	Crop      CropConfig      `yaml:"crop" mapstructure:"crop"`
	Weather   WeatherConfig   `yaml:"weather" mapstructure:"weather"`
	Intent    IntentConfig    `yaml:"intent" mapstructure:"intent"`
	Gemini    GeminiConfig    `yaml:"gemini" mapstructure:"gemini"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Redis     RedisConfig     `yaml:"redis" mapstructure:"redis"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	MaxUploadMB int      `yaml:"max_upload_mb" mapstructure:"max_upload_mb"`
}

// ModelsConfig locates image model artifacts and configures the graph runtime.
type ModelsConfig struct {
	Dir            string   `yaml:"dir" mapstructure:"dir"`
	ONNXLibrary    string   `yaml:"onnx_library" mapstructure:"onnx_library"`
	Device         string   `yaml:"device" mapstructure:"device"`
	IntraOpThreads int      `yaml:"intra_op_threads" mapstructure:"intra_op_threads"`
	Preload        []string `yaml:"preload" mapstructure:"preload"`
}

// EagerConfig points at the eager-execution sidecar.
type EagerConfig struct {
	Enabled       bool   `yaml:"enabled" mapstructure:"enabled"`
	URL           string `yaml:"url" mapstructure:"url"`
	TimeoutSecs   int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RetryAttempts int    `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	SharedModels  bool   `yaml:"shared_models" mapstructure:"shared_models"`
}

// InferenceConfig tunes the image pipeline.
type InferenceConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
	BatchConcurrency    int     `yaml:"batch_concurrency" mapstructure:"batch_concurrency"`
}

// CropConfig locates the crop recommendation model.
type CropConfig struct {
	ModelPath string `yaml:"model_path" mapstructure:"model_path"`
}

// WeatherConfig configures the current-conditions providers.
type WeatherConfig struct {
	OpenWeatherKey   string  `yaml:"openweather_key" mapstructure:"openweather_key"`
	OpenMeteoEnabled bool    `yaml:"openmeteo_enabled" mapstructure:"openmeteo_enabled"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit        float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// IntentConfig selects the router's LLM.
type IntentConfig struct {
	Provider    string `yaml:"provider" mapstructure:"provider"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// GeminiConfig holds Gemini API settings.
type GeminiConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	Model   string `yaml:"model" mapstructure:"model"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	Model   string `yaml:"model" mapstructure:"model"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// RedisConfig configures the optional weather cache. An empty address
// disables it.
type RedisConfig struct {
	Addr           string `yaml:"addr" mapstructure:"addr"`
	Password       string `yaml:"password" mapstructure:"password"`
	DB             int    `yaml:"db" mapstructure:"db"`
	WeatherTTLSecs int    `yaml:"weather_ttl_secs" mapstructure:"weather_ttl_secs"`
}

// StoreConfig configures the prediction audit log. An empty DSN disables it.
type StoreConfig struct {
	DatabaseURL   string `yaml:"database_url" mapstructure:"database_url"`
	RetentionDays int    `yaml:"retention_days" mapstructure:"retention_days"`
	PruneSchedule string `yaml:"prune_schedule" mapstructure:"prune_schedule"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Seconds converts a *_secs setting to a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Load reads configuration from .env, config.yaml and the environment.
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CROPAI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Provider keys are also read under their conventional names.
	for key, env := range map[string]string{
		"weather.openweather_key": "OPENWEATHER_API_KEY",
		"gemini.key":              "GEMINI_API_KEY",
		"anthropic.key":           "ANTHROPIC_API_KEY",
	} {
		if err := v.BindEnv(key, "CROPAI_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", env)
		}
	}

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.max_upload_mb", 10)
	v.SetDefault("models.dir", "models")
	v.SetDefault("models.onnx_library", "")
	v.SetDefault("models.device", "cpu")
	v.SetDefault("models.intra_op_threads", 0)
	v.SetDefault("models.preload", []string{})
	v.SetDefault("eager.enabled", true)
	v.SetDefault("eager.url", "http://localhost:5001")
	v.SetDefault("eager.timeout_secs", 30)
	v.SetDefault("eager.retry_attempts", 3)
	v.SetDefault("eager.shared_models", false)
	v.SetDefault("inference.confidence_threshold", 0.5)
	v.SetDefault("inference.batch_concurrency", 4)
	v.SetDefault("crop.model_path", "models/crop/xgboost.model")
	v.SetDefault("weather.openmeteo_enabled", true)
	v.SetDefault("weather.timeout_secs", 5)
	v.SetDefault("weather.rate_limit", 10.0)
	v.SetDefault("intent.provider", "gemini")
	v.SetDefault("intent.timeout_secs", 10)
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("gemini.base_url", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.base_url", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.weather_ttl_secs", 600)
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.retention_days", 30)
	v.SetDefault("store.prune_schedule", "0 3 * * *")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return eris.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	if c.Inference.ConfidenceThreshold < 0 || c.Inference.ConfidenceThreshold > 1 {
		return eris.Errorf("config: inference.confidence_threshold %v not in [0, 1]", c.Inference.ConfidenceThreshold)
	}
	switch c.Models.Device {
	case "cpu", "cuda":
	default:
		return eris.Errorf("config: models.device %q must be cpu or cuda", c.Models.Device)
	}
	switch c.Intent.Provider {
	case "gemini", "anthropic", "none":
	default:
		return eris.Errorf("config: intent.provider %q must be gemini, anthropic or none", c.Intent.Provider)
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
