package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"facestream/pkg/validation"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// DefaultJWTSecret is only suitable for local development.
const DefaultJWTSecret = "change-me-in-production"

const (
	FrameSourceSynthetic = "synthetic"
	FrameSourceMJPEG     = "mjpeg"
)

// SeedUser is an account loaded into the in-memory user store.
type SeedUser struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
	Role         string `yaml:"role"`
	Status       string `yaml:"status"`
}

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		// WriteTimeout of zero leaves streams unbounded.
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		InstanceID      string        `yaml:"instance_id"`
	} `yaml:"server"`

	WebSocket struct {
		Enabled        bool          `yaml:"enabled"`
		PingInterval   time.Duration `yaml:"ping_interval"`
		PongTimeout    time.Duration `yaml:"pong_timeout"`
		WriteTimeout   time.Duration `yaml:"write_timeout"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
	} `yaml:"websocket"`

	Stream struct {
		// WriteTimeout bounds each multipart frame write; zero disables it.
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"stream"`

	Pipeline struct {
		IdleEviction     bool          `yaml:"idle_eviction"`
		IdleGracePeriod  time.Duration `yaml:"idle_grace_period"`
		SubscriberBuffer int           `yaml:"subscriber_buffer"`
		OpenTimeout      time.Duration `yaml:"open_timeout"`
	} `yaml:"pipeline"`

	FrameSource struct {
		Kind        string         `yaml:"kind"`
		FPS         float64        `yaml:"fps"`
		Width       int            `yaml:"width"`
		Height      int            `yaml:"height"`
		JPEGQuality int            `yaml:"jpeg_quality"`
		MaxFrames   int            `yaml:"max_frames"`
		Cameras     map[int]string `yaml:"cameras"`

		Retry struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			InitialDelay time.Duration `yaml:"initial_delay"`
			MaxDelay     time.Duration `yaml:"max_delay"`
		} `yaml:"retry"`

		CircuitBreaker struct {
			MaxFailures  int           `yaml:"max_failures"`
			ResetTimeout time.Duration `yaml:"reset_timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"framesource"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
		// UserCacheTTL keeps looked-up accounts in memory; zero disables it.
		UserCacheTTL time.Duration `yaml:"user_cache_ttl"`
	} `yaml:"redis"`

	Events struct {
		Enabled bool   `yaml:"enabled"`
		Channel string `yaml:"channel"`
	} `yaml:"events"`

	Auth struct {
		JWTSecret      string        `yaml:"jwt_secret"`
		AccessTokenTTL time.Duration `yaml:"access_token_ttl"`
		Users          []SeedUser    `yaml:"users"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent non-stream requests
		} `yaml:"http"`

		Login struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
		} `yaml:"login"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server.write_timeout must be >= 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// WebSocket
	if c.WebSocket.Enabled {
		if c.WebSocket.PingInterval <= 0 {
			return fmt.Errorf("websocket.ping_interval must be > 0")
		}
		if c.WebSocket.PongTimeout <= c.WebSocket.PingInterval {
			return fmt.Errorf("websocket.pong_timeout must be > websocket.ping_interval")
		}
		if c.WebSocket.WriteTimeout <= 0 {
			return fmt.Errorf("websocket.write_timeout must be > 0")
		}
	}

	if c.Stream.WriteTimeout < 0 {
		return fmt.Errorf("stream.write_timeout must be >= 0")
	}

	// Pipeline
	if c.Pipeline.SubscriberBuffer <= 0 {
		return fmt.Errorf("pipeline.subscriber_buffer must be > 0")
	}
	if c.Pipeline.IdleEviction && c.Pipeline.IdleGracePeriod < 0 {
		return fmt.Errorf("pipeline.idle_grace_period must be >= 0")
	}
	if c.Pipeline.OpenTimeout < 0 {
		return fmt.Errorf("pipeline.open_timeout must be >= 0")
	}

	// Frame source
	switch c.FrameSource.Kind {
	case FrameSourceSynthetic:
		if c.FrameSource.FPS <= 0 {
			return fmt.Errorf("framesource.fps must be > 0")
		}
		if c.FrameSource.Width <= 0 || c.FrameSource.Height <= 0 {
			return fmt.Errorf("framesource.width and framesource.height must be > 0")
		}
		if c.FrameSource.JPEGQuality < 1 || c.FrameSource.JPEGQuality > 100 {
			return fmt.Errorf("framesource.jpeg_quality must be within 1..100")
		}
		if c.FrameSource.MaxFrames < 0 {
			return fmt.Errorf("framesource.max_frames must be >= 0")
		}
	case FrameSourceMJPEG:
		if len(c.FrameSource.Cameras) == 0 {
			return fmt.Errorf("framesource.cameras must not be empty when framesource.kind=mjpeg")
		}
		for id, url := range c.FrameSource.Cameras {
			if id < 0 {
				return fmt.Errorf("framesource.cameras: camera id %d must be >= 0", id)
			}
			if err := validation.ValidateCameraURL(url); err != nil {
				return fmt.Errorf("framesource.cameras: camera %d: %w", id, err)
			}
		}
		if c.FrameSource.Retry.MaxAttempts <= 0 {
			return fmt.Errorf("framesource.retry.max_attempts must be > 0")
		}
		if c.FrameSource.CircuitBreaker.MaxFailures <= 0 {
			return fmt.Errorf("framesource.circuit_breaker.max_failures must be > 0")
		}
	default:
		return fmt.Errorf("framesource.kind must be %q or %q, got %q", FrameSourceSynthetic, FrameSourceMJPEG, c.FrameSource.Kind)
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within 0..1")
		}
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
		if c.Redis.UserCacheTTL < 0 {
			return fmt.Errorf("redis.user_cache_ttl must be >= 0")
		}
	}
	if c.Events.Enabled && !c.Redis.Enabled {
		return fmt.Errorf("events.enabled requires redis.enabled=true")
	}

	// Auth
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty")
	}
	if c.Auth.AccessTokenTTL <= 0 {
		return fmt.Errorf("auth.access_token_ttl must be > 0")
	}
	for i, u := range c.Auth.Users {
		if u.Username == "" || u.PasswordHash == "" {
			return fmt.Errorf("auth.users[%d]: username and password_hash are required", i)
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Login.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.login.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Login.Burst <= 0 {
			return fmt.Errorf("rate_limiting.login.burst must be > 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
// A .env file next to the working directory is loaded first; variables
// already set in the environment win.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// no file: defaults plus environment
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8000"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 0
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.WebSocket.Enabled = true
	cfg.WebSocket.PingInterval = 30 * time.Second
	cfg.WebSocket.PongTimeout = 60 * time.Second
	cfg.WebSocket.WriteTimeout = 10 * time.Second

	cfg.Stream.WriteTimeout = 10 * time.Second

	cfg.Pipeline.IdleEviction = true
	cfg.Pipeline.IdleGracePeriod = 30 * time.Second
	cfg.Pipeline.SubscriberBuffer = 4
	cfg.Pipeline.OpenTimeout = 10 * time.Second

	cfg.FrameSource.Kind = FrameSourceSynthetic
	cfg.FrameSource.FPS = 15
	cfg.FrameSource.Width = 640
	cfg.FrameSource.Height = 480
	cfg.FrameSource.JPEGQuality = 75
	cfg.FrameSource.Retry.MaxAttempts = 3
	cfg.FrameSource.Retry.InitialDelay = 200 * time.Millisecond
	cfg.FrameSource.Retry.MaxDelay = 2 * time.Second
	cfg.FrameSource.CircuitBreaker.MaxFailures = 5
	cfg.FrameSource.CircuitBreaker.ResetTimeout = 30 * time.Second

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "facestream"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10
	cfg.Redis.UserCacheTTL = 5 * time.Second

	cfg.Events.Enabled = false
	cfg.Events.Channel = "facestream:events"

	cfg.Auth.JWTSecret = DefaultJWTSecret
	cfg.Auth.AccessTokenTTL = 60 * time.Minute

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	cfg.RateLimiting.Login.RequestsPerSecond = 1
	cfg.RateLimiting.Login.Burst = 5

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("FACESTREAM_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if id := os.Getenv("FACESTREAM_INSTANCE_ID"); id != "" {
		c.Server.InstanceID = id
	}
	if level := os.Getenv("FACESTREAM_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	// SECRET_KEY is the historical name; the prefixed variable wins.
	if secret := os.Getenv("SECRET_KEY"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if secret := os.Getenv("FACESTREAM_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if kind := os.Getenv("FACESTREAM_FRAMESOURCE_KIND"); kind != "" {
		c.FrameSource.Kind = kind
	}
	if addr := os.Getenv("FACESTREAM_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
		c.Redis.Enabled = true
	}
	if pw := os.Getenv("FACESTREAM_REDIS_PASSWORD"); pw != "" {
		c.Redis.Password = pw
	}
	if v := os.Getenv("FACESTREAM_IDLE_EVICTION"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Pipeline.IdleEviction = enabled
		}
	}
}
