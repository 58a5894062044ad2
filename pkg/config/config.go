package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	// Signaling selects the channel transport the call core rides on.
	Signaling struct {
		// Mode: "memory" (single process), "redis" (pub/sub topic per
		// channel) or "gateway" (websocket to the chat transport).
		Mode string `yaml:"mode"`

		Redis struct {
			Address  string `yaml:"address"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			PoolSize int    `yaml:"pool_size"`
		} `yaml:"redis"`

		Gateway struct {
			URL          string        `yaml:"url"`
			PingInterval time.Duration `yaml:"ping_interval"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
		} `yaml:"gateway"`

		Breaker struct {
			Enabled          bool          `yaml:"enabled"`
			FailureThreshold int           `yaml:"failure_threshold"`
			SuccessThreshold int           `yaml:"success_threshold"`
			OpenTimeout      time.Duration `yaml:"open_timeout"`
		} `yaml:"breaker"`
	} `yaml:"signaling"`

	WebRTC struct {
		ICEServers []struct {
			URLs       []string `yaml:"urls"`
			Username   string   `yaml:"username,omitempty"`
			Credential string   `yaml:"credential,omitempty"`
		} `yaml:"ice_servers"`
		PortRange struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
	} `yaml:"webrtc"`

	Call struct {
		NegotiationTimeout time.Duration `yaml:"negotiation_timeout"`
		EndGrace           time.Duration `yaml:"end_grace"`
		PublishTimeout     time.Duration `yaml:"publish_timeout"`

		ICERestart struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			InitialDelay time.Duration `yaml:"initial_delay"`
			MaxDelay     time.Duration `yaml:"max_delay"`
			Multiplier   float64       `yaml:"multiplier"`
		} `yaml:"ice_restart"`

		QualityInterval time.Duration `yaml:"quality_interval"`
	} `yaml:"call"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled    bool    `yaml:"enabled"`
		JaegerURL  string  `yaml:"jaeger_url"`
		SampleRate float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled           bool    `yaml:"enabled"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	switch c.Signaling.Mode {
	case "memory":
	case "redis":
		if c.Signaling.Redis.Address == "" {
			return fmt.Errorf("signaling.redis.address must not be empty in redis mode")
		}
		if c.Signaling.Redis.PoolSize <= 0 {
			return fmt.Errorf("signaling.redis.pool_size must be > 0 in redis mode")
		}
	case "gateway":
		if c.Signaling.Gateway.URL == "" {
			return fmt.Errorf("signaling.gateway.url must not be empty in gateway mode")
		}
	default:
		return fmt.Errorf("signaling.mode must be one of memory, redis, gateway")
	}

	if c.WebRTC.PortRange.Min > 0 || c.WebRTC.PortRange.Max > 0 {
		if c.WebRTC.PortRange.Min == 0 || c.WebRTC.PortRange.Max == 0 {
			return fmt.Errorf("webrtc.port_range.min and max must both be set when one is set")
		}
		if c.WebRTC.PortRange.Min >= c.WebRTC.PortRange.Max {
			return fmt.Errorf("webrtc.port_range.min must be < max")
		}
	}

	if c.Call.NegotiationTimeout <= 0 {
		return fmt.Errorf("call.negotiation_timeout must be > 0")
	}
	if c.Call.EndGrace <= 0 {
		return fmt.Errorf("call.end_grace must be > 0")
	}
	if c.Call.PublishTimeout <= 0 {
		return fmt.Errorf("call.publish_timeout must be > 0")
	}
	if c.Call.ICERestart.MaxAttempts < 0 {
		return fmt.Errorf("call.ice_restart.max_attempts must be >= 0")
	}
	if c.Call.ICERestart.Multiplier < 1 {
		return fmt.Errorf("call.ice_restart.multiplier must be >= 1")
	}
	if c.Call.QualityInterval <= 0 {
		return fmt.Errorf("call.quality_interval must be > 0")
	}

	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort <= 0 {
		return fmt.Errorf("monitoring.prometheus_port must be > 0 when prometheus_enabled=true")
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty")
	}

	if c.RateLimiting.Enabled {
		if c.RateLimiting.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Burst <= 0 {
			return fmt.Errorf("rate_limiting.burst must be > 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
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

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Signaling.Mode = "memory"
	cfg.Signaling.Redis.Address = "localhost:6379"
	cfg.Signaling.Redis.DB = 0
	cfg.Signaling.Redis.PoolSize = 10
	cfg.Signaling.Gateway.PingInterval = 30 * time.Second
	cfg.Signaling.Gateway.WriteTimeout = 10 * time.Second
	cfg.Signaling.Breaker.Enabled = true
	cfg.Signaling.Breaker.FailureThreshold = 5
	cfg.Signaling.Breaker.SuccessThreshold = 2
	cfg.Signaling.Breaker.OpenTimeout = 30 * time.Second

	cfg.Call.NegotiationTimeout = 30 * time.Second
	cfg.Call.EndGrace = 5 * time.Second
	cfg.Call.PublishTimeout = 5 * time.Second
	cfg.Call.ICERestart.MaxAttempts = 4
	cfg.Call.ICERestart.InitialDelay = 500 * time.Millisecond
	cfg.Call.ICERestart.MaxDelay = 8 * time.Second
	cfg.Call.ICERestart.Multiplier = 2.0
	cfg.Call.QualityInterval = 3 * time.Second

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.PrometheusPort = 9090

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Auth.JWTSecret = "change-me-in-production"

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.RequestsPerSecond = 50
	cfg.RateLimiting.Burst = 100

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("CALLMESH_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if mode := os.Getenv("CALLMESH_SIGNALING_MODE"); mode != "" {
		c.Signaling.Mode = mode
	}
	if addr := os.Getenv("CALLMESH_REDIS_ADDRESS"); addr != "" {
		c.Signaling.Redis.Address = addr
	}
	if url := os.Getenv("CALLMESH_GATEWAY_URL"); url != "" {
		c.Signaling.Gateway.URL = url
	}
	if level := os.Getenv("CALLMESH_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("CALLMESH_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
}
