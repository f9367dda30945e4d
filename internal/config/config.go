// Package config loads gateway configuration from an optional YAML file with
// environment-variable overrides. Environment always wins so deployments can
// tune a shared file per instance.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "30s" decode cleanly.
type Duration time.Duration

// UnmarshalYAML accepts Go duration strings or plain integer seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("config: invalid duration %q", s)
		}
		*d = Duration(parsed)
		return nil
	}
	var secs int64
	if err := value.Decode(&secs); err != nil {
		return fmt.Errorf("config: invalid duration value")
	}
	*d = Duration(time.Duration(secs) * time.Second)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds everything the gateway binary needs at startup.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	Instance   string `yaml:"instance"`

	PostgresDSN string `yaml:"postgres_dsn"`
	KeystoreDir string `yaml:"keystore_dir"`

	AuthSecret string `yaml:"auth_secret"`

	Limits     Limits     `yaml:"limits"`
	Circuit    Circuit    `yaml:"circuit"`
	Forwarding Forwarding `yaml:"forwarding"`
}

// Limits configures the token-bucket rate limiter.
type Limits struct {
	OrganizationPerMinute int     `yaml:"organization_per_minute"`
	ServicePerMinute      int     `yaml:"service_per_minute"`
	BurstMultiplier       float64 `yaml:"burst_multiplier"`
}

// Circuit configures the per-service circuit breaker.
type Circuit struct {
	FailureThreshold int      `yaml:"failure_threshold"`
	SuccessThreshold int      `yaml:"success_threshold"`
	ResetTimeout     Duration `yaml:"reset_timeout"`
	HalfOpenMaxCalls int      `yaml:"half_open_max_calls"`
}

// Forwarding configures the outbound HTTP collaborator.
type Forwarding struct {
	DefaultTimeout Duration `yaml:"default_timeout"`
	MaxBodyBytes   int64    `yaml:"max_body_bytes"`
}

// Default returns the configuration used when no file and no env are present.
func Default() Config {
	return Config{
		ListenAddr:  ":8080",
		Instance:    "TG",
		KeystoreDir: "keystore",
		Limits: Limits{
			OrganizationPerMinute: 1000,
			ServicePerMinute:      100,
			BurstMultiplier:       2,
		},
		Circuit: Circuit{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			ResetTimeout:     Duration(30 * time.Second),
			HalfOpenMaxCalls: 3,
		},
		Forwarding: Forwarding{
			DefaultTimeout: Duration(30 * time.Second),
			MaxBodyBytes:   1 << 20,
		},
	}
}

// Load reads the YAML file at path (when non-empty) over the defaults and then
// applies TRUSTGATE_* environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return fmt.Errorf("config: listen_addr is required")
	}
	if c.Limits.OrganizationPerMinute <= 0 || c.Limits.ServicePerMinute <= 0 {
		return fmt.Errorf("config: rate limits must be positive")
	}
	if c.Limits.BurstMultiplier <= 0 {
		return fmt.Errorf("config: burst_multiplier must be positive")
	}
	if c.Circuit.FailureThreshold <= 0 || c.Circuit.SuccessThreshold <= 0 || c.Circuit.HalfOpenMaxCalls <= 0 {
		return fmt.Errorf("config: circuit thresholds must be positive")
	}
	if c.Circuit.ResetTimeout <= 0 {
		return fmt.Errorf("config: reset_timeout must be positive")
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("TRUSTGATE_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("TRUSTGATE_INSTANCE"); v != "" {
		cfg.Instance = v
	}
	if v := os.Getenv("TRUSTGATE_PG_DSN"); v != "" {
		cfg.PostgresDSN = v
	}
	if v := os.Getenv("TRUSTGATE_KEYSTORE_DIR"); v != "" {
		cfg.KeystoreDir = v
	}
	if v := os.Getenv("TRUSTGATE_AUTH_SECRET"); v != "" {
		cfg.AuthSecret = v
	}
	if v := os.Getenv("TRUSTGATE_ORG_RPM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Limits.OrganizationPerMinute = n
		}
	}
	if v := os.Getenv("TRUSTGATE_SERVICE_RPM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Limits.ServicePerMinute = n
		}
	}
	if v := os.Getenv("TRUSTGATE_FORWARD_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Forwarding.DefaultTimeout = Duration(d)
		}
	}
}
