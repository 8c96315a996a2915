package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/sruthiidv/BallotGuard-sub000/service"
	"github.com/sruthiidv/BallotGuard-sub000/storage"
)

type ctxKey string

const configContextKey ctxKey = "ballotguard.config"

// EnvPrefix is the prefix of every environment override
const EnvPrefix = "ballotguard"

// MinKeyBits is the smallest RSA or Paillier modulus accepted in production
const MinKeyBits = 3072

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	BindAddr string         `yaml:"bindAddr"        split_words:"true"`
	KeyDir   string         `yaml:"keyDir"          split_words:"true"`
	// BiometricSecret is read from the environment only
	BiometricSecret string        `yaml:"-"               split_words:"true"`
	Port            uint          `yaml:"port"`
	MetricsPort     uint          `yaml:"metricsPort"     split_words:"true"`
	RSAKeyBits      int           `yaml:"rsaKeyBits"      envconfig:"BALLOTGUARD_RSA_KEY_BITS"`
	PaillierKeyBits int           `yaml:"paillierKeyBits" split_words:"true"`
	FaceThreshold   float64       `yaml:"faceThreshold"   split_words:"true"`
	FailureWindow   time.Duration `yaml:"failureWindow"   split_words:"true"`
	MaxFailures     int           `yaml:"maxFailures"     split_words:"true"`
	LockoutDuration time.Duration `yaml:"lockoutDuration" split_words:"true"`
	OVTTTL          time.Duration `yaml:"ovtTTL"          envconfig:"BALLOTGUARD_OVT_TTL"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"  split_words:"true"`
	AuthFreshness   time.Duration `yaml:"authFreshness"   split_words:"true"`
	RequireFaceAuth bool          `yaml:"requireFaceAuth" split_words:"true"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" split_words:"true"`
}

// Default returns a configuration with every field at its default
func Default() *Config {
	svc := service.DefaultConfig()
	return &Config{
		Database: DatabaseConfig{
			Driver: storage.DriverSqlite,
			Path:   ".ballotguard/data",
		},
		KeyDir:          ".ballotguard/keys",
		Port:            8080,
		MetricsPort:     9102,
		RSAKeyBits:      MinKeyBits,
		PaillierKeyBits: MinKeyBits,
		FaceThreshold:   svc.FaceThreshold,
		FailureWindow:   svc.FailureWindow,
		MaxFailures:     svc.MaxFailures,
		LockoutDuration: svc.LockoutDuration,
		OVTTTL:          svc.OVTTTL,
		RequestTimeout:  svc.RequestTimeout,
		AuthFreshness:   svc.AuthFreshness,
		RequireFaceAuth: svc.RequireFaceAuth,
		ShutdownTimeout: 30 * time.Second,
	}
}

// LoadConfig applies the YAML file at configFile, if any, and then
// environment overrides on top of the defaults
func LoadConfig(configFile string) (*Config, error) {
	cfg := Default()
	if configFile == "" {
		if homeDir, err := os.UserHomeDir(); err == nil {
			userPath := filepath.Join(homeDir, ".ballotguard", "ballotguard.yaml")
			if _, err := os.Stat(userPath); err == nil {
				configFile = userPath
			}
		}
	}
	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(buf, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case storage.DriverSqlite:
	case storage.DriverPostgres:
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q", c.Database.Driver))
	}
	if c.RSAKeyBits < MinKeyBits {
		errs = append(errs, fmt.Errorf("rsaKeyBits must be at least %d", MinKeyBits))
	}
	if c.PaillierKeyBits < MinKeyBits {
		errs = append(errs, fmt.Errorf("paillierKeyBits must be at least %d", MinKeyBits))
	}
	if c.BiometricSecret == "" {
		errs = append(errs, errors.New("BALLOTGUARD_BIOMETRIC_SECRET must be set"))
	}
	if c.FaceThreshold <= 0 {
		errs = append(errs, errors.New("faceThreshold must be positive"))
	}
	if c.MaxFailures <= 0 {
		errs = append(errs, errors.New("maxFailures must be positive"))
	}
	for name, d := range map[string]time.Duration{
		"failureWindow":   c.FailureWindow,
		"lockoutDuration": c.LockoutDuration,
		"ovtTTL":          c.OVTTTL,
		"requestTimeout":  c.RequestTimeout,
		"authFreshness":   c.AuthFreshness,
		"shutdownTimeout": c.ShutdownTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.BindAddr, c.Port)
}

func (c *Config) Storage() storage.Config {
	return storage.Config{
		Driver: c.Database.Driver,
		Path:   c.Database.Path,
		DSN:    c.Database.DSN,
	}
}

func (c *Config) Service() service.Config {
	return service.Config{
		FaceThreshold:   c.FaceThreshold,
		FailureWindow:   c.FailureWindow,
		MaxFailures:     c.MaxFailures,
		LockoutDuration: c.LockoutDuration,
		OVTTTL:          c.OVTTTL,
		RequestTimeout:  c.RequestTimeout,
		AuthFreshness:   c.AuthFreshness,
		RequireFaceAuth: c.RequireFaceAuth,
	}
}
