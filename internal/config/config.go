// Package config loads service and CLI settings from defaults, an optional
// YAML file and environment variables, in that order of precedence.
package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/copyleftdev/surrogate/internal/logging"
	"github.com/copyleftdev/surrogate/internal/optimization"
	"github.com/copyleftdev/surrogate/internal/optimization/acquisition"
	"github.com/copyleftdev/surrogate/internal/optimization/bayesian"
	"github.com/copyleftdev/surrogate/internal/optimization/kernels"
)

// HTTP configures the API server.
type HTTP struct {
	Port            int           `yaml:"port" env:"HTTP_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"HTTP_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"HTTP_WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"HTTP_IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT"`
	// RequestTimeout bounds a single fit or prediction request.
	RequestTimeout time.Duration `yaml:"request_timeout" env:"HTTP_REQUEST_TIMEOUT"`
}

// Database selects the model store.
type Database struct {
	// Type is memory or sqlite.
	Type string `yaml:"type" env:"DB_TYPE"`
	DSN  string `yaml:"dsn" env:"DB_DSN"`
	// MaxConns bounds open sqlite connections.
	MaxConns int `yaml:"max_conns" env:"DB_MAX_CONNS"`
}

// Model holds the defaults of newly fitted models.
type Model struct {
	Kernel            string  `yaml:"kernel" env:"MODEL_KERNEL"`
	LengthScale       float64 `yaml:"length_scale" env:"MODEL_LENGTH_SCALE"`
	SignalVariance    float64 `yaml:"signal_variance" env:"MODEL_SIGNAL_VARIANCE"`
	Noise             float64 `yaml:"noise" env:"MODEL_NOISE"`
	Method            string  `yaml:"method" env:"MODEL_METHOD"`
	MaxIterations     int     `yaml:"max_iterations" env:"MODEL_MAX_ITERATIONS"`
	Restarts          int     `yaml:"restarts" env:"MODEL_RESTARTS"`
	Regularization    float64 `yaml:"regularization" env:"MODEL_REGULARIZATION"`
	Seed              int64   `yaml:"seed" env:"MODEL_SEED"`
	MaxJitterAttempts int     `yaml:"max_jitter_attempts" env:"MODEL_MAX_JITTER_ATTEMPTS"`
	NormalizeTargets  bool    `yaml:"normalize_targets" env:"MODEL_NORMALIZE_TARGETS"`
}

// Acquisition holds the default ranking settings.
type Acquisition struct {
	Strategy  string  `yaml:"strategy" env:"ACQ_STRATEGY"`
	Direction string  `yaml:"direction" env:"ACQ_DIRECTION"`
	Kappa     float64 `yaml:"kappa" env:"ACQ_KAPPA"`
	Xi        float64 `yaml:"xi" env:"ACQ_XI"`
	Seed      int64   `yaml:"seed" env:"ACQ_SEED"`
}

// Config is the complete configuration.
type Config struct {
	Environment string         `yaml:"environment" env:"ENV"`
	HTTP        HTTP           `yaml:"http"`
	Logging     logging.Config `yaml:"logging"`
	Database    Database       `yaml:"database"`
	Model       Model          `yaml:"model"`
	Acquisition Acquisition    `yaml:"acquisition"`
}

// Default returns the built-in configuration.
func Default() *Config {
	opt := optimization.DefaultOptimizerConfig()
	acq := acquisition.DefaultConfig()
	return &Config{
		Environment: "development",
		HTTP: HTTP{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  60 * time.Second,
		},
		Logging: *logging.DefaultConfig(),
		Database: Database{
			Type:     "memory",
			DSN:      "file:data/surrogate.db?_pragma=busy_timeout(5000)",
			MaxConns: 1,
		},
		Model: Model{
			Kernel:            kernels.TypeSquaredExponential,
			LengthScale:       1.0,
			SignalVariance:    1.0,
			Noise:             1e-2,
			Method:            opt.Method,
			MaxIterations:     opt.MaxIterations,
			Restarts:          opt.Restarts,
			Regularization:    opt.Regularization,
			Seed:              opt.RandomSeed,
			MaxJitterAttempts: bayesian.DefaultMaxJitterAttempts,
			NormalizeTargets:  true,
		},
		Acquisition: Acquisition{
			Strategy:  string(acq.Strategy),
			Direction: acq.Direction.String(),
			Kappa:     acq.Kappa,
			Xi:        acq.Xi,
			Seed:      acq.Seed,
		},
	}
}

// Load returns the defaults overridden by environment variables.
func Load() (*Config, error) {
	cfg := Default()
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, "parsing environment")
	}
	return cfg, cfg.Validate()
}

// LoadFile reads a YAML file over the defaults and then applies
// environment overrides. An empty path behaves like Load.
func LoadFile(path string) (*Config, error) {
	if path == "" {
		return Load()
	}
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %s", path)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing config %s", path)
	}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, "parsing environment")
	}
	return cfg, cfg.Validate()
}

// Validate checks the settings that cannot be checked by building a model.
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "memory", "sqlite":
	default:
		return errors.Newf("unknown database type %q", c.Database.Type)
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return errors.Newf("invalid HTTP port %d", c.HTTP.Port)
	}
	if _, err := c.Acquisition.NewRanker(); err != nil {
		return errors.Wrap(err, "acquisition")
	}
	if _, err := c.Model.NewGP(1, nil); err != nil {
		return errors.Wrap(err, "model")
	}
	return nil
}

// NewKernel builds the configured kernel for dim input dimensions.
func (m Model) NewKernel(dim int) (kernels.Kernel, error) {
	return kernels.New(m.Kernel, dim, m.LengthScale, m.SignalVariance)
}

// OptimizerConfig returns the hyperparameter search settings.
func (m Model) OptimizerConfig() optimization.OptimizerConfig {
	cfg := optimization.DefaultOptimizerConfig()
	cfg.Method = m.Method
	cfg.MaxIterations = m.MaxIterations
	cfg.Restarts = m.Restarts
	cfg.Regularization = m.Regularization
	cfg.RandomSeed = m.Seed
	return cfg
}

// NewGP builds an unfitted model for dim input dimensions.
func (m Model) NewGP(dim int, logger *zap.Logger) (*bayesian.GP, error) {
	kernel, err := m.NewKernel(dim)
	if err != nil {
		return nil, err
	}
	return bayesian.NewGP(kernel, m.Noise,
		bayesian.WithLogger(logger),
		bayesian.WithOptimizer(m.OptimizerConfig()),
		bayesian.WithMaxJitterAttempts(m.MaxJitterAttempts),
		bayesian.WithNormalizeTargets(m.NormalizeTargets),
	)
}

// RankerConfig converts the settings into a ranker configuration.
func (a Acquisition) RankerConfig() (acquisition.Config, error) {
	strategy, err := acquisition.ParseStrategy(a.Strategy)
	if err != nil {
		return acquisition.Config{}, err
	}
	dir, err := optimization.ParseDirection(a.Direction)
	if err != nil {
		return acquisition.Config{}, err
	}
	return acquisition.Config{
		Strategy:  strategy,
		Direction: dir,
		Kappa:     a.Kappa,
		Xi:        a.Xi,
		Seed:      a.Seed,
	}, nil
}

// NewRanker builds the default ranker.
func (a Acquisition) NewRanker() (*acquisition.Ranker, error) {
	cfg, err := a.RankerConfig()
	if err != nil {
		return nil, err
	}
	return acquisition.NewRanker(cfg)
}
