// Package config loads bottleneckctl settings from YAML with environment
// overrides and struct validation.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"bottleneck/internal/attractor"
	"bottleneck/internal/domain"
	"bottleneck/internal/resolver"
	"bottleneck/internal/storage"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Store        StoreConfig    `yaml:"store"`
	Resolver     ResolverConfig `yaml:"resolver"`
	Logging      LoggingConfig  `yaml:"logging"`
	ArtifactsDir string         `yaml:"artifacts_dir"`
	MetricsAddr  string         `yaml:"metrics_addr" validate:"omitempty,hostname_port"`
}

type StoreConfig struct {
	Kind string `yaml:"kind" validate:"oneof=memory sqlite badger"`
	Path string `yaml:"path" validate:"required_if=Kind sqlite"`
}

type ResolverConfig struct {
	Strategy             string        `yaml:"strategy" validate:"omitempty,oneof=parallel sequential adaptive"`
	MaxIterations        int           `yaml:"max_iterations" validate:"gte=0"`
	ConvergenceThreshold float64       `yaml:"convergence_threshold"`
	Timeout              time.Duration `yaml:"timeout" validate:"gte=0"`
	CheckpointInterval   int           `yaml:"checkpoint_interval" validate:"gte=1"`
	Warmup               int           `yaml:"warmup" validate:"gte=0"`
	Dt                   float64       `yaml:"dt" validate:"gt=0"`
	MicroSteps           int           `yaml:"micro_steps" validate:"gte=1"`
	Integrator           string        `yaml:"integrator" validate:"oneof=euler rk4"`
	Seed                 int64         `yaml:"seed"`
	InitialConditions    int           `yaml:"initial_conditions" validate:"gte=1"`
	Kinds                []string      `yaml:"kinds" validate:"dive,oneof=lorenz chen rossler"`
	// Presets maps domain -> attractor kind -> preset name.
	Presets map[string]map[string]string `yaml:"presets"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

func Default() Config {
	return Config{
		Store: StoreConfig{Kind: storage.DefaultStoreKind},
		Resolver: ResolverConfig{
			Strategy:             string(resolver.StrategyAdaptive),
			MaxIterations:        resolver.DefaultMaxIterations,
			ConvergenceThreshold: resolver.DefaultConvergenceThreshold,
			Timeout:              resolver.DefaultTimeout,
			CheckpointInterval:   resolver.DefaultCheckpointInterval,
			Warmup:               resolver.DefaultWarmup,
			Dt:                   attractor.DefaultDt,
			MicroSteps:           attractor.DefaultMicroSteps,
			Integrator:           string(attractor.IntegratorEuler),
			InitialConditions:    resolver.DefaultInitialConditions,
		},
		Logging:      LoggingConfig{Level: "info", Format: "text"},
		ArtifactsDir: "runs",
	}
}

// Load starts from Default, overlays the YAML file at path when path is not
// empty, then applies BOTTLENECK_* environment overrides and validates.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := Parse(data, &cfg); err != nil {
			return cfg, err
		}
	}
	applyEnv(&cfg, os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Parse overlays YAML onto cfg. Unknown keys are rejected.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup("BOTTLENECK_STORE"); ok && v != "" {
		cfg.Store.Kind = v
	}
	if v, ok := lookup("BOTTLENECK_DB_PATH"); ok && v != "" {
		cfg.Store.Path = v
	}
	if v, ok := lookup("BOTTLENECK_LOG_LEVEL"); ok && v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v, ok := lookup("BOTTLENECK_LOG_FORMAT"); ok && v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
	if v, ok := lookup("BOTTLENECK_ARTIFACTS_DIR"); ok && v != "" {
		cfg.ArtifactsDir = v
	}
	if v, ok := lookup("BOTTLENECK_SEED"); ok {
		if seed, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Resolver.Seed = seed
		}
	}
	if v, ok := lookup("BOTTLENECK_TIMEOUT"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Resolver.Timeout = d
		}
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(fields, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	for domainName, kinds := range c.Resolver.Presets {
		for kindName, preset := range kinds {
			kind, err := attractor.ParseKind(kindName)
			if err != nil {
				return fmt.Errorf("%w: presets.%s: %v", ErrInvalidConfig, domainName, err)
			}
			if _, err := attractor.Preset(kind, preset); err != nil {
				return fmt.Errorf("%w: presets.%s.%s: %v", ErrInvalidConfig, domainName, kindName, err)
			}
		}
	}
	return nil
}

// Options converts the resolver section into per-call resolve options.
func (c Config) Options() (resolver.Options, error) {
	strategy, err := resolver.ParseStrategy(c.Resolver.Strategy)
	if err != nil {
		return resolver.Options{}, err
	}
	opts := resolver.Options{
		Strategy:             strategy,
		MaxIterations:        c.Resolver.MaxIterations,
		ConvergenceThreshold: c.Resolver.ConvergenceThreshold,
		Timeout:              c.Resolver.Timeout,
	}
	for _, name := range c.Resolver.Kinds {
		kind, err := attractor.ParseKind(name)
		if err != nil {
			return resolver.Options{}, err
		}
		opts.Kinds = append(opts.Kinds, kind)
	}
	return opts, nil
}

// EngineConfig converts the resolver section into engine settings. Configured
// presets are layered over the shipped domain preset table.
func (c Config) EngineConfig(logger *slog.Logger) (resolver.Config, error) {
	integrator, err := attractor.ParseIntegrator(c.Resolver.Integrator)
	if err != nil {
		return resolver.Config{}, err
	}
	cfg := resolver.Config{
		CheckpointInterval: c.Resolver.CheckpointInterval,
		Warmup:             c.Resolver.Warmup,
		Dt:                 c.Resolver.Dt,
		MicroSteps:         c.Resolver.MicroSteps,
		Integrator:         integrator,
		Seed:               c.Resolver.Seed,
		InitialConditions:  c.Resolver.InitialConditions,
		Logger:             logger,
	}
	if cfg.Warmup == 0 {
		// zero is an explicit request for no warmup
		cfg.Warmup = -1
	}
	if len(c.Resolver.Presets) > 0 {
		presets := domain.DefaultPresets()
		for domainName, kinds := range c.Resolver.Presets {
			if presets[domainName] == nil {
				presets[domainName] = make(map[attractor.Kind]string, len(kinds))
			}
			for kindName, preset := range kinds {
				kind, err := attractor.ParseKind(kindName)
				if err != nil {
					return resolver.Config{}, err
				}
				presets[domainName][kind] = preset
			}
		}
		cfg.Presets = presets
	}
	return cfg, nil
}

// Logger builds the slog logger described by the logging section.
func (c Config) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch c.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
