package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/cognicore/uberts/pkg/uberts/internalerr"
)

// Config is a run configuration, usually read from uberts.yaml.
type Config struct {
	// Grammar is the grammar file: def lines and rules.
	Grammar string `yaml:"grammar"`
	// Data is a relation data file with one or more documents.
	Data string `yaml:"data"`
	// Output, when set, receives the committed facts of every document.
	Output string `yaml:"output"`

	Mode      string   `yaml:"mode" validate:"oneof=greedy train oracle exhaustive"`
	Threshold *float64 `yaml:"threshold"`
	Budget    int      `yaml:"budget" validate:"gte=0"`
	Epochs    int      `yaml:"epochs" validate:"gte=1,lte=1000"`
	Workers   int      `yaml:"workers" validate:"gte=1,lte=256"`
	Dedup     bool     `yaml:"dedup"`

	LearningRate float64 `yaml:"learning_rate" validate:"gt=0"`

	Generators  []Generator  `yaml:"generators" validate:"dive"`
	Constraints []Constraint `yaml:"constraints" validate:"dive"`

	Log   Log   `yaml:"log"`
	Store Store `yaml:"store"`
}

// Generator binds a scorer to a rule head shape.
type Generator struct {
	Trigger string `yaml:"trigger" validate:"required"`
	// Kind is "constant" (every match scores Score) or "perceptron".
	Kind  string  `yaml:"kind" validate:"oneof=constant perceptron"`
	Score float64 `yaml:"score"`
}

// Constraint caps how many facts of a head shape may share the values at
// Group positions.
type Constraint struct {
	Trigger string `yaml:"trigger" validate:"required"`
	Group   []int  `yaml:"group" validate:"dive,gte=0"`
	Max     int    `yaml:"max" validate:"gte=1"`
}

// Log configures the slog handler.
type Log struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// Store selects where decode runs are recorded.
type Store struct {
	Driver string `yaml:"driver" validate:"oneof=memory sqlite badger"`
	Path   string `yaml:"path" validate:"required_unless=Driver memory"`
}

var validate = validator.New()

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Mode:         "greedy",
		Epochs:       1,
		Workers:      4,
		LearningRate: 1,
		Log:          Log{Level: "info", Format: "text"},
		Store:        Store{Driver: "memory"},
	}
}

// Load reads a YAML file over Default and validates the result. Relative
// paths in the file are resolved against the file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%s: %v: %w", path, err, internalerr.ErrInvalidConfig)
	}
	cfg.resolve(filepath.Dir(path))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) resolve(dir string) {
	for _, p := range []*string{&c.Grammar, &c.Data, &c.Output, &c.Store.Path} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%v: %w", err, internalerr.ErrInvalidConfig)
	}
	return nil
}

// Logger builds a logger writing to w.
func (l Log) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(l.Level) {
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
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
