// Package config loads the YAML configuration of the memory stack.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"
)

// Store kinds.
const (
	StoreMemory = "memory"
	StoreBolt   = "bolt"
	StoreMapped = "mapped"
)

// Failure policies for buffer reads and writes.
const (
	PolicyBestEffort = "best_effort"
	PolicyStrict     = "strict"
)

var ErrInvalid = errors.New("config: invalid")

// Config is the top-level configuration.
type Config struct {
	PageSize         int64         `yaml:"page_size"`
	MaxResidentPages int           `yaml:"max_resident_pages"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	AllocateTimeout  time.Duration `yaml:"allocate_timeout"`
	Workers          int           `yaml:"workers"`
	FailurePolicy    string        `yaml:"failure_policy"`
	Store            Store         `yaml:"store"`
	Log              Log           `yaml:"log"`
}

// Store selects and configures the swap backing store.
type Store struct {
	Kind     string            `yaml:"kind"`
	Path     string            `yaml:"path"`
	SlotSize datasize.ByteSize `yaml:"slot_size"`
	Compress bool              `yaml:"compress"`
}

// Log configures internal/logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		PageSize:         64,
		MaxResidentPages: 128,
		RequestTimeout:   time.Second,
		AllocateTimeout:  time.Second,
		Workers:          4,
		FailurePolicy:    PolicyBestEffort,
		Store: Store{
			Kind:     StoreMemory,
			SlotSize: 64 * datasize.KB,
			Compress: true,
		},
		Log: Log{Level: "info", Format: "text"},
	}
}

// Load reads and validates the file at path, layered over Default.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML layered over Default and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every problem with c.
func (c Config) Validate() error {
	var errs []error
	if c.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("%w: page_size must be positive, got %d", ErrInvalid, c.PageSize))
	}
	if c.MaxResidentPages <= 0 {
		errs = append(errs, fmt.Errorf("%w: max_resident_pages must be positive, got %d", ErrInvalid, c.MaxResidentPages))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%w: request_timeout must be positive", ErrInvalid))
	}
	if c.AllocateTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%w: allocate_timeout must be positive", ErrInvalid))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("%w: workers must not be negative", ErrInvalid))
	}
	if c.FailurePolicy != PolicyBestEffort && c.FailurePolicy != PolicyStrict {
		errs = append(errs, fmt.Errorf("%w: unknown failure_policy %q", ErrInvalid, c.FailurePolicy))
	}
	switch c.Store.Kind {
	case StoreMemory:
	case StoreBolt, StoreMapped:
		if c.Store.Path == "" {
			errs = append(errs, fmt.Errorf("%w: store.path is required for %s stores", ErrInvalid, c.Store.Kind))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: unknown store.kind %q", ErrInvalid, c.Store.Kind))
	}
	if c.Store.Kind == StoreMapped && c.Store.SlotSize < 64 {
		errs = append(errs, fmt.Errorf("%w: store.slot_size %s is too small", ErrInvalid, c.Store.SlotSize.HR()))
	}
	return errors.Join(errs...)
}

// Marshal renders c as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
