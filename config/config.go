// Package config holds the run configuration shared by the changedet tasks.
package config

import (
	"bytes"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sugarme/gotch"
	"gopkg.in/yaml.v3"

	"github.com/sugarme/changedet/metric"
	"github.com/sugarme/changedet/raster"
	"github.com/sugarme/changedet/unet"
)

// Config captures the runtime knobs for model construction and inference.
type Config struct {
	InChannels       int64   `yaml:"in_channels"`
	Base             int64   `yaml:"base"`
	Cuda             bool    `yaml:"cuda"`
	ParallelBranches bool    `yaml:"parallel_branches"`
	Weights          string  `yaml:"weights"`
	Threshold        float64 `yaml:"threshold"`
	Scale            float64 `yaml:"scale"`
	Workers          int     `yaml:"workers"`
	Limit            int     `yaml:"limit"`
}

// Overrides captures CLI supplied values. Zero values leave the file value.
type Overrides struct {
	InChannels int64
	Base       int64
	Cuda       bool
	Parallel   bool
	Weights    string
	Threshold  float64
	Scale      float64
	Workers    int
	Limit      int
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		InChannels: 6,
		Base:       32,
		Threshold:  metric.DefaultThreshold,
		Scale:      raster.ReflectanceScale,
		Workers:    1,
		Limit:      50,
	}
}

// Load reads a YAML file on top of Default and validates the result.
// Unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "open config")
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrapf(err, "parse config %q", path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyOverrides updates c using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.InChannels > 0 {
		c.InChannels = o.InChannels
	}
	if o.Base > 0 {
		c.Base = o.Base
	}
	if o.Cuda {
		c.Cuda = true
	}
	if o.Parallel {
		c.ParallelBranches = true
	}
	if o.Weights != "" {
		c.Weights = o.Weights
	}
	if o.Threshold > 0 {
		c.Threshold = o.Threshold
	}
	if o.Scale > 0 {
		c.Scale = o.Scale
	}
	if o.Workers > 0 {
		c.Workers = o.Workers
	}
	if o.Limit > 0 {
		c.Limit = o.Limit
	}
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if err := c.Model().Validate(); err != nil {
		return err
	}
	if c.Threshold <= 0 || c.Threshold >= 1 {
		return errors.Errorf("threshold must be in (0, 1) (got %v)", c.Threshold)
	}
	if c.Scale <= 0 {
		return errors.Errorf("scale must be > 0 (got %v)", c.Scale)
	}
	if c.Workers <= 0 {
		return errors.Errorf("workers must be > 0 (got %d)", c.Workers)
	}
	if c.Limit < 0 {
		return errors.Errorf("limit must be >= 0 (got %d)", c.Limit)
	}
	return nil
}

// Device returns CUDA when requested and available, CPU otherwise.
func (c *Config) Device() gotch.Device {
	if c.Cuda {
		return gotch.CudaIfAvailable()
	}
	return gotch.CPU
}

// Model returns the model construction parameters.
func (c *Config) Model() unet.Config {
	return unet.Config{
		InChannels:       c.InChannels,
		Base:             c.Base,
		Device:           c.Device(),
		ParallelBranches: c.ParallelBranches,
	}
}
