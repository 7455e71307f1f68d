// Package config aggregates every component's tunables into one structure
// that can be loaded from a YAML or JSON file, with defaults filled in for
// anything the file leaves out.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/leo-admission/core"
	"github.com/signalsfoundry/leo-admission/internal/admission"
	"github.com/signalsfoundry/leo-admission/internal/dsroq"
	"github.com/signalsfoundry/leo-admission/internal/sim"
)

var (
	// ErrUnsupportedFormat marks a config file extension the loader does not
	// understand.
	ErrUnsupportedFormat = errors.New("unsupported config format")

	// ErrInvalidConfig marks a configuration that fails validation.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Admission controller variants selectable from configuration.
const (
	VariantThreshold   = "threshold"
	VariantPositioning = "positioning_aware"
)

// ConstellationConfig selects and parameterises the snapshot provider.
type ConstellationConfig struct {
	Walker core.WalkerConfig `yaml:"walker" json:"walker"`

	// TLEFile, when set, seeds the constellation from this element-set file
	// instead of generating the Walker shell.
	TLEFile string         `yaml:"tle_file" json:"tle_file"`
	TLE     core.TLEConfig `yaml:"tle" json:"tle"`
}

// PipelineConfig groups the resource pipeline stages.
type PipelineConfig struct {
	MCTS      dsroq.MCTSConfig      `yaml:"mcts" json:"mcts"`
	Lyapunov  dsroq.LyapunovConfig  `yaml:"lyapunov" json:"lyapunov"`
	Bandwidth dsroq.AllocatorConfig `yaml:"bandwidth" json:"bandwidth"`
}

// AdmissionConfig selects the admission variant and its parameters.
type AdmissionConfig struct {
	// Variant is threshold or positioning_aware.
	Variant     string                      `yaml:"variant" json:"variant"`
	Threshold   admission.ThresholdConfig   `yaml:"threshold" json:"threshold"`
	Positioning admission.PositioningConfig `yaml:"positioning" json:"positioning"`

	// ElevationMaskDeg bounds satellite visibility for the positioning
	// source the positioning_aware variant consults.
	ElevationMaskDeg float64 `yaml:"elevation_mask_deg" json:"elevation_mask_deg"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address for /metrics; empty disables the server.
	Addr string `yaml:"addr" json:"addr"`
}

// ResultsConfig configures simulation output.
type ResultsConfig struct {
	// CSVPath receives one row per simulation step; empty disables export.
	CSVPath string `yaml:"csv_path" json:"csv_path"`
}

// Config is the complete runtime configuration.
type Config struct {
	Constellation ConstellationConfig `yaml:"constellation" json:"constellation"`
	Pipeline      PipelineConfig      `yaml:"pipeline" json:"pipeline"`
	Admission     AdmissionConfig     `yaml:"admission" json:"admission"`
	Traffic       sim.TrafficConfig   `yaml:"traffic" json:"traffic"`
	Monitor       sim.MonitorConfig   `yaml:"monitor" json:"monitor"`
	Engine        sim.EngineConfig    `yaml:"engine" json:"engine"`
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`
	Results       ResultsConfig       `yaml:"results" json:"results"`
}

// Default returns the configuration every component would pick on its own.
func Default() Config {
	return Config{
		Constellation: ConstellationConfig{
			Walker: core.DefaultWalkerConfig(),
			TLE:    core.DefaultTLEConfig(),
		},
		Pipeline: PipelineConfig{
			MCTS:      dsroq.DefaultMCTSConfig(),
			Lyapunov:  dsroq.DefaultLyapunovConfig(),
			Bandwidth: dsroq.DefaultAllocatorConfig(),
		},
		Admission: AdmissionConfig{
			Variant:          VariantThreshold,
			Threshold:        admission.DefaultThresholdConfig(),
			Positioning:      admission.DefaultPositioningConfig(),
			ElevationMaskDeg: 10,
		},
		Traffic: sim.DefaultTrafficConfig(),
		Monitor: sim.DefaultMonitorConfig(),
		Engine:  sim.DefaultEngineConfig(),
		Metrics: MetricsConfig{Addr: ":9090"},
	}
}

// Load reads the file at path over the defaults and validates the result.
// The format follows the extension: .yaml/.yml or .json.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}

	cfg := Default()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		return Config{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the cross-component constraints a file could break. The
// component constructors still validate their own parameters.
func (c Config) Validate() error {
	if c.Engine.DurationSec <= 0 {
		return fmt.Errorf("%w: engine duration %.1f s", ErrInvalidConfig, c.Engine.DurationSec)
	}
	if c.Engine.StepSec <= 0 {
		return fmt.Errorf("%w: engine step %.1f s", ErrInvalidConfig, c.Engine.StepSec)
	}

	switch c.Admission.Variant {
	case VariantThreshold, VariantPositioning:
	default:
		return fmt.Errorf("%w: admission variant %q", ErrInvalidConfig, c.Admission.Variant)
	}

	if _, ok := sim.PatternByName(c.Traffic.Pattern); !ok {
		return fmt.Errorf("%w: traffic pattern %q", ErrInvalidConfig, c.Traffic.Pattern)
	}

	if c.Constellation.TLEFile == "" {
		w := c.Constellation.Walker
		if w.Planes < 1 || w.SatsPerPlane < 1 {
			return fmt.Errorf("%w: walker shell %dx%d", ErrInvalidConfig, w.Planes, w.SatsPerPlane)
		}
	}
	return nil
}
