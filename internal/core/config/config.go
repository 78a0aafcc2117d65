// Package config provides TOML configuration loading for the standalone
// (non-Viam) core tuning profile: the background model, tracker, and
// trajectory thresholds described in spec.md §§4.1, 4.5, 4.6.
//
// The configuration file supports the following structure:
//
//	[background]
//	samples = 16
//	threshold = 20
//	min_close_samples = 2
//	update_factor = 5
//
//	[tracker]
//	max_bbox_age = 2
//	min_bbox_hit_streak = 3
//	iou_threshold = 0.25
//	dt = 0.0333
//
//	[trajectory]
//	max_age = 15
//	min_num_samples = 16
//	min_fall_distance = 128
//
// Example usage:
//
//	cfg, err := config.Load("tuning.toml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/viam-modules/falling-object-detection/internal/core/background"
	"github.com/viam-modules/falling-object-detection/internal/core/tracker"
)

// BackgroundConfig holds ViBe background-model tuning.
type BackgroundConfig struct {
	Samples         int `toml:"samples"`
	Threshold       int `toml:"threshold"`
	MinCloseSamples int `toml:"min_close_samples"`
	UpdateFactor    int `toml:"update_factor"`
}

// TrackerConfig holds the SORT-style tracker's thresholds.
type TrackerConfig struct {
	MaxBBoxAge       int     `toml:"max_bbox_age"`
	MinBBoxHitStreak int     `toml:"min_bbox_hit_streak"`
	IOUThreshold     float64 `toml:"iou_threshold"`
	DT               float64 `toml:"dt"`
}

// TrajectoryConfig holds the trajectory accumulator's qualification rules.
type TrajectoryConfig struct {
	MaxAge          int     `toml:"max_age"`
	MinNumSamples   int     `toml:"min_num_samples"`
	MinFallDistance float64 `toml:"min_fall_distance"`
}

// Config is the complete standalone tuning profile for the detection core.
type Config struct {
	Background BackgroundConfig `toml:"background"`
	Tracker    TrackerConfig    `toml:"tracker"`
	Trajectory TrajectoryConfig `toml:"trajectory"`
}

// Default returns spec.md's default tuning, unchanged from the package
// constants in background and tracker.
func Default() *Config {
	return &Config{
		Background: BackgroundConfig{
			Samples:         background.DefaultSamples,
			Threshold:       background.DefaultThreshold,
			MinCloseSamples: background.DefaultMinCloseSamples,
			UpdateFactor:    background.DefaultUpdateFactor,
		},
		Tracker: TrackerConfig{
			MaxBBoxAge:       tracker.DefaultMaxBBoxAge,
			MinBBoxHitStreak: tracker.DefaultMinBBoxHitStreak,
			IOUThreshold:     tracker.DefaultIOUThreshold,
			DT:               1.0 / 30,
		},
		Trajectory: TrajectoryConfig{
			MaxAge:          tracker.DefaultMaxTrajectoryAge,
			MinNumSamples:   tracker.DefaultMinTrajectoryNumSamples,
			MinFallDistance: tracker.DefaultMinTrajectoryFallDistance,
		},
	}
}

// Load reads and parses a TOML tuning file. A missing path or missing file
// falls back to Default.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, errors.Wrap(err, "reading tuning config file")
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, errors.Wrap(err, "parsing tuning config file")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "validating tuning config")
	}

	return cfg, nil
}

// Validate checks the configuration for values that would make the core
// misbehave or panic.
func (c *Config) Validate() error {
	if c.Background.Samples <= 0 {
		return errors.Errorf("background.samples must be positive, got %d", c.Background.Samples)
	}
	if c.Background.MinCloseSamples <= 0 || c.Background.MinCloseSamples > c.Background.Samples {
		return errors.Errorf("background.min_close_samples must be in (0, samples], got %d", c.Background.MinCloseSamples)
	}
	if c.Background.UpdateFactor <= 0 {
		return errors.Errorf("background.update_factor must be positive, got %d", c.Background.UpdateFactor)
	}
	if c.Tracker.MaxBBoxAge < 0 {
		return errors.Errorf("tracker.max_bbox_age must be non-negative, got %d", c.Tracker.MaxBBoxAge)
	}
	if c.Tracker.MinBBoxHitStreak <= 0 {
		return errors.Errorf("tracker.min_bbox_hit_streak must be positive, got %d", c.Tracker.MinBBoxHitStreak)
	}
	if c.Tracker.IOUThreshold < 0 || c.Tracker.IOUThreshold > 1 {
		return errors.Errorf("tracker.iou_threshold must be in [0, 1], got %f", c.Tracker.IOUThreshold)
	}
	if c.Tracker.DT <= 0 {
		return errors.Errorf("tracker.dt must be positive, got %f", c.Tracker.DT)
	}
	if c.Trajectory.MaxAge <= 0 {
		return errors.Errorf("trajectory.max_age must be positive, got %d", c.Trajectory.MaxAge)
	}
	if c.Trajectory.MinNumSamples <= 0 {
		return errors.Errorf("trajectory.min_num_samples must be positive, got %d", c.Trajectory.MinNumSamples)
	}
	if c.Trajectory.MinFallDistance <= 0 {
		return errors.Errorf("trajectory.min_fall_distance must be positive, got %f", c.Trajectory.MinFallDistance)
	}
	return nil
}

// TrackerParams converts the loaded tuning into tracker.Params.
func (c *Config) TrackerParams() tracker.Params {
	return tracker.Params{
		MaxBBoxAge:                c.Tracker.MaxBBoxAge,
		MinBBoxHitStreak:          c.Tracker.MinBBoxHitStreak,
		MaxTrajectoryAge:          c.Trajectory.MaxAge,
		MinTrajectoryNumSamples:   c.Trajectory.MinNumSamples,
		MinTrajectoryFallDistance: c.Trajectory.MinFallDistance,
		IOUThreshold:              c.Tracker.IOUThreshold,
		DT:                        c.Tracker.DT,
	}
}
