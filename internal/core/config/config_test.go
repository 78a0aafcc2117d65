package config

import (
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

func TestDefaultMatchesPackageConstants(t *testing.T) {
	cfg := Default()
	test.That(t, cfg.Background.Samples, test.ShouldEqual, 16)
	test.That(t, cfg.Tracker.MaxBBoxAge, test.ShouldEqual, 2)
	test.That(t, cfg.Tracker.IOUThreshold, test.ShouldEqual, 0.25)
	test.That(t, cfg.Trajectory.MinNumSamples, test.ShouldEqual, 16)
	test.That(t, cfg.Validate(), test.ShouldBeNil)
}

func TestLoadEmptyPathReturnsDefault(t *testing.T) {
	cfg, err := Load("")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Tracker.MaxBBoxAge, test.ShouldEqual, 2)
}

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Trajectory.MaxAge, test.ShouldEqual, 15)
}

func TestLoadValidFileOverridesDefaults(t *testing.T) {
	content := `
[background]
samples = 24
threshold = 30
min_close_samples = 3
update_factor = 7

[tracker]
max_bbox_age = 4
min_bbox_hit_streak = 5
iou_threshold = 0.4
dt = 0.04

[trajectory]
max_age = 20
min_num_samples = 10
min_fall_distance = 200
`
	path := filepath.Join(t.TempDir(), "tuning.toml")
	test.That(t, os.WriteFile(path, []byte(content), 0o644), test.ShouldBeNil)

	cfg, err := Load(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Background.Samples, test.ShouldEqual, 24)
	test.That(t, cfg.Tracker.MaxBBoxAge, test.ShouldEqual, 4)
	test.That(t, cfg.Tracker.IOUThreshold, test.ShouldEqual, 0.4)
	test.That(t, cfg.Trajectory.MinFallDistance, test.ShouldEqual, 200.0)

	params := cfg.TrackerParams()
	test.That(t, params.MinBBoxHitStreak, test.ShouldEqual, 5)
	test.That(t, params.MaxTrajectoryAge, test.ShouldEqual, 20)
}

func TestLoadInvalidTOMLErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	test.That(t, os.WriteFile(path, []byte("not [ valid toml"), 0o644), test.ShouldBeNil)
	_, err := Load(path)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestValidateRejectsOutOfRangeValues(t *testing.T) {
	cfg := Default()
	cfg.Background.Samples = 0
	test.That(t, cfg.Validate(), test.ShouldNotBeNil)

	cfg = Default()
	cfg.Tracker.IOUThreshold = 1.5
	test.That(t, cfg.Validate(), test.ShouldNotBeNil)

	cfg = Default()
	cfg.Trajectory.MinFallDistance = -1
	test.That(t, cfg.Validate(), test.ShouldNotBeNil)
}
