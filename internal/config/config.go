package config

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
)

// ErrInvalid marks configuration errors. They are always fatal and are
// raised before any dataset, checkpoint, or tracking side effect.
var ErrInvalid = errors.New("invalid configuration")

// Valid configuration values
var (
	validArchs = map[string]bool{
		"linknet34": true, "unet11": true,
	}
	validOptimizers = map[string]bool{
		"adam": true, "rmsprop": true,
	}
)

// Config is the immutable set of recognized options for one run.
// Constructed once at process start from viper; never mutated after.
type Config struct {
	// Model and optimization
	Arch      string
	Optimizer string
	LR        float64
	BatchSize int

	// Epoch range [StartEpoch, Epochs)
	StartEpoch int
	Epochs     int

	// Dataset
	IndexPath   string
	Preset      string
	ImageSize   int
	Seed        int64
	ValFraction float64
	Workers     int
	Augment     bool

	// Run lifecycle
	RunTag       string
	WeightsDir   string
	Resume       string
	EvaluateOnly bool

	// Tracking
	TrackingURI  string
	ExperimentID string
	TrackMetrics bool
	TrackImages  bool
	LogFreq      int

	// Scheduler
	SchedFactor    float64
	SchedPatience  int
	SchedThreshold float64
	SchedCooldown  int
	MinLR          float64
}

func New() *Config {
	return &Config{
		Arch:      viper.GetString("arch"),
		Optimizer: viper.GetString("optimizer"),
		LR:        viper.GetFloat64("lr"),
		BatchSize: viper.GetInt("batch_size"),

		StartEpoch: viper.GetInt("start_epoch"),
		Epochs:     viper.GetInt("epochs"),

		IndexPath:   viper.GetString("index"),
		Preset:      viper.GetString("preset"),
		ImageSize:   viper.GetInt("imsize"),
		Seed:        viper.GetInt64("seed"),
		ValFraction: viper.GetFloat64("val_fraction"),
		Workers:     viper.GetInt("workers"),
		Augment:     viper.GetBool("augs"),

		RunTag:       viper.GetString("lognumber"),
		WeightsDir:   viper.GetString("weights_dir"),
		Resume:       viper.GetString("resume"),
		EvaluateOnly: viper.GetBool("evaluate"),

		TrackingURI:  viper.GetString("tracking_uri"),
		ExperimentID: viper.GetString("experiment_id"),
		TrackMetrics: viper.GetBool("track_metrics"),
		TrackImages:  viper.GetBool("track_images"),
		LogFreq:      viper.GetInt("print_freq"),

		SchedFactor:    viper.GetFloat64("sched_factor"),
		SchedPatience:  viper.GetInt("sched_patience"),
		SchedThreshold: viper.GetFloat64("sched_threshold"),
		SchedCooldown:  viper.GetInt("sched_cooldown"),
		MinLR:          viper.GetFloat64("min_lr"),
	}
}

// Validate checks the closed sets and numeric ranges. All failures wrap
// ErrInvalid so callers can tell them apart from runtime faults.
func (c *Config) Validate() error {
	if !validArchs[c.Arch] {
		return fmt.Errorf("%w: unknown architecture %q (valid: linknet34, unet11)", ErrInvalid, c.Arch)
	}
	if !validOptimizers[c.Optimizer] {
		return fmt.Errorf("%w: unknown optimizer %q (valid: adam, rmsprop)", ErrInvalid, c.Optimizer)
	}
	if !ValidPreset(c.Preset) {
		return fmt.Errorf("%w: unknown channel preset %q", ErrInvalid, c.Preset)
	}
	if c.LR <= 0 {
		return fmt.Errorf("%w: learning rate must be positive, got %g", ErrInvalid, c.LR)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("%w: batch size must be at least 1, got %d", ErrInvalid, c.BatchSize)
	}
	if c.StartEpoch < 0 || c.Epochs < c.StartEpoch {
		return fmt.Errorf("%w: bad epoch range [%d, %d)", ErrInvalid, c.StartEpoch, c.Epochs)
	}
	if c.ImageSize < 1 {
		return fmt.Errorf("%w: image size must be at least 1, got %d", ErrInvalid, c.ImageSize)
	}
	if c.ValFraction <= 0 || c.ValFraction >= 1 {
		return fmt.Errorf("%w: validation fraction must be in (0, 1), got %g", ErrInvalid, c.ValFraction)
	}
	if c.Workers < 1 {
		return fmt.Errorf("%w: workers must be at least 1, got %d", ErrInvalid, c.Workers)
	}
	if c.LogFreq < 1 {
		return fmt.Errorf("%w: print frequency must be at least 1, got %d", ErrInvalid, c.LogFreq)
	}
	if c.SchedFactor <= 0 || c.SchedFactor >= 1 {
		return fmt.Errorf("%w: scheduler factor must be in (0, 1), got %g", ErrInvalid, c.SchedFactor)
	}
	if c.SchedPatience < 0 || c.SchedCooldown < 0 {
		return fmt.Errorf("%w: scheduler patience and cooldown must be non-negative", ErrInvalid)
	}
	if c.MinLR < 0 || c.MinLR > c.LR {
		return fmt.Errorf("%w: min learning rate must be in [0, lr], got %g", ErrInvalid, c.MinLR)
	}
	return nil
}
