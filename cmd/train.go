package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/avoskres/satseg/internal/checkpoint"
	"github.com/avoskres/satseg/internal/compute"
	"github.com/avoskres/satseg/internal/config"
	"github.com/avoskres/satseg/internal/dataset"
	"github.com/avoskres/satseg/internal/models"
	"github.com/avoskres/satseg/internal/parser"
	"github.com/avoskres/satseg/internal/tracking"
	"github.com/avoskres/satseg/internal/trainer"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train a segmentation model",
	Long:  "Run the epoch train/validate loop over a dataset index, with checkpointing and optional resume",
	RunE:  runTrain,
}

func init() {
	rootCmd.AddCommand(trainCmd)

	trainCmd.Flags().StringP("arch", "a", "", "Model architecture (linknet34/unet11)")
	trainCmd.Flags().StringP("optimizer", "o", "", "Model optimizer (adam/rmsprop)")
	trainCmd.Flags().Float64("lr", 0, "Initial learning rate")
	trainCmd.Flags().IntP("batch-size", "b", 0, "Mini-batch size")
	trainCmd.Flags().Int("epochs", 0, "Number of total epochs to run")
	trainCmd.Flags().Int("start-epoch", 0, "Manual epoch number (useful on restarts)")
	trainCmd.Flags().IntP("workers", "j", 0, "Number of data loading workers")
	trainCmd.Flags().String("resume", "", "Path to latest checkpoint")
	trainCmd.Flags().String("lognumber", "", "Text id for saving logs and weights")
	trainCmd.Flags().String("preset", "", "Preset for satellite channels")
	trainCmd.Flags().IntP("imsize", "i", 0, "Image size")
	trainCmd.Flags().Int64P("seed", "s", 0, "Seed for the train/validation split")
	trainCmd.Flags().BoolP("evaluate", "e", false, "Evaluate model on validation set only")
	trainCmd.Flags().Bool("augs", false, "Use augmentations for training")
	trainCmd.Flags().Bool("track-metrics", false, "Ship loss metrics to the tracking server")
	trainCmd.Flags().Bool("track-images", false, "Ship validation image previews to the tracking server")
	trainCmd.Flags().IntP("print-freq", "p", 0, "Logging cadence in batches")
	trainCmd.Flags().String("index", "", "Dataset index manifest (JSON/YAML) (required)")
	trainCmd.Flags().Float64("val-fraction", 0, "Fraction of the corpus held out for validation")
	trainCmd.Flags().String("weights-dir", "", "Directory for checkpoint files")
	trainCmd.Flags().Float64("sched-factor", 0, "Learning rate decay factor on plateau")
	trainCmd.Flags().Int("sched-patience", 0, "Epochs without improvement before a reduction")
	trainCmd.Flags().Float64("sched-threshold", 0, "Minimum improvement to reset the plateau counter")
	trainCmd.Flags().Int("sched-cooldown", 0, "Epochs to wait after a reduction")
	trainCmd.Flags().Float64("min-lr", 0, "Floor for the learning rate")
	trainCmd.MarkFlagRequired("index")

	for _, name := range []string{
		"arch", "optimizer", "lr", "epochs", "workers", "resume", "lognumber",
		"preset", "imsize", "seed", "evaluate", "augs", "index",
	} {
		viper.BindPFlag(strings.ReplaceAll(name, "-", "_"), trainCmd.Flags().Lookup(name))
	}
	viper.BindPFlag("batch_size", trainCmd.Flags().Lookup("batch-size"))
	viper.BindPFlag("start_epoch", trainCmd.Flags().Lookup("start-epoch"))
	viper.BindPFlag("track_metrics", trainCmd.Flags().Lookup("track-metrics"))
	viper.BindPFlag("track_images", trainCmd.Flags().Lookup("track-images"))
	viper.BindPFlag("print_freq", trainCmd.Flags().Lookup("print-freq"))
	viper.BindPFlag("val_fraction", trainCmd.Flags().Lookup("val-fraction"))
	viper.BindPFlag("weights_dir", trainCmd.Flags().Lookup("weights-dir"))
	viper.BindPFlag("sched_factor", trainCmd.Flags().Lookup("sched-factor"))
	viper.BindPFlag("sched_patience", trainCmd.Flags().Lookup("sched-patience"))
	viper.BindPFlag("sched_threshold", trainCmd.Flags().Lookup("sched-threshold"))
	viper.BindPFlag("sched_cooldown", trainCmd.Flags().Lookup("sched-cooldown"))
	viper.BindPFlag("min_lr", trainCmd.Flags().Lookup("min-lr"))
}

func runTrain(cmd *cobra.Command, args []string) error {
	cfg := config.New()
	if err := cfg.Validate(); err != nil {
		return err
	}

	index, err := loadIndex(cfg.IndexPath)
	if err != nil {
		return err
	}

	preset, _ := config.PresetByName(cfg.Preset)
	model, err := compute.NewModel(cfg.Arch, preset.Channels)
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}
	opt, err := compute.NewOptimizer(cfg.Optimizer, model, cfg.LR)
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}

	loader := &dataset.Loader{
		Preset:    preset,
		ImageSize: cfg.ImageSize,
		BatchSize: cfg.BatchSize,
		Workers:   cfg.Workers,
		Augment:   cfg.Augment,
		Seed:      cfg.Seed,
	}

	tracker, err := buildTracker(cfg)
	if err != nil {
		return err
	}

	orch, err := trainer.New(cfg, trainer.Deps{
		Model: model,
		Opt:   opt,
		Streams: func(items []models.Item, epoch int, train bool) trainer.Stream {
			return loader.Stream(items, epoch, train)
		},
		Store:   checkpoint.NewStore(),
		Tracker: tracker,
		Index:   index,
		Log:     log.Logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := orch.Run(ctx); err != nil {
		return fmt.Errorf("run failed: %w", err)
	}
	return nil
}

func buildTracker(cfg *config.Config) (tracking.Tracker, error) {
	if !cfg.TrackMetrics && !cfg.TrackImages {
		return tracking.Nop{}, nil
	}

	client, err := tracking.NewClient(tracking.Config{
		TrackingURI:  cfg.TrackingURI,
		ExperimentID: cfg.ExperimentID,
		Token:        viper.GetString("databricks_token"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create tracking client: %w", err)
	}
	return client, nil
}

func loadIndex(path string) (models.Index, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index %s: %w", path, err)
	}
	defer file.Close()

	var index models.Index
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".json":
		index, err = parser.ParseJSONIndex(file)
	case ".yaml", ".yml":
		index, err = parser.ParseYAMLIndex(file)
	default:
		return nil, fmt.Errorf("unsupported index format: %s (supported: .json, .yaml, .yml)", ext)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to parse index file: %w", err)
	}
	return index, nil
}
