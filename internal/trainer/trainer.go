package trainer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/avoskres/satseg/internal/checkpoint"
	"github.com/avoskres/satseg/internal/config"
	"github.com/avoskres/satseg/internal/dataset"
	"github.com/avoskres/satseg/internal/models"
	"github.com/avoskres/satseg/internal/sched"
	"github.com/avoskres/satseg/internal/tracking"
)

// Deps are the external collaborators the orchestrator sequences.
type Deps struct {
	Model   Model
	Opt     Optimizer
	Streams StreamFunc
	Store   Store
	Tracker tracking.Tracker
	Index   models.Index
	Log     zerolog.Logger
}

// Orchestrator is the top-level state machine: partition once, then per
// epoch train, validate, schedule, checkpoint, until the configured end
// epoch. All state below lives on this struct for the run's lifetime;
// nothing is shared with concurrent callers.
type Orchestrator struct {
	cfg     *config.Config
	model   Model
	opt     Optimizer
	streams StreamFunc
	store   Store
	sched   *sched.Plateau
	index   models.Index
	run     *RunContext

	startEpoch  int
	bestValLoss float64
	latestPath  string
	bestPath    string
}

// New validates the configuration and wires the collaborators. It fails
// fast on any configuration problem, before any data, checkpoint, or
// tracking side effect.
func New(cfg *config.Config, deps Deps) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration: %w", err)
	}

	return &Orchestrator{
		cfg:     cfg,
		model:   deps.Model,
		opt:     deps.Opt,
		streams: deps.Streams,
		store:   deps.Store,
		sched: sched.NewPlateau(cfg.LR, cfg.SchedFactor, cfg.SchedPatience,
			cfg.SchedThreshold, cfg.SchedCooldown, cfg.MinLR),
		index: deps.Index,
		run: &RunContext{
			Tracker:      deps.Tracker,
			Log:          deps.Log,
			LogFreq:      cfg.LogFreq,
			TrackMetrics: cfg.TrackMetrics,
			TrackImages:  cfg.TrackImages,
		},
		startEpoch:  cfg.StartEpoch,
		bestValLoss: math.Inf(1),
		latestPath:  filepath.Join(cfg.WeightsDir, cfg.RunTag+"_checkpoint.ckpt.zst"),
		bestPath:    filepath.Join(cfg.WeightsDir, cfg.RunTag+"_best.ckpt.zst"),
	}, nil
}

// Run drives the whole run and blocks until it completes or fails.
func (o *Orchestrator) Run(ctx context.Context) (retErr error) {
	split, err := dataset.Partition(o.index, o.cfg.ValFraction, o.cfg.Seed)
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}
	o.run.Log.Info().
		Int("train", len(split.Train)).
		Int("val", len(split.Val)).
		Msg("dataset partitioned")

	if o.cfg.Resume != "" {
		if err := o.resume(); err != nil {
			return err
		}
	}

	if o.run.TrackMetrics || o.run.TrackImages {
		if err := o.run.Tracker.StartRun(ctx, o.cfg.RunTag); err != nil {
			o.run.Log.Warn().Err(err).Msg("failed to start tracking run")
		}
		defer func() {
			if err := o.run.Tracker.EndRun(context.WithoutCancel(ctx), retErr != nil); err != nil {
				o.run.Log.Warn().Err(err).Msg("failed to end tracking run")
			}
		}()
	}

	if o.cfg.EvaluateOnly {
		_, err := o.validateEpoch(ctx, o.streams(split.Val, o.startEpoch, false), o.startEpoch)
		return err
	}

	return o.runEpochs(ctx, split)
}

func (o *Orchestrator) runEpochs(ctx context.Context, split dataset.Split) error {
	for epoch := o.startEpoch; epoch < o.cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		trainLoss, err := o.trainEpoch(ctx, o.streams(split.Train, epoch, true), epoch)
		if err != nil {
			return err
		}

		valLoss, err := o.validateEpoch(ctx, o.streams(split.Val, epoch, false), epoch)
		if err != nil {
			return err
		}

		if reduced, lr := o.sched.Step(valLoss); reduced {
			o.opt.SetLearningRate(lr)
			o.run.Log.Info().Int("epoch", epoch).Float64("lr", lr).Msg("learning rate reduced")
		}

		// Early stopping would hook in here, keyed off the same
		// plateau signal. Deliberately absent.

		if o.run.TrackMetrics {
			o.scalar(ctx, "train_epoch_loss", trainLoss, int64(epoch+1))
			o.scalar(ctx, "valid_epoch_loss", valLoss, int64(epoch+1))
		}

		isBest := valLoss < o.bestValLoss
		o.bestValLoss = math.Min(valLoss, o.bestValLoss)

		if err := o.saveCheckpoint(epoch, isBest); err != nil {
			return err
		}

		o.run.Log.Info().
			Int("epoch", epoch).
			Float64("trainLoss", trainLoss).
			Float64("valLoss", valLoss).
			Bool("best", isBest).
			Msg("epoch complete")
	}
	return nil
}

// resume is best effort: a missing checkpoint degrades to a fresh run,
// while a corrupt one is fatal — the run must not proceed with a
// partially restored state.
func (o *Orchestrator) resume() error {
	rec, err := o.store.Load(o.cfg.Resume)
	if errors.Is(err, checkpoint.ErrNotFound) {
		o.run.Log.Warn().Str("path", o.cfg.Resume).Msg("no checkpoint found, starting fresh")
		return nil
	}
	if err != nil {
		return fmt.Errorf("resume: %w", err)
	}

	if rec.Arch != o.cfg.Arch {
		return fmt.Errorf("resume: checkpoint is for architecture %q, configured %q", rec.Arch, o.cfg.Arch)
	}
	if err := o.model.LoadStateBytes(rec.ModelState); err != nil {
		return fmt.Errorf("resume: %w", err)
	}

	o.startEpoch = rec.EpochCompleted
	o.bestValLoss = rec.BestValLoss
	o.run.Log.Info().
		Str("path", o.cfg.Resume).
		Int("epoch", rec.EpochCompleted).
		Float64("bestValLoss", rec.BestValLoss).
		Msg("checkpoint loaded")
	return nil
}

// saveCheckpoint persists the epoch's record to the latest slot and, on
// improvement, to the best slot. An epoch whose record cannot be
// durably written is not a completed epoch: the failure aborts the run
// with the prior epoch's checkpoint intact.
func (o *Orchestrator) saveCheckpoint(epoch int, isBest bool) error {
	state, err := o.model.StateBytes()
	if err != nil {
		return fmt.Errorf("epoch %d checkpoint: %w", epoch, err)
	}

	rec := checkpoint.Record{
		EpochCompleted: epoch + 1,
		Arch:           o.cfg.Arch,
		ModelState:     state,
		BestValLoss:    o.bestValLoss,
	}
	if err := o.store.Save(rec, isBest, o.latestPath, o.bestPath); err != nil {
		return fmt.Errorf("epoch %d checkpoint: %w", epoch, err)
	}
	return nil
}
