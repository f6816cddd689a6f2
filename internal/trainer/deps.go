// Package trainer is the training orchestration engine: a single
// control thread sequencing epochs over external collaborators that own
// the data pipeline, the model parameters, and the tracking backend.
package trainer

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/avoskres/satseg/internal/checkpoint"
	"github.com/avoskres/satseg/internal/models"
	"github.com/avoskres/satseg/internal/tracking"
)

// Model is the compute collaborator: it owns parameters, forward and
// loss computation, and gradient accumulation. The engine never mutates
// parameters itself.
type Model interface {
	Train()
	Eval()
	Forward(ctx context.Context, batch models.Batch) (float64, error)
	Predict(ctx context.Context, batch models.Batch) ([]models.Grid, error)
	StateBytes() ([]byte, error)
	LoadStateBytes(data []byte) error
}

// Optimizer applies the parameter update for the most recent
// training-mode Forward. Only the train pass calls Step.
type Optimizer interface {
	Step() error
	LearningRate() float64
	SetLearningRate(lr float64)
}

// Stream is a finite, single-pass, non-restartable batch sequence.
// Next blocks until a batch is ready and returns io.EOF when the pass
// is exhausted. Reshuffling is the stream factory's concern.
type Stream interface {
	Next(ctx context.Context) (models.Batch, error)
}

// StreamFunc builds one pass over a split subset for the given epoch.
type StreamFunc func(items []models.Item, epoch int, train bool) Stream

// Store persists and restores checkpoint records. Satisfied by
// checkpoint.Store.
type Store interface {
	Save(rec checkpoint.Record, isBest bool, latestPath, bestPath string) error
	Load(path string) (checkpoint.Record, error)
}

// BatchError wraps a data-fetch or compute failure inside one pass.
// Always fatal for the run; there is no batch-level retry.
type BatchError struct {
	Mode  string
	Epoch int
	Batch int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("epoch %d %s: batch %d: %v", e.Epoch, e.Mode, e.Batch, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// RunContext carries the process-lifetime counters and the logging
// collaborators through epoch runs. Owned by the orchestrator, passed
// by reference; there is no package-level mutable state. The batch
// counters restart at zero on every process start, including resumed
// runs — they only order tracking steps, they are not run state.
type RunContext struct {
	TrainStep int64
	ValStep   int64

	Tracker      tracking.Tracker
	Log          zerolog.Logger
	LogFreq      int
	TrackMetrics bool
	TrackImages  bool
}
