// Package tracking ships run metrics and image previews to an
// MLflow-compatible tracking server. The orchestration core only sees
// the Tracker interface; when tracking is disabled it gets the no-op.
package tracking

import (
	"context"

	"github.com/avoskres/satseg/internal/models"
)

// Tracker is the logging collaborator consumed by the training engine.
// Step values are monotonically non-decreasing within a run for each
// tag family; Images is never called unless image tracking is enabled.
type Tracker interface {
	StartRun(ctx context.Context, name string) error
	EndRun(ctx context.Context, failed bool) error
	Scalar(ctx context.Context, tag string, value float64, step int64) error
	Images(ctx context.Context, tag string, imgs []models.Grid, step int64) error
}

// Nop discards everything. Used when tracking is switched off.
type Nop struct{}

func (Nop) StartRun(ctx context.Context, name string) error {
	return nil
}

func (Nop) EndRun(ctx context.Context, failed bool) error {
	return nil
}

func (Nop) Scalar(ctx context.Context, tag string, value float64, step int64) error {
	return nil
}

func (Nop) Images(ctx context.Context, tag string, imgs []models.Grid, step int64) error {
	return nil
}
