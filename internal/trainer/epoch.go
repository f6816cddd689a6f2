package trainer

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/avoskres/satseg/internal/metrics"
	"github.com/avoskres/satseg/internal/models"
)

// previewCount bounds the image sample shipped to the tracker.
const previewCount = 5

// trainEpoch drives one learning pass: per batch, forward through the
// model and immediately trigger the optimizer step, feeding the loss
// into the running meter. Returns the pass's weighted mean loss.
func (o *Orchestrator) trainEpoch(ctx context.Context, stream Stream, epoch int) (float64, error) {
	o.model.Train()

	var losses metrics.Meter
	for i := 0; ; i++ {
		batch, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, &BatchError{Mode: "train", Epoch: epoch, Batch: i, Err: err}
		}

		loss, err := o.model.Forward(ctx, batch)
		if err != nil {
			return 0, &BatchError{Mode: "train", Epoch: epoch, Batch: i, Err: err}
		}
		if err := o.opt.Step(); err != nil {
			return 0, &BatchError{Mode: "train", Epoch: epoch, Batch: i, Err: err}
		}

		losses.Update(loss, batch.Size())

		if i%o.run.LogFreq == 0 {
			if o.run.TrackMetrics {
				o.scalar(ctx, "train_loss", losses.Val, o.run.TrainStep)
			}
			fmt.Printf("Epoch: [%d][%d]\tLoss %.4f (%.4f)\n", epoch, i, losses.Val, losses.Mean())
		}
		o.run.TrainStep++
	}

	fmt.Printf(" * Avg Train Loss %.4f\n", losses.Mean())
	return losses.Mean(), nil
}

// validateEpoch drives one inference pass: no optimizer, model held in
// eval mode for the duration. At the logging cadence it also ships a
// small sample of inputs, ground truth, and predictions for visual
// inspection; those previews never influence metrics or control flow.
func (o *Orchestrator) validateEpoch(ctx context.Context, stream Stream, epoch int) (float64, error) {
	o.model.Eval()

	var losses metrics.Meter
	for i := 0; ; i++ {
		batch, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, &BatchError{Mode: "validate", Epoch: epoch, Batch: i, Err: err}
		}

		loss, err := o.model.Forward(ctx, batch)
		if err != nil {
			return 0, &BatchError{Mode: "validate", Epoch: epoch, Batch: i, Err: err}
		}

		losses.Update(loss, batch.Size())

		if i%o.run.LogFreq == 0 {
			if o.run.TrackMetrics {
				o.scalar(ctx, "valid_loss", losses.Val, o.run.ValStep)
			}
			if o.run.TrackImages {
				o.previews(ctx, batch, epoch)
			}
			fmt.Printf("Test: [%d]\tLoss %.4f (%.4f)\n", i, losses.Val, losses.Mean())
		}
		o.run.ValStep++
	}

	fmt.Printf(" * Avg Val Loss %.4f\n", losses.Mean())
	return losses.Mean(), nil
}

// scalar forwards one observation to the tracker. Tracking failures are
// logged and swallowed: a flaky tracking server must not abort a
// multi-hour run.
func (o *Orchestrator) scalar(ctx context.Context, tag string, value float64, step int64) {
	if err := o.run.Tracker.Scalar(ctx, tag, value, step); err != nil {
		o.run.Log.Warn().Err(err).Str("tag", tag).Msg("dropping metric observation")
	}
}

func (o *Orchestrator) previews(ctx context.Context, batch models.Batch, epoch int) {
	n := batch.Size()
	if n > previewCount {
		n = previewCount
	}

	inputs := make([]models.Grid, n)
	for i := 0; i < n; i++ {
		inputs[i] = batch.Images[i].Channels[0]
	}
	o.images(ctx, "images", inputs, o.run.ValStep)
	o.images(ctx, "masks", batch.Masks[:n], o.run.ValStep)

	preds, err := o.model.Predict(ctx, models.Batch{
		Images: batch.Images[:n],
		Masks:  batch.Masks[:n],
	})
	if err != nil {
		o.run.Log.Warn().Err(err).Int("epoch", epoch).Msg("dropping prediction previews")
		return
	}
	o.images(ctx, "preds", preds, o.run.ValStep)
}

func (o *Orchestrator) images(ctx context.Context, tag string, imgs []models.Grid, step int64) {
	if err := o.run.Tracker.Images(ctx, tag, imgs, step); err != nil {
		o.run.Log.Warn().Err(err).Str("tag", tag).Msg("dropping image previews")
	}
}
