package trainer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"testing"

	"github.com/rs/zerolog"

	"github.com/avoskres/satseg/internal/checkpoint"
	"github.com/avoskres/satseg/internal/config"
	"github.com/avoskres/satseg/internal/models"
	"github.com/avoskres/satseg/internal/tracking"
)

// fakeModel scripts validation losses, one per validate pass, and
// counts training forwards. Implements Model.
type fakeModel struct {
	training      bool
	trainForwards int
	evalForwards  int
	valLosses     []float64
	valPass       int
	loadedState   []byte
	forwardErr    error
}

func (m *fakeModel) Train() { m.training = true }
func (m *fakeModel) Eval()  { m.training = false }

func (m *fakeModel) Forward(ctx context.Context, batch models.Batch) (float64, error) {
	if m.forwardErr != nil {
		return 0, m.forwardErr
	}
	if m.training {
		m.trainForwards++
		return 1.0, nil
	}
	m.evalForwards++
	loss := m.valLosses[m.valPass]
	return loss, nil
}

func (m *fakeModel) Predict(ctx context.Context, batch models.Batch) ([]models.Grid, error) {
	out := make([]models.Grid, batch.Size())
	for i := range out {
		out[i] = models.NewGrid(2, 2)
	}
	return out, nil
}

func (m *fakeModel) StateBytes() ([]byte, error) {
	return []byte(fmt.Sprintf("state-%d", m.valPass)), nil
}

func (m *fakeModel) LoadStateBytes(data []byte) error {
	m.loadedState = data
	return nil
}

type fakeOpt struct {
	steps     int
	lr        float64
	lrChanges []float64
}

func (o *fakeOpt) Step() error           { o.steps++; return nil }
func (o *fakeOpt) LearningRate() float64 { return o.lr }
func (o *fakeOpt) SetLearningRate(lr float64) {
	o.lr = lr
	o.lrChanges = append(o.lrChanges, lr)
}

// fakeStream yields a fixed number of batches then io.EOF.
type fakeStream struct {
	remaining int
	batchSize int
}

func (s *fakeStream) Next(ctx context.Context) (models.Batch, error) {
	if s.remaining == 0 {
		return models.Batch{}, io.EOF
	}
	s.remaining--
	batch := models.Batch{
		Images: make([]models.Image, s.batchSize),
		Masks:  make([]models.Grid, s.batchSize),
	}
	for i := range batch.Images {
		batch.Images[i] = models.Image{Channels: []models.Grid{models.NewGrid(2, 2)}}
		batch.Masks[i] = models.NewGrid(2, 2)
	}
	return batch, nil
}

type savedRecord struct {
	rec    checkpoint.Record
	isBest bool
}

type fakeStore struct {
	saves   []savedRecord
	saveErr error
	loadRec checkpoint.Record
	loadErr error
}

func (s *fakeStore) Save(rec checkpoint.Record, isBest bool, latestPath, bestPath string) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves = append(s.saves, savedRecord{rec: rec, isBest: isBest})
	return nil
}

func (s *fakeStore) Load(path string) (checkpoint.Record, error) {
	if s.loadErr != nil {
		return checkpoint.Record{}, s.loadErr
	}
	return s.loadRec, nil
}

type scalarCall struct {
	tag  string
	step int64
}

type fakeTracker struct {
	tracking.Nop
	scalars []scalarCall
	images  int
}

func (t *fakeTracker) Scalar(ctx context.Context, tag string, value float64, step int64) error {
	t.scalars = append(t.scalars, scalarCall{tag: tag, step: step})
	return nil
}

func (t *fakeTracker) Images(ctx context.Context, tag string, imgs []models.Grid, step int64) error {
	t.images++
	return nil
}

func testConfig(epochs int) *config.Config {
	return &config.Config{
		Arch:        "linknet34",
		Optimizer:   "adam",
		LR:          0.1,
		BatchSize:   4,
		Epochs:      epochs,
		Preset:      "mul_urban",
		ImageSize:   32,
		Seed:        42,
		ValFraction: 0.2,
		Workers:     1,
		RunTag:      "test_model",
		WeightsDir:  "weights",
		LogFreq:     10,

		SchedFactor:    0.1,
		SchedPatience:  4,
		SchedThreshold: 1e-3,
		MinLR:          1e-7,
	}
}

func testIndex(n int) models.Index {
	index := make(models.Index, n)
	for i := range index {
		index[i] = models.Item{
			ImagePath: fmt.Sprintf("img_%03d.tif", i),
			MaskPath:  fmt.Sprintf("mask_%03d.png", i),
			Stratum:   "vegas",
		}
	}
	return index
}

type fixture struct {
	model   *fakeModel
	opt     *fakeOpt
	store   *fakeStore
	tracker *fakeTracker
	batches int
}

func newOrchestrator(t *testing.T, cfg *config.Config, fx *fixture) *Orchestrator {
	t.Helper()

	if fx.batches == 0 {
		fx.batches = 1
	}
	streams := func(items []models.Item, epoch int, train bool) Stream {
		if !train {
			// Pass index advances when a validate pass begins so the
			// scripted loss for that pass is in place.
			if fx.model.evalForwards > 0 {
				fx.model.valPass++
			}
		}
		return &fakeStream{remaining: fx.batches, batchSize: 4}
	}

	orch, err := New(cfg, Deps{
		Model:   fx.model,
		Opt:     fx.opt,
		Streams: streams,
		Store:   fx.store,
		Tracker: fx.tracker,
		Index:   testIndex(20),
		Log:     zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return orch
}

func defaultFixture(valLosses ...float64) *fixture {
	return &fixture{
		model:   &fakeModel{valLosses: valLosses},
		opt:     &fakeOpt{lr: 0.1},
		store:   &fakeStore{},
		tracker: &fakeTracker{},
	}
}

func TestBestCheckpointSequence(t *testing.T) {
	fx := defaultFixture(0.5, 0.3, 0.4, 0.2)
	orch := newOrchestrator(t, testConfig(4), fx)

	if err := orch.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if len(fx.store.saves) != 4 {
		t.Fatalf("saved %d checkpoints, want 4", len(fx.store.saves))
	}

	wantBest := []bool{true, true, false, true}
	wantRunningBest := []float64{0.5, 0.3, 0.3, 0.2}
	for i, s := range fx.store.saves {
		if s.rec.EpochCompleted != i+1 {
			t.Errorf("save %d: EpochCompleted = %d, want %d", i, s.rec.EpochCompleted, i+1)
		}
		if s.isBest != wantBest[i] {
			t.Errorf("save %d: isBest = %v, want %v", i, s.isBest, wantBest[i])
		}
		if math.Abs(s.rec.BestValLoss-wantRunningBest[i]) > 1e-12 {
			t.Errorf("save %d: BestValLoss = %v, want %v", i, s.rec.BestValLoss, wantRunningBest[i])
		}
		if s.rec.Arch != "linknet34" {
			t.Errorf("save %d: Arch = %q", i, s.rec.Arch)
		}
	}
}

func TestResumeContinuity(t *testing.T) {
	// Interrupted after epoch 2's checkpoint of a 5-epoch run: the
	// resumed process trains epochs 3 and 4 only and never lowers the
	// recorded best retroactively.
	fx := defaultFixture(0.4, 0.4)
	fx.store.loadRec = checkpoint.Record{
		EpochCompleted: 3,
		Arch:           "linknet34",
		ModelState:     []byte("prior-weights"),
		BestValLoss:    0.3,
	}

	cfg := testConfig(5)
	cfg.Resume = "weights/test_model_checkpoint.ckpt.zst"
	orch := newOrchestrator(t, cfg, fx)

	if err := orch.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if string(fx.model.loadedState) != "prior-weights" {
		t.Errorf("model restored %q, want prior-weights", fx.model.loadedState)
	}
	if fx.model.trainForwards != 2 {
		t.Errorf("trained %d epochs, want 2 (epochs 3 and 4)", fx.model.trainForwards)
	}
	if len(fx.store.saves) != 2 {
		t.Fatalf("saved %d checkpoints, want 2", len(fx.store.saves))
	}
	for i, s := range fx.store.saves {
		if s.rec.EpochCompleted != i+4 {
			t.Errorf("save %d: EpochCompleted = %d, want %d", i, s.rec.EpochCompleted, i+4)
		}
		if s.isBest {
			t.Errorf("save %d marked best despite loss 0.4 vs restored best 0.3", i)
		}
		if s.rec.BestValLoss != 0.3 {
			t.Errorf("save %d: BestValLoss = %v, want preserved 0.3", i, s.rec.BestValLoss)
		}
	}
}

func TestResumeMissingCheckpointStartsFresh(t *testing.T) {
	fx := defaultFixture(0.5, 0.4, 0.3)
	fx.store.loadErr = fmt.Errorf("%w: no such file", checkpoint.ErrNotFound)

	cfg := testConfig(3)
	cfg.Resume = "weights/missing.ckpt.zst"
	orch := newOrchestrator(t, cfg, fx)

	if err := orch.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if fx.model.trainForwards != 3 {
		t.Errorf("trained %d epochs, want all 3 from scratch", fx.model.trainForwards)
	}
}

func TestResumeCorruptCheckpointIsFatal(t *testing.T) {
	fx := defaultFixture(0.5)
	fx.store.loadErr = fmt.Errorf("%w: bad payload", checkpoint.ErrCorrupt)

	cfg := testConfig(1)
	cfg.Resume = "weights/corrupt.ckpt.zst"
	orch := newOrchestrator(t, cfg, fx)

	err := orch.Run(context.Background())
	if !errors.Is(err, checkpoint.ErrCorrupt) {
		t.Fatalf("Run() error = %v, want ErrCorrupt", err)
	}
	if fx.model.trainForwards != 0 || len(fx.store.saves) != 0 {
		t.Error("run made progress despite corrupt resume target")
	}
}

func TestResumeArchMismatchIsFatal(t *testing.T) {
	fx := defaultFixture(0.5)
	fx.store.loadRec = checkpoint.Record{
		EpochCompleted: 1,
		Arch:           "unet11",
		BestValLoss:    0.5,
	}

	cfg := testConfig(2)
	cfg.Resume = "weights/other.ckpt.zst"
	orch := newOrchestrator(t, cfg, fx)

	if err := orch.Run(context.Background()); err == nil {
		t.Fatal("Run() accepted checkpoint from a different architecture")
	}
	if fx.model.loadedState != nil {
		t.Error("model state restored despite architecture mismatch")
	}
}

func TestConfigValidationFailsFast(t *testing.T) {
	cfg := testConfig(1)
	cfg.Arch = "not_a_real_model"

	_, err := New(cfg, Deps{Log: zerolog.Nop()})
	if !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("New() error = %v, want ErrInvalid", err)
	}
}

func TestEvaluateOnlyShortCircuits(t *testing.T) {
	fx := defaultFixture(0.5)
	cfg := testConfig(10)
	cfg.EvaluateOnly = true
	orch := newOrchestrator(t, cfg, fx)

	if err := orch.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if fx.model.trainForwards != 0 {
		t.Errorf("evaluate-only run trained %d batches", fx.model.trainForwards)
	}
	if fx.model.evalForwards != 1 {
		t.Errorf("evaluate-only run made %d eval forwards, want 1", fx.model.evalForwards)
	}
	if fx.opt.steps != 0 {
		t.Errorf("evaluate-only run stepped the optimizer %d times", fx.opt.steps)
	}
	if len(fx.store.saves) != 0 {
		t.Errorf("evaluate-only run saved %d checkpoints", len(fx.store.saves))
	}
}

func TestNoOptimizerStepDuringValidation(t *testing.T) {
	fx := defaultFixture(0.5, 0.4)
	fx.batches = 3
	orch := newOrchestrator(t, testConfig(2), fx)

	if err := orch.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if fx.opt.steps != fx.model.trainForwards {
		t.Errorf("optimizer stepped %d times for %d training forwards",
			fx.opt.steps, fx.model.trainForwards)
	}
}

func TestBatchComputeErrorAborts(t *testing.T) {
	fx := defaultFixture(0.5)
	fx.model.forwardErr = errors.New("device lost")
	orch := newOrchestrator(t, testConfig(1), fx)

	err := orch.Run(context.Background())
	var batchErr *BatchError
	if !errors.As(err, &batchErr) {
		t.Fatalf("Run() error = %v, want BatchError", err)
	}
	if batchErr.Mode != "train" || batchErr.Epoch != 0 {
		t.Errorf("BatchError names %s epoch %d, want train epoch 0", batchErr.Mode, batchErr.Epoch)
	}
	if len(fx.store.saves) != 0 {
		t.Error("checkpoint written for a failed epoch")
	}
}

func TestCheckpointWriteFailureAborts(t *testing.T) {
	fx := defaultFixture(0.5, 0.4)
	fx.store.saveErr = fmt.Errorf("%w: disk full", checkpoint.ErrWrite)
	orch := newOrchestrator(t, testConfig(2), fx)

	err := orch.Run(context.Background())
	if !errors.Is(err, checkpoint.ErrWrite) {
		t.Fatalf("Run() error = %v, want ErrWrite", err)
	}
	if fx.model.trainForwards != 1 {
		t.Errorf("run continued past the failed checkpoint: %d train passes", fx.model.trainForwards)
	}
}

func TestSchedulerReducesOptimizerRate(t *testing.T) {
	fx := defaultFixture(0.5, 0.5, 0.5)
	cfg := testConfig(3)
	cfg.SchedPatience = 0
	orch := newOrchestrator(t, cfg, fx)

	if err := orch.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	want := []float64{0.1 * 0.1, 0.1 * 0.1 * 0.1}
	if len(fx.opt.lrChanges) != len(want) {
		t.Fatalf("lr changes %v, want %v", fx.opt.lrChanges, want)
	}
	for i := range want {
		if math.Abs(fx.opt.lrChanges[i]-want[i]) > 1e-12 {
			t.Fatalf("lr changes %v, want %v", fx.opt.lrChanges, want)
		}
	}
}

func TestStepCountersMonotonicAcrossEpochs(t *testing.T) {
	fx := defaultFixture(0.5, 0.4)
	fx.batches = 25
	cfg := testConfig(2)
	cfg.TrackMetrics = true
	orch := newOrchestrator(t, cfg, fx)

	if err := orch.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	last := map[string]int64{}
	for _, call := range fx.tracker.scalars {
		if prev, ok := last[call.tag]; ok && call.step < prev {
			t.Fatalf("tag %s: step %d after %d", call.tag, call.step, prev)
		}
		last[call.tag] = call.step
	}

	if fx.tracker.images != 0 {
		t.Errorf("images shipped %d times with image tracking disabled", fx.tracker.images)
	}
}

func TestImagePreviewsOnlyWhenEnabled(t *testing.T) {
	fx := defaultFixture(0.5)
	fx.batches = 2
	cfg := testConfig(1)
	cfg.TrackImages = true
	orch := newOrchestrator(t, cfg, fx)

	if err := orch.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	// One validate pass, one cadence hit, three tags per hit.
	if fx.tracker.images != 3 {
		t.Errorf("images shipped %d times, want 3", fx.tracker.images)
	}
}
