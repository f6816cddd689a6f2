// Package compute is the in-process compute collaborator: it owns model
// parameters, forward/loss evaluation, gradient accumulation, and the
// optimizers that apply parameter updates. The orchestration core only
// sequences calls into it.
package compute

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/avoskres/satseg/internal/models"
)

// Model is a per-pixel logistic scorer over a small feature stack. The
// two architecture ids select the feature set: unet11 scores the raw
// channel values, linknet34 adds horizontal and vertical gradient
// features of the channel mean.
type Model struct {
	arch     string
	channels int
	edges    bool

	weights []float64
	bias    float64

	training bool
	gradW    []float64
	gradB    float64
}

type modelState struct {
	Arch     string    `json:"arch"`
	Channels int       `json:"channels"`
	Weights  []float64 `json:"weights"`
	Bias     float64   `json:"bias"`
}

// NewModel builds the backend for a validated architecture id.
func NewModel(arch string, channels int) (*Model, error) {
	edges := false
	switch arch {
	case "unet11":
	case "linknet34":
		edges = true
	default:
		return nil, fmt.Errorf("unsupported architecture %q", arch)
	}

	m := &Model{
		arch:     arch,
		channels: channels,
		edges:    edges,
	}
	m.weights = make([]float64, m.featureCount())
	m.gradW = make([]float64, m.featureCount())
	return m, nil
}

func (m *Model) featureCount() int {
	if m.edges {
		return m.channels + 2
	}
	return m.channels
}

// Arch returns the architecture id this model was built for.
func (m *Model) Arch() string {
	return m.arch
}

// Train switches to learning mode: Forward accumulates gradients.
func (m *Model) Train() {
	m.training = true
}

// Eval switches to inference mode: Forward computes loss only.
func (m *Model) Eval() {
	m.training = false
}

// Forward runs the batch through the scorer and returns the mean
// binary cross-entropy against the masks. In training mode it also
// leaves the batch's parameter gradients behind for the optimizer.
func (m *Model) Forward(ctx context.Context, batch models.Batch) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if batch.Size() == 0 {
		return 0, fmt.Errorf("empty batch")
	}

	for i := range m.gradW {
		m.gradW[i] = 0
	}
	m.gradB = 0

	var loss float64
	var pixels float64
	for i, img := range batch.Images {
		feats, err := m.features(img)
		if err != nil {
			return 0, err
		}
		mask := batch.Masks[i]
		for p := 0; p < len(mask.Pix); p++ {
			pred := m.score(feats, p)
			y := float64(mask.Pix[p])
			loss += bce(pred, y)
			if m.training {
				d := pred - y
				for f := range feats {
					m.gradW[f] += d * float64(feats[f].Pix[p])
				}
				m.gradB += d
			}
			pixels++
		}
	}

	if m.training {
		for f := range m.gradW {
			m.gradW[f] /= pixels
		}
		m.gradB /= pixels
	}
	return loss / pixels, nil
}

// Predict returns per-image predicted masks for presentation. Never
// touches gradients or mode.
func (m *Model) Predict(ctx context.Context, batch models.Batch) ([]models.Grid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]models.Grid, batch.Size())
	for i, img := range batch.Images {
		feats, err := m.features(img)
		if err != nil {
			return nil, err
		}
		w, h := feats[0].W, feats[0].H
		pred := models.NewGrid(w, h)
		for p := 0; p < len(pred.Pix); p++ {
			pred.Pix[p] = float32(m.score(feats, p))
		}
		out[i] = pred
	}
	return out, nil
}

// StateBytes serializes the parameters into the opaque checkpoint blob.
func (m *Model) StateBytes() ([]byte, error) {
	w := make([]float64, len(m.weights))
	copy(w, m.weights)
	return json.Marshal(modelState{
		Arch:     m.arch,
		Channels: m.channels,
		Weights:  w,
		Bias:     m.bias,
	})
}

// LoadStateBytes restores parameters from a checkpoint blob.
func (m *Model) LoadStateBytes(data []byte) error {
	var st modelState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("failed to decode model state: %w", err)
	}
	if st.Arch != m.arch {
		return fmt.Errorf("model state is for architecture %q, want %q", st.Arch, m.arch)
	}
	if len(st.Weights) != len(m.weights) {
		return fmt.Errorf("model state has %d weights, want %d", len(st.Weights), len(m.weights))
	}
	copy(m.weights, st.Weights)
	m.bias = st.Bias
	return nil
}

func (m *Model) score(feats []models.Grid, p int) float64 {
	z := m.bias
	for f := range feats {
		z += m.weights[f] * float64(feats[f].Pix[p])
	}
	return sigmoid(z)
}

func (m *Model) features(img models.Image) ([]models.Grid, error) {
	if len(img.Channels) != m.channels {
		return nil, fmt.Errorf("image has %d channels, model wants %d", len(img.Channels), m.channels)
	}
	feats := img.Channels
	if m.edges {
		mean := channelMean(img.Channels)
		gx, gy := gradients(mean)
		feats = append(append([]models.Grid{}, img.Channels...), gx, gy)
	}
	return feats, nil
}

func channelMean(channels []models.Grid) models.Grid {
	w, h := channels[0].W, channels[0].H
	mean := models.NewGrid(w, h)
	for _, ch := range channels {
		for p := range mean.Pix {
			mean.Pix[p] += ch.Pix[p]
		}
	}
	inv := float32(1) / float32(len(channels))
	for p := range mean.Pix {
		mean.Pix[p] *= inv
	}
	return mean
}

// gradients returns forward-difference edge planes of a single channel.
func gradients(g models.Grid) (models.Grid, models.Grid) {
	gx := models.NewGrid(g.W, g.H)
	gy := models.NewGrid(g.W, g.H)
	for y := 0; y < g.H; y++ {
		for x := 0; x < g.W; x++ {
			if x+1 < g.W {
				gx.Set(x, y, g.At(x+1, y)-g.At(x, y))
			}
			if y+1 < g.H {
				gy.Set(x, y, g.At(x, y+1)-g.At(x, y))
			}
		}
	}
	return gx, gy
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

// bce is binary cross-entropy with clamping away from log(0).
func bce(pred, y float64) float64 {
	const eps = 1e-7
	if pred < eps {
		pred = eps
	}
	if pred > 1-eps {
		pred = 1 - eps
	}
	return -(y*math.Log(pred) + (1-y)*math.Log(1-pred))
}
