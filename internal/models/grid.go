package models

// Grid is a single-channel 2D raster plane in row-major order.
type Grid struct {
	W, H int
	Pix  []float32
}

// NewGrid allocates a zeroed W x H plane.
func NewGrid(w, h int) Grid {
	return Grid{W: w, H: h, Pix: make([]float32, w*h)}
}

// At returns the value at (x, y). No bounds checking beyond the slice's own.
func (g Grid) At(x, y int) float32 {
	return g.Pix[y*g.W+x]
}

// Set writes the value at (x, y).
func (g Grid) Set(x, y int, v float32) {
	g.Pix[y*g.W+x] = v
}

// Image is a multi-channel raster: one Grid per input channel, all the
// same shape.
type Image struct {
	Channels []Grid
}

// Batch is one group of items handed to the compute collaborator.
// Masks[i] is the ground truth for Images[i]. The final batch of a
// pass may be smaller than the configured batch size.
type Batch struct {
	Images []Image
	Masks  []Grid
}

// Size reports the number of items in the batch.
func (b Batch) Size() int {
	return len(b.Images)
}
