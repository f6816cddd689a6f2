// Package metrics tracks running statistics over a stream of batches.
package metrics

// Meter accumulates a weighted running mean of a scalar signal.
// Weights are batch item counts, so the epoch mean stays correct when
// the final batch of a pass comes up short.
type Meter struct {
	Val   float64
	Sum   float64
	Count float64
}

// Reset clears all state. A fresh meter reports Mean() == 0.
func (m *Meter) Reset() {
	m.Val = 0
	m.Sum = 0
	m.Count = 0
}

// Update records one observation with the given weight.
func (m *Meter) Update(val float64, n int) {
	m.Val = val
	m.Sum += val * float64(n)
	m.Count += float64(n)
}

// Mean returns the weighted running average, 0 if nothing was recorded.
func (m *Meter) Mean() float64 {
	if m.Count == 0 {
		return 0
	}
	return m.Sum / m.Count
}
