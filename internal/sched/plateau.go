// Package sched adapts the learning rate to validation-metric plateaus.
package sched

// Plateau reduces the learning rate when the monitored value stops
// improving. Minimize mode: a value improves on the best seen when it
// is lower by more than Threshold. After Patience consecutive
// non-improving steps the rate is multiplied by Factor (clamped at
// MinLR) and staleness is not counted for Cooldown steps.
type Plateau struct {
	Factor    float64
	Patience  int
	Threshold float64
	Cooldown  int
	MinLR     float64

	lr           float64
	best         float64
	numBad       int
	cooldownLeft int
	primed       bool
}

// NewPlateau returns a controller starting from lr.
func NewPlateau(lr, factor float64, patience int, threshold float64, cooldown int, minLR float64) *Plateau {
	return &Plateau{
		Factor:    factor,
		Patience:  patience,
		Threshold: threshold,
		Cooldown:  cooldown,
		MinLR:     minLR,
		lr:        lr,
	}
}

// LR returns the current learning rate.
func (p *Plateau) LR() float64 {
	return p.lr
}

// Best returns the best monitored value seen so far.
func (p *Plateau) Best() float64 {
	return p.best
}

// Step feeds one epoch's monitored value into the controller and
// reports whether the learning rate was reduced, along with the rate
// now in effect. Called exactly once per epoch.
func (p *Plateau) Step(value float64) (bool, float64) {
	if !p.primed || p.best-value > p.Threshold {
		p.best = value
		p.primed = true
		p.numBad = 0
	} else {
		p.numBad++
	}

	// Cooldown elapses with every step and masks staleness while active.
	if p.cooldownLeft > 0 {
		p.cooldownLeft--
		p.numBad = 0
	}

	if p.numBad > p.Patience {
		p.numBad = 0
		p.cooldownLeft = p.Cooldown
		next := p.lr * p.Factor
		if next < p.MinLR {
			next = p.MinLR
		}
		if next < p.lr {
			p.lr = next
			return true, p.lr
		}
	}
	return false, p.lr
}
