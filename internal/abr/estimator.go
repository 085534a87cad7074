// Package abr holds the adaptive bitrate policy: a throughput estimator over
// recent segment transfers and a nearest-bandwidth track selector.
package abr

import "math"

// DefaultWindowSize is the number of recent segments the estimate averages.
const DefaultWindowSize = 3

// Estimator keeps the last windowSize per-segment transfer rates in a ring
// indexed by segment number. It is owned by a single fetch loop and is not
// safe for concurrent use.
type Estimator struct {
	samples   []float64
	filled    []bool
	populated int
}

// NewEstimator creates an estimator. A non-positive windowSize uses DefaultWindowSize.
func NewEstimator(windowSize int) *Estimator {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Estimator{
		samples: make([]float64, windowSize),
		filled:  make([]bool, windowSize),
	}
}

// WindowSize returns the ring capacity.
func (e *Estimator) WindowSize() int {
	return len(e.samples)
}

// Record stores kbps into slot segmentIndex mod window, overwriting whatever
// an older segment left there. NaN, infinite and negative rates are rejected
// so they can never reach the average.
func (e *Estimator) Record(kbps float64, segmentIndex int) bool {
	if math.IsNaN(kbps) || math.IsInf(kbps, 0) || kbps < 0 || segmentIndex < 0 {
		return false
	}
	slot := segmentIndex % len(e.samples)
	e.samples[slot] = kbps
	if !e.filled[slot] {
		e.filled[slot] = true
		e.populated++
	}
	return true
}

// Populated returns how many slots hold a sample.
func (e *Estimator) Populated() int {
	return e.populated
}

// Estimate returns the mean of the populated slots, or 0 before any sample.
func (e *Estimator) Estimate() float64 {
	if e.populated == 0 {
		return 0
	}
	var total float64
	for i, ok := range e.filled {
		if ok {
			total += e.samples[i]
		}
	}
	return total / float64(e.populated)
}

// Reset forgets every sample.
func (e *Estimator) Reset() {
	for i := range e.samples {
		e.samples[i] = 0
		e.filled[i] = false
	}
	e.populated = 0
}
