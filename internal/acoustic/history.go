// Package acoustic holds the live measurement side of a recording take: the
// loudness sampler, the bounded loudness history, the transcript reducer and
// the estimator that turns them into [Metrics] when the take stops.
//
// Nothing in this package returns errors. Degenerate input (no analyser, empty
// history, empty transcript, near-zero duration) resolves to documented
// defaults.
package acoustic

import "math"

// HistoryCapacity is the maximum number of loudness samples kept per take.
const HistoryCapacity = 500

// History is a fixed-capacity FIFO of loudness samples. Pushing past capacity
// evicts the oldest sample. The zero value is ready to use with
// [HistoryCapacity].
type History struct {
	buf   []float64
	start int
	n     int
	size  int
}

// NewHistory returns a History holding at most capacity samples. A capacity
// <= 0 selects [HistoryCapacity].
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = HistoryCapacity
	}
	return &History{size: capacity}
}

// Push appends v, evicting the oldest sample when full.
func (h *History) Push(v float64) {
	if h.size == 0 {
		h.size = HistoryCapacity
	}
	if h.buf == nil {
		h.buf = make([]float64, h.size)
	}
	if h.n < h.size {
		h.buf[(h.start+h.n)%h.size] = v
		h.n++
		return
	}
	h.buf[h.start] = v
	h.start = (h.start + 1) % h.size
}

// Len returns the number of stored samples.
func (h *History) Len() int { return h.n }

// Values returns a copy of the samples, oldest first.
func (h *History) Values() []float64 {
	out := make([]float64, h.n)
	for i := range h.n {
		out[i] = h.buf[(h.start+i)%h.size]
	}
	return out
}

// Reset empties the history.
func (h *History) Reset() {
	h.start, h.n = 0, 0
}

// Mean returns the arithmetic mean of values, ignoring NaN and ±Inf. It
// returns 0 for an empty (or entirely non-finite) input.
func Mean(values []float64) float64 {
	var sum float64
	var n int
	for _, v := range values {
		if !finite(v) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// StdDev returns the population standard deviation of the finite values.
func StdDev(values []float64) float64 {
	mean := Mean(values)
	var acc float64
	var n int
	for _, v := range values {
		if !finite(v) {
			continue
		}
		d := v - mean
		acc += d * d
		n++
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(acc / float64(n))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
