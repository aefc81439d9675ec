// Package analyser reduces a live PCM stream to byte frequency snapshots, the
// same representation a browser AnalyserNode exposes through
// getByteFrequencyData.
//
// Every snapshot windows the most recent FFT-size samples with a Blackman
// window and runs a real FFT. The magnitudes are smoothed against the
// previous snapshot and converted to decibels. The result is mapped linearly
// from [MinDecibels, MaxDecibels] onto 0–255.
package analyser

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

const (
	DefaultFFTSize     = 2048
	DefaultSmoothing   = 0.8
	DefaultMinDecibels = -100.0
	DefaultMaxDecibels = -30.0
)

// Option configures an [Analyser].
type Option func(*Analyser)

// WithFFTSize sets the transform size. Non-power-of-two or tiny values are
// ignored.
func WithFFTSize(n int) Option {
	return func(a *Analyser) {
		if n >= 32 && n&(n-1) == 0 {
			a.size = n
		}
	}
}

// WithSmoothing sets the time constant (0 = no smoothing, <1).
func WithSmoothing(tau float64) Option {
	return func(a *Analyser) {
		if tau >= 0 && tau < 1 {
			a.smoothing = tau
		}
	}
}

// WithDecibelRange sets the dB range mapped onto 0–255.
func WithDecibelRange(minDb, maxDb float64) Option {
	return func(a *Analyser) {
		if minDb < maxDb {
			a.minDb, a.maxDb = minDb, maxDb
		}
	}
}

// Analyser holds a sliding window of time-domain samples.
//
// An Analyser is not safe for concurrent use.
type Analyser struct {
	size      int
	smoothing float64
	minDb     float64
	maxDb     float64

	fft      *fourier.FFT
	td       []float64 // most recent size samples, oldest first
	scratch  []float64
	coeffs   []complex128
	smoothed []float64
}

// New returns an Analyser with browser-compatible defaults.
func New(opts ...Option) *Analyser {
	a := &Analyser{
		size:      DefaultFFTSize,
		smoothing: DefaultSmoothing,
		minDb:     DefaultMinDecibels,
		maxDb:     DefaultMaxDecibels,
	}
	for _, o := range opts {
		o(a)
	}
	a.fft = fourier.NewFFT(a.size)
	a.td = make([]float64, a.size)
	a.scratch = make([]float64, a.size)
	a.coeffs = make([]complex128, a.size/2+1)
	a.smoothed = make([]float64, a.size/2)
	return a
}

// BinCount returns the number of frequency bins in a snapshot (FFT size / 2).
func (a *Analyser) BinCount() int { return a.size / 2 }

// Write appends normalised samples ([-1, 1]) to the time-domain window.
func (a *Analyser) Write(samples []float32) {
	n := len(samples)
	if n == 0 {
		return
	}
	if n >= a.size {
		samples = samples[n-a.size:]
		for i, v := range samples {
			a.td[i] = float64(v)
		}
		return
	}
	copy(a.td, a.td[n:])
	tail := a.td[a.size-n:]
	for i, v := range samples {
		tail[i] = float64(v)
	}
}

// ByteFrequencyData computes a snapshot into dst (grown if needed) and returns
// it. Each call advances the smoothing state, as in the browser.
func (a *Analyser) ByteFrequencyData(dst []byte) []byte {
	bins := a.BinCount()
	if cap(dst) < bins {
		dst = make([]byte, bins)
	}
	dst = dst[:bins]

	copy(a.scratch, a.td)
	window.Blackman(a.scratch)
	a.coeffs = a.fft.Coefficients(a.coeffs, a.scratch)

	scale := 255 / (a.maxDb - a.minDb)
	for k := range bins {
		mag := cmplxAbs(a.coeffs[k]) / float64(a.size)
		s := a.smoothing*a.smoothed[k] + (1-a.smoothing)*mag
		if math.IsNaN(s) || math.IsInf(s, 0) {
			s = 0
		}
		a.smoothed[k] = s

		db := math.Inf(-1)
		if s > 0 {
			db = 20 * math.Log10(s)
		}
		v := math.Floor(scale * (db - a.minDb))
		switch {
		case math.IsInf(v, -1) || v < 0:
			dst[k] = 0
		case v > 255:
			dst[k] = 255
		default:
			dst[k] = byte(v)
		}
	}
	return dst
}

// Reset clears the time-domain window and the smoothing state.
func (a *Analyser) Reset() {
	clear(a.td)
	clear(a.smoothed)
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}
