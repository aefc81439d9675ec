package acoustic

// WaveformBars is the number of bars produced by [Sampler.Waveform].
const WaveformBars = 50

// FrequencySource yields byte frequency snapshots (one 0–255 magnitude per
// bin). *analyser.Analyser satisfies it.
type FrequencySource interface {
	ByteFrequencyData(dst []byte) []byte
}

// Sampler reduces frequency snapshots to loudness readings.
//
// Sample feeds the scoring path: it appends the mean bin magnitude to the
// history. Waveform is cosmetic and never touches the history. With no source
// attached both calls do nothing.
//
// A Sampler is not safe for concurrent use; the session event loop owns it.
type Sampler struct {
	src     FrequencySource
	history *History
	buf     []byte
}

// NewSampler returns a Sampler appending to history.
func NewSampler(history *History) *Sampler {
	return &Sampler{history: history}
}

// Attach sets the frequency source. Passing nil detaches it.
func (s *Sampler) Attach(src FrequencySource) {
	s.src = src
}

// Attached reports whether a source is set.
func (s *Sampler) Attached() bool { return s.src != nil }

// Sample takes one loudness reading and appends it to the history. It returns
// the reading and false when no source is attached.
func (s *Sampler) Sample() (float64, bool) {
	if s.src == nil || s.history == nil {
		return 0, false
	}
	s.buf = s.src.ByteFrequencyData(s.buf)
	if len(s.buf) == 0 {
		return 0, false
	}
	var sum int
	for _, v := range s.buf {
		sum += int(v)
	}
	loudness := float64(sum) / float64(len(s.buf))
	s.history.Push(loudness)
	return loudness, true
}

// Waveform returns [WaveformBars] values in [0, 1], each the mean of an equal
// run of bins divided by 255. It returns nil when no source is attached or the
// snapshot has fewer bins than bars.
func (s *Sampler) Waveform() []float64 {
	if s.src == nil {
		return nil
	}
	s.buf = s.src.ByteFrequencyData(s.buf)
	per := len(s.buf) / WaveformBars
	if per == 0 {
		return nil
	}
	bars := make([]float64, WaveformBars)
	for i := range bars {
		var sum int
		for _, v := range s.buf[i*per : (i+1)*per] {
			sum += int(v)
		}
		bars[i] = float64(sum) / float64(per) / 255
	}
	return bars
}
