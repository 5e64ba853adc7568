package audio

// VAD detects the end of an utterance from per-frame RMS energy. A frame
// whose energy exceeds the threshold counts as speech; once speech has been
// heard, a run of quietLimit consecutive quiet frames marks the utterance
// finished.
type VAD struct {
	threshold  float64
	quietLimit int

	speaking bool
	quiet    int
}

// NewVAD creates a detector. threshold is the RMS energy above which a frame
// counts as speech; quietLimit is the number of consecutive quiet frames
// that end an utterance.
func NewVAD(threshold float64, quietLimit int) *VAD {
	return &VAD{threshold: threshold, quietLimit: quietLimit}
}

// Observe feeds one frame of samples. It returns true exactly once per
// utterance, on the frame whose trailing silence run completes. Quiet
// frames before any speech never end an utterance.
func (v *VAD) Observe(samples []int16) bool {
	if CalculateRMS(samples) > v.threshold {
		v.speaking = true
		v.quiet = 0
		return false
	}
	if !v.speaking {
		return false
	}
	v.quiet++
	if v.quiet >= v.quietLimit {
		v.speaking = false
		v.quiet = 0
		return true
	}
	return false
}

// Speaking reports whether an utterance is in progress
func (v *VAD) Speaking() bool {
	return v.speaking
}

// Reset clears detector state for a new capture
func (v *VAD) Reset() {
	v.speaking = false
	v.quiet = 0
}
