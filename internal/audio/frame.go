package audio

import (
	"sync"
)

// Frame is a fixed-size chunk of linear PCM samples produced by the capture
// path: mono, 16-bit signed little-endian at the input sample rate.
// A frame is immutable once produced and consumed exactly once, by either
// the live send path or the pre-ready buffer.
type Frame struct {
	Data       []byte // 16-bit signed little-endian mono PCM
	SampleRate int    // Sample rate in Hz (16000 for capture)
}

// Samples returns the number of PCM samples in the frame
func (f Frame) Samples() int {
	return len(f.Data) / 2
}

// FrameBuffer is a bounded FIFO buffer for audio frames captured before the
// session is ready to accept them. When the cap is exceeded the oldest
// frames are dropped; the buffer never grows without bound.
type FrameBuffer struct {
	mu      sync.Mutex
	frames  []Frame
	cap     int
	dropped int
}

// NewFrameBuffer creates a frame buffer holding at most capacity frames
func NewFrameBuffer(capacity int) *FrameBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &FrameBuffer{cap: capacity}
}

// Push appends a frame, dropping the oldest frame if the buffer is at cap.
// It reports whether a frame was dropped.
func (b *FrameBuffer) Push(f Frame) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.frames = append(b.frames, f)
	if len(b.frames) > b.cap {
		over := len(b.frames) - b.cap
		b.frames = b.frames[over:]
		b.dropped += over
		return true
	}
	return false
}

// Drain removes and returns all buffered frames in original push order
func (b *FrameBuffer) Drain() []Frame {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.frames
	b.frames = nil
	return out
}

// Requeue puts frames back at the front of the buffer, preserving their
// order. Used when a flush is rejected mid-way: the unflushed tail must not
// be lost, and must stay older than anything pushed since the drain.
func (b *FrameBuffer) Requeue(frames []Frame) {
	if len(frames) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	combined := make([]Frame, 0, len(frames)+len(b.frames))
	combined = append(combined, frames...)
	combined = append(combined, b.frames...)
	if len(combined) > b.cap {
		over := len(combined) - b.cap
		combined = combined[over:]
		b.dropped += over
	}
	b.frames = combined
}

// Len returns the number of buffered frames
func (b *FrameBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

// Dropped returns the total number of frames dropped since creation
func (b *FrameBuffer) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Clear discards all buffered frames
func (b *FrameBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = nil
}
