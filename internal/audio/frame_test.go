package audio

import (
	"testing"
)

func frameWithByte(b byte) Frame {
	return Frame{Data: []byte{b, 0}, SampleRate: 16000}
}

func TestFrameBuffer_PushAndDrain(t *testing.T) {
	fb := NewFrameBuffer(5)

	for i := 0; i < 3; i++ {
		fb.Push(frameWithByte(byte(i)))
	}
	if fb.Len() != 3 {
		t.Errorf("Expected 3 buffered frames, got %d", fb.Len())
	}

	frames := fb.Drain()
	if len(frames) != 3 {
		t.Fatalf("Expected to drain 3 frames, got %d", len(frames))
	}
	for i, f := range frames {
		if f.Data[0] != byte(i) {
			t.Errorf("Expected frame %d first byte %d, got %d", i, i, f.Data[0])
		}
	}
	if fb.Len() != 0 {
		t.Errorf("Expected empty buffer after drain, got %d", fb.Len())
	}
}

func TestFrameBuffer_CapDropsOldest(t *testing.T) {
	fb := NewFrameBuffer(25)

	// Push well past the cap; Push must report exactly the overflowing pushes
	drops := 0
	for i := 0; i < 40; i++ {
		if fb.Push(frameWithByte(byte(i))) {
			drops++
		}
	}
	if drops != 15 {
		t.Errorf("Expected Push to report 15 drops, got %d", drops)
	}

	if fb.Len() != 25 {
		t.Errorf("Expected buffer capped at 25 frames, got %d", fb.Len())
	}
	if fb.Dropped() != 15 {
		t.Errorf("Expected 15 dropped frames, got %d", fb.Dropped())
	}

	// Exactly the oldest excess frames must be dropped, never the newest
	frames := fb.Drain()
	if frames[0].Data[0] != 15 {
		t.Errorf("Expected oldest surviving frame to be 15, got %d", frames[0].Data[0])
	}
	if frames[len(frames)-1].Data[0] != 39 {
		t.Errorf("Expected newest frame to be 39, got %d", frames[len(frames)-1].Data[0])
	}
}

func TestFrameBuffer_NeverExceedsCap(t *testing.T) {
	fb := NewFrameBuffer(4)

	for i := 0; i < 100; i++ {
		fb.Push(frameWithByte(byte(i)))
		if fb.Len() > 4 {
			t.Fatalf("Buffer exceeded cap after push %d: len %d", i, fb.Len())
		}
	}
}

func TestFrameBuffer_RequeuePreservesOrder(t *testing.T) {
	fb := NewFrameBuffer(10)

	for i := 0; i < 6; i++ {
		fb.Push(frameWithByte(byte(i)))
	}
	drained := fb.Drain()

	// Flush accepted frames 0 and 1, remote rejected the rest
	tail := drained[2:]
	fb.Requeue(tail)

	// New frames arrive after the requeue
	fb.Push(frameWithByte(100))

	frames := fb.Drain()
	expected := []byte{2, 3, 4, 5, 100}
	if len(frames) != len(expected) {
		t.Fatalf("Expected %d frames, got %d", len(expected), len(frames))
	}
	for i, want := range expected {
		if frames[i].Data[0] != want {
			t.Errorf("Expected frame %d first byte %d, got %d", i, want, frames[i].Data[0])
		}
	}
}

func TestFrameBuffer_RequeueRespectsCap(t *testing.T) {
	fb := NewFrameBuffer(3)

	fb.Push(frameWithByte(10))
	fb.Push(frameWithByte(11))

	tail := []Frame{frameWithByte(1), frameWithByte(2), frameWithByte(3)}
	fb.Requeue(tail)

	if fb.Len() != 3 {
		t.Errorf("Expected buffer capped at 3 after requeue, got %d", fb.Len())
	}
	frames := fb.Drain()
	// Oldest (requeued head) dropped first
	expected := []byte{3, 10, 11}
	for i, want := range expected {
		if frames[i].Data[0] != want {
			t.Errorf("Expected frame %d first byte %d, got %d", i, want, frames[i].Data[0])
		}
	}
}

func TestFrameBuffer_Clear(t *testing.T) {
	fb := NewFrameBuffer(5)
	fb.Push(frameWithByte(1))
	fb.Clear()
	if fb.Len() != 0 {
		t.Errorf("Expected empty buffer after clear, got %d", fb.Len())
	}
}

func TestFrame_Samples(t *testing.T) {
	f := Frame{Data: make([]byte, 640), SampleRate: 16000}
	if f.Samples() != 320 {
		t.Errorf("Expected 320 samples, got %d", f.Samples())
	}
}
