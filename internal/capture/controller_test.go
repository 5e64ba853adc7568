package capture

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Socialeap/project-watch-dashboard/internal/audio"
)

// fakeClock records sleeps without waiting
type fakeClock struct {
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time        { return time.Unix(1700000000, 0) }
func (c *fakeClock) Sleep(d time.Duration) { c.sleeps = append(c.sleeps, d) }

// fakeStream is an in-memory capture stream
type fakeStream struct {
	frames  chan audio.Frame
	stopped int
}

func newFakeStream() *fakeStream {
	return &fakeStream{frames: make(chan audio.Frame, 16)}
}

func (s *fakeStream) Frames() <-chan audio.Frame { return s.frames }
func (s *fakeStream) MimeType() string           { return "audio/webm;codecs=opus" }

func (s *fakeStream) Stop() error {
	s.stopped++
	if s.stopped == 1 {
		close(s.frames)
	}
	return nil
}

// fakeDevice scripts Acquire outcomes
type fakeDevice struct {
	errs     []error // error per acquire attempt; nil = success
	attempts int
	streams  []*fakeStream
	inputs   []string
	inputErr error
}

func (d *fakeDevice) Acquire(ctx context.Context) (Stream, error) {
	var err error
	if d.attempts < len(d.errs) {
		err = d.errs[d.attempts]
	}
	d.attempts++
	if err != nil {
		return nil, err
	}
	s := newFakeStream()
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *fakeDevice) Inputs(ctx context.Context) ([]string, error) {
	return d.inputs, d.inputErr
}

func newTestController(dev Device, clock *fakeClock) *Controller {
	return NewController(dev, clock, 450*time.Millisecond, zerolog.Nop())
}

func TestRequestPermission_Granted(t *testing.T) {
	dev := &fakeDevice{}
	c := newTestController(dev, &fakeClock{})

	state := c.RequestPermission(context.Background())
	if state != PermissionGranted {
		t.Errorf("Expected granted, got %s", state)
	}
	if dev.attempts != 1 {
		t.Errorf("Expected 1 acquire attempt, got %d", dev.attempts)
	}
	// Probe stream must have been released
	if dev.streams[0].stopped == 0 {
		t.Error("Expected probe stream track to be released")
	}
}

func TestRequestPermission_TransientDenialRecovers(t *testing.T) {
	dev := &fakeDevice{errs: []error{ErrPermissionDenied, nil}}
	clock := &fakeClock{}
	c := newTestController(dev, clock)

	state := c.RequestPermission(context.Background())
	if state != PermissionGranted {
		t.Errorf("Expected granted after retry, got %s", state)
	}
	if dev.attempts != 2 {
		t.Errorf("Expected 2 acquire attempts, got %d", dev.attempts)
	}
	if len(clock.sleeps) != 1 || clock.sleeps[0] != 450*time.Millisecond {
		t.Errorf("Expected a single 450ms delay before the re-attempt, got %v", clock.sleeps)
	}
}

func TestRequestPermission_DeniedTwiceBecomesBlocked(t *testing.T) {
	dev := &fakeDevice{errs: []error{ErrPermissionDenied, ErrPermissionDenied}}
	c := newTestController(dev, &fakeClock{})

	state := c.RequestPermission(context.Background())
	if state != PermissionBlocked {
		t.Errorf("Expected blocked after two denials, got %s", state)
	}
	// Exactly one retry, never more
	if dev.attempts != 2 {
		t.Errorf("Expected 2 acquire attempts, got %d", dev.attempts)
	}
	if c.Permission() != PermissionBlocked {
		t.Errorf("Expected tracked state blocked, got %s", c.Permission())
	}
}

func TestRequestPermission_HardFailureIsError(t *testing.T) {
	dev := &fakeDevice{errs: []error{errors.New("device exploded")}}
	c := newTestController(dev, &fakeClock{})

	state := c.RequestPermission(context.Background())
	if state != PermissionError {
		t.Errorf("Expected error state, got %s", state)
	}
	// Hard failures are not retried
	if dev.attempts != 1 {
		t.Errorf("Expected 1 acquire attempt for hard failure, got %d", dev.attempts)
	}
}

func TestCheckWithoutPrompt(t *testing.T) {
	dev := &fakeDevice{inputs: []string{"default-mic"}}
	c := newTestController(dev, &fakeClock{})

	if state := c.CheckWithoutPrompt(context.Background()); state != PermissionGranted {
		t.Errorf("Expected granted with available inputs, got %s", state)
	}

	dev.inputs = nil
	if state := c.CheckWithoutPrompt(context.Background()); state != PermissionBlocked {
		t.Errorf("Expected blocked with no inputs, got %s", state)
	}

	dev.inputErr = errors.New("enumeration failed")
	if state := c.CheckWithoutPrompt(context.Background()); state != PermissionError {
		t.Errorf("Expected error state on enumeration failure, got %s", state)
	}
}

func TestStartCapture_TurnBasedRecording(t *testing.T) {
	dev := &fakeDevice{}
	c := newTestController(dev, &fakeClock{})

	if err := c.StartCapture(context.Background(), ModeTurnBased); err != nil {
		t.Fatalf("StartCapture failed: %v", err)
	}

	stream := dev.streams[0]
	stream.frames <- audio.Frame{Data: []byte{1, 2}, SampleRate: 16000}
	stream.frames <- audio.Frame{Data: []byte{3, 4}, SampleRate: 16000}

	rec, err := c.StopCapture()
	if err != nil {
		t.Fatalf("StopCapture failed: %v", err)
	}
	if rec == nil {
		t.Fatal("Expected a recording from turn-based capture")
	}
	if len(rec.Data) != 4 {
		t.Errorf("Expected 4 bytes of recording, got %d", len(rec.Data))
	}
	if rec.MimeType != "audio/webm;codecs=opus" {
		t.Errorf("Expected stream mime type on recording, got %q", rec.MimeType)
	}
	if stream.stopped == 0 {
		t.Error("Expected device track to be released on stop")
	}
}

func TestStartCapture_ContinuousFrames(t *testing.T) {
	dev := &fakeDevice{}
	c := newTestController(dev, &fakeClock{})

	if err := c.StartCapture(context.Background(), ModeContinuous); err != nil {
		t.Fatalf("StartCapture failed: %v", err)
	}

	stream := dev.streams[0]
	stream.frames <- audio.Frame{Data: []byte{9, 9}, SampleRate: 16000}

	select {
	case f := <-c.Frames():
		if f.Data[0] != 9 {
			t.Errorf("Expected forwarded frame, got %v", f.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for forwarded frame")
	}

	rec, err := c.StopCapture()
	if err != nil {
		t.Fatalf("StopCapture failed: %v", err)
	}
	if rec != nil {
		t.Error("Continuous mode must not produce a recording")
	}
	if stream.stopped == 0 {
		t.Error("Expected device track to be released on stop")
	}
}

func TestStartCapture_Reentrant(t *testing.T) {
	dev := &fakeDevice{}
	c := newTestController(dev, &fakeClock{})

	if err := c.StartCapture(context.Background(), ModeTurnBased); err != nil {
		t.Fatalf("StartCapture failed: %v", err)
	}
	if err := c.StartCapture(context.Background(), ModeTurnBased); !errors.Is(err, ErrAlreadyCapturing) {
		t.Errorf("Expected ErrAlreadyCapturing, got %v", err)
	}
	c.Teardown()
}

func TestStartCapture_DeviceUnavailable(t *testing.T) {
	dev := &fakeDevice{errs: []error{errors.New("no device")}}
	c := newTestController(dev, &fakeClock{})

	err := c.StartCapture(context.Background(), ModeContinuous)
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Expected ErrDeviceUnavailable, got %v", err)
	}
}

func TestStopCapture_Idempotent(t *testing.T) {
	dev := &fakeDevice{}
	c := newTestController(dev, &fakeClock{})

	// Stopping an idle controller is a no-op
	rec, err := c.StopCapture()
	if rec != nil || err != nil {
		t.Errorf("Expected no-op stop on idle controller, got rec=%v err=%v", rec, err)
	}

	if err := c.StartCapture(context.Background(), ModeTurnBased); err != nil {
		t.Fatalf("StartCapture failed: %v", err)
	}
	if _, err := c.StopCapture(); err != nil {
		t.Fatalf("First stop failed: %v", err)
	}

	// Second stop is the same success signal as the first
	rec, err = c.StopCapture()
	if rec != nil || err != nil {
		t.Errorf("Expected idempotent second stop, got rec=%v err=%v", rec, err)
	}
}

func TestStartCapture_RetriesTransientDenial(t *testing.T) {
	dev := &fakeDevice{errs: []error{ErrPermissionDenied, nil}}
	clock := &fakeClock{}
	c := newTestController(dev, clock)

	if err := c.StartCapture(context.Background(), ModeTurnBased); err != nil {
		t.Fatalf("Expected capture to start after the re-attempt, got %v", err)
	}
	defer c.Teardown()

	if dev.attempts != 2 {
		t.Errorf("Expected 2 acquire attempts, got %d", dev.attempts)
	}
	if len(clock.sleeps) != 1 || clock.sleeps[0] != 450*time.Millisecond {
		t.Errorf("Expected one 450ms delay before the re-attempt, got %v", clock.sleeps)
	}
	if c.Permission() != PermissionGranted {
		t.Errorf("Expected granted after successful start, got %s", c.Permission())
	}
}

func TestStartCapture_DeniedTwiceSurfaces(t *testing.T) {
	dev := &fakeDevice{errs: []error{ErrPermissionDenied, ErrPermissionDenied}}
	c := newTestController(dev, &fakeClock{})

	err := c.StartCapture(context.Background(), ModeContinuous)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("Expected ErrPermissionDenied after both attempts, got %v", err)
	}
	if dev.attempts != 2 {
		t.Errorf("Expected 2 acquire attempts, got %d", dev.attempts)
	}
	if c.Permission() != PermissionBlocked {
		t.Errorf("Expected blocked, got %s", c.Permission())
	}
}

func TestAutoStop_FiresOncePerUtterance(t *testing.T) {
	dev := &fakeDevice{}
	c := newTestController(dev, &fakeClock{})

	fired := make(chan struct{}, 4)
	c.AutoStop(audio.NewVAD(500.0, 2), func() { fired <- struct{}{} })

	if err := c.StartCapture(context.Background(), ModeTurnBased); err != nil {
		t.Fatalf("StartCapture failed: %v", err)
	}

	loud := make([]int16, 40)
	for i := range loud {
		loud[i] = 2000
	}
	stream := dev.streams[0]
	stream.frames <- audio.Frame{Data: audio.Int16ToBytes(loud), SampleRate: 16000}
	stream.frames <- audio.Frame{Data: audio.Int16ToBytes(make([]int16, 40)), SampleRate: 16000}
	stream.frames <- audio.Frame{Data: audio.Int16ToBytes(make([]int16, 40)), SampleRate: 16000}

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("Expected auto-stop after trailing silence")
	}

	// Further silence must not fire again within the same capture
	stream.frames <- audio.Frame{Data: audio.Int16ToBytes(make([]int16, 40)), SampleRate: 16000}
	stream.frames <- audio.Frame{Data: audio.Int16ToBytes(make([]int16, 40)), SampleRate: 16000}
	select {
	case <-fired:
		t.Fatal("Expected at most one auto-stop per capture")
	case <-time.After(50 * time.Millisecond):
	}

	if _, err := c.StopCapture(); err != nil {
		t.Fatalf("StopCapture failed: %v", err)
	}
}

func TestAutoStop_QuietOnlyCaptureNeverFires(t *testing.T) {
	dev := &fakeDevice{}
	c := newTestController(dev, &fakeClock{})

	fired := make(chan struct{}, 1)
	c.AutoStop(audio.NewVAD(500.0, 2), func() { fired <- struct{}{} })

	if err := c.StartCapture(context.Background(), ModeTurnBased); err != nil {
		t.Fatalf("StartCapture failed: %v", err)
	}

	stream := dev.streams[0]
	for i := 0; i < 5; i++ {
		stream.frames <- audio.Frame{Data: audio.Int16ToBytes(make([]int16, 40)), SampleRate: 16000}
	}

	select {
	case <-fired:
		t.Fatal("Silence with no preceding speech must not auto-stop")
	case <-time.After(50 * time.Millisecond):
	}

	if _, err := c.StopCapture(); err != nil {
		t.Fatalf("StopCapture failed: %v", err)
	}
}
