package stt

import (
	"context"
	"errors"
)

// ErrTransport marks a hard transport failure talking to the remote
// speech-understanding service. Distinct from an empty transcript, which is
// a valid "silence/unintelligible" outcome and is NOT an error.
var ErrTransport = errors.New("stt: transport failure")

// Result represents a transcription result from the live caption feed
type Result struct {
	// Text is the transcribed text
	Text string

	// IsFinal indicates if this is a final transcription (true) or interim (false)
	IsFinal bool

	// Confidence is the confidence score (0.0 to 1.0) if available
	Confidence float64
}

// Transcriber converts a finished audio artifact into text.
// An empty string with a nil error means nothing intelligible was said.
type Transcriber interface {
	Transcribe(ctx context.Context, audioData []byte, mimeType string) (string, error)
}

// StreamTranscriber is the interface for streaming caption clients
type StreamTranscriber interface {
	// Start begins a new transcription session
	Start() error

	// SendAudio sends an audio chunk to the STT service
	SendAudio(audioData []byte) error

	// Results returns the channel of transcription results
	Results() <-chan *Result

	// Stop stops the transcription session
	Stop() error

	// Close closes the client and cleans up resources
	Close() error
}
