// Package stt defines the interface for streaming speech-to-text
// adapters and the shared parsing of vendor recognition events.
package stt

import (
	"context"
	"errors"
	"fmt"

	"dialogue-transcription-service/internal/models"
)

// UnknownSpeaker is the sentinel label used when the recognizer does
// not attribute speech to a speaker.
const UnknownSpeaker = "unknown"

// Callback receives recognition events from the STT provider.
type Callback interface {
	// OnPartial is called for an interim/partial recognition event.
	OnPartial(ev models.RecognitionEvent)

	// OnFinal is called for a final recognition event.
	OnFinal(ev models.RecognitionEvent)

	// OnError is called when the stream fails. The session treats this
	// as fatal; there is no automatic retry.
	OnError(err error)
}

// Adapter defines the interface for streaming STT providers
// (Speechmatics, Google, mock).
type Adapter interface {
	// Start opens the streaming recognition session. Connection or
	// authentication failures are returned as *ConnectError.
	Start(ctx context.Context, cb Callback) error

	// SendAudio sends raw PCM bytes to the provider.
	SendAudio(ctx context.Context, audio []byte) error

	// Close ends the session gracefully, flushing the outbound half
	// of the stream.
	Close() error
}

// Config describes the recognition session requested from a provider.
type Config struct {
	Language       string
	SampleRate     int
	EnablePartials bool
	Diarization    bool
	MaxDelay       float64 // seconds
}

// ConnectError marks a failure to reach or authenticate with the
// recognition service. It is fatal for the owning session.
type ConnectError struct {
	Provider string
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("stt: connect to %s: %v", e.Provider, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// IsConnectError reports whether err wraps a ConnectError.
func IsConnectError(err error) bool {
	var ce *ConnectError
	return errors.As(err, &ce)
}
