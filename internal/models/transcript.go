// Package models defines the data structures flowing through the
// transcription pipeline.
package models

import "time"

// AudioFrame is one chunk of raw PCM audio captured from a participant
// track. Frames are immutable once queued and consumed exactly once by
// the recognizer feed loop.
type AudioFrame struct {
	Participant string    // participant identity that owns the track
	TrackID     string    // source track identifier
	SampleRate  int       // samples per second
	Channels    int       // channel count (1 = mono)
	Data        []byte    // little-endian 16-bit PCM
	ReceivedAt  time.Time // arrival time at the pipeline
}

// RecognitionEvent is a single update emitted by a streaming
// recognizer. Partial events are provisional and superseded by later
// events for the same utterance; final events are committed to the
// transcript log.
type RecognitionEvent struct {
	Final    bool
	Text     string
	Speaker  string  // vendor-assigned label, "unknown" when absent
	StartSec float64 // utterance start offset in seconds
	EndSec   float64 // utterance end offset in seconds
}

// TranscriptEntry is one committed line of a session transcript.
// Entries are immutable; Seq increases strictly within a session.
type TranscriptEntry struct {
	Seq       uint64  `json:"seq"`
	Speaker   string  `json:"speaker"`
	Text      string  `json:"text"`
	Timestamp float64 `json:"timestamp"`
}

// TranscriptionMessage is the wire shape pushed to clients over the
// room data channel and the WebSocket relay.
type TranscriptionMessage struct {
	Type      string  `json:"type"` // always "transcription"
	Speaker   string  `json:"speaker"`
	Text      string  `json:"text"`
	Timestamp float64 `json:"timestamp"`
}

// TranscriptPartial is the export event for an interim transcript.
type TranscriptPartial struct {
	EventType string  `json:"eventType"`
	RoomName  string  `json:"roomName"`
	Speaker   string  `json:"speaker"`
	Text      string  `json:"text"`
	Timestamp int64   `json:"timestamp"`
	StartSec  float64 `json:"startSec"`
}

// TranscriptFinal is the export event for a committed transcript entry.
type TranscriptFinal struct {
	EventType string  `json:"eventType"`
	RoomName  string  `json:"roomName"`
	Seq       uint64  `json:"seq"`
	Speaker   string  `json:"speaker"`
	Text      string  `json:"text"`
	Timestamp int64   `json:"timestamp"`
	StartSec  float64 `json:"startSec"`
	EndSec    float64 `json:"endSec"`
}
