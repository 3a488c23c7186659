// Package transcript assembles recognition events into an ordered
// per-session transcript with speaker attribution.
package transcript

import (
	"strings"
	"sync"

	"dialogue-transcription-service/internal/models"
)

// CommitFunc receives each committed transcript entry.
type CommitFunc func(entry models.TranscriptEntry)

// LiveFunc receives partial events forwarded as live updates.
type LiveFunc func(ev models.RecognitionEvent)

// speakerTrack is the independent state machine for one speaker label.
type speakerTrack struct {
	state   State
	pending models.RecognitionEvent // latest partial, superseded on arrival
}

// Assembler maps recognition events onto an ordered transcript log.
// Speakers are independent state machines keyed by label; only the
// append to the session log is serialized. Sequence numbers increase
// strictly within a session and committed entries are immutable.
//
// An "unknown" speaker label is kept as its own track; entries are
// never merged or re-attributed retroactively.
type Assembler struct {
	mu       sync.Mutex
	seq      uint64
	speakers map[string]*speakerTrack
	entries  []models.TranscriptEntry
	onCommit CommitFunc
	onLive   LiveFunc
}

// New creates an assembler. onCommit is called for every committed
// entry; onLive (optional) is called for every buffered partial.
// Callbacks run outside the assembler lock.
func New(onCommit CommitFunc, onLive LiveFunc) *Assembler {
	return &Assembler{
		speakers: make(map[string]*speakerTrack),
		onCommit: onCommit,
		onLive:   onLive,
	}
}

// Partial buffers a provisional utterance for the event's speaker,
// superseding any earlier partial, and forwards it as a live update.
// Empty or whitespace-only text is discarded.
func (a *Assembler) Partial(ev models.RecognitionEvent) {
	if strings.TrimSpace(ev.Text) == "" {
		return
	}

	a.mu.Lock()
	track := a.track(ev.Speaker)
	track.state = StateAccumulating
	track.pending = ev
	live := a.onLive
	a.mu.Unlock()

	if live != nil {
		live(ev)
	}
}

// Final commits the event's utterance: the buffered text is replaced
// by the final text, an immutable entry is appended with the next
// sequence number, and the speaker resets to idle. Empty or
// whitespace-only text resets the speaker without producing an entry.
func (a *Assembler) Final(ev models.RecognitionEvent) {
	text := strings.TrimSpace(ev.Text)

	a.mu.Lock()
	track := a.track(ev.Speaker)
	if text == "" {
		track.state = StateIdle
		track.pending = models.RecognitionEvent{}
		a.mu.Unlock()
		return
	}

	track.state = StateCommitted
	a.seq++
	entry := models.TranscriptEntry{
		Seq:       a.seq,
		Speaker:   ev.Speaker,
		Text:      text,
		Timestamp: ev.StartSec,
	}
	a.entries = append(a.entries, entry)

	track.state = StateIdle
	track.pending = models.RecognitionEvent{}
	commit := a.onCommit
	a.mu.Unlock()

	if commit != nil {
		commit(entry)
	}
}

// Entries returns a copy of the committed transcript log in commit
// order.
func (a *Assembler) Entries() []models.TranscriptEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.TranscriptEntry, len(a.entries))
	copy(out, a.entries)
	return out
}

// BySpeaker returns the committed entries attributed to one speaker
// label, in commit order.
func (a *Assembler) BySpeaker(label string) []models.TranscriptEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []models.TranscriptEntry
	for _, e := range a.entries {
		if e.Speaker == label {
			out = append(out, e)
		}
	}
	return out
}

// SpeakerState returns the current state of one speaker's utterance
// machine.
func (a *Assembler) SpeakerState(label string) State {
	a.mu.Lock()
	defer a.mu.Unlock()
	if track, ok := a.speakers[label]; ok {
		return track.state
	}
	return StateIdle
}

// Len returns the number of committed entries.
func (a *Assembler) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

func (a *Assembler) track(label string) *speakerTrack {
	track, ok := a.speakers[label]
	if !ok {
		track = &speakerTrack{}
		a.speakers[label] = track
	}
	return track
}
