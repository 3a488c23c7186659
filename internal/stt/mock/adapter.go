// Package mock provides a scripted STT adapter for running without
// vendor credentials. It emits progressive partials and exactly one
// final per utterance, attributed to alternating speaker labels.
package mock

import (
	"context"
	"sync"

	"dialogue-transcription-service/internal/models"
	"dialogue-transcription-service/internal/stt"
)

// Utterance is one scripted exchange.
type Utterance struct {
	Speaker  string
	Partials []string
	Final    string
}

// DefaultUtterances provides sample conversation turns.
var DefaultUtterances = []Utterance{
	{
		Speaker:  "S1",
		Partials: []string{"I was", "I was thinking"},
		Final:    "I was thinking about the financial crisis",
	},
	{
		Speaker:  "S2",
		Partials: []string{"Which", "Which one"},
		Final:    "Which one do you mean",
	},
	{
		Speaker:  "S1",
		Partials: []string{"The one"},
		Final:    "The one from two thousand eight",
	},
}

// Adapter implements stt.Adapter with scripted responses. Each audio
// chunk advances the script by one step: partials first, then the
// final, then the next utterance. Emission is synchronous inside
// SendAudio so tests stay deterministic.
type Adapter struct {
	mu        sync.Mutex
	cb        stt.Callback
	script    []Utterance
	utterance int
	step      int
	clock     float64
	closed    bool
}

// New creates a mock adapter with the default script.
func New() *Adapter {
	return NewScripted(DefaultUtterances)
}

// NewScripted creates a mock adapter with a custom script.
func NewScripted(script []Utterance) *Adapter {
	return &Adapter{script: script}
}

// Start begins the mock session.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cb = cb
	return nil
}

// SendAudio consumes one audio chunk and emits the next scripted
// event, if any.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()

	if a.closed || a.cb == nil || a.utterance >= len(a.script) {
		a.mu.Unlock()
		return nil
	}

	utt := a.script[a.utterance]
	cb := a.cb

	var ev models.RecognitionEvent
	var isFinal bool
	if a.step < len(utt.Partials) {
		ev = models.RecognitionEvent{
			Text:     utt.Partials[a.step],
			Speaker:  utt.Speaker,
			StartSec: a.clock,
		}
		a.step++
	} else {
		isFinal = true
		ev = models.RecognitionEvent{
			Final:    true,
			Text:     utt.Final,
			Speaker:  utt.Speaker,
			StartSec: a.clock,
			EndSec:   a.clock + 1,
		}
		a.clock += 1.5
		a.utterance++
		a.step = 0
	}
	a.mu.Unlock()

	if isFinal {
		cb.OnFinal(ev)
	} else {
		cb.OnPartial(ev)
	}
	return nil
}

// Close ends the mock session.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

// Exhausted reports whether the whole script has been emitted.
func (a *Adapter) Exhausted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.utterance >= len(a.script)
}
