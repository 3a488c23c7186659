package transcript

import (
	"fmt"
	"sync"
	"testing"

	"dialogue-transcription-service/internal/models"
)

func final(speaker, text string) models.RecognitionEvent {
	return models.RecognitionEvent{Final: true, Speaker: speaker, Text: text}
}

func partial(speaker, text string) models.RecognitionEvent {
	return models.RecognitionEvent{Speaker: speaker, Text: text}
}

func TestAssembler_InterleavedSpeakers(t *testing.T) {
	a := New(nil, nil)

	a.Final(final("A", "hi"))
	a.Final(final("B", "yo"))
	a.Final(final("A", "there"))

	entries := a.Entries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}

	want := []struct {
		speaker string
		text    string
		seq     uint64
	}{
		{"A", "hi", 1},
		{"B", "yo", 2},
		{"A", "there", 3},
	}
	for i, w := range want {
		e := entries[i]
		if e.Speaker != w.speaker || e.Text != w.text || e.Seq != w.seq {
			t.Errorf("entry %d: expected (%s,%s,seq=%d), got (%s,%s,seq=%d)",
				i, w.speaker, w.text, w.seq, e.Speaker, e.Text, e.Seq)
		}
	}
}

func TestAssembler_SequenceStrictlyIncreasing(t *testing.T) {
	a := New(nil, nil)

	for i := 0; i < 50; i++ {
		a.Final(final("A", fmt.Sprintf("line %d", i)))
	}

	entries := a.Entries()
	for i := 1; i < len(entries); i++ {
		if entries[i].Seq <= entries[i-1].Seq {
			t.Fatalf("entry %d: seq %d not greater than %d",
				i, entries[i].Seq, entries[i-1].Seq)
		}
	}
	// Text order matches arrival order.
	for i, e := range entries {
		if want := fmt.Sprintf("line %d", i); e.Text != want {
			t.Errorf("entry %d: expected %q, got %q", i, want, e.Text)
		}
	}
}

func TestAssembler_PartialAccumulatesThenCommits(t *testing.T) {
	var live []models.RecognitionEvent
	var committed []models.TranscriptEntry

	a := New(
		func(e models.TranscriptEntry) { committed = append(committed, e) },
		func(ev models.RecognitionEvent) { live = append(live, ev) },
	)

	a.Partial(partial("A", "hel"))
	if a.SpeakerState("A") != StateAccumulating {
		t.Errorf("expected ACCUMULATING, got %v", a.SpeakerState("A"))
	}
	a.Partial(partial("A", "hello th"))
	a.Final(final("A", "hello there"))

	if a.SpeakerState("A") != StateIdle {
		t.Errorf("expected IDLE after commit, got %v", a.SpeakerState("A"))
	}
	if len(live) != 2 {
		t.Errorf("expected 2 live updates, got %d", len(live))
	}
	if len(committed) != 1 || committed[0].Text != "hello there" {
		t.Errorf("unexpected commits: %+v", committed)
	}
	// Partials never become entries on their own.
	if a.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", a.Len())
	}
}

func TestAssembler_WhitespaceNeverCommits(t *testing.T) {
	a := New(nil, nil)

	a.Partial(partial("A", "   "))
	if a.SpeakerState("A") != StateIdle {
		t.Error("whitespace partial should not change state")
	}

	a.Partial(partial("A", "real text"))
	a.Final(final("A", "\t\n"))

	if a.Len() != 0 {
		t.Errorf("expected no entries, got %d", a.Len())
	}
	if a.SpeakerState("A") != StateIdle {
		t.Error("whitespace final should reset the speaker")
	}

	a.Final(final("A", ""))
	if a.Len() != 0 {
		t.Errorf("expected no entries, got %d", a.Len())
	}
}

func TestAssembler_TextIsTrimmed(t *testing.T) {
	a := New(nil, nil)
	a.Final(final("A", "  padded  "))

	entries := a.Entries()
	if len(entries) != 1 || entries[0].Text != "padded" {
		t.Errorf("unexpected entries: %+v", entries)
	}
}

func TestAssembler_BySpeaker(t *testing.T) {
	a := New(nil, nil)
	a.Final(final("A", "one"))
	a.Final(final("B", "two"))
	a.Final(final("A", "three"))
	a.Final(final("unknown", "four"))

	got := a.BySpeaker("A")
	if len(got) != 2 || got[0].Text != "one" || got[1].Text != "three" {
		t.Errorf("unexpected entries for A: %+v", got)
	}
	// Unknown speaker stays its own track, never merged.
	if got := a.BySpeaker("unknown"); len(got) != 1 || got[0].Text != "four" {
		t.Errorf("unexpected entries for unknown: %+v", got)
	}
}

func TestAssembler_TimestampFromEventStart(t *testing.T) {
	a := New(nil, nil)
	a.Final(models.RecognitionEvent{Final: true, Speaker: "A", Text: "hi", StartSec: 12.5})

	entries := a.Entries()
	if entries[0].Timestamp != 12.5 {
		t.Errorf("expected timestamp 12.5, got %v", entries[0].Timestamp)
	}
}

func TestAssembler_ConcurrentSpeakers(t *testing.T) {
	a := New(nil, nil)

	const speakers = 4
	const finalsEach = 50

	var wg sync.WaitGroup
	for s := 0; s < speakers; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			label := fmt.Sprintf("S%d", s)
			for i := 0; i < finalsEach; i++ {
				a.Partial(partial(label, "..."))
				a.Final(final(label, fmt.Sprintf("%s line %d", label, i)))
			}
		}(s)
	}
	wg.Wait()

	entries := a.Entries()
	if len(entries) != speakers*finalsEach {
		t.Fatalf("expected %d entries, got %d", speakers*finalsEach, len(entries))
	}

	// Global sequence strictly increasing regardless of interleaving.
	for i := 1; i < len(entries); i++ {
		if entries[i].Seq != entries[i-1].Seq+1 {
			t.Fatalf("entry %d: seq %d does not follow %d",
				i, entries[i].Seq, entries[i-1].Seq)
		}
	}

	// Per speaker, text order matches that speaker's emission order.
	for s := 0; s < speakers; s++ {
		label := fmt.Sprintf("S%d", s)
		got := a.BySpeaker(label)
		if len(got) != finalsEach {
			t.Fatalf("%s: expected %d entries, got %d", label, finalsEach, len(got))
		}
		for i, e := range got {
			if want := fmt.Sprintf("%s line %d", label, i); e.Text != want {
				t.Errorf("%s entry %d: expected %q, got %q", label, i, want, e.Text)
			}
		}
	}
}
