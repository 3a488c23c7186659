package transcript

import "testing"

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "IDLE"},
		{StateAccumulating, "ACCUMULATING"},
		{StateCommitted, "COMMITTED"},
		{State(99), "UNKNOWN(99)"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestState_PartialThenFinalCycle(t *testing.T) {
	a := New(nil, nil)

	if a.SpeakerState("A") != StateIdle {
		t.Fatal("fresh speaker must be IDLE")
	}

	a.Partial(partial("A", "hel"))
	if a.SpeakerState("A") != StateAccumulating {
		t.Fatalf("after partial: %v", a.SpeakerState("A"))
	}

	a.Partial(partial("A", "hello"))
	if a.SpeakerState("A") != StateAccumulating {
		t.Fatalf("after second partial: %v", a.SpeakerState("A"))
	}

	a.Final(final("A", "hello there"))
	if a.SpeakerState("A") != StateIdle {
		t.Fatalf("after final: %v", a.SpeakerState("A"))
	}
}

func TestState_FinalFromIdle(t *testing.T) {
	a := New(nil, nil)

	// A final with no preceding partials commits directly.
	a.Final(final("A", "short answer"))
	if a.SpeakerState("A") != StateIdle {
		t.Fatalf("after direct final: %v", a.SpeakerState("A"))
	}
	if a.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", a.Len())
	}
}
