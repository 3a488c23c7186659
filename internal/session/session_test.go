package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"dialogue-transcription-service/internal/events"
	"dialogue-transcription-service/internal/models"
	"dialogue-transcription-service/internal/relay"
	"dialogue-transcription-service/internal/stt"
	"dialogue-transcription-service/internal/stt/mock"
)

// fakeConn records data-channel publishes.
type fakeConn struct {
	mu           sync.Mutex
	payloads     [][]byte
	disconnected bool
}

func (f *fakeConn) PublishData(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, payload)
	return nil
}

func (f *fakeConn) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
}

func (f *fakeConn) published() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.payloads))
	copy(out, f.payloads)
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func frame(data []byte) *models.AudioFrame {
	return &models.AudioFrame{
		Participant: "mobile-test",
		SampleRate:  16000,
		Channels:    1,
		Data:        data,
		ReceivedAt:  time.Now(),
	}
}

func newTestSession(t *testing.T, adapter stt.Adapter, onFatal func(string)) (*Session, *relay.Hub) {
	t.Helper()
	hub := relay.NewHub()
	sess := New(Options{
		RoomName:      "conversation-test",
		Adapter:       adapter,
		Hub:           hub,
		Exporter:      events.New(nil),
		QueueCapacity: 64,
		StopTimeout:   time.Second,
		OnFatal:       onFatal,
	})
	return sess, hub
}

func TestSession_PipelineEndToEnd(t *testing.T) {
	adapter := mock.New()
	sess, hub := newTestSession(t, adapter, nil)

	sub := relay.NewSubscriber("listener", nil)
	hub.Join("conversation-test", sub)
	defer hub.Leave("conversation-test", sub)

	conn := &fakeConn{}
	sess.AttachRoom(conn)

	if err := sess.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer sess.Stop()

	// One frame per scripted event; the mock emits synchronously.
	for !adapter.Exhausted() {
		sess.EnqueueFrame(frame([]byte{0, 0}))
		time.Sleep(time.Millisecond)
	}

	waitFor(t, 2*time.Second, func() bool {
		return len(sess.Entries()) == len(mock.DefaultUtterances)
	})

	entries := sess.Entries()
	for i, utt := range mock.DefaultUtterances {
		e := entries[i]
		if e.Speaker != utt.Speaker || e.Text != utt.Final {
			t.Errorf("entry %d: got (%s,%q), want (%s,%q)",
				i, e.Speaker, e.Text, utt.Speaker, utt.Final)
		}
		if e.Seq != uint64(i+1) {
			t.Errorf("entry %d: seq %d, want %d", i, e.Seq, i+1)
		}
	}

	// Every committed entry is mirrored to the data channel in the
	// client wire shape.
	waitFor(t, 2*time.Second, func() bool {
		return len(conn.published()) == len(mock.DefaultUtterances)
	})
	for _, payload := range conn.published() {
		var msg models.TranscriptionMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			t.Fatalf("bad payload: %v", err)
		}
		if msg.Type != "transcription" {
			t.Errorf("payload type %q, want transcription", msg.Type)
		}
		if msg.Text == "" || msg.Speaker == "" {
			t.Errorf("incomplete payload: %+v", msg)
		}
	}
}

func TestSession_BySpeaker(t *testing.T) {
	adapter := mock.New()
	sess, _ := newTestSession(t, adapter, nil)
	if err := sess.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer sess.Stop()

	for !adapter.Exhausted() {
		sess.EnqueueFrame(frame([]byte{0, 0}))
		time.Sleep(time.Millisecond)
	}
	waitFor(t, 2*time.Second, func() bool {
		return len(sess.Entries()) == len(mock.DefaultUtterances)
	})

	if got := sess.EntriesBySpeaker("S1"); len(got) != 2 {
		t.Errorf("expected 2 entries for S1, got %d", len(got))
	}
	if got := sess.EntriesBySpeaker("S2"); len(got) != 1 {
		t.Errorf("expected 1 entry for S2, got %d", len(got))
	}
}

func TestSession_StopIdempotent(t *testing.T) {
	sess, _ := newTestSession(t, mock.New(), nil)
	if err := sess.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	sess.Stop()
	sess.Stop()

	// Frames after stop are dropped, not delivered.
	sess.EnqueueFrame(frame([]byte{0, 0}))
}

func TestSession_StopWithoutStart(t *testing.T) {
	sess, _ := newTestSession(t, mock.New(), nil)
	sess.Stop()
}

// failingAdapter rejects Start with a connect error.
type failingAdapter struct{}

func (f *failingAdapter) Start(ctx context.Context, cb stt.Callback) error {
	return &stt.ConnectError{Provider: "test", Err: errors.New("refused")}
}
func (f *failingAdapter) SendAudio(ctx context.Context, audio []byte) error { return nil }
func (f *failingAdapter) Close() error                                      { return nil }

func TestSession_StartConnectError(t *testing.T) {
	sess, _ := newTestSession(t, &failingAdapter{}, nil)
	err := sess.Start()
	if err == nil {
		t.Fatal("expected error")
	}
	if !stt.IsConnectError(err) {
		t.Errorf("expected connect error, got %v", err)
	}
}

// errorOnceAdapter succeeds at start, then fails the stream on the
// first audio chunk.
type errorOnceAdapter struct {
	mu sync.Mutex
	cb stt.Callback
}

func (a *errorOnceAdapter) Start(ctx context.Context, cb stt.Callback) error {
	a.mu.Lock()
	a.cb = cb
	a.mu.Unlock()
	return nil
}

func (a *errorOnceAdapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	cb := a.cb
	a.mu.Unlock()
	if cb != nil {
		cb.OnError(&stt.ConnectError{Provider: "test", Err: errors.New("stream reset")})
	}
	return nil
}

func (a *errorOnceAdapter) Close() error { return nil }

func TestSession_FatalStreamErrorNotifies(t *testing.T) {
	fatal := make(chan string, 1)
	sess, _ := newTestSession(t, &errorOnceAdapter{}, func(room string) {
		select {
		case fatal <- room:
		default:
		}
	})
	if err := sess.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer sess.Stop()

	sess.EnqueueFrame(frame([]byte{0, 0}))

	select {
	case room := <-fatal:
		if room != "conversation-test" {
			t.Errorf("unexpected room %q", room)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("fatal callback not invoked")
	}
}
