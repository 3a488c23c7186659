package speechmatics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"dialogue-transcription-service/internal/models"
	"dialogue-transcription-service/internal/stt"
)

type collectingCallback struct {
	mu       sync.Mutex
	partials []models.RecognitionEvent
	finals   []models.RecognitionEvent
	errs     []error
}

func (c *collectingCallback) OnPartial(ev models.RecognitionEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.partials = append(c.partials, ev)
}

func (c *collectingCallback) OnFinal(ev models.RecognitionEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finals = append(c.finals, ev)
}

func (c *collectingCallback) OnError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

func (c *collectingCallback) snapshot() (int, int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.partials), len(c.finals), len(c.errs)
}

var upgrader = websocket.Upgrader{}

// fakeVendor speaks just enough of the vendor protocol for the adapter.
func fakeVendor(t *testing.T, script func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		// Expect StartRecognition first.
		var start map[string]any
		if err := conn.ReadJSON(&start); err != nil {
			t.Errorf("read StartRecognition: %v", err)
			return
		}
		if start["message"] != "StartRecognition" {
			t.Errorf("expected StartRecognition, got %v", start["message"])
			return
		}

		script(conn)
	}))
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func testConfig() stt.Config {
	return stt.Config{
		Language:       "en",
		SampleRate:     16000,
		EnablePartials: true,
		Diarization:    true,
		MaxDelay:       0.7,
	}
}

func TestAdapter_StreamLifecycle(t *testing.T) {
	srv := fakeVendor(t, func(conn *websocket.Conn) {
		conn.WriteJSON(map[string]any{"message": "RecognitionStarted"})

		// One audio chunk in, one partial and one final out.
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{
			"message": "AddPartialTranscript",
			"results": [{"alternatives": [{"content": "hel", "speaker": "S1"}]}]
		}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{
			"message": "AddTranscript",
			"results": [{"start_time": 0.1, "end_time": 0.6,
				"alternatives": [{"content": "hello", "speaker": "S1"}]}]
		}`))

		// Expect EndOfStream, answer EndOfTranscript.
		var eos map[string]any
		if err := conn.ReadJSON(&eos); err != nil {
			return
		}
		conn.WriteJSON(map[string]any{"message": "EndOfTranscript"})
	})
	defer srv.Close()

	cb := &collectingCallback{}
	a := New(wsURL(srv), "test-key", testConfig())

	if err := a.Start(context.Background(), cb); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := a.SendAudio(context.Background(), make([]byte, 640)); err != nil {
		t.Fatalf("send audio failed: %v", err)
	}

	// Wait for both events to arrive before closing.
	deadline := time.After(2 * time.Second)
	for {
		p, f, _ := cb.snapshot()
		if p >= 1 && f >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for events (partials=%d finals=%d)", p, f)
		case <-time.After(10 * time.Millisecond):
		}
	}

	if err := a.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	_, _, errs := cb.snapshot()
	if errs != 0 {
		t.Errorf("expected no errors, got %d: %v", errs, cb.errs)
	}
	if cb.finals[0].Text != "hello" || cb.finals[0].Speaker != "S1" {
		t.Errorf("unexpected final event: %+v", cb.finals[0])
	}
}

func TestAdapter_StartErrorMessageIsConnectError(t *testing.T) {
	srv := fakeVendor(t, func(conn *websocket.Conn) {
		conn.WriteJSON(map[string]any{
			"message": "Error",
			"type":    "not_authorised",
			"reason":  "invalid api key",
		})
	})
	defer srv.Close()

	a := New(wsURL(srv), "bad-key", testConfig())
	err := a.Start(context.Background(), &collectingCallback{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !stt.IsConnectError(err) {
		t.Errorf("expected ConnectError, got %T: %v", err, err)
	}
	if !strings.Contains(err.Error(), "not_authorised") {
		t.Errorf("expected vendor reason in error, got %v", err)
	}
}

func TestAdapter_UnreachableServiceIsConnectError(t *testing.T) {
	a := New("ws://127.0.0.1:1", "key", testConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := a.Start(ctx, &collectingCallback{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !stt.IsConnectError(err) {
		t.Errorf("expected ConnectError, got %T: %v", err, err)
	}
}

func TestAdapter_SendAudioBeforeStart(t *testing.T) {
	a := New("ws://example.invalid", "key", testConfig())
	if err := a.SendAudio(context.Background(), []byte{1, 2}); err == nil {
		t.Error("expected error sending audio before start")
	}
}

func TestAdapter_StreamErrorSurfacesOnce(t *testing.T) {
	srv := fakeVendor(t, func(conn *websocket.Conn) {
		conn.WriteJSON(map[string]any{"message": "RecognitionStarted"})
		conn.WriteJSON(map[string]any{
			"message": "Error",
			"type":    "internal_error",
			"reason":  "boom",
		})
	})
	defer srv.Close()

	cb := &collectingCallback{}
	a := New(wsURL(srv), "key", testConfig())
	if err := a.Start(context.Background(), cb); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		_, _, errs := cb.snapshot()
		if errs == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for stream error")
		case <-time.After(10 * time.Millisecond):
		}
	}

	a.Close()
}
