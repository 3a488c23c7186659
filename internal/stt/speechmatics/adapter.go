// Package speechmatics provides a Speechmatics real-time STT adapter
// over the vendor's websocket protocol.
package speechmatics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"dialogue-transcription-service/internal/observability/logging"
	"dialogue-transcription-service/internal/stt"
)

const providerName = "speechmatics"

// handshake and stop deadlines for the vendor websocket
const (
	dialTimeout    = 10 * time.Second
	startedTimeout = 10 * time.Second
	drainTimeout   = 3 * time.Second
	writeDeadline  = 10 * time.Second
)

// startRecognition is the first message of a session.
type startRecognition struct {
	Message             string              `json:"message"`
	AudioFormat         audioFormat         `json:"audio_format"`
	TranscriptionConfig transcriptionConfig `json:"transcription_config"`
}

type audioFormat struct {
	Type       string `json:"type"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

type transcriptionConfig struct {
	Language       string  `json:"language"`
	OperatingPoint string  `json:"operating_point"`
	EnablePartials bool    `json:"enable_partials"`
	Diarization    string  `json:"diarization,omitempty"`
	MaxDelay       float64 `json:"max_delay,omitempty"`
	MaxDelayMode   string  `json:"max_delay_mode,omitempty"`
}

type endOfStream struct {
	Message   string `json:"message"`
	LastSeqNo int    `json:"last_seq_no"`
}

// serverMessage is the envelope of every server-to-client message.
type serverMessage struct {
	Message string `json:"message"`
	Reason  string `json:"reason"`
	Type    string `json:"type"`
}

// Adapter implements stt.Adapter against the Speechmatics real-time
// websocket API.
type Adapter struct {
	url    string
	apiKey string
	cfg    stt.Config
	log    zerolog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	cb       stt.Callback
	seq      int
	closed   bool
	listenWG sync.WaitGroup
}

// New creates a Speechmatics adapter. The session is not opened until
// Start.
func New(url, apiKey string, cfg stt.Config) *Adapter {
	return &Adapter{
		url:    url,
		apiKey: apiKey,
		cfg:    cfg,
		log:    logging.WithComponent("stt-speechmatics"),
	}
}

// Start dials the vendor websocket, sends StartRecognition and waits
// for RecognitionStarted. Unreachable service, rejected credentials or
// a pre-start Error message all surface as *stt.ConnectError.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+a.apiKey)

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, resp, err := dialer.DialContext(ctx, a.url, header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %s)", err, resp.Status)
		}
		return &stt.ConnectError{Provider: providerName, Err: err}
	}

	start := startRecognition{
		Message: "StartRecognition",
		AudioFormat: audioFormat{
			Type:       "raw",
			Encoding:   "pcm_s16le",
			SampleRate: a.cfg.SampleRate,
		},
		TranscriptionConfig: transcriptionConfig{
			Language:       a.cfg.Language,
			OperatingPoint: "enhanced",
			EnablePartials: a.cfg.EnablePartials,
			MaxDelay:       a.cfg.MaxDelay,
			MaxDelayMode:   "flexible",
		},
	}
	if a.cfg.Diarization {
		start.TranscriptionConfig.Diarization = "speaker"
	}

	conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	if err := conn.WriteJSON(start); err != nil {
		conn.Close()
		return &stt.ConnectError{Provider: providerName, Err: err}
	}

	// The vendor answers StartRecognition with RecognitionStarted or an
	// Error message. Anything else before that is a protocol violation.
	conn.SetReadDeadline(time.Now().Add(startedTimeout))
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return &stt.ConnectError{Provider: providerName, Err: err}
		}
		var msg serverMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			continue
		}
		if msg.Message == "RecognitionStarted" {
			break
		}
		if msg.Message == "Error" {
			conn.Close()
			return &stt.ConnectError{
				Provider: providerName,
				Err:      fmt.Errorf("%s: %s", msg.Type, msg.Reason),
			}
		}
	}
	conn.SetReadDeadline(time.Time{})

	a.mu.Lock()
	a.conn = conn
	a.cb = cb
	a.mu.Unlock()

	a.listenWG.Add(1)
	go a.listen(conn, cb)

	a.log.Info().Str("language", a.cfg.Language).
		Int("sampleRate", a.cfg.SampleRate).
		Bool("diarization", a.cfg.Diarization).
		Msg("recognition session started")
	return nil
}

// SendAudio sends one chunk of raw PCM as a binary AddAudio message.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed || a.conn == nil {
		return fmt.Errorf("speechmatics: session not open")
	}
	a.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	if err := a.conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return fmt.Errorf("speechmatics: send audio: %w", err)
	}
	a.seq++
	return nil
}

// Close flushes the outbound half with EndOfStream, waits briefly for
// the listener to observe EndOfTranscript, then closes the connection.
// Idempotent.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	conn := a.conn
	seq := a.seq
	a.mu.Unlock()

	if conn == nil {
		return nil
	}

	conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	if err := conn.WriteJSON(endOfStream{Message: "EndOfStream", LastSeqNo: seq}); err != nil {
		a.log.Warn().Err(err).Msg("EndOfStream write failed, closing hard")
		conn.Close()
		a.listenWG.Wait()
		return nil
	}

	// Give the listener a bounded window to drain the final
	// transcripts; force the connection closed afterwards.
	done := make(chan struct{})
	go func() {
		a.listenWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drainTimeout):
		a.log.Warn().Msg("drain timeout, forcing connection closed")
		conn.Close()
		<-done
	}
	return nil
}

// listen reads server messages until EndOfTranscript, an Error message
// or a transport failure.
func (a *Adapter) listen(conn *websocket.Conn, cb stt.Callback) {
	defer a.listenWG.Done()
	defer conn.Close()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			a.mu.Lock()
			closed := a.closed
			a.mu.Unlock()
			if !closed && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				cb.OnError(fmt.Errorf("speechmatics: stream read: %w", err))
			}
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			a.log.Debug().Err(err).Msg("unparseable server message ignored")
			continue
		}

		switch msg.Message {
		case "AddPartialTranscript":
			for _, ev := range stt.ParseEvents(payload, false) {
				cb.OnPartial(ev)
			}
		case "AddTranscript":
			for _, ev := range stt.ParseEvents(payload, true) {
				cb.OnFinal(ev)
			}
		case "EndOfTranscript":
			a.log.Debug().Msg("end of transcript")
			return
		case "Error":
			cb.OnError(fmt.Errorf("speechmatics: %s: %s", msg.Type, msg.Reason))
			return
		case "AudioAdded", "Info", "Warning", "RecognitionStarted":
			// acknowledgements and advisories
		default:
			a.log.Debug().Str("message", msg.Message).Msg("unhandled server message")
		}
	}
}
