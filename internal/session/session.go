// Package session owns the per-room transcription pipeline: the audio
// frame queue, the streaming recognizer, the transcript assembler, and
// the fan-out of committed entries to clients and export topics.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"dialogue-transcription-service/internal/audio"
	"dialogue-transcription-service/internal/events"
	"dialogue-transcription-service/internal/models"
	"dialogue-transcription-service/internal/observability/logging"
	"dialogue-transcription-service/internal/observability/metrics"
	"dialogue-transcription-service/internal/relay"
	"dialogue-transcription-service/internal/stt"
	"dialogue-transcription-service/internal/transcript"
)

// RoomConnection is the handle the connector returns for an attached
// media room.
type RoomConnection interface {
	// PublishData sends a payload to every participant over the
	// room's reliable data channel.
	PublishData(payload []byte) error

	// Disconnect leaves the room and releases the media resources.
	Disconnect()
}

// RoomEvents receives media-room callbacks for one session. The
// controller implements it and routes audio into the session's queue.
type RoomEvents interface {
	OnAudioFrame(frame *models.AudioFrame)
	OnParticipantJoined(identity string)
	OnParticipantLeft(identity string)
}

// Connector attaches the service to a media room as a hidden
// participant and reports its activity through RoomEvents.
type Connector interface {
	Connect(ctx context.Context, roomName string, events RoomEvents) (RoomConnection, error)
}

// outboundKind selects the publish path for one pipeline update.
type outboundKind int

const (
	outboundPartial outboundKind = iota
	outboundFinal
)

type outboundUpdate struct {
	kind  outboundKind
	event models.RecognitionEvent
	entry models.TranscriptEntry
}

// Session runs the transcription pipeline for one room. Audio frames
// enter through EnqueueFrame, recognition events come back through the
// stt.Callback methods, and committed entries leave through a single
// publisher goroutine so delivery order matches commit order.
type Session struct {
	RoomName string

	queue     *audio.FrameQueue
	adapter   stt.Adapter
	assembler *transcript.Assembler
	hub       *relay.Hub
	exporter  *events.Publisher

	connMu sync.RWMutex
	conn   RoomConnection

	ctx    context.Context
	cancel context.CancelFunc
	out    chan outboundUpdate

	feedWg    sync.WaitGroup
	publishWg sync.WaitGroup
	stopOnce  sync.Once

	stopTimeout time.Duration
	startedAt   time.Time
	onFatal     func(room string)

	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// Options configures a session.
type Options struct {
	RoomName      string
	Adapter       stt.Adapter
	Hub           *relay.Hub
	Exporter      *events.Publisher
	QueueCapacity int
	StopTimeout   time.Duration

	// OnFatal is invoked once, from a session goroutine, when the
	// recognizer stream fails fatally. The callee must not call back
	// into the session synchronously.
	OnFatal func(room string)
}

// New assembles a session. The pipeline does not run until Start.
func New(opts Options) *Session {
	s := &Session{
		RoomName:    opts.RoomName,
		queue:       audio.NewFrameQueue(opts.QueueCapacity),
		adapter:     opts.Adapter,
		hub:         opts.Hub,
		exporter:    opts.Exporter,
		out:         make(chan outboundUpdate, 64),
		stopTimeout: opts.StopTimeout,
		onFatal:     opts.OnFatal,
		logger:      logging.WithRoom("session", opts.RoomName),
		metrics:     metrics.DefaultMetrics,
	}
	s.assembler = transcript.New(s.queueFinal, s.queuePartial)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Start opens the recognizer stream and launches the feed and publish
// loops. A *stt.ConnectError from the adapter is returned as-is; the
// caller must not use the session afterwards.
func (s *Session) Start() error {
	s.startedAt = time.Now()

	if err := s.adapter.Start(s.ctx, s); err != nil {
		s.cancel()
		return err
	}

	s.feedWg.Add(1)
	go s.feedLoop()
	s.publishWg.Add(1)
	go s.publishLoop()

	s.metrics.RecordSessionStart()
	s.logger.Info().Msg("Session started")
	return nil
}

// AttachRoom hands the session its media-room connection. Committed
// entries are mirrored to the room's data channel from then on.
func (s *Session) AttachRoom(conn RoomConnection) {
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
}

// EnqueueFrame adds one audio frame to the recognizer feed. When the
// queue is full the oldest frame is evicted to make room.
func (s *Session) EnqueueFrame(frame *models.AudioFrame) {
	before := s.queue.Dropped()
	if !s.queue.Enqueue(frame) {
		s.metrics.RecordFrameDropped("queue_closed")
		return
	}
	if evicted := s.queue.Dropped() - before; evicted > 0 {
		s.metrics.RecordFrameDropped("queue_full")
	}
	s.metrics.RecordFrameQueued(s.RoomName, s.queue.Depth())
}

// Entries returns the committed transcript log so far.
func (s *Session) Entries() []models.TranscriptEntry {
	return s.assembler.Entries()
}

// EntriesBySpeaker returns the committed entries for one speaker label.
func (s *Session) EntriesBySpeaker(label string) []models.TranscriptEntry {
	return s.assembler.BySpeaker(label)
}

// OnPartial implements stt.Callback.
func (s *Session) OnPartial(ev models.RecognitionEvent) {
	s.metrics.RecordPartialTranscript()
	s.assembler.Partial(ev)
}

// OnFinal implements stt.Callback.
func (s *Session) OnFinal(ev models.RecognitionEvent) {
	s.metrics.RecordFinalTranscript()
	s.assembler.Final(ev)
}

// OnError implements stt.Callback. Stream errors are fatal for the
// session; there is no automatic reconnect. Malformed vendor events
// are recovered inside the adapters and never reach this path.
func (s *Session) OnError(err error) {
	var ce *stt.ConnectError
	if errors.As(err, &ce) {
		s.metrics.RecordSTTError(ce.Provider, "connect")
		s.logger.Error().Err(err).Msg("Recognizer unreachable, ending session")
	} else {
		s.metrics.RecordSTTError("stream", "recv")
		s.logger.Error().Err(err).Msg("Recognizer stream failed, ending session")
	}
	if s.onFatal != nil {
		go s.onFatal(s.RoomName)
	}
}

// Stop tears the pipeline down in reverse order of construction: the
// queue stops accepting frames and drains, the recognizer stream is
// closed with a bounded wait for its final events, then the publish
// loop is stopped. Idempotent.
func (s *Session) Stop() {
	s.stopOnce.Do(s.stop)
}

func (s *Session) stop() {
	s.logger.Info().Msg("Stopping session")

	// No new frames; feed loop drains what is queued and exits.
	s.queue.Close()
	s.feedWg.Wait()

	// Close the recognizer and give it a bounded window to flush its
	// final events through the still-running publish loop.
	done := make(chan struct{})
	go func() {
		if err := s.adapter.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Recognizer close failed")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.stopTimeout):
		s.logger.Warn().
			Dur("timeout", s.stopTimeout).
			Msg("Recognizer close timed out, forcing shutdown")
	}

	s.cancel()
	s.publishWg.Wait()

	s.connMu.Lock()
	conn := s.conn
	s.conn = nil
	s.connMu.Unlock()
	if conn != nil {
		conn.Disconnect()
	}

	s.hub.CloseRoom(s.RoomName)

	if !s.startedAt.IsZero() {
		s.metrics.RecordSessionEnd(time.Since(s.startedAt).Seconds())
	}
	s.metrics.RecordQueueDepth(s.RoomName, 0)
	s.logger.Info().
		Uint64("frames_dropped", s.queue.Dropped()).
		Msg("Session stopped")
}

// feedLoop moves queued frames into the recognizer one at a time.
func (s *Session) feedLoop() {
	defer s.feedWg.Done()
	for {
		frame, ok := s.queue.Dequeue(s.ctx)
		if !ok {
			return
		}
		s.metrics.RecordQueueDepth(s.RoomName, s.queue.Depth())
		if err := s.adapter.SendAudio(s.ctx, frame.Data); err != nil {
			s.logger.Warn().Err(err).Msg("Audio send failed")
			if stt.IsConnectError(err) {
				s.OnError(err)
				return
			}
		}
	}
}

func (s *Session) queuePartial(ev models.RecognitionEvent) {
	select {
	case s.out <- outboundUpdate{kind: outboundPartial, event: ev}:
	case <-s.ctx.Done():
	}
}

func (s *Session) queueFinal(entry models.TranscriptEntry) {
	select {
	case s.out <- outboundUpdate{kind: outboundFinal, entry: entry}:
	case <-s.ctx.Done():
	}
}

// publishLoop is the single consumer of the outbound channel, so
// clients observe entries in commit order.
func (s *Session) publishLoop() {
	defer s.publishWg.Done()
	for {
		select {
		case update := <-s.out:
			switch update.kind {
			case outboundPartial:
				s.publishPartial(update.event)
			case outboundFinal:
				s.publishFinal(update.entry)
			}
		case <-s.ctx.Done():
			// Flush what is already queued before exiting.
			for {
				select {
				case update := <-s.out:
					if update.kind == outboundFinal {
						s.publishFinal(update.entry)
					}
				default:
					return
				}
			}
		}
	}
}

func (s *Session) publishPartial(ev models.RecognitionEvent) {
	err := s.exporter.PublishPartial(context.Background(), &models.TranscriptPartial{
		RoomName:  s.RoomName,
		Speaker:   ev.Speaker,
		Text:      ev.Text,
		Timestamp: time.Now().UnixMilli(),
		StartSec:  ev.StartSec,
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("Partial export failed")
	}
}

func (s *Session) publishFinal(entry models.TranscriptEntry) {
	msg := models.TranscriptionMessage{
		Type:      "transcription",
		Speaker:   entry.Speaker,
		Text:      entry.Text,
		Timestamp: entry.Timestamp,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error().Err(err).Msg("Transcript marshal failed")
		return
	}

	s.connMu.RLock()
	conn := s.conn
	s.connMu.RUnlock()
	if conn != nil {
		if err := conn.PublishData(payload); err != nil {
			s.logger.Warn().Err(err).Msg("Data channel publish failed")
		}
	}

	s.hub.Broadcast(s.RoomName, payload, nil)

	err = s.exporter.PublishFinal(context.Background(), &models.TranscriptFinal{
		RoomName:  s.RoomName,
		Seq:       entry.Seq,
		Speaker:   entry.Speaker,
		Text:      entry.Text,
		Timestamp: time.Now().UnixMilli(),
		StartSec:  entry.Timestamp,
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("Final export failed")
	}
}
