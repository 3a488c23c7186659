package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"dialogue-transcription-service/internal/events"
	"dialogue-transcription-service/internal/models"
	"dialogue-transcription-service/internal/observability/logging"
	"dialogue-transcription-service/internal/relay"
	"dialogue-transcription-service/internal/stt"
)

// ErrSessionExists is returned when a room already has a live session.
var ErrSessionExists = errors.New("session: room already active")

// ErrSessionNotFound is returned for operations on an unknown room.
var ErrSessionNotFound = errors.New("session: room not active")

// AdapterFactory builds a fresh recognizer stream for one room.
type AdapterFactory func(ctx context.Context) (stt.Adapter, error)

// Config tunes the controller's per-session behavior.
type Config struct {
	QueueCapacity int
	GracePeriod   time.Duration
	StopTimeout   time.Duration
}

// Controller owns the set of live sessions, one per room. It creates
// the pipeline when a room opens, routes media-room callbacks into
// it, and reaps sessions whose rooms stay empty past the grace
// period.
type Controller struct {
	cfg        Config
	newAdapter AdapterFactory
	connector  Connector
	hub        *relay.Hub
	exporter   *events.Publisher

	mu       sync.Mutex
	sessions map[string]*liveSession

	logger zerolog.Logger
}

// liveSession pairs a session with its occupancy bookkeeping. The
// reap timer runs whenever the room has no participants.
type liveSession struct {
	session      *Session
	participants int
	reapTimer    *time.Timer
}

// NewController creates a controller with no live sessions.
func NewController(cfg Config, factory AdapterFactory, connector Connector, hub *relay.Hub, exporter *events.Publisher) *Controller {
	return &Controller{
		cfg:        cfg,
		newAdapter: factory,
		connector:  connector,
		hub:        hub,
		exporter:   exporter,
		sessions:   make(map[string]*liveSession),
		logger:     logging.WithComponent("controller"),
	}
}

// Open creates and starts the session for a room. The room is
// registered before any resource is acquired so a concurrent Open for
// the same room fails fast with ErrSessionExists. On any failure the
// partially built pipeline is torn down and the registration removed.
func (c *Controller) Open(ctx context.Context, roomName string) error {
	c.mu.Lock()
	if _, ok := c.sessions[roomName]; ok {
		c.mu.Unlock()
		return ErrSessionExists
	}
	live := &liveSession{}
	c.sessions[roomName] = live
	c.mu.Unlock()

	adapter, err := c.newAdapter(ctx)
	if err != nil {
		c.remove(roomName)
		return err
	}

	sess := New(Options{
		RoomName:      roomName,
		Adapter:       adapter,
		Hub:           c.hub,
		Exporter:      c.exporter,
		QueueCapacity: c.cfg.QueueCapacity,
		StopTimeout:   c.cfg.StopTimeout,
		OnFatal:       func(room string) { c.Close(room) },
	})

	c.mu.Lock()
	live.session = sess
	c.mu.Unlock()

	if err := sess.Start(); err != nil {
		sess.Stop()
		c.remove(roomName)
		return err
	}

	if c.connector != nil {
		conn, err := c.connector.Connect(ctx, roomName, &roomEvents{controller: c, room: roomName})
		if err != nil {
			sess.Stop()
			c.remove(roomName)
			return err
		}
		sess.AttachRoom(conn)
	}

	// An opened room that nobody ever joins is reaped like an
	// abandoned one.
	c.mu.Lock()
	c.scheduleReapLocked(roomName, live)
	c.mu.Unlock()

	c.logger.Info().Str("room", roomName).Msg("Session opened")
	return nil
}

// Close stops a room's session and removes it. Returns
// ErrSessionNotFound for unknown rooms.
func (c *Controller) Close(roomName string) error {
	c.mu.Lock()
	live, ok := c.sessions[roomName]
	if !ok || live.session == nil {
		c.mu.Unlock()
		return ErrSessionNotFound
	}
	if live.reapTimer != nil {
		live.reapTimer.Stop()
		live.reapTimer = nil
	}
	delete(c.sessions, roomName)
	sess := live.session
	c.mu.Unlock()

	sess.Stop()
	c.logger.Info().Str("room", roomName).Msg("Session closed")
	return nil
}

// Shutdown stops every live session.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	rooms := make([]string, 0, len(c.sessions))
	for room := range c.sessions {
		rooms = append(rooms, room)
	}
	c.mu.Unlock()

	for _, room := range rooms {
		c.Close(room)
	}
}

// Transcript returns the committed entries for a room.
func (c *Controller) Transcript(roomName string) ([]models.TranscriptEntry, error) {
	sess, err := c.lookup(roomName)
	if err != nil {
		return nil, err
	}
	return sess.Entries(), nil
}

// TranscriptBySpeaker returns a room's committed entries for one
// speaker label.
func (c *Controller) TranscriptBySpeaker(roomName, speaker string) ([]models.TranscriptEntry, error) {
	sess, err := c.lookup(roomName)
	if err != nil {
		return nil, err
	}
	return sess.EntriesBySpeaker(speaker), nil
}

// Active reports whether a room has a live session.
func (c *Controller) Active(roomName string) bool {
	_, err := c.lookup(roomName)
	return err == nil
}

func (c *Controller) lookup(roomName string) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	live, ok := c.sessions[roomName]
	if !ok || live.session == nil {
		return nil, ErrSessionNotFound
	}
	return live.session, nil
}

func (c *Controller) remove(roomName string) {
	c.mu.Lock()
	if live, ok := c.sessions[roomName]; ok && live.reapTimer != nil {
		live.reapTimer.Stop()
	}
	delete(c.sessions, roomName)
	c.mu.Unlock()
}

// scheduleReapLocked arms the empty-room timer. Caller holds c.mu.
func (c *Controller) scheduleReapLocked(roomName string, live *liveSession) {
	if live.reapTimer != nil {
		live.reapTimer.Stop()
	}
	live.reapTimer = time.AfterFunc(c.cfg.GracePeriod, func() {
		c.reapIfEmpty(roomName)
	})
}

func (c *Controller) reapIfEmpty(roomName string) {
	c.mu.Lock()
	live, ok := c.sessions[roomName]
	if !ok || live.participants > 0 {
		c.mu.Unlock()
		return
	}
	// Live relay subscribers keep the room alive even with no media
	// participants. Check again after another grace period.
	if c.hub != nil && c.hub.RoomSize(roomName) > 0 {
		c.scheduleReapLocked(roomName, live)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.logger.Info().
		Str("room", roomName).
		Dur("grace_period", c.cfg.GracePeriod).
		Msg("Reaping empty room")
	c.Close(roomName)
}

// participantJoined cancels any pending reap for the room.
func (c *Controller) participantJoined(roomName, identity string) {
	c.mu.Lock()
	live, ok := c.sessions[roomName]
	if !ok {
		c.mu.Unlock()
		return
	}
	live.participants++
	if live.reapTimer != nil {
		live.reapTimer.Stop()
		live.reapTimer = nil
	}
	count := live.participants
	c.mu.Unlock()

	c.logger.Info().
		Str("room", roomName).
		Str("identity", identity).
		Int("participants", count).
		Msg("Participant joined")
}

// participantLeft arms the reap timer when the room empties.
func (c *Controller) participantLeft(roomName, identity string) {
	c.mu.Lock()
	live, ok := c.sessions[roomName]
	if !ok {
		c.mu.Unlock()
		return
	}
	if live.participants > 0 {
		live.participants--
	}
	count := live.participants
	if count == 0 {
		c.scheduleReapLocked(roomName, live)
	}
	c.mu.Unlock()

	c.logger.Info().
		Str("room", roomName).
		Str("identity", identity).
		Int("participants", count).
		Msg("Participant left")
}

// roomEvents adapts media-room callbacks for one room onto the
// controller and its session.
type roomEvents struct {
	controller *Controller
	room       string
}

func (r *roomEvents) OnAudioFrame(frame *models.AudioFrame) {
	sess, err := r.controller.lookup(r.room)
	if err != nil {
		return
	}
	sess.EnqueueFrame(frame)
}

func (r *roomEvents) OnParticipantJoined(identity string) {
	r.controller.participantJoined(r.room, identity)
}

func (r *roomEvents) OnParticipantLeft(identity string) {
	r.controller.participantLeft(r.room, identity)
}
