// Package room attaches the service to LiveKit rooms as a hidden
// agent participant and turns subscribed audio tracks into PCM frames
// for the transcription pipeline.
package room

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"dialogue-transcription-service/internal/observability/logging"
	"dialogue-transcription-service/internal/session"
)

const agentTokenTTL = 24 * time.Hour

// Connector dials LiveKit rooms on behalf of the session controller.
type Connector struct {
	url        string
	apiKey     string
	apiSecret  string
	roomClient *lksdk.RoomServiceClient
	logger     zerolog.Logger
}

// NewConnector creates a connector for one LiveKit deployment.
func NewConnector(url, apiKey, apiSecret string) *Connector {
	return &Connector{
		url:        url,
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		roomClient: lksdk.NewRoomServiceClient(url, apiKey, apiSecret),
		logger:     logging.WithComponent("room"),
	}
}

// Connect joins the room as a hidden agent, subscribes to every audio
// track, and streams decoded frames into events. Participant join and
// leave callbacks are forwarded so the controller can track occupancy.
func (c *Connector) Connect(ctx context.Context, roomName string, events session.RoomEvents) (session.RoomConnection, error) {
	// Create the room up front so an unreachable control plane fails
	// fast. CreateRoom returns the existing room when it already exists.
	if _, err := c.roomClient.CreateRoom(ctx, &livekit.CreateRoomRequest{Name: roomName}); err != nil {
		return nil, fmt.Errorf("create room %s: %w", roomName, err)
	}

	token, err := c.agentToken(roomName)
	if err != nil {
		return nil, fmt.Errorf("mint agent token: %w", err)
	}

	logger := logging.WithRoom("room", roomName)
	conn := &Connection{
		roomName: roomName,
		events:   events,
		readers:  make(map[string]*trackReader),
		logger:   logger,
	}

	callbacks := &lksdk.RoomCallback{
		OnDisconnected: func() {
			logger.Info().Msg("Disconnected from room")
			conn.stopAllReaders()
		},
		OnParticipantConnected: func(rp *lksdk.RemoteParticipant) {
			events.OnParticipantJoined(rp.Identity())
		},
		OnParticipantDisconnected: func(rp *lksdk.RemoteParticipant) {
			conn.stopReadersFor(rp.Identity())
			events.OnParticipantLeft(rp.Identity())
		},
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed: func(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				if track.Kind() != webrtc.RTPCodecTypeAudio {
					return
				}
				conn.startReader(rp.Identity(), track)
			},
			OnTrackUnsubscribed: func(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				if track.Kind() != webrtc.RTPCodecTypeAudio {
					return
				}
				conn.stopReader(track.ID())
			},
		},
	}

	room, err := lksdk.ConnectToRoomWithToken(c.url, token, callbacks)
	if err != nil {
		return nil, fmt.Errorf("connect to room %s: %w", roomName, err)
	}
	conn.room = room

	// Pick up participants and tracks already in the room.
	for _, p := range room.GetRemoteParticipants() {
		events.OnParticipantJoined(p.Identity())
		for _, pub := range p.TrackPublications() {
			if pub.Kind() != lksdk.TrackKindAudio {
				continue
			}
			remotePub, ok := pub.(*lksdk.RemoteTrackPublication)
			if !ok {
				continue
			}
			if !remotePub.IsSubscribed() {
				remotePub.SetSubscribed(true)
			}
			if track := remotePub.Track(); track != nil {
				if remoteTrack, ok := track.(*webrtc.TrackRemote); ok {
					conn.startReader(p.Identity(), remoteTrack)
				}
			}
		}
	}

	logger.Info().
		Str("identity", room.LocalParticipant.Identity()).
		Msg("Connected to room")
	return conn, nil
}

func (c *Connector) agentToken(roomName string) (string, error) {
	canSubscribe := true
	canPublishData := true
	grant := &auth.VideoGrant{
		RoomJoin:       true,
		Room:           roomName,
		CanSubscribe:   &canSubscribe,
		CanPublishData: &canPublishData,
		Hidden:         true,
	}
	at := auth.NewAccessToken(c.apiKey, c.apiSecret).
		SetIdentity("transcriber-" + roomName).
		SetName("Transcriber").
		SetVideoGrant(grant).
		SetValidFor(agentTokenTTL)
	return at.ToJWT()
}

// Connection is a live attachment to one room.
type Connection struct {
	roomName string
	room     *lksdk.Room
	events   session.RoomEvents
	logger   zerolog.Logger

	mu      sync.Mutex
	readers map[string]*trackReader
}

// PublishData sends a payload to all participants over the reliable
// data channel.
func (c *Connection) PublishData(payload []byte) error {
	return c.room.LocalParticipant.PublishDataPacket(
		lksdk.UserData(payload),
		lksdk.WithDataPublishReliable(true),
	)
}

// Disconnect stops all track readers and leaves the room.
func (c *Connection) Disconnect() {
	c.stopAllReaders()
	c.room.Disconnect()
	c.logger.Info().Msg("Left room")
}

func (c *Connection) startReader(identity string, track *webrtc.TrackRemote) {
	logger := c.logger.With().
		Str("participant", identity).
		Str("track", track.ID()).
		Logger()

	reader, err := newTrackReader(identity, track.ID(), c.events, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Track reader setup failed")
		return
	}

	c.mu.Lock()
	if _, exists := c.readers[track.ID()]; exists {
		c.mu.Unlock()
		reader.cancel()
		reader.resampler.Close()
		return
	}
	c.readers[track.ID()] = reader
	c.mu.Unlock()

	reader.start(track)
	logger.Info().Msg("Audio track subscribed")
}

func (c *Connection) stopReader(trackID string) {
	c.mu.Lock()
	reader, ok := c.readers[trackID]
	delete(c.readers, trackID)
	c.mu.Unlock()
	if ok {
		reader.stop()
	}
}

func (c *Connection) stopReadersFor(identity string) {
	c.mu.Lock()
	var stale []*trackReader
	for id, reader := range c.readers {
		if reader.participant == identity {
			stale = append(stale, reader)
			delete(c.readers, id)
		}
	}
	c.mu.Unlock()
	for _, reader := range stale {
		reader.stop()
	}
}

func (c *Connection) stopAllReaders() {
	c.mu.Lock()
	stale := make([]*trackReader, 0, len(c.readers))
	for id, reader := range c.readers {
		stale = append(stale, reader)
		delete(c.readers, id)
	}
	c.mu.Unlock()
	for _, reader := range stale {
		reader.stop()
	}
}
