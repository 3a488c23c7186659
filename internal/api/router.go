// Package api exposes the service HTTP surface: room creation, the
// WebSocket relay, and transcript retrieval.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"dialogue-transcription-service/internal/models"
	"dialogue-transcription-service/internal/observability"
	"dialogue-transcription-service/internal/observability/logging"
	"dialogue-transcription-service/internal/relay"
	"dialogue-transcription-service/internal/session"
)

// SessionService is the subset of the session controller the API
// depends on.
type SessionService interface {
	Open(ctx context.Context, roomName string) error
	Transcript(roomName string) ([]models.TranscriptEntry, error)
	TranscriptBySpeaker(roomName, speaker string) ([]models.TranscriptEntry, error)
	Active(roomName string) bool
}

// Server carries the handler dependencies.
type Server struct {
	sessions   SessionService
	hub        *relay.Hub
	minter     *TokenMinter
	livekitURL string

	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewServer wires the API handlers.
func NewServer(sessions SessionService, hub *relay.Hub, minter *TokenMinter, livekitURL string) *Server {
	return &Server{
		sessions:   sessions,
		hub:        hub,
		minter:     minter,
		livekitURL: livekitURL,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Mobile clients connect from app webviews with no
			// meaningful origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logging.WithComponent("api"),
	}
}

// Router constructs the HTTP router for the service.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observability.RequestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/create-room", s.handleCreateRoom)
		r.Get("/conversation/{roomName}/transcript", s.handleTranscript)
	})

	r.Get("/ws/{roomName}", s.handleRelay)

	return r
}

type createRoomResponse struct {
	RoomName string `json:"room_name"`
	Token    string `json:"token"`
	URL      string `json:"url"`
}

// handleCreateRoom provisions a fresh conversation room, starts its
// transcription session, and returns a join token for the caller.
func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	roomName := NewRoomName()

	if err := s.sessions.Open(r.Context(), roomName); err != nil {
		s.logger.Error().Err(err).Str("room", roomName).Msg("Room open failed")
		writeError(w, http.StatusBadGateway, "failed to start transcription session")
		return
	}

	identity, token, err := s.minter.MintClientToken(roomName)
	if err != nil {
		s.logger.Error().Err(err).Str("room", roomName).Msg("Token mint failed")
		writeError(w, http.StatusInternalServerError, "failed to mint access token")
		return
	}

	s.logger.Info().
		Str("room", roomName).
		Str("identity", identity).
		Msg("Room created")
	writeJSON(w, http.StatusOK, createRoomResponse{
		RoomName: roomName,
		Token:    token,
		URL:      s.livekitURL,
	})
}

type transcriptResponse struct {
	RoomName string                   `json:"room_name"`
	Entries  []models.TranscriptEntry `json:"entries"`
}

// handleTranscript returns the committed transcript so far. The
// optional speaker query parameter filters to one label.
func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	roomName := chi.URLParam(r, "roomName")

	var (
		entries []models.TranscriptEntry
		err     error
	)
	if speaker := r.URL.Query().Get("speaker"); speaker != "" {
		entries, err = s.sessions.TranscriptBySpeaker(roomName, speaker)
	} else {
		entries, err = s.sessions.Transcript(roomName)
	}
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "room not active")
			return
		}
		writeError(w, http.StatusInternalServerError, "transcript unavailable")
		return
	}

	if entries == nil {
		entries = []models.TranscriptEntry{}
	}
	writeJSON(w, http.StatusOK, transcriptResponse{RoomName: roomName, Entries: entries})
}

// handleRelay upgrades the connection and attaches it to the room's
// fan-out group. Messages from one subscriber are relayed to every
// other subscriber in the room.
func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	roomName := chi.URLParam(r, "roomName")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("room", roomName).Msg("WebSocket upgrade failed")
		return
	}

	sub := relay.NewSubscriber(uuid.NewString(), conn)
	s.hub.Join(roomName, sub)

	go sub.WritePump()
	sub.ReadPump(s.hub, roomName)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
