package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// sendBuffer bounds how far a subscriber may fall behind before
	// the hub drops it.
	sendBuffer = 64

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 64 * 1024
)

// Subscriber is one WebSocket client attached to a room. Outbound
// payloads go through a buffered send channel drained by WritePump so
// broadcasts never block on a peer's socket.
type Subscriber struct {
	ID   string
	conn *websocket.Conn

	send      chan []byte
	closeOnce sync.Once
	logger    zerolog.Logger
}

// NewSubscriber wraps an upgraded connection. conn may be nil in
// tests that only exercise the hub's bookkeeping.
func NewSubscriber(id string, conn *websocket.Conn) *Subscriber {
	return &Subscriber{
		ID:     id,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		logger: log.With().
			Str("component", "relay").
			Str("subscriberId", id).
			Logger(),
	}
}

// sendResult classifies one non-blocking hand-off to a subscriber.
type sendResult int

const (
	sendOK sendResult = iota
	sendBufferFull
	sendClosed
)

// trySend hands a payload to the subscriber without blocking. A full
// buffer and an already-closed channel (disconnect race) are reported
// as distinct failures.
func (s *Subscriber) trySend(payload []byte) (res sendResult) {
	defer func() {
		if recover() != nil {
			res = sendClosed
		}
	}()
	select {
	case s.send <- payload:
		return sendOK
	default:
		return sendBufferFull
	}
}

func (s *Subscriber) closeSend() {
	s.closeOnce.Do(func() { close(s.send) })
}

// ReadPump consumes inbound messages and relays each one to the other
// subscribers in the room. It returns when the peer disconnects or
// errors, after removing the subscriber from the hub.
func (s *Subscriber) ReadPump(hub *Hub, room string) {
	defer func() {
		hub.Leave(room, s)
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Str("room", room).Msg("Subscriber read error")
			}
			return
		}
		hub.Broadcast(room, payload, s)
	}
}

// WritePump drains the send channel onto the socket and keeps the
// connection alive with pings. It returns when the send channel is
// closed or a write fails.
func (s *Subscriber) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.logger.Debug().Err(err).Msg("Subscriber write error")
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
