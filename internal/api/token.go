package api

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/livekit/protocol/auth"
)

const clientTokenTTL = 6 * time.Hour

// TokenMinter issues LiveKit join tokens for mobile clients.
type TokenMinter struct {
	apiKey    string
	apiSecret string
}

// NewTokenMinter creates a minter for one LiveKit key pair.
func NewTokenMinter(apiKey, apiSecret string) *TokenMinter {
	return &TokenMinter{apiKey: apiKey, apiSecret: apiSecret}
}

// MintClientToken issues a token granting full audio participation in
// one room, under a fresh "mobile-" identity.
func (m *TokenMinter) MintClientToken(roomName string) (identity, token string, err error) {
	identity = "mobile-" + randomHex(4)

	canPublish := true
	canSubscribe := true
	canPublishData := true
	grant := &auth.VideoGrant{
		RoomJoin:       true,
		Room:           roomName,
		CanPublish:     &canPublish,
		CanSubscribe:   &canSubscribe,
		CanPublishData: &canPublishData,
	}

	token, err = auth.NewAccessToken(m.apiKey, m.apiSecret).
		SetIdentity(identity).
		SetName("Mobile User").
		SetVideoGrant(grant).
		SetValidFor(clientTokenTTL).
		ToJWT()
	return identity, token, err
}

// NewRoomName generates a fresh conversation room name.
func NewRoomName() string {
	return "conversation-" + randomHex(4)
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err) // crypto/rand never fails on supported platforms
	}
	return hex.EncodeToString(b)
}
