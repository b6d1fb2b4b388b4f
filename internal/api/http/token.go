package http

import (
	"time"

	"github.com/livekit/protocol/auth"
)

// TokenMinter issues LiveKit room join tokens.
type TokenMinter struct {
	apiKey    string
	apiSecret string
	ttl       time.Duration
}

// NewTokenMinter creates a minter. A zero ttl falls back to 6 hours.
func NewTokenMinter(apiKey, apiSecret string, ttl time.Duration) *TokenMinter {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &TokenMinter{apiKey: apiKey, apiSecret: apiSecret, ttl: ttl}
}

// Mint returns a JWT granting the identity permission to join the room.
func (m *TokenMinter) Mint(room, identity string) (string, error) {
	at := auth.NewAccessToken(m.apiKey, m.apiSecret)
	at.AddGrant(&auth.VideoGrant{
		RoomJoin: true,
		Room:     room,
	})
	at.SetIdentity(identity)
	at.SetValidFor(m.ttl)
	return at.ToJWT()
}
