package auth

import (
	"errors"
	"time"

	"chamada/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Manager mints and checks LiveKit room access tokens.
type Manager struct {
	apiKey string
	secret []byte
	ttl    time.Duration
}

func NewManager(cfg config.LiveKitConfig) (*Manager, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, errors.New("LIVEKIT_API_KEY and LIVEKIT_API_SECRET are required")
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &Manager{apiKey: cfg.APIKey, secret: []byte(cfg.APISecret), ttl: ttl}, nil
}

/* ===================== ISSUE TOKENS ===================== */

// RoomJoin returns a token letting identity join room as an agent.
func (m *Manager) RoomJoin(now time.Time, room, identity string) (string, error) {
	if room == "" || identity == "" {
		return "", errors.New("auth: room and identity are required")
	}
	yes := true
	return m.sign(now, identity, VideoGrant{
		Room:           room,
		RoomJoin:       true,
		CanPublish:     &yes,
		CanSubscribe:   &yes,
		CanPublishData: &yes,
		Agent:          true,
	})
}

// WorkerToken returns a token for registering identity as an agent worker.
// It grants no room.
func (m *Manager) WorkerToken(now time.Time, identity string) (string, error) {
	if identity == "" {
		return "", errors.New("auth: identity is required")
	}
	return m.sign(now, identity, VideoGrant{Agent: true})
}

func (m *Manager) sign(now time.Time, identity string, grant VideoGrant) (string, error) {
	claims := RoomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.apiKey,
			Subject:   identity,
			NotBefore: jwt.NewNumericDate(now.Add(-10 * time.Second)),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			ID:        uuid.NewString(),
		},
		Name:  identity,
		Video: grant,
		Kind:  "agent",
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(m.secret)
}

/* ===================== VERIFY TOKEN ===================== */

func (m *Manager) Verify(tokenString string, now time.Time) (RoomClaims, error) {
	var claims RoomClaims

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.apiKey),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(30*time.Second),
	)
	_, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		return RoomClaims{}, err
	}
	if claims.Subject == "" {
		return RoomClaims{}, errors.New("identity missing")
	}
	if !claims.Video.RoomJoin || claims.Video.Room == "" {
		return RoomClaims{}, errors.New("room grant missing")
	}
	return claims, nil
}
