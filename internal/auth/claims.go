package auth

import "github.com/golang-jwt/jwt/v5"

// VideoGrant is the LiveKit room permission block of an access token.
type VideoGrant struct {
	Room           string `json:"room,omitempty"`
	RoomJoin       bool   `json:"roomJoin,omitempty"`
	RoomCreate     bool   `json:"roomCreate,omitempty"`
	CanPublish     *bool  `json:"canPublish,omitempty"`
	CanSubscribe   *bool  `json:"canSubscribe,omitempty"`
	CanPublishData *bool  `json:"canPublishData,omitempty"`
	Hidden         bool   `json:"hidden,omitempty"`
	Agent          bool   `json:"agent,omitempty"`
}

// RoomClaims is the LiveKit access token shape: issuer is the API key and
// subject the participant identity.
type RoomClaims struct {
	jwt.RegisteredClaims

	Name  string     `json:"name,omitempty"`
	Video VideoGrant `json:"video"`
	Kind  string     `json:"kind,omitempty"`
}
