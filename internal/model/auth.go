package model

import "time"

// Identity is the normalized result of a GitHub sign-in.
// ProviderAccessToken is opaque and never serialized to clients.
type Identity struct {
	Login               string `json:"login"`
	DisplayName         string `json:"name"`
	AvatarURL           string `json:"image"`
	ProviderAccessToken string `json:"-"`
}

type Session struct {
	Identity  Identity
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type SessionResponse struct {
	User    Identity `json:"user"`
	IsOwner bool     `json:"isOwner"`
	Expires string   `json:"expires"`
}
