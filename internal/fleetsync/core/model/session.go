package model

import "time"

// Session is an authenticated session against the telemetry provider.
// A session is replaced wholesale on re-authentication and never mutated.
type Session struct {
	// Token is the opaque credential sent with every provider call.
	Token string `json:"token"`

	// Owner is the provider account the token was issued to.
	Owner string `json:"owner"`

	ExpiresAt time.Time `json:"expiresAt"`

	// BaseURL is the provider endpoint the token is valid for.
	BaseURL string `json:"baseUrl"`

	CreatedAt time.Time `json:"createdAt"`
}

// Expired reports whether the session can no longer be used at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Credentials are the stored account credentials used to obtain a new session.
type Credentials struct {
	Username string

	// PasswordHash is the hex MD5 digest the provider expects at login.
	PasswordHash string
}
