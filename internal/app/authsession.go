package app

import (
	"math"
	"time"
)

// AuthState is the state of the SSO login protocol.
type AuthState uint

const (
	AuthIdle AuthState = iota
	AuthRedirecting
	AuthExchanging
	AuthAuthenticated
	AuthFailed
)

func (s AuthState) String() string {
	switch s {
	case AuthIdle:
		return "idle"
	case AuthRedirecting:
		return "redirecting"
	case AuthExchanging:
		return "exchanging"
	case AuthAuthenticated:
		return "authenticated"
	case AuthFailed:
		return "failed"
	}
	return "?"
}

// AuthSession represents the session of the authenticated character.
//
// The code verifier is held in local storage only and is therefore not part of a session.
type AuthSession struct {
	State         AuthState
	CodeChallenge string
	// Anti-CSRF token sent with the authorization request.
	AuthorizationState string
	AccessToken        string
	ExpiresAt          time.Time
	CharacterID        int32
	CharacterName      string
	Profile            *PublicProfile
	Scopes             []string // granted scopes
	// Last error when the session is in failed state or the profile could not be fetched.
	LastError string
}

// IsExpired reports whether the access token has expired.
// A token without expiry information never expires.
func (s AuthSession) IsExpired(now time.Time) bool {
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.ExpiresAt)
}

// PublicProfile is the combined public profile of a character and it's corporation.
type PublicProfile struct {
	CharacterID     int32
	CharacterName   string
	CorporationID   int32
	CorporationName string
	PortraitURL     string
	CorporationLogo string  // URL
	SecurityStatus  float64 // rounded to one decimal place
}

// RoundSecurityStatus returns v rounded to one decimal place.
func RoundSecurityStatus(v float64) float64 {
	return math.Round(v*10) / 10
}
