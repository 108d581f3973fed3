package model

import "time"

// AccessSession is the access credential shared by every worker.
type AccessSession struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	TokenType    string    `json:"tokenType,omitempty"`
	IssuedAt     time.Time `json:"issuedAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// ExpiresIn returns the time left until the token expires.
func (s *AccessSession) ExpiresIn() time.Duration {
	return time.Until(s.ExpiresAt)
}

// IsExpiring reports whether the token expires within skew.
// A session without expiry never expires.
func (s *AccessSession) IsExpiring(skew time.Duration) bool {
	if s == nil || s.AccessToken == "" {
		return true
	}
	if s.ExpiresAt.IsZero() {
		return false
	}
	return s.ExpiresIn()-skew <= 0
}
