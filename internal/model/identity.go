package model

import "time"

// IdentityTTL bounds how long an issued identity admits its holder.
const IdentityTTL = 24 * time.Hour

// TestIdentity is the anonymous test taker bound to one test attempt.
// AttemptID is unique per issuance; a re-issued identity starts a new attempt.
type TestIdentity struct {
	TestID    string    `json:"test_id"`
	AttemptID string    `json:"attempt_id"`
	FullName  string    `json:"full_name"`
	Email     string    `json:"email"`
	IssuedAt  time.Time `json:"issued_at"`
}

// IssueIdentityRequest is the payload for authenticating a test taker.
type IssueIdentityRequest struct {
	FullName     string `json:"full_name"`
	Email        string `json:"email"`
	ConfirmEmail string `json:"confirm_email"`
}

// IssuedIdentity is returned to the host after authentication.
type IssuedIdentity struct {
	ClientID  string       `json:"client_id"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	Identity  TestIdentity `json:"identity"`
}
