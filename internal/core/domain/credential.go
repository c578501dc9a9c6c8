package domain

import "time"

// Credential is the decoded content of a verified access token.
//
// It carries no live reference to account state: an account suspended after
// issuance keeps a valid credential until ExpiresAt.
type Credential struct {
	Subject   string        `json:"sub"`
	Role      Role          `json:"role"`
	Status    AccountStatus `json:"status"`
	IssuedAt  time.Time     `json:"iat"`
	ExpiresAt time.Time     `json:"exp"`
}
