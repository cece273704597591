package domain

import "context"

// User is the external account record. This service only reads users; the
// owning system manages their lifecycle.
type User struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
	Role         string `json:"role"`
	MFAEnabled   bool   `json:"mfaEnabled"`
	MFASecret    string `json:"-"`
}

// Sanitize returns a copy safe for client responses.
func (u User) Sanitize() User {
	u.PasswordHash = ""
	u.MFASecret = ""
	return u
}

// UserRepository is the injected user lookup capability.
type UserRepository interface {
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
}
