package models

import (
	"time"
)

// Provider identifiers stored in user_providers.provider_id
const (
	ProviderPassword = "password"
	ProviderGoogle   = "google.com"
)

type User struct {
	ID                string
	Email             string
	PasswordHash      string // empty for OAuth-only users
	DisplayName       string
	EmailVerified     bool
	TokenKey          string // Per-user secret for composite token signing
	Role              string // "user" or "admin"
	CreatedAt         time.Time
	UpdatedAt         time.Time
	LastSignInAt      *time.Time
	PasswordChangedAt *time.Time
	ProviderData      []ProviderInfo
}

// ProviderInfo is one linked sign-in method of a user.
type ProviderInfo struct {
	ProviderID string    `json:"provider_id"`
	Subject    string    `json:"subject"`
	Email      string    `json:"email"`
	LinkedAt   time.Time `json:"linked_at"`
}

// UserMetadata mirrors the creation and last sign-in timestamps of a user.
type UserMetadata struct {
	CreationTime   time.Time  `json:"creation_time"`
	LastSignInTime *time.Time `json:"last_sign_in_time,omitempty"`
}

func (u *User) Metadata() UserMetadata {
	return UserMetadata{CreationTime: u.CreatedAt, LastSignInTime: u.LastSignInAt}
}

// HasProvider reports whether the user has linked the given sign-in method.
func (u *User) HasProvider(providerID string) bool {
	for _, p := range u.ProviderData {
		if p.ProviderID == providerID {
			return true
		}
	}
	return false
}

// PrimaryProvider returns the first linked provider id, or "" when none is linked.
func (u *User) PrimaryProvider() string {
	if len(u.ProviderData) == 0 {
		return ""
	}
	return u.ProviderData[0].ProviderID
}
