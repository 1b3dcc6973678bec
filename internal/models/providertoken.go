package models

import (
	"time"
)

// ProviderToken holds the external provider's own credentials for a member,
// at most one record per (member, provider)
type ProviderToken struct {
	MemberID         int64
	Provider         ProviderType
	AccessToken      string
	RefreshToken     string // empty when the provider issued none
	AccessExpiresAt  *time.Time
	RefreshExpiresAt *time.Time
	UpdatedAt        time.Time
}

// IsAccessExpired reports whether the stored provider access token is past
// its expiry. A missing expiry means "never expires" — an observed leniency
// of the providers, kept on purpose.
func (t ProviderToken) IsAccessExpired(now time.Time) bool {
	if t.AccessExpiresAt == nil {
		return false
	}
	return now.After(*t.AccessExpiresAt)
}

// HasUsableRefresh reports whether a refresh token is present and not expired
func (t ProviderToken) HasUsableRefresh(now time.Time) bool {
	if t.RefreshToken == "" {
		return false
	}
	if t.RefreshExpiresAt == nil {
		return true
	}
	return now.Before(*t.RefreshExpiresAt)
}
