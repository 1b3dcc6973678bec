package models

import (
	"time"
)

// Authentication provider types supported for login
type ProviderType string

const (
	ProviderGoogle ProviderType = "google"
	ProviderKakao  ProviderType = "kakao"
)

// Member roles
const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// NicknamePolicy limits how often a member may rename themselves
type NicknamePolicy struct {
	MaxChanges int
	Cooldown   time.Duration
}

type Member struct {
	ID             int64
	Email          string
	ProviderType   ProviderType
	ProviderUserID string
	Role           string
	Nickname       string

	NicknameChangeCount  int
	LastNicknameChangeAt *time.Time

	VisitCount int64

	IsDeleted       bool
	WithdrawnAt     *time.Time
	LastWithdrawnAt *time.Time

	// Guards concurrent updates (visit counter, nickname change)
	Version int64

	CreatedAt time.Time
}

// CanChangeNickname reports whether a nickname change is allowed right now.
// The quota is exhausted permanently once MaxChanges is reached; below the
// quota a change is allowed if the member never renamed or the cooldown passed.
func (m Member) CanChangeNickname(now time.Time, policy NicknamePolicy) bool {
	if m.NicknameChangeCount >= policy.MaxChanges {
		return false
	}
	if m.LastNicknameChangeAt == nil {
		return true
	}
	return now.Sub(*m.LastNicknameChangeAt) >= policy.Cooldown
}

// NextNicknameChangeAt returns when the cooldown ends, or nil if the member
// never changed their nickname
func (m Member) NextNicknameChangeAt(cooldown time.Duration) *time.Time {
	if m.LastNicknameChangeAt == nil {
		return nil
	}
	at := m.LastNicknameChangeAt.Add(cooldown)
	return &at
}

// WithNickname returns a snapshot with the nickname changed.
// Callers must check CanChangeNickname first.
func (m Member) WithNickname(name string, now time.Time) Member {
	m.Nickname = name
	m.NicknameChangeCount++
	m.LastNicknameChangeAt = &now
	return m
}

// WithWithdrawn returns a soft-deleted snapshot.
// LastWithdrawnAt follows WithdrawnAt and stays set across a later restore.
func (m Member) WithWithdrawn(now time.Time) Member {
	m.IsDeleted = true
	m.WithdrawnAt = &now
	m.LastWithdrawnAt = &now
	return m
}

// WithRestored returns a restored snapshot.
// LastWithdrawnAt is intentionally kept: it gates anonymized-authorship rules
// even after the member comes back.
func (m Member) WithRestored() Member {
	m.IsDeleted = false
	m.WithdrawnAt = nil
	return m
}

// IsRejoinBlocked reports whether the member is still inside the holding
// period after a soft-delete. A deleted member without a withdrawal timestamp
// is treated as blocked.
func (m Member) IsRejoinBlocked(now time.Time, hold time.Duration) bool {
	if !m.IsDeleted {
		return false
	}
	if m.WithdrawnAt == nil {
		return true
	}
	return now.Before(m.WithdrawnAt.Add(hold))
}

// RejoinAvailableAt returns when the holding period ends, or nil if the member
// is not withdrawn
func (m Member) RejoinAvailableAt(hold time.Duration) *time.Time {
	if m.WithdrawnAt == nil {
		return nil
	}
	at := m.WithdrawnAt.Add(hold)
	return &at
}
