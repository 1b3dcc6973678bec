package models

import (
	"time"
)

// BlacklistEntry records an access token invalidated before its natural
// expiry. Entries are created on logout, never mutated and removed only by
// the cleanup sweep.
type BlacklistEntry struct {
	Token         string
	MemberID      int64
	Reason        string
	BlacklistedAt time.Time
	ExpiresAt     time.Time // original expiry taken from the token claims
}
