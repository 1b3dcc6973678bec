package apperrors

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrTokenInvalid = errors.New("token is invalid")
	ErrTokenExpired = errors.New("token is expired")
	ErrTokenRevoked = errors.New("token is revoked")

	ErrRefreshTokenNotFound = errors.New("refresh token not found")

	ErrMemberNotFound      = errors.New("member not found")
	ErrMemberAlreadyExists = errors.New("member already exists")
	ErrProviderMismatch    = errors.New("email is registered with a different provider")
	ErrRejoinBlocked       = errors.New("member is in rejoin holding period")
	ErrVersionConflict     = errors.New("member was modified concurrently")

	ErrProviderTokenNotFound = errors.New("provider token not found")
	ErrProviderUnavailable   = errors.New("identity provider unavailable")
)

// Nickname change rejection reasons
const (
	NicknameMaxCountReached = "max-count-reached"
	NicknameChangeTooSoon   = "too-soon"
)

// NicknameChangeError is a structured, user-facing rejection of a nickname change.
// NextAvailableAt is set only for the too-soon case.
type NicknameChangeError struct {
	Code            string
	NextAvailableAt time.Time
}

func (e *NicknameChangeError) Error() string {
	if e.Code == NicknameChangeTooSoon {
		return fmt.Sprintf("nickname change denied: %s, next available at %s", e.Code, e.NextAvailableAt.Format(time.RFC3339))
	}
	return fmt.Sprintf("nickname change denied: %s", e.Code)
}
