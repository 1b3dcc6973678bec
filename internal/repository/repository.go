package repository

import (
	"context"
	"time"

	"github.com/modooboard/authcore/internal/models"
)

// Member repository interface
type MemberRepo interface {
	// Create member
	// If a member with the same email exists already has to return error apperrors.ErrMemberAlreadyExists
	Create(ctx context.Context, member models.Member) (models.Member, error)

	// Get member by id or email
	// If member not found must return apperrors.ErrMemberNotFound
	GetByID(ctx context.Context, memberID int64) (models.Member, error)
	GetByEmail(ctx context.Context, email string) (models.Member, error)

	// Persist a modified snapshot guarded by its version.
	// Must return apperrors.ErrVersionConflict if the stored version moved on,
	// without touching the row
	Update(ctx context.Context, member models.Member) (models.Member, error)
}

// RefreshToken repository interface
type RefreshTokenRepo interface {
	// Save the refresh token replacing any previous token of the member.
	// The member must never end up with two live rows
	Save(ctx context.Context, token models.RefreshToken) error

	// Return the token if it exists and is not expired at 'now'.
	// Expired rows are treated as absent: apperrors.ErrRefreshTokenNotFound
	FindByToken(ctx context.Context, tokenString string, now time.Time) (models.RefreshToken, error)

	DeleteByMember(ctx context.Context, memberID int64) error
	DeleteByToken(ctx context.Context, tokenString string) error
}

// Blacklist repository interface
type BlacklistRepo interface {
	// Put the entry, idempotent: revoking the same token twice keeps one row
	Put(ctx context.Context, entry models.BlacklistEntry) error

	// Exists is called on every authenticated request, keyed lookup only
	Exists(ctx context.Context, tokenString string) (bool, error)

	// Delete entries expired before 'expiredBefore' and blacklisted before
	// 'blacklistedBefore', return the number of rows removed
	DeleteExpired(ctx context.Context, expiredBefore time.Time, blacklistedBefore time.Time) (int64, error)
}

// ProviderToken repository interface
type ProviderTokenRepo interface {
	// Upsert the record keyed by (member, provider).
	// A blank refresh token must not overwrite a stored one
	Upsert(ctx context.Context, token models.ProviderToken) error

	// If no record exists must return apperrors.ErrProviderTokenNotFound
	Get(ctx context.Context, memberID int64, provider models.ProviderType) (models.ProviderToken, error)

	// ClearAccess resets the access token value and moves its expiry to 'now',
	// keeping the row for audit
	ClearAccess(ctx context.Context, memberID int64, provider models.ProviderType, now time.Time) error

	Delete(ctx context.Context, memberID int64, provider models.ProviderType) error

	// Records whose access token expires before 'cutoff' and that still carry
	// a refresh token, candidates for proactive refresh
	ListExpiringBefore(ctx context.Context, cutoff time.Time) ([]models.ProviderToken, error)

	// Records with an expired access token and no usable refresh token,
	// candidates for deletion
	ListDead(ctx context.Context, now time.Time) ([]models.ProviderToken, error)
}

// Storage aggregates the repositories over one database handle
type Storage interface {
	Member() MemberRepo
	Refresh() RefreshTokenRepo
	Blacklist() BlacklistRepo
	ProviderToken() ProviderTokenRepo

	InTx(ctx context.Context, fn func(Storage) error) error
}
