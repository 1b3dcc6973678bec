package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/modooboard/authcore/internal/models"
)

type BlacklistRepo struct {
	DB DBTX
}

const putEntry = `-- name: PutBlacklistEntry idempotent on token
INSERT INTO blacklisted_tokens (token, member_id, reason, blacklisted_at, expires_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (token) DO NOTHING
`

// Put records the revoked token. Revoking the same token twice keeps the
// original entry untouched
func (r *BlacklistRepo) Put(ctx context.Context, entry models.BlacklistEntry) error {
	_, err := r.DB.Exec(ctx, putEntry,
		entry.Token, entry.MemberID, entry.Reason, entry.BlacklistedAt, entry.ExpiresAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const existsEntry = `-- name: BlacklistEntryExists primary key lookup
SELECT 1
FROM blacklisted_tokens
WHERE token = $1
`

func (r *BlacklistRepo) Exists(ctx context.Context, tokenString string) (bool, error) {
	rows, _ := r.DB.Query(ctx, existsEntry, tokenString)
	_, err := pgx.CollectOneRow(rows, pgx.RowTo[int])

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, pgx.ErrNoRows):
		return false, nil
	default:
		return false, fmt.Errorf("db error: %w", err)
	}
}

const deleteExpired = `-- name: DeleteExpiredBlacklistEntries
DELETE FROM blacklisted_tokens
WHERE expires_at < $1 AND blacklisted_at < $2
`

// DeleteExpired removes entries whose token already expired naturally before
// 'expiredBefore' and that were blacklisted before 'blacklistedBefore'.
// The double margin tolerates clock skew and delayed processing
func (r *BlacklistRepo) DeleteExpired(ctx context.Context, expiredBefore time.Time, blacklistedBefore time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, deleteExpired, expiredBefore, blacklistedBefore)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}
