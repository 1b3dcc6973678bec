package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/modooboard/authcore/internal/apperrors"
	"github.com/modooboard/authcore/internal/models"
)

type RefreshTokenRepo struct {
	DB DBTX
}

const saveToken = `-- name: SaveRefreshToken replacing the member's previous one
INSERT INTO refresh_tokens (member_id, token, created_at, expires_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (member_id) DO UPDATE
SET token = EXCLUDED.token,
    created_at = EXCLUDED.created_at,
    expires_at = EXCLUDED.expires_at
RETURNING member_id`

// Save stores the token superseding any previous row of the member.
// member_id is the primary key so the single-active-session invariant holds
// even when two logins race: the upsert is one atomic statement
func (r *RefreshTokenRepo) Save(ctx context.Context, token models.RefreshToken) error {
	rows, _ := r.DB.Query(ctx, saveToken, token.MemberID, token.Token, token.CreatedAt, token.ExpiresAt)
	_, err := pgx.CollectOneRow(rows, pgx.RowTo[int64])
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const findByToken = `-- name: FindRefreshTokenByToken filtered to non-expired
SELECT member_id, token, created_at, expires_at
FROM refresh_tokens
WHERE token = $1 AND expires_at > $2
`

// FindByToken returns the live token only. An expired row may still exist
// until swept but is reported as not found
func (r *RefreshTokenRepo) FindByToken(ctx context.Context, tokenString string, now time.Time) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, findByToken, tokenString, now)
	token, err := pgx.CollectOneRow(rows, rowToRefreshToken)

	switch {
	case err == nil:
		return token, nil
	case errors.Is(err, pgx.ErrNoRows):
		return token, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	default:
		return token, fmt.Errorf("db error: %w", err)
	}
}

const deleteByMember = `-- name: DeleteRefreshTokenByMember
DELETE FROM refresh_tokens
WHERE member_id = $1
`

func (r *RefreshTokenRepo) DeleteByMember(ctx context.Context, memberID int64) error {
	_, err := r.DB.Exec(ctx, deleteByMember, memberID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const deleteByToken = `-- name: DeleteRefreshTokenByToken
DELETE FROM refresh_tokens
WHERE token = $1
`

func (r *RefreshTokenRepo) DeleteByToken(ctx context.Context, tokenString string) error {
	_, err := r.DB.Exec(ctx, deleteByToken, tokenString)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func rowToRefreshToken(row pgx.CollectableRow) (models.RefreshToken, error) {
	var t models.RefreshToken
	err := row.Scan(&t.MemberID, &t.Token, &t.CreatedAt, &t.ExpiresAt)
	return t, err
}
