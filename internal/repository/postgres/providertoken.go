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

type ProviderTokenRepo struct {
	DB DBTX
}

const upsertProviderToken = `-- name: UpsertProviderToken keyed by (member, provider)
INSERT INTO provider_tokens (member_id, provider, access_token, refresh_token, access_expires_at, refresh_expires_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (member_id, provider) DO UPDATE
SET access_token = EXCLUDED.access_token,
    refresh_token = COALESCE(NULLIF(EXCLUDED.refresh_token, ''), provider_tokens.refresh_token),
    access_expires_at = EXCLUDED.access_expires_at,
    refresh_expires_at = COALESCE(EXCLUDED.refresh_expires_at, provider_tokens.refresh_expires_at),
    updated_at = EXCLUDED.updated_at
`

// Upsert stores the provider credentials. Providers may omit the refresh
// token on re-consent, so a blank refresh token keeps the stored one
func (r *ProviderTokenRepo) Upsert(ctx context.Context, token models.ProviderToken) error {
	updatedAt := token.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err := r.DB.Exec(ctx, upsertProviderToken,
		token.MemberID, token.Provider, token.AccessToken, token.RefreshToken,
		token.AccessExpiresAt, token.RefreshExpiresAt, updatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const getProviderToken = `-- name: GetProviderToken
SELECT member_id, provider, access_token, refresh_token, access_expires_at, refresh_expires_at, updated_at
FROM provider_tokens
WHERE member_id = $1 AND provider = $2
`

func (r *ProviderTokenRepo) Get(ctx context.Context, memberID int64, provider models.ProviderType) (models.ProviderToken, error) {
	rows, _ := r.DB.Query(ctx, getProviderToken, memberID, provider)
	token, err := pgx.CollectOneRow(rows, rowToProviderToken)

	switch {
	case err == nil:
		return token, nil
	case errors.Is(err, pgx.ErrNoRows):
		return token, fmt.Errorf("repo error: %w", apperrors.ErrProviderTokenNotFound)
	default:
		return token, fmt.Errorf("db error: %w", err)
	}
}

const clearProviderAccess = `-- name: ClearProviderAccessToken keeping the row for audit
UPDATE provider_tokens
SET access_token = '', access_expires_at = $3, updated_at = $3
WHERE member_id = $1 AND provider = $2
`

func (r *ProviderTokenRepo) ClearAccess(ctx context.Context, memberID int64, provider models.ProviderType, now time.Time) error {
	_, err := r.DB.Exec(ctx, clearProviderAccess, memberID, provider, now)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const deleteProviderToken = `-- name: DeleteProviderToken
DELETE FROM provider_tokens
WHERE member_id = $1 AND provider = $2
`

func (r *ProviderTokenRepo) Delete(ctx context.Context, memberID int64, provider models.ProviderType) error {
	_, err := r.DB.Exec(ctx, deleteProviderToken, memberID, provider)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const listExpiringBefore = `-- name: ListProviderTokensExpiringBefore still refreshable
SELECT member_id, provider, access_token, refresh_token, access_expires_at, refresh_expires_at, updated_at
FROM provider_tokens
WHERE access_expires_at IS NOT NULL
  AND access_expires_at <= $1
  AND refresh_token <> ''
ORDER BY access_expires_at
`

func (r *ProviderTokenRepo) ListExpiringBefore(ctx context.Context, cutoff time.Time) ([]models.ProviderToken, error) {
	rows, _ := r.DB.Query(ctx, listExpiringBefore, cutoff)
	tokens, err := pgx.CollectRows(rows, rowToProviderToken)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return tokens, nil
}

const listDead = `-- name: ListDeadProviderTokens expired with no usable refresh token
SELECT member_id, provider, access_token, refresh_token, access_expires_at, refresh_expires_at, updated_at
FROM provider_tokens
WHERE access_expires_at IS NOT NULL
  AND access_expires_at < $1
  AND (refresh_token = '' OR (refresh_expires_at IS NOT NULL AND refresh_expires_at < $1))
ORDER BY access_expires_at
`

func (r *ProviderTokenRepo) ListDead(ctx context.Context, now time.Time) ([]models.ProviderToken, error) {
	rows, _ := r.DB.Query(ctx, listDead, now)
	tokens, err := pgx.CollectRows(rows, rowToProviderToken)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return tokens, nil
}

func rowToProviderToken(row pgx.CollectableRow) (models.ProviderToken, error) {
	var t models.ProviderToken
	err := row.Scan(&t.MemberID, &t.Provider, &t.AccessToken, &t.RefreshToken,
		&t.AccessExpiresAt, &t.RefreshExpiresAt, &t.UpdatedAt)
	return t, err
}
