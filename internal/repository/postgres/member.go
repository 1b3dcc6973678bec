package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/modooboard/authcore/internal/apperrors"
	"github.com/modooboard/authcore/internal/models"
)

type MemberRepo struct {
	DB DBTX
}

const memberColumns = `id, email, provider_type, provider_user_id, role, nickname,
nickname_change_count, last_nickname_change_at, visit_count,
is_deleted, withdrawn_at, last_withdrawn_at, version, created_at`

const createMember = `-- name: CreateMember
INSERT INTO members (email, provider_type, provider_user_id, role, nickname)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + memberColumns

func (r *MemberRepo) Create(ctx context.Context, member models.Member) (models.Member, error) {
	rows, _ := r.DB.Query(ctx, createMember,
		member.Email, member.ProviderType, member.ProviderUserID, member.Role, member.Nickname)
	created, err := pgx.CollectOneRow(rows, rowToMember)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgerrcode.IsIntegrityConstraintViolation(pgErr.Code) {
			return created, fmt.Errorf("repo error: %w", apperrors.ErrMemberAlreadyExists)
		}
		return created, fmt.Errorf("db error: %w", err)
	}

	return created, nil
}

const getMemberByID = `-- name: GetMemberByID
SELECT ` + memberColumns + `
FROM members
WHERE id = $1
`

func (r *MemberRepo) GetByID(ctx context.Context, memberID int64) (models.Member, error) {
	rows, _ := r.DB.Query(ctx, getMemberByID, memberID)
	member, err := pgx.CollectOneRow(rows, rowToMember)

	switch {
	case err == nil:
		return member, nil
	case errors.Is(err, pgx.ErrNoRows):
		return member, fmt.Errorf("repo error: %w", apperrors.ErrMemberNotFound)
	default:
		return member, fmt.Errorf("db error: %w", err)
	}
}

const getMemberByEmail = `-- name: GetMemberByEmail
SELECT ` + memberColumns + `
FROM members
WHERE email = $1
`

func (r *MemberRepo) GetByEmail(ctx context.Context, email string) (models.Member, error) {
	rows, _ := r.DB.Query(ctx, getMemberByEmail, email)
	member, err := pgx.CollectOneRow(rows, rowToMember)

	switch {
	case err == nil:
		return member, nil
	case errors.Is(err, pgx.ErrNoRows):
		return member, fmt.Errorf("repo error: %w", apperrors.ErrMemberNotFound)
	default:
		return member, fmt.Errorf("db error: %w", err)
	}
}

const updateMember = `-- name: UpdateMember guarded by version
UPDATE members
SET nickname = $3,
    nickname_change_count = $4,
    last_nickname_change_at = $5,
    visit_count = $6,
    is_deleted = $7,
    withdrawn_at = $8,
    last_withdrawn_at = $9,
    version = version + 1
WHERE id = $1 AND version = $2
RETURNING ` + memberColumns

// Update writes the mutable fields of the snapshot if nobody moved the
// version. Concurrent writers lose with ErrVersionConflict and must re-read
func (r *MemberRepo) Update(ctx context.Context, member models.Member) (models.Member, error) {
	rows, _ := r.DB.Query(ctx, updateMember,
		member.ID, member.Version,
		member.Nickname, member.NicknameChangeCount, member.LastNicknameChangeAt,
		member.VisitCount,
		member.IsDeleted, member.WithdrawnAt, member.LastWithdrawnAt)
	updated, err := pgx.CollectOneRow(rows, rowToMember)

	switch {
	case err == nil:
		return updated, nil
	case errors.Is(err, pgx.ErrNoRows):
		return updated, fmt.Errorf("repo error: %w", apperrors.ErrVersionConflict)
	default:
		return updated, fmt.Errorf("db error: %w", err)
	}
}

func rowToMember(row pgx.CollectableRow) (models.Member, error) {
	var m models.Member
	err := row.Scan(
		&m.ID, &m.Email, &m.ProviderType, &m.ProviderUserID, &m.Role, &m.Nickname,
		&m.NicknameChangeCount, &m.LastNicknameChangeAt, &m.VisitCount,
		&m.IsDeleted, &m.WithdrawnAt, &m.LastWithdrawnAt, &m.Version, &m.CreatedAt,
	)
	return m, err
}
