package blacklist

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modooboard/authcore/internal/models"
	"github.com/modooboard/authcore/internal/repository/postgres"
	"github.com/modooboard/authcore/internal/service/token"
	"github.com/modooboard/authcore/internal/testutil"
)

var testSecret = base64.StdEncoding.EncodeToString([]byte("test-secret-key-test-secret-key!"))

func Test_Blacklist(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	tokens, err := token.New(token.Config{SecretKey: testSecret})
	require.NoError(t, err)

	withTx := func(t *testing.T, grace time.Duration, fn func(s *Service, repo *postgres.BlacklistRepo)) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := &postgres.BlacklistRepo{DB: tx}

			s, err := NewService(Config{GracePeriod: grace}, tokens, repo, nil)
			require.NoError(t, err, "blacklist service should be created without errors")

			fn(s, repo)
		})
	}

	t.Run("revoke then lookup", func(t *testing.T) {
		withTx(t, 0, func(s *Service, _ *postgres.BlacklistRepo) {
			issued, err := tokens.Issue(1, "USER", token.TypeAccess, 30*time.Minute)
			require.NoError(t, err)

			revoked, err := s.IsRevoked(t.Context(), issued.Value)
			require.NoError(t, err)
			require.False(t, revoked, "fresh token should not be revoked")

			err = s.Revoke(t.Context(), issued.Value, ReasonLogout)
			require.NoError(t, err)

			revoked, err = s.IsRevoked(t.Context(), issued.Value)
			require.NoError(t, err)
			require.True(t, revoked, "token should be revoked immediately after revoke")
		})
	})

	t.Run("revoke is idempotent", func(t *testing.T) {
		withTx(t, 0, func(s *Service, repo *postgres.BlacklistRepo) {
			issued, err := tokens.Issue(1, "USER", token.TypeAccess, 30*time.Minute)
			require.NoError(t, err)

			require.NoError(t, s.Revoke(t.Context(), issued.Value, ReasonLogout))
			require.NoError(t, s.Revoke(t.Context(), issued.Value, ReasonInvalidated))

			revoked, err := s.IsRevoked(t.Context(), issued.Value)
			require.NoError(t, err)
			require.True(t, revoked)

			// Compacting with everything still live must not remove the entry
			removed, err := s.Compact(t.Context())
			require.NoError(t, err)
			assert.Zero(t, removed)
		})
	})

	t.Run("refuses garbage", func(t *testing.T) {
		withTx(t, 0, func(s *Service, _ *postgres.BlacklistRepo) {
			err := s.Revoke(t.Context(), "garbage-not-a-token", ReasonLogout)
			require.Error(t, err, "undecodable input must not reach the registry")
		})
	})

	t.Run("refuses signed token without expiry", func(t *testing.T) {
		withTx(t, 0, func(s *Service, _ *postgres.BlacklistRepo) {
			// Signed with the right key but missing the exp claim, so there
			// is no expiry to store alongside the registry entry
			key, err := base64.StdEncoding.DecodeString(testSecret)
			require.NoError(t, err)

			eternal := jwt.NewWithClaims(jwt.SigningMethodHS256, token.Claims{
				RegisteredClaims: jwt.RegisteredClaims{
					ID:       uuid.NewString(),
					Subject:  "1",
					IssuedAt: jwt.NewNumericDate(time.Now()),
				},
				TokenType: token.TypeAccess,
			})
			signed, err := eternal.SignedString(key)
			require.NoError(t, err)

			err = s.Revoke(t.Context(), signed, ReasonLogout)
			require.Error(t, err, "token without expiry must be refused, not stored")
		})
	})

	t.Run("compaction never removes live entries", func(t *testing.T) {
		withTx(t, time.Hour, func(s *Service, repo *postgres.BlacklistRepo) {
			issued, err := tokens.Issue(1, "USER", token.TypeAccess, 30*time.Minute)
			require.NoError(t, err)
			require.NoError(t, s.Revoke(t.Context(), issued.Value, ReasonLogout))

			removed, err := s.Compact(t.Context())
			require.NoError(t, err)
			assert.Zero(t, removed, "entry expires in the future, must stay")

			revoked, err := s.IsRevoked(t.Context(), issued.Value)
			require.NoError(t, err)
			require.True(t, revoked)
		})
	})

	t.Run("compaction honors the grace period", func(t *testing.T) {
		withTx(t, time.Hour, func(s *Service, repo *postgres.BlacklistRepo) {
			// Expired long ago but blacklisted just now: grace keeps it
			err := repo.Put(t.Context(), models.BlacklistEntry{
				Token:         "recently-blacklisted",
				MemberID:      1,
				BlacklistedAt: time.Now(),
				ExpiresAt:     time.Now().Add(-2 * time.Hour),
			})
			require.NoError(t, err)

			// Expired and blacklisted long ago: eligible
			err = repo.Put(t.Context(), models.BlacklistEntry{
				Token:         "long-dead",
				MemberID:      1,
				BlacklistedAt: time.Now().Add(-3 * time.Hour),
				ExpiresAt:     time.Now().Add(-2 * time.Hour),
			})
			require.NoError(t, err)

			removed, err := s.Compact(t.Context())
			require.NoError(t, err)
			assert.Equal(t, int64(1), removed)

			stays, err := s.IsRevoked(t.Context(), "recently-blacklisted")
			require.NoError(t, err)
			assert.True(t, stays, "grace period not elapsed yet")

			gone, err := s.IsRevoked(t.Context(), "long-dead")
			require.NoError(t, err)
			assert.False(t, gone)
		})
	})
}
