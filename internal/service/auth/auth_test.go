package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modooboard/authcore/internal/apperrors"
	"github.com/modooboard/authcore/internal/models"
	"github.com/modooboard/authcore/internal/repository/postgres"
	"github.com/modooboard/authcore/internal/service/blacklist"
	"github.com/modooboard/authcore/internal/service/provider"
	"github.com/modooboard/authcore/internal/service/token"
	"github.com/modooboard/authcore/internal/testutil"
)

var testSecret = base64.StdEncoding.EncodeToString([]byte("test-secret-key-test-secret-key!"))

type testEnv struct {
	s           *Service
	tokens      *token.Manager
	memberRepo  *postgres.MemberRepo
	refreshRepo *postgres.RefreshTokenRepo
	provRepo    *postgres.ProviderTokenRepo

	revokeCalls *atomic.Int64
}

func Test_AuthService(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	tokens, err := token.New(token.Config{SecretKey: testSecret})
	require.NoError(t, err)

	// Provider endpoint that accepts every revoke and counts them
	var revokeCalls atomic.Int64
	providerSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		revokeCalls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(providerSrv.Close)

	withTx := func(t *testing.T, fn func(env testEnv)) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			memberRepo := &postgres.MemberRepo{DB: tx}
			refreshRepo := &postgres.RefreshTokenRepo{DB: tx}
			provRepo := &postgres.ProviderTokenRepo{DB: tx}

			bl, err := blacklist.NewService(blacklist.Config{}, tokens, &postgres.BlacklistRepo{DB: tx}, nil)
			require.NoError(t, err)

			client := provider.NewClient(provider.Config{
				Name:      models.ProviderGoogle,
				Endpoints: provider.Endpoints{RevokeURL: providerSrv.URL + "/revoke"},
				Timeout:   time.Second,
			}, nil)
			bridge, err := provider.NewBridge(client, provRepo, nil)
			require.NoError(t, err)

			s, err := NewService(tokens, bl, refreshRepo, memberRepo,
				map[models.ProviderType]*provider.Bridge{models.ProviderGoogle: bridge}, nil)
			require.NoError(t, err, "auth service should be created without errors")

			fn(testEnv{
				s:           s,
				tokens:      tokens,
				memberRepo:  memberRepo,
				refreshRepo: refreshRepo,
				provRepo:    provRepo,
				revokeCalls: &revokeCalls,
			})
		})
	}

	createMember := func(t *testing.T, repo *postgres.MemberRepo, n int) models.Member {
		member, err := repo.Create(t.Context(), models.Member{
			Email:          fmt.Sprintf("member%d@example.com", n),
			ProviderType:   models.ProviderGoogle,
			ProviderUserID: fmt.Sprintf("google-%d", n),
			Role:           models.RoleUser,
			Nickname:       fmt.Sprintf("member-%d", n),
		})
		require.NoError(t, err)
		return member
	}

	t.Run("issue pair persists the refresh token", func(t *testing.T) {
		withTx(t, func(env testEnv) {
			member := createMember(t, env.memberRepo, 1)

			pair, err := env.s.IssueTokenPair(t.Context(), member)
			require.NoError(t, err)

			stored, err := env.refreshRepo.FindByToken(t.Context(), pair.Refresh.Value, time.Now())
			require.NoError(t, err)
			assert.Equal(t, member.ID, stored.MemberID)
		})
	})

	t.Run("issuing again replaces the stored refresh token", func(t *testing.T) {
		withTx(t, func(env testEnv) {
			member := createMember(t, env.memberRepo, 1)

			first, err := env.s.IssueTokenPair(t.Context(), member)
			require.NoError(t, err)
			second, err := env.s.IssueTokenPair(t.Context(), member)
			require.NoError(t, err)

			_, err = env.refreshRepo.FindByToken(t.Context(), first.Refresh.Value, time.Now())
			require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound, "replaced token must be gone")

			_, err = env.refreshRepo.FindByToken(t.Context(), second.Refresh.Value, time.Now())
			require.NoError(t, err)
		})
	})

	t.Run("validate", func(t *testing.T) {
		t.Run("accepts a live access token", func(t *testing.T) {
			withTx(t, func(env testEnv) {
				member := createMember(t, env.memberRepo, 1)
				pair, err := env.s.IssueTokenPair(t.Context(), member)
				require.NoError(t, err)

				claims, err := env.s.Validate(t.Context(), pair.Access.Value)

				require.NoError(t, err)
				memberID, err := claims.MemberID()
				require.NoError(t, err)
				assert.Equal(t, member.ID, memberID)
				assert.Equal(t, models.RoleUser, claims.Role)
			})
		})

		t.Run("refuses a refresh token on the access path", func(t *testing.T) {
			withTx(t, func(env testEnv) {
				member := createMember(t, env.memberRepo, 1)
				pair, err := env.s.IssueTokenPair(t.Context(), member)
				require.NoError(t, err)

				_, err = env.s.Validate(t.Context(), pair.Refresh.Value)
				require.ErrorIs(t, err, apperrors.ErrTokenInvalid)
			})
		})

		t.Run("refuses a revoked token", func(t *testing.T) {
			withTx(t, func(env testEnv) {
				member := createMember(t, env.memberRepo, 1)
				pair, err := env.s.IssueTokenPair(t.Context(), member)
				require.NoError(t, err)

				require.NoError(t, env.s.RevokeSession(t.Context(), pair.Access.Value, pair.Refresh.Value))

				_, err = env.s.Validate(t.Context(), pair.Access.Value)
				require.ErrorIs(t, err, apperrors.ErrTokenRevoked)
			})
		})
	})

	t.Run("refresh pair", func(t *testing.T) {
		t.Run("rotates the refresh token", func(t *testing.T) {
			withTx(t, func(env testEnv) {
				member := createMember(t, env.memberRepo, 1)
				pair, err := env.s.IssueTokenPair(t.Context(), member)
				require.NoError(t, err)

				fresh, err := env.s.RefreshPair(t.Context(), pair.Refresh.Value)
				require.NoError(t, err)
				assert.NotEqual(t, pair.Refresh.Value, fresh.Refresh.Value)

				_, err = env.s.Validate(t.Context(), fresh.Access.Value)
				require.NoError(t, err)

				// The replaced token lost its stored row and must be refused
				_, err = env.s.RefreshPair(t.Context(), pair.Refresh.Value)
				require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
			})
		})

		t.Run("refuses an access token on the refresh path", func(t *testing.T) {
			withTx(t, func(env testEnv) {
				member := createMember(t, env.memberRepo, 1)
				pair, err := env.s.IssueTokenPair(t.Context(), member)
				require.NoError(t, err)

				_, err = env.s.RefreshPair(t.Context(), pair.Access.Value)
				require.ErrorIs(t, err, apperrors.ErrTokenInvalid)
			})
		})

		t.Run("refuses a signed token that was never stored", func(t *testing.T) {
			withTx(t, func(env testEnv) {
				member := createMember(t, env.memberRepo, 1)

				// Valid signature, no row in the store
				orphan, err := env.tokens.Issue(member.ID, "", token.TypeRefresh, time.Hour)
				require.NoError(t, err)

				_, err = env.s.RefreshPair(t.Context(), orphan.Value)
				require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
			})
		})

		t.Run("refuses a withdrawn member", func(t *testing.T) {
			withTx(t, func(env testEnv) {
				member := createMember(t, env.memberRepo, 1)
				pair, err := env.s.IssueTokenPair(t.Context(), member)
				require.NoError(t, err)

				_, err = env.memberRepo.Update(t.Context(), member.WithWithdrawn(time.Now()))
				require.NoError(t, err)

				_, err = env.s.RefreshPair(t.Context(), pair.Refresh.Value)
				require.ErrorIs(t, err, apperrors.ErrMemberNotFound)
			})
		})
	})

	t.Run("revoke session", func(t *testing.T) {
		t.Run("deletes the refresh row and revokes at the provider", func(t *testing.T) {
			withTx(t, func(env testEnv) {
				member := createMember(t, env.memberRepo, 1)
				require.NoError(t, env.provRepo.Upsert(t.Context(), models.ProviderToken{
					MemberID: member.ID, Provider: models.ProviderGoogle,
					AccessToken: "prov-access", RefreshToken: "prov-refresh",
				}))

				pair, err := env.s.IssueTokenPair(t.Context(), member)
				require.NoError(t, err)

				before := env.revokeCalls.Load()
				require.NoError(t, env.s.RevokeSession(t.Context(), pair.Access.Value, pair.Refresh.Value))

				_, err = env.refreshRepo.FindByToken(t.Context(), pair.Refresh.Value, time.Now())
				require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)

				assert.Greater(t, env.revokeCalls.Load(), before, "provider revoke endpoint must be called")

				stored, err := env.provRepo.Get(t.Context(), member.ID, models.ProviderGoogle)
				require.NoError(t, err)
				assert.Empty(t, stored.AccessToken, "stored provider access token is invalidated")
			})
		})

		t.Run("tolerates an already expired access token", func(t *testing.T) {
			withTx(t, func(env testEnv) {
				member := createMember(t, env.memberRepo, 1)
				pair, err := env.s.IssueTokenPair(t.Context(), member)
				require.NoError(t, err)

				expired, err := env.tokens.Issue(member.ID, models.RoleUser, token.TypeAccess, -time.Minute)
				require.NoError(t, err)

				err = env.s.RevokeSession(t.Context(), expired.Value, pair.Refresh.Value)

				require.NoError(t, err, "expired access token must not fail the logout")
				_, err = env.refreshRepo.FindByToken(t.Context(), pair.Refresh.Value, time.Now())
				require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound, "refresh row still deleted")
			})
		})

		t.Run("refuses garbage as access token", func(t *testing.T) {
			withTx(t, func(env testEnv) {
				err := env.s.RevokeSession(t.Context(), "garbage", "")
				require.Error(t, err)
			})
		})
	})
}

// Refresh token store that refuses every write
type failingRefreshRepo struct {
	saveErr error
}

func (r *failingRefreshRepo) Save(_ context.Context, _ models.RefreshToken) error {
	return r.saveErr
}

func (r *failingRefreshRepo) FindByToken(_ context.Context, _ string, _ time.Time) (models.RefreshToken, error) {
	return models.RefreshToken{}, apperrors.ErrRefreshTokenNotFound
}

func (r *failingRefreshRepo) DeleteByMember(_ context.Context, _ int64) error { return r.saveErr }
func (r *failingRefreshRepo) DeleteByToken(_ context.Context, _ string) error { return r.saveErr }

type noopBlacklistRepo struct{}

func (noopBlacklistRepo) Put(_ context.Context, _ models.BlacklistEntry) error { return nil }
func (noopBlacklistRepo) Exists(_ context.Context, _ string) (bool, error)     { return false, nil }
func (noopBlacklistRepo) DeleteExpired(_ context.Context, _ time.Time, _ time.Time) (int64, error) {
	return 0, nil
}

type stubMemberRepo struct {
	member models.Member
}

func (r stubMemberRepo) Create(_ context.Context, _ models.Member) (models.Member, error) {
	return r.member, nil
}

func (r stubMemberRepo) GetByID(_ context.Context, _ int64) (models.Member, error) {
	return r.member, nil
}

func (r stubMemberRepo) GetByEmail(_ context.Context, _ string) (models.Member, error) {
	return r.member, nil
}

func (r stubMemberRepo) Update(_ context.Context, member models.Member) (models.Member, error) {
	return member, nil
}

// The pair must reach the member even when the refresh token store is down.
// They stay logged in and just cannot refresh until the next login
func Test_IssueTokenPair_StoreDown(t *testing.T) {
	t.Parallel()

	tokens, err := token.New(token.Config{SecretKey: testSecret})
	require.NoError(t, err)

	bl, err := blacklist.NewService(blacklist.Config{}, tokens, noopBlacklistRepo{}, nil)
	require.NoError(t, err)

	member := models.Member{ID: 42, Role: models.RoleUser}
	refreshRepo := &failingRefreshRepo{saveErr: errors.New("connection refused")}

	s, err := NewService(tokens, bl, refreshRepo, stubMemberRepo{member: member}, nil, nil)
	require.NoError(t, err)

	pair, err := s.IssueTokenPair(t.Context(), member)

	require.NoError(t, err, "failed persistence must not fail the login")
	assert.NotEmpty(t, pair.Refresh.Value)

	_, err = s.Validate(t.Context(), pair.Access.Value)
	require.NoError(t, err, "the issued access token is still usable")
}

func Test_CookiePolicyFor(t *testing.T) {
	t.Parallel()

	prod := CookiePolicyFor("production")
	assert.True(t, prod.Secure)
	assert.True(t, prod.HTTPOnly)
	assert.Equal(t, http.SameSiteNoneMode, prod.SameSite)

	local := CookiePolicyFor("local")
	assert.False(t, local.Secure)
	assert.True(t, local.HTTPOnly)
	assert.Equal(t, http.SameSiteLaxMode, local.SameSite)
}
