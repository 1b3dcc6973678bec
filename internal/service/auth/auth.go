package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modooboard/authcore/internal/apperrors"
	"github.com/modooboard/authcore/internal/logger"
	"github.com/modooboard/authcore/internal/models"
	"github.com/modooboard/authcore/internal/repository"
	"github.com/modooboard/authcore/internal/service/blacklist"
	"github.com/modooboard/authcore/internal/service/provider"
	"github.com/modooboard/authcore/internal/service/token"
)

// Service is the facade over the token manager, the revocation registry, the
// refresh token store and the provider bridges. Handlers talk to this, not to
// the parts
type Service struct {
	tokens      *token.Manager
	blacklist   *blacklist.Service
	refreshRepo repository.RefreshTokenRepo
	memberRepo  repository.MemberRepo
	bridges     map[models.ProviderType]*provider.Bridge
	logger      logger.Logger
}

func NewService(
	tokens *token.Manager,
	bl *blacklist.Service,
	refreshRepo repository.RefreshTokenRepo,
	memberRepo repository.MemberRepo,
	bridges map[models.ProviderType]*provider.Bridge,
	l logger.Logger,
) (*Service, error) {
	if tokens == nil || bl == nil || refreshRepo == nil || memberRepo == nil {
		return nil, errors.New("tokens, blacklist and repos must not be nil")
	}
	if bridges == nil {
		bridges = map[models.ProviderType]*provider.Bridge{}
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Service{
		tokens:      tokens,
		blacklist:   bl,
		refreshRepo: refreshRepo,
		memberRepo:  memberRepo,
		bridges:     bridges,
		logger:      l,
	}, nil
}

// IssueTokenPair mints an access and refresh token for the member and stores
// the refresh token, replacing any previous one.
//
// Persisting the refresh token is best-effort: if the store is down the pair
// is still returned so the member stays logged in, they just cannot refresh
// until the next login
func (s *Service) IssueTokenPair(ctx context.Context, member models.Member) (models.TokenPair, error) {
	pair, err := s.tokens.IssuePair(member.ID, member.Role)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("can't issue token pair. Err: %w", err)
	}

	err = s.refreshRepo.Save(ctx, models.RefreshToken{
		MemberID:  member.ID,
		Token:     pair.Refresh.Value,
		CreatedAt: time.Now(),
		ExpiresAt: pair.Refresh.ExpiresAt,
	})
	if err != nil {
		s.logger.Error("Failed to persist refresh token, pair issued anyway", "member_id", member.ID, "error", err)
	}

	return pair, nil
}

// Validate checks an access token end to end: signature, expiry, kind and the
// revocation registry. Returns the verified claims on success
func (s *Service) Validate(ctx context.Context, accessValue string) (token.Claims, error) {
	claims, err := s.tokens.Parse(accessValue)
	if err != nil {
		return token.Claims{}, err
	}

	if claims.TokenType != token.TypeAccess {
		return token.Claims{}, fmt.Errorf("token is not an access token: %w", apperrors.ErrTokenInvalid)
	}

	revoked, err := s.blacklist.IsRevoked(ctx, accessValue)
	if err != nil {
		return token.Claims{}, fmt.Errorf("can't check revocation registry. Err: %w", err)
	}
	if revoked {
		return token.Claims{}, apperrors.ErrTokenRevoked
	}

	return claims, nil
}

// IsRevoked reports revocation registry membership without any other checks
func (s *Service) IsRevoked(ctx context.Context, accessValue string) (bool, error) {
	return s.blacklist.IsRevoked(ctx, accessValue)
}

// RefreshPair trades a refresh token for a fresh pair, rotating the stored
// refresh token. The presented token must decode as a refresh token and match
// the member's stored row, a signed-but-replaced token is refused
func (s *Service) RefreshPair(ctx context.Context, refreshValue string) (models.TokenPair, error) {
	claims, err := s.tokens.Parse(refreshValue)
	if err != nil {
		return models.TokenPair{}, err
	}
	if claims.TokenType != token.TypeRefresh {
		return models.TokenPair{}, fmt.Errorf("token is not a refresh token: %w", apperrors.ErrTokenInvalid)
	}

	stored, err := s.refreshRepo.FindByToken(ctx, refreshValue, time.Now())
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("can't find stored refresh token. Err: %w", err)
	}

	member, err := s.memberRepo.GetByID(ctx, stored.MemberID)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("can't load member for refresh. Err: %w", err)
	}
	if member.IsDeleted {
		return models.TokenPair{}, fmt.Errorf("member is withdrawn: %w", apperrors.ErrMemberNotFound)
	}

	return s.IssueTokenPair(ctx, member)
}

// RevokeSession ends the member's session: the access token goes to the
// revocation registry, the stored refresh token row is deleted and the
// provider session is revoked through the tiered fallback.
//
// Callers pass only the two session tokens. The provider credentials used for
// the provider-side revoke are read from the provider token store, keyed by
// the member resolved from the presented tokens, and are never accepted from
// the caller.
//
// Only the registry write can fail the call. Everything else is best-effort:
// an already-expired access token needs no blacklisting, and provider
// unavailability must never keep a member logged in
func (s *Service) RevokeSession(ctx context.Context, accessValue string, refreshValue string) error {
	var memberID int64

	if accessValue != "" {
		err := s.blacklist.Revoke(ctx, accessValue, blacklist.ReasonLogout)
		switch {
		case err == nil:
			claims, parseErr := s.tokens.Parse(accessValue)
			if parseErr == nil {
				memberID, _ = claims.MemberID()
			}
		case errors.Is(err, apperrors.ErrTokenExpired):
			// Nothing to blacklist, the token cannot be replayed anyway
		default:
			return fmt.Errorf("can't revoke access token. Err: %w", err)
		}
	}

	if refreshValue != "" {
		if memberID == 0 {
			if stored, err := s.refreshRepo.FindByToken(ctx, refreshValue, time.Now()); err == nil {
				memberID = stored.MemberID
			}
		}
		if err := s.refreshRepo.DeleteByToken(ctx, refreshValue); err != nil {
			s.logger.Error("Failed to delete refresh token on logout", "error", err)
		}
	}

	if memberID != 0 {
		s.unlinkProvider(ctx, memberID)
	}

	return nil
}

func (s *Service) unlinkProvider(ctx context.Context, memberID int64) {
	member, err := s.memberRepo.GetByID(ctx, memberID)
	if err != nil {
		s.logger.Warn("Can't load member for provider revoke", "member_id", memberID, "error", err)
		return
	}

	bridge, ok := s.bridges[member.ProviderType]
	if !ok {
		return
	}

	if revoked := bridge.Unlink(ctx, memberID); !revoked {
		s.logger.Info("Provider-side session revoke did not go through", "member_id", memberID, "provider", member.ProviderType)
	}
}
