package blacklist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modooboard/authcore/internal/logger"
	"github.com/modooboard/authcore/internal/models"
	"github.com/modooboard/authcore/internal/repository"
	"github.com/modooboard/authcore/internal/service/token"
)

// An entry outlives its token's natural expiry by this margin before the
// sweep may delete it, tolerating clock skew and delayed processing
const defaultGracePeriod = 7 * 24 * time.Hour

// Revocation reasons stored with the entry
const (
	ReasonLogout      = "logout"
	ReasonInvalidated = "invalidated"
)

type Config struct {
	// How long an entry is kept past its token's natural expiry
	// If not set than default is used
	GracePeriod time.Duration
}

// Service records revoked access tokens until their natural expiry passed
type Service struct {
	tokens *token.Manager
	repo   repository.BlacklistRepo
	grace  time.Duration
	logger logger.Logger
}

func NewService(cfg Config, tokens *token.Manager, repo repository.BlacklistRepo, l logger.Logger) (*Service, error) {
	if tokens == nil || repo == nil {
		return nil, errors.New("token manager and repo must not be nil")
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	grace := cfg.GracePeriod
	if grace == 0 {
		grace = defaultGracePeriod
	}

	return &Service{
		tokens: tokens,
		repo:   repo,
		grace:  grace,
		logger: l,
	}, nil
}

// Revoke blacklists the token until its natural expiry.
// Only tokens that pass decoding are accepted, so a garbage string cannot be
// stuffed into the registry. The expiry is taken from the token's own claims,
// independent of the currently configured validity windows
func (s *Service) Revoke(ctx context.Context, tokenString string, reason string) error {
	claims, err := s.tokens.Parse(tokenString)
	if err != nil {
		return fmt.Errorf("refusing to blacklist undecodable token. Err: %w", err)
	}

	memberID, err := claims.MemberID()
	if err != nil {
		return err
	}

	entry := models.BlacklistEntry{
		Token:         tokenString,
		MemberID:      memberID,
		Reason:        reason,
		BlacklistedAt: time.Now(),
		ExpiresAt:     claims.ExpiresAt.Time,
	}

	if err := s.repo.Put(ctx, entry); err != nil {
		return fmt.Errorf("error while blacklisting token. Err: %w", err)
	}

	s.logger.Info("Token blacklisted", "member_id", memberID, "reason", reason, "expires_at", entry.ExpiresAt)
	return nil
}

// IsRevoked reports blacklist membership, a keyed lookup on the hot path of
// every authenticated request
func (s *Service) IsRevoked(ctx context.Context, tokenString string) (bool, error) {
	return s.repo.Exists(ctx, tokenString)
}

// Compact deletes entries whose token expired naturally and whose grace
// period since blacklisting elapsed. Idempotent and safe to run concurrently
// with Revoke and IsRevoked
func (s *Service) Compact(ctx context.Context) (int64, error) {
	now := time.Now()

	removed, err := s.repo.DeleteExpired(ctx, now, now.Add(-s.grace))
	if err != nil {
		return 0, fmt.Errorf("error while compacting blacklist. Err: %w", err)
	}

	if removed > 0 {
		s.logger.Info("Blacklist compacted", "removed", removed)
	}
	return removed, nil
}
