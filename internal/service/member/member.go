package member

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/modooboard/authcore/internal/apperrors"
	"github.com/modooboard/authcore/internal/logger"
	"github.com/modooboard/authcore/internal/models"
	"github.com/modooboard/authcore/internal/repository"
)

const (
	defaultNicknameMaxChanges = 3
	defaultNicknameCooldown   = 30 * 24 * time.Hour
	defaultRejoinHold         = 14 * 24 * time.Hour

	// Retries on version conflicts before giving up
	updateRetries = 3

	nicknameRules = "required,min=2,max=20"
)

type Config struct {
	NicknameMaxChanges int
	NicknameCooldown   time.Duration
	RejoinHold         time.Duration
}

// Service owns the member lifecycle: login resolution, nickname policy,
// soft-delete and restore
type Service struct {
	repo       repository.MemberRepo
	policy     models.NicknamePolicy
	rejoinHold time.Duration
	validate   *validator.Validate
	logger     logger.Logger
}

func NewService(cfg Config, repo repository.MemberRepo, l logger.Logger) (*Service, error) {
	if repo == nil {
		return nil, errors.New("member repo must not be nil")
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	if cfg.NicknameMaxChanges == 0 {
		cfg.NicknameMaxChanges = defaultNicknameMaxChanges
	}
	if cfg.NicknameCooldown == 0 {
		cfg.NicknameCooldown = defaultNicknameCooldown
	}
	if cfg.RejoinHold == 0 {
		cfg.RejoinHold = defaultRejoinHold
	}

	return &Service{
		repo: repo,
		policy: models.NicknamePolicy{
			MaxChanges: cfg.NicknameMaxChanges,
			Cooldown:   cfg.NicknameCooldown,
		},
		rejoinHold: cfg.RejoinHold,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		logger:     l,
	}, nil
}

// Identity as reported by the external provider after login
type Identity struct {
	Email          string `validate:"required,email"`
	ProviderUserID string `validate:"required"`
	Provider       models.ProviderType
}

// ResolveOrCreate maps a provider identity to a member.
//
// An existing member under the same provider identity gets their visit counter
// bumped. An email already registered with a different provider is rejected
// with ErrProviderMismatch and the stored row is left untouched. A soft-deleted
// member inside the holding period is rejected with ErrRejoinBlocked; past the
// hold the row is restored. An unknown identity creates a fresh member with a
// generated nickname.
func (s *Service) ResolveOrCreate(ctx context.Context, identity Identity) (models.Member, error) {
	if err := s.validate.Struct(identity); err != nil {
		return models.Member{}, fmt.Errorf("provider identity is not usable. Err: %w", err)
	}

	member, err := s.repo.GetByEmail(ctx, identity.Email)
	switch {
	case err == nil:
		return s.resolveExisting(ctx, member, identity)
	case errors.Is(err, apperrors.ErrMemberNotFound):
		return s.createFresh(ctx, identity)
	default:
		return models.Member{}, fmt.Errorf("can't look up member by email. Err: %w", err)
	}
}

func (s *Service) resolveExisting(ctx context.Context, member models.Member, identity Identity) (models.Member, error) {
	if member.ProviderType != identity.Provider || member.ProviderUserID != identity.ProviderUserID {
		return models.Member{}, apperrors.ErrProviderMismatch
	}

	now := time.Now()
	if member.IsDeleted && member.IsRejoinBlocked(now, s.rejoinHold) {
		return models.Member{}, apperrors.ErrRejoinBlocked
	}

	updated, err := s.updateWithRetry(ctx, member.ID, func(m models.Member) (models.Member, error) {
		if m.IsDeleted {
			if m.IsRejoinBlocked(time.Now(), s.rejoinHold) {
				return m, apperrors.ErrRejoinBlocked
			}
			m = m.WithRestored()
			s.logger.Info("Member restored on login", "member_id", m.ID)
		}
		m.VisitCount++
		return m, nil
	})
	if err != nil {
		return models.Member{}, err
	}
	return updated, nil
}

func (s *Service) createFresh(ctx context.Context, identity Identity) (models.Member, error) {
	member := models.Member{
		Email:          identity.Email,
		ProviderType:   identity.Provider,
		ProviderUserID: identity.ProviderUserID,
		Role:           models.RoleUser,
		Nickname:       generateNickname(),
		VisitCount:     1,
	}

	created, err := s.repo.Create(ctx, member)
	if err != nil {
		// Lost the race against a concurrent first login, resolve again
		if errors.Is(err, apperrors.ErrMemberAlreadyExists) {
			existing, getErr := s.repo.GetByEmail(ctx, identity.Email)
			if getErr != nil {
				return models.Member{}, fmt.Errorf("can't resolve member after create race. Err: %w", getErr)
			}
			return s.resolveExisting(ctx, existing, identity)
		}
		return models.Member{}, fmt.Errorf("can't create member. Err: %w", err)
	}

	s.logger.Info("Member created", "member_id", created.ID, "provider", created.ProviderType)
	return created, nil
}

// ChangeNickname renames the member under the quota and cooldown policy.
// Policy rejections come back as *apperrors.NicknameChangeError
func (s *Service) ChangeNickname(ctx context.Context, memberID int64, newName string) (models.Member, error) {
	newName = strings.TrimSpace(newName)
	if err := s.validate.Var(newName, nicknameRules); err != nil {
		return models.Member{}, fmt.Errorf("nickname is not usable. Err: %w", err)
	}

	return s.updateWithRetry(ctx, memberID, func(m models.Member) (models.Member, error) {
		now := time.Now()
		if !m.CanChangeNickname(now, s.policy) {
			if m.NicknameChangeCount >= s.policy.MaxChanges {
				return m, &apperrors.NicknameChangeError{Code: apperrors.NicknameMaxCountReached}
			}
			next := m.NextNicknameChangeAt(s.policy.Cooldown)
			return m, &apperrors.NicknameChangeError{Code: apperrors.NicknameChangeTooSoon, NextAvailableAt: *next}
		}
		return m.WithNickname(newName, now), nil
	})
}

// Withdraw soft-deletes the member. Withdrawing twice keeps the original
// withdrawal timestamp
func (s *Service) Withdraw(ctx context.Context, memberID int64) (models.Member, error) {
	return s.updateWithRetry(ctx, memberID, func(m models.Member) (models.Member, error) {
		if m.IsDeleted {
			return m, nil
		}
		return m.WithWithdrawn(time.Now()), nil
	})
}

// Restore brings a soft-deleted member back once the holding period passed
func (s *Service) Restore(ctx context.Context, memberID int64) (models.Member, error) {
	return s.updateWithRetry(ctx, memberID, func(m models.Member) (models.Member, error) {
		if !m.IsDeleted {
			return m, nil
		}
		if m.IsRejoinBlocked(time.Now(), s.rejoinHold) {
			return m, apperrors.ErrRejoinBlocked
		}
		return m.WithRestored(), nil
	})
}

// RejoinAvailableAt reports when a withdrawn member may come back,
// nil for members that are not withdrawn
func (s *Service) RejoinAvailableAt(ctx context.Context, memberID int64) (*time.Time, error) {
	member, err := s.repo.GetByID(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("can't load member. Err: %w", err)
	}
	if !member.IsDeleted {
		return nil, nil
	}
	return member.RejoinAvailableAt(s.rejoinHold), nil
}

// updateWithRetry loads the member, applies mutate and persists the snapshot,
// retrying the whole cycle on version conflicts
func (s *Service) updateWithRetry(ctx context.Context, memberID int64, mutate func(models.Member) (models.Member, error)) (models.Member, error) {
	var lastErr error

	for range updateRetries {
		member, err := s.repo.GetByID(ctx, memberID)
		if err != nil {
			return models.Member{}, fmt.Errorf("can't load member. Err: %w", err)
		}

		mutated, err := mutate(member)
		if err != nil {
			return models.Member{}, err
		}
		if mutated == member {
			return member, nil
		}

		saved, err := s.repo.Update(ctx, mutated)
		if err == nil {
			return saved, nil
		}
		if !errors.Is(err, apperrors.ErrVersionConflict) {
			return models.Member{}, fmt.Errorf("can't update member. Err: %w", err)
		}

		lastErr = err
		s.logger.Debug("Member update lost a version race, retrying", "member_id", memberID)
	}

	return models.Member{}, fmt.Errorf("member update kept conflicting. Err: %w", lastErr)
}

// generateNickname builds a unique-enough display name for first login.
// Members rename through the policy afterwards
func generateNickname() string {
	return "member-" + strings.Split(uuid.NewString(), "-")[0]
}
