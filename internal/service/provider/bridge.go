package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modooboard/authcore/internal/apperrors"
	"github.com/modooboard/authcore/internal/logger"
	"github.com/modooboard/authcore/internal/models"
	"github.com/modooboard/authcore/internal/repository"
)

// Bridge ties one provider's client to the stored per-member credentials
type Bridge struct {
	client *Client
	repo   repository.ProviderTokenRepo
	logger logger.Logger
}

func NewBridge(client *Client, repo repository.ProviderTokenRepo, l logger.Logger) (*Bridge, error) {
	if client == nil || repo == nil {
		return nil, errors.New("client and repo must not be nil")
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Bridge{
		client: client,
		repo:   repo,
		logger: l.With("provider", client.Provider()),
	}, nil
}

func (b *Bridge) Provider() models.ProviderType {
	return b.client.Provider()
}

// SaveTokens upserts the member's provider credentials from a token response.
// An empty refresh token in the response keeps the stored one
func (b *Bridge) SaveTokens(ctx context.Context, memberID int64, resp TokenResponse) error {
	now := time.Now()

	record := models.ProviderToken{
		MemberID:     memberID,
		Provider:     b.client.Provider(),
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		UpdatedAt:    now,
	}
	if resp.ExpiresIn > 0 {
		at := now.Add(time.Duration(resp.ExpiresIn) * time.Second)
		record.AccessExpiresAt = &at
	}
	if resp.RefreshTokenExpiresIn > 0 {
		rt := now.Add(time.Duration(resp.RefreshTokenExpiresIn) * time.Second)
		record.RefreshExpiresAt = &rt
	}

	if err := b.repo.Upsert(ctx, record); err != nil {
		return fmt.Errorf("error while saving provider tokens. Err: %w", err)
	}
	return nil
}

// Unlink revokes the member's provider session through the tiered fallback
// and invalidates the stored access token either way, keeping the row for
// audit. Reports whether the provider-side revoke went through
func (b *Bridge) Unlink(ctx context.Context, memberID int64) bool {
	record, err := b.repo.Get(ctx, memberID, b.client.Provider())
	if err != nil {
		if !errors.Is(err, apperrors.ErrProviderTokenNotFound) {
			b.logger.Error("Failed to load provider tokens for unlink", "member_id", memberID, "error", err)
		}
		return false
	}

	revoked := b.client.SmartRevoke(ctx, record.AccessToken, record.RefreshToken)
	if !revoked {
		b.logger.Warn("Provider-side revoke failed on all tiers", "member_id", memberID)
	}

	if err := b.repo.ClearAccess(ctx, memberID, b.client.Provider(), time.Now()); err != nil {
		b.logger.Error("Failed to invalidate stored provider access token", "member_id", memberID, "error", err)
	}

	return revoked
}

// RefreshExpiring proactively refreshes records whose access token expires
// within the lookahead window. Individual failures are logged and skipped,
// the batch continues
func (b *Bridge) RefreshExpiring(ctx context.Context, lookahead time.Duration) (int, error) {
	now := time.Now()

	records, err := b.repo.ListExpiringBefore(ctx, now.Add(lookahead))
	if err != nil {
		return 0, fmt.Errorf("error while listing expiring provider tokens. Err: %w", err)
	}

	refreshed := 0
	for _, record := range records {
		if record.Provider != b.client.Provider() {
			continue
		}
		if !record.HasUsableRefresh(now) {
			continue
		}

		resp, err := b.client.RefreshAccessToken(ctx, record.RefreshToken)
		if err != nil {
			b.logger.Info("Could not refresh provider access token", "member_id", record.MemberID, "error", err)
			continue
		}

		if err := b.SaveTokens(ctx, record.MemberID, resp); err != nil {
			b.logger.Error("Failed to store refreshed provider tokens", "member_id", record.MemberID, "error", err)
			continue
		}
		refreshed++
	}

	return refreshed, nil
}

// PurgeDead deletes records whose access token expired with no usable
// refresh token left
func (b *Bridge) PurgeDead(ctx context.Context) (int, error) {
	now := time.Now()

	records, err := b.repo.ListDead(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("error while listing dead provider tokens. Err: %w", err)
	}

	deleted := 0
	for _, record := range records {
		if record.Provider != b.client.Provider() {
			continue
		}

		if err := b.repo.Delete(ctx, record.MemberID, record.Provider); err != nil {
			b.logger.Error("Failed to delete dead provider token", "member_id", record.MemberID, "error", err)
			continue
		}
		deleted++
	}

	return deleted, nil
}
