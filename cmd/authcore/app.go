package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/modooboard/authcore/internal/db"
	"github.com/modooboard/authcore/internal/logger"
	"github.com/modooboard/authcore/internal/models"
	"github.com/modooboard/authcore/internal/repository"
	"github.com/modooboard/authcore/internal/repository/postgres"
	"github.com/modooboard/authcore/internal/service/auth"
	"github.com/modooboard/authcore/internal/service/blacklist"
	"github.com/modooboard/authcore/internal/service/cleanup"
	"github.com/modooboard/authcore/internal/service/member"
	"github.com/modooboard/authcore/internal/service/provider"
	"github.com/modooboard/authcore/internal/service/token"
)

// App wires the services together and owns the background maintenance.
// The HTTP surface lives in the consuming application, this binary runs the
// token lifecycle daemon
type App struct {
	Auth    *auth.Service
	Members *member.Service

	logger logger.Logger
	pool   *pgxpool.Pool
	runner *cleanup.Runner
}

func NewApp(ctx context.Context, c *Config) (*App, error) {
	// Initialize logger
	l, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}

	// Initialize repositories
	storage := postgres.NewStorage(pool)

	// Initialize services
	tokens, err := token.New(token.Config{
		SecretKey:  c.SecretKey,
		AccessTTL:  c.AccessTokenTTL,
		RefreshTTL: c.RefreshTokenTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("error while creating token manager. Err: %w", err)
	}

	bl, err := blacklist.NewService(blacklist.Config{GracePeriod: c.BlacklistGrace}, tokens, storage.Blacklist(), l)
	if err != nil {
		return nil, fmt.Errorf("error while creating blacklist service. Err: %w", err)
	}

	members, err := member.NewService(member.Config{
		NicknameMaxChanges: c.NicknameMaxChanges,
		NicknameCooldown:   c.NicknameCooldown,
		RejoinHold:         c.RejoinHold,
	}, storage.Member(), l)
	if err != nil {
		return nil, fmt.Errorf("error while creating member service. Err: %w", err)
	}

	bridges, sweepers, err := newProviderBridges(c, storage, l)
	if err != nil {
		return nil, err
	}

	authService, err := auth.NewService(tokens, bl, storage.Refresh(), storage.Member(), bridges, l)
	if err != nil {
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}

	runner, err := cleanup.New(cleanup.Config{
		CompactInterval:  c.CompactInterval,
		SweepInterval:    c.SweepInterval,
		RefreshLookahead: c.RefreshLookahead,
	}, bl, sweepers, l)
	if err != nil {
		return nil, fmt.Errorf("error while creating cleanup runner. Err: %w", err)
	}

	return &App{
		Auth:    authService,
		Members: members,
		logger:  l,
		pool:    pool,
		runner:  runner,
	}, nil
}

// newProviderBridges builds a bridge per configured provider. A provider
// without a client id is simply not wired, the rest keeps working
func newProviderBridges(c *Config, storage repository.Storage, l logger.Logger) (map[models.ProviderType]*provider.Bridge, []cleanup.ProviderSweeper, error) {
	configs := []provider.Config{
		{
			Name:         models.ProviderGoogle,
			ClientID:     c.Google.ClientID,
			ClientSecret: c.Google.ClientSecret,
			RedirectURI:  c.Google.RedirectURI,
			Endpoints: provider.Endpoints{
				TokenURL:    c.Google.TokenURL,
				RevokeURL:   c.Google.RevokeURL,
				UserInfoURL: c.Google.UserInfoURL,
			},
		},
		{
			Name:         models.ProviderKakao,
			ClientID:     c.Kakao.ClientID,
			ClientSecret: c.Kakao.ClientSecret,
			RedirectURI:  c.Kakao.RedirectURI,
			Endpoints: provider.Endpoints{
				TokenURL:    c.Kakao.TokenURL,
				RevokeURL:   c.Kakao.RevokeURL,
				UserInfoURL: c.Kakao.UserInfoURL,
			},
		},
	}

	bridges := map[models.ProviderType]*provider.Bridge{}
	sweepers := make([]cleanup.ProviderSweeper, 0, len(configs))

	for _, cfg := range configs {
		if cfg.ClientID == "" {
			l.Warn("Identity provider not configured, skipping", "provider", cfg.Name)
			continue
		}

		bridge, err := provider.NewBridge(provider.NewClient(cfg, l), storage.ProviderToken(), l)
		if err != nil {
			return nil, nil, fmt.Errorf("error while creating %s bridge. Err: %w", cfg.Name, err)
		}

		bridges[cfg.Name] = bridge
		sweepers = append(sweepers, bridge)
	}

	return bridges, sweepers, nil
}

// Run drives the maintenance loops until the context is cancelled
func (a *App) Run(ctx context.Context) {
	a.logger.Info("Starting token lifecycle daemon")

	stopped := a.runner.Run(ctx)
	<-stopped

	a.pool.Close()
	a.logger.Info("Daemon stopped")
}
