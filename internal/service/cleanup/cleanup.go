package cleanup

import (
	"context"
	"errors"
	"time"

	"github.com/modooboard/authcore/internal/logger"
	"github.com/modooboard/authcore/internal/models"
)

const (
	defaultCompactInterval  = 1 * time.Hour
	defaultSweepInterval    = 30 * time.Minute
	defaultRefreshLookahead = 10 * time.Minute
)

type blacklistCompacter interface {
	Compact(ctx context.Context) (int64, error)
}

// ProviderSweeper is one provider's share of the periodic token sweep
type ProviderSweeper interface {
	Provider() models.ProviderType
	RefreshExpiring(ctx context.Context, lookahead time.Duration) (int, error)
	PurgeDead(ctx context.Context) (int, error)
}

type Config struct {
	// How often the blacklist compaction runs
	// If not set than default is used
	CompactInterval time.Duration

	// How often provider tokens are swept and how far ahead of their expiry
	// they are refreshed
	// If not set than defaults are used
	SweepInterval    time.Duration
	RefreshLookahead time.Duration
}

// Runner drives the periodic maintenance: blacklist compaction and the
// provider token sweep. Both loops stop on context cancellation
type Runner struct {
	compactInterval  time.Duration
	sweepInterval    time.Duration
	refreshLookahead time.Duration

	compacter blacklistCompacter
	sweepers  []ProviderSweeper
	logger    logger.Logger
}

func New(cfg Config, compacter blacklistCompacter, sweepers []ProviderSweeper, l logger.Logger) (*Runner, error) {
	if compacter == nil {
		return nil, errors.New("compacter must not be nil")
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	setDefaultDuration := func(field *time.Duration, def time.Duration) {
		if *field == 0 {
			*field = def
		}
	}
	setDefaultDuration(&cfg.CompactInterval, defaultCompactInterval)
	setDefaultDuration(&cfg.SweepInterval, defaultSweepInterval)
	setDefaultDuration(&cfg.RefreshLookahead, defaultRefreshLookahead)

	return &Runner{
		compactInterval:  cfg.CompactInterval,
		sweepInterval:    cfg.SweepInterval,
		refreshLookahead: cfg.RefreshLookahead,
		compacter:        compacter,
		sweepers:         sweepers,
		logger:           l,
	}, nil
}

// Run starts both loops and returns a channel that is closed when every loop
// finished after context cancellation
func (r *Runner) Run(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})
	r.logger.Debug("Starting cleanup runner",
		"compact_interval", r.compactInterval,
		"sweep_interval", r.sweepInterval,
		"refresh_lookahead", r.refreshLookahead)

	compactStopped := r.runCompactLoop(ctx)
	sweepStopped := r.runSweepLoop(ctx)

	go func() {
		defer close(idleStopped)
		<-compactStopped
		<-sweepStopped
		r.logger.Debug("Cleanup runner stopped")
	}()

	return idleStopped
}

func (r *Runner) runCompactLoop(ctx context.Context) <-chan struct{} {
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)

		ticker := time.NewTicker(r.compactInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				r.logger.Debug("Compact loop stopped by context")
				return

			case <-ticker.C:
				removed, err := r.compacter.Compact(ctx)
				if err != nil {
					r.logger.Error("Blacklist compaction failed", "error", err)
					continue
				}
				r.logger.Debug("Blacklist compaction tick", "removed", removed)
			}
		}
	}()

	return stopped
}

func (r *Runner) runSweepLoop(ctx context.Context) <-chan struct{} {
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)

		ticker := time.NewTicker(r.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				r.logger.Debug("Sweep loop stopped by context")
				return

			case <-ticker.C:
				for _, sweeper := range r.sweepers {
					r.sweepOne(ctx, sweeper)
				}
			}
		}
	}()

	return stopped
}

// sweepOne runs one provider's sweep. A failing provider is logged and
// skipped, it must not starve the others
func (r *Runner) sweepOne(ctx context.Context, sweeper ProviderSweeper) {
	refreshed, err := sweeper.RefreshExpiring(ctx, r.refreshLookahead)
	if err != nil {
		r.logger.Error("Provider token refresh sweep failed", "provider", sweeper.Provider(), "error", err)
	} else if refreshed > 0 {
		r.logger.Info("Provider tokens refreshed", "provider", sweeper.Provider(), "refreshed", refreshed)
	}

	purged, err := sweeper.PurgeDead(ctx)
	if err != nil {
		r.logger.Error("Provider token purge failed", "provider", sweeper.Provider(), "error", err)
		return
	}
	if purged > 0 {
		r.logger.Info("Dead provider tokens purged", "provider", sweeper.Provider(), "purged", purged)
	}
}
