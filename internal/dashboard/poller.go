package dashboard

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"busbuddy/pkg/types"
)

// DefaultPollInterval is how often a dashboard re-fetches
const DefaultPollInterval = 10 * time.Second

// Fetcher is the read the poller repeats
type Fetcher interface {
	Fetch(ctx context.Context, shortID string) (*Snapshot, error)
}

// Poller re-reads one session's dashboard until cancelled. Failed reads are
// logged and skipped; the next tick is the only retry.
type Poller struct {
	fetcher  Fetcher
	shortID  string
	interval time.Duration
	onUpdate func(*Snapshot)

	// StopWhenGone ends Run with types.ErrSessionNotFound once the session
	// has expired or been deleted instead of polling it forever
	StopWhenGone bool
}

// NewPoller builds a poller; a non-positive interval selects DefaultPollInterval
func NewPoller(fetcher Fetcher, shortID string, interval time.Duration, onUpdate func(*Snapshot)) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{fetcher: fetcher, shortID: shortID, interval: interval, onUpdate: onUpdate}
}

// Run fetches immediately and then once per interval until ctx is cancelled
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.poll(ctx); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// poll performs one fetch. Only cancellation, or a vanished session when
// StopWhenGone is set, ends the loop.
func (p *Poller) poll(ctx context.Context) error {
	snap, err := p.fetcher.Fetch(ctx, p.shortID)
	switch {
	case err == nil:
		if p.onUpdate != nil {
			p.onUpdate(snap)
		}
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case p.StopWhenGone && errors.Is(err, types.ErrNotFound):
		log.Info().Str("short_id", p.shortID).Msg("Session no longer available, stopping dashboard")
		return err
	default:
		log.Warn().Err(err).Str("short_id", p.shortID).Msg("Dashboard refresh failed")
		return nil
	}
}
