package subscriptions

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Notifier pushes operator alerts for newly detected gaps. Implementations
// must be safe for concurrent use.
type Notifier interface {
	NotifyGap(gap PaymentActivationGap)
}

// Processor is the gap monitor: a periodic, read-only scan that joins
// completed payments against subscription state and surfaces activation
// gaps for operator review. Recovery is deliberately manual — misactivation
// has financial consequences, so there is no silent auto-heal.
type Processor struct {
	db          *Database
	notifier    Notifier
	interval    time.Duration
	graceWindow time.Duration

	mu      sync.Mutex
	alerted map[string]struct{} // provider tx ids already alerted
}

func NewProcessor(db *Database, notifier Notifier, interval, graceWindow time.Duration) *Processor {
	return &Processor{
		db:          db,
		notifier:    notifier,
		interval:    interval,
		graceWindow: graceWindow,
		alerted:     make(map[string]struct{}),
	}
}

// Start begins the gap scan loop; it returns when ctx is cancelled.
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "gap_monitor").Logger()
	logger.Info().Msg("starting payment activation gap monitor")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down gap monitor")
			return
		case <-ticker.C:
			if _, err := p.Scan(); err != nil {
				logger.Error().Err(err).Msg("gap scan failed")
			}
		}
	}
}

// Scan runs one gap detection pass over the last 30 days of completed
// payments and alerts on gaps not seen before.
func (p *Processor) Scan() ([]PaymentActivationGap, error) {
	logger := log.With().Str("component", "gap_monitor").Logger()

	windowStart := time.Now().Add(-30 * 24 * time.Hour)
	graceCutoff := time.Now().Add(-p.graceWindow)

	gaps, err := p.db.ScanGaps(windowStart, graceCutoff)
	if err != nil {
		return nil, err
	}

	if len(gaps) > 0 {
		logger.Warn().Int("count", len(gaps)).Msg("payment activation gaps detected")
	}

	// Forget resolved gaps so a gap that re-opens on the same transaction
	// alerts again, and the dedupe map stays bounded by the open gap set.
	current := make(map[string]struct{}, len(gaps))
	for _, gap := range gaps {
		current[gap.ProviderTxID] = struct{}{}
	}
	p.mu.Lock()
	for txID := range p.alerted {
		if _, ok := current[txID]; !ok {
			delete(p.alerted, txID)
		}
	}
	p.mu.Unlock()

	for _, gap := range gaps {
		p.mu.Lock()
		_, seen := p.alerted[gap.ProviderTxID]
		if !seen {
			p.alerted[gap.ProviderTxID] = struct{}{}
		}
		p.mu.Unlock()

		if !seen && p.notifier != nil {
			p.notifier.NotifyGap(gap)
		}
	}

	return gaps, nil
}
