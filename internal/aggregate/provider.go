// Package aggregate rolls raw company signals into the fixed-window
// summaries the scoring engine consumes.
package aggregate

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/leadsignal/intent-cli/internal/model"
)

// Window boundaries for the trailing signal counts.
const (
	window30d = 30 * 24 * time.Hour
	window60d = 60 * 24 * time.Hour
	window90d = 90 * 24 * time.Hour
)

// Momentum thresholds on the 30-day velocity ratio.
const (
	acceleratingAbove = 1.2
	deceleratingBelow = 0.8
)

// defaultVelocity is assigned when a company has recent signals but
// nothing in the prior 30-day window, so the ratio is undefined. The
// value lands above the accelerating threshold: a burst of activity
// after silence is treated as momentum.
const defaultVelocity = 2.0

// SignalStore is the slice of the store the provider needs.
type SignalStore interface {
	ListSignalsSince(ctx context.Context, companyID, orgID string, since time.Time) ([]model.Signal, error)
	GetAggregate(ctx context.Context, companyID, orgID string) (*model.SignalAggregate, error)
	SaveAggregate(ctx context.Context, agg *model.SignalAggregate) error
}

// Provider serves signal aggregates, recomputing them from raw signals
// when the stored rollup is missing or stale. Refreshes are throttled
// per company so a burst of prediction requests for one prospect does
// not hammer the signals table.
type Provider struct {
	store  SignalStore
	maxAge time.Duration

	refreshRate  rate.Limit
	refreshBurst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	now func() time.Time
}

// NewProvider creates a Provider. maxAge bounds how old a stored
// aggregate may be before Get recomputes it; refreshPerMinute and burst
// throttle recomputation per company.
func NewProvider(store SignalStore, maxAge time.Duration, refreshPerMinute float64, burst int) *Provider {
	if refreshPerMinute <= 0 {
		refreshPerMinute = 2.0
	}
	if burst <= 0 {
		burst = 1
	}
	return &Provider{
		store:        store,
		maxAge:       maxAge,
		refreshRate:  rate.Limit(refreshPerMinute / 60.0),
		refreshBurst: burst,
		limiters:     make(map[string]*rate.Limiter),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (p *Provider) limiter(companyID, orgID string) *rate.Limiter {
	key := orgID + "/" + companyID
	p.mu.Lock()
	defer p.mu.Unlock()
	lim, ok := p.limiters[key]
	if !ok {
		lim = rate.NewLimiter(p.refreshRate, p.refreshBurst)
		p.limiters[key] = lim
	}
	return lim
}

// Get returns the aggregate for a company, recomputing it when the
// stored rollup is missing or older than maxAge. Returns nil when the
// company has no rollup and no signals to roll up.
func (p *Provider) Get(ctx context.Context, companyID, orgID string) (*model.SignalAggregate, error) {
	stored, err := p.store.GetAggregate(ctx, companyID, orgID)
	if err != nil {
		return nil, err
	}
	if stored != nil && p.now().Sub(stored.ComputedAt) <= p.maxAge {
		return stored, nil
	}
	return p.refresh(ctx, companyID, orgID, stored)
}

// Refresh recomputes the aggregate from raw signals regardless of the
// stored rollup's age, subject to the per-company throttle.
func (p *Provider) Refresh(ctx context.Context, companyID, orgID string) (*model.SignalAggregate, error) {
	stored, err := p.store.GetAggregate(ctx, companyID, orgID)
	if err != nil {
		return nil, err
	}
	return p.refresh(ctx, companyID, orgID, stored)
}

func (p *Provider) refresh(ctx context.Context, companyID, orgID string, stored *model.SignalAggregate) (*model.SignalAggregate, error) {
	if !p.limiter(companyID, orgID).Allow() {
		// Throttled. Serve the stored rollup if there is one, even a
		// stale one; only compute unthrottled when nothing exists yet.
		if stored != nil {
			zap.L().Debug("aggregate refresh throttled, serving stored rollup",
				zap.String("company_id", companyID),
				zap.Time("computed_at", stored.ComputedAt))
			return stored, nil
		}
	}

	now := p.now()
	signals, err := p.store.ListSignalsSince(ctx, companyID, orgID, now.Add(-window90d))
	if err != nil {
		return nil, err
	}

	// A company with no rollup and no raw signals has no data to score.
	if stored == nil && len(signals) == 0 {
		return nil, nil
	}

	agg := Compute(companyID, orgID, signals, now)
	if err := p.store.SaveAggregate(ctx, agg); err != nil {
		// A failed save does not invalidate the computed rollup. Serve
		// it and let the next refresh retry the write.
		zap.L().Warn("failed to persist signal aggregate",
			zap.String("company_id", companyID),
			zap.Error(err))
	}
	return agg, nil
}

// Compute rolls raw signals into a SignalAggregate as of the given
// time. Signals older than 90 days are ignored; callers normally pass
// only the trailing 90-day slice anyway.
func Compute(companyID, orgID string, signals []model.Signal, now time.Time) *model.SignalAggregate {
	agg := &model.SignalAggregate{
		CompanyID:  companyID,
		OrgID:      orgID,
		ComputedAt: now,
	}

	for i := range signals {
		sig := &signals[i]
		age := now.Sub(sig.DetectedAt)
		if age < 0 || age > window90d {
			continue
		}

		agg.SignalCount90d++
		if age <= window60d {
			agg.SignalCount60d++
		}
		if age <= window30d {
			agg.SignalCount30d++
		}

		switch sig.Category {
		case model.CategoryFunding:
			agg.FundingSignals++
		case model.CategoryHiring:
			agg.HiringSignals++
		case model.CategoryTechnology:
			agg.TechnologySignals++
		case model.CategoryExpansion:
			agg.ExpansionSignals++
		case model.CategoryExecutive:
			agg.ExecutiveSignals++
		case model.CategoryFinancial:
			agg.FinancialSignals++
		}
	}

	// Velocity compares the last 30 days against the 30 days before.
	prior := agg.SignalCount60d - agg.SignalCount30d
	switch {
	case prior > 0:
		agg.SignalVelocity30d = float64(agg.SignalCount30d) / float64(prior)
	case agg.SignalCount30d > 0:
		agg.SignalVelocity30d = defaultVelocity
	}

	switch {
	case agg.SignalVelocity30d > acceleratingAbove:
		agg.SignalMomentum = model.MomentumAccelerating
	case agg.SignalVelocity30d < deceleratingBelow && prior > 0:
		agg.SignalMomentum = model.MomentumDecelerating
	default:
		agg.SignalMomentum = model.MomentumStable
	}

	// Composite flags: both categories present in the 90-day window.
	agg.HasFundingHiringCombo = agg.FundingSignals > 0 && agg.HiringSignals > 0
	agg.HasExpansionTechCombo = agg.ExpansionSignals > 0 && agg.TechnologySignals > 0

	return agg
}
