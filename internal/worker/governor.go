package worker

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Budget is the outbound allowance of one source
type Budget struct {
	MaxConcurrent int           // 0 = unbounded
	MinInterval   time.Duration // Minimum spacing between call starts, 0 = none
}

// Governor enforces per-source concurrency and request spacing.
// All call sites of a source share the same budget, whichever root or term
// they work for.
type Governor struct {
	budgets       map[string]*gate
	mu            sync.RWMutex
	defaultBudget Budget
	onWait        func(source string, waited time.Duration)
}

type gate struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter
}

// GovernorOption configures a Governor
type GovernorOption func(*Governor)

// WithDefaultBudget sets the budget of sources that were never configured
func WithDefaultBudget(b Budget) GovernorOption {
	return func(g *Governor) { g.defaultBudget = b }
}

// WithWaitObserver reports how long every Acquire waited
func WithWaitObserver(fn func(source string, waited time.Duration)) GovernorOption {
	return func(g *Governor) { g.onWait = fn }
}

// NewGovernor creates a governor with the given per-source budgets
func NewGovernor(budgets map[string]Budget, opts ...GovernorOption) *Governor {
	g := &Governor{
		budgets: make(map[string]*gate, len(budgets)),
	}
	for _, opt := range opts {
		opt(g)
	}
	for name, b := range budgets {
		g.budgets[name] = newGate(b)
	}
	return g
}

// Unlimited returns a governor that never blocks
func Unlimited() *Governor {
	return NewGovernor(nil)
}

func newGate(b Budget) *gate {
	gt := &gate{}
	if b.MaxConcurrent > 0 {
		gt.sem = semaphore.NewWeighted(int64(b.MaxConcurrent))
	}
	if b.MinInterval > 0 {
		gt.limiter = rate.NewLimiter(rate.Every(b.MinInterval), 1)
	}
	return gt
}

// Permit is held for the duration of one outbound call
type Permit struct {
	once    sync.Once
	release func()
}

// Release returns the permit; calling it more than once is a no-op
func (p *Permit) Release() {
	if p == nil || p.release == nil {
		return
	}
	p.once.Do(p.release)
}

// Acquire blocks until the source budget admits one more call or ctx ends
func (g *Governor) Acquire(ctx context.Context, source string) (*Permit, error) {
	gt := g.getGate(source)
	start := time.Now()

	if gt.sem != nil {
		if err := gt.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
	}

	if gt.limiter != nil {
		if err := gt.limiter.Wait(ctx); err != nil {
			if gt.sem != nil {
				gt.sem.Release(1)
			}
			return nil, err
		}
	}

	if g.onWait != nil {
		g.onWait(source, time.Since(start))
	}

	p := &Permit{}
	if gt.sem != nil {
		p.release = func() { gt.sem.Release(1) }
	}
	return p, nil
}

// Do runs fn while holding a permit for source
func (g *Governor) Do(ctx context.Context, source string, fn func(ctx context.Context) error) error {
	permit, err := g.Acquire(ctx, source)
	if err != nil {
		return err
	}
	defer permit.Release()
	return fn(ctx)
}

// SetBudget replaces the budget of one source
func (g *Governor) SetBudget(source string, b Budget) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.budgets[source] = newGate(b)
}

func (g *Governor) getGate(source string) *gate {
	g.mu.RLock()
	gt, exists := g.budgets[source]
	g.mu.RUnlock()

	if exists {
		return gt
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// Double-check after acquiring write lock
	if gt, exists := g.budgets[source]; exists {
		return gt
	}

	gt = newGate(g.defaultBudget)
	g.budgets[source] = gt
	return gt
}
