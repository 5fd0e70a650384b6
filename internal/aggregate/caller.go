package aggregate

import (
	"context"
	"time"

	"github.com/ppiankov/patfam/internal/logging"
	"github.com/ppiankov/patfam/internal/metrics"
	"github.com/ppiankov/patfam/internal/model"
	"github.com/ppiankov/patfam/internal/source"
	"github.com/ppiankov/patfam/internal/worker"
)

// Governor admits outbound calls per source. *worker.Governor implements it.
type Governor interface {
	Acquire(ctx context.Context, source string) (*worker.Permit, error)
}

// SleepFunc waits for d or until ctx ends
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// caller performs one governed, retried, time-bounded lookup
type caller struct {
	governor    Governor
	retry       model.RetryConfig
	callTimeout time.Duration
	sleep       SleepFunc
	metrics     *metrics.Metrics
	diag        *recorder
	log         logging.Logger
}

// lookup returns the response of client or the last failure. Failures are
// recorded in diagnostics unless the run context itself has ended.
func (c *caller) lookup(ctx context.Context, client source.Client, req source.Request) (*source.Response, error) {
	name := client.Name()
	attempts := c.retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	start := time.Now()

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		var resp *source.Response
		resp, err = c.attempt(ctx, client, req)
		if err == nil {
			outcome := metrics.OutcomeOK
			if resp.IsEmpty() {
				outcome = metrics.OutcomeEmpty
			}
			c.metrics.ObserveLookup(name, outcome, time.Since(start))
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !source.IsRetryable(err) || attempt == attempts {
			break
		}

		delay := c.backoff(attempt)
		c.log.Debug("retrying lookup",
			logging.String("source", name),
			logging.String("target", req.Target()),
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
			logging.Err(err),
		)
		c.metrics.ObserveRetry(name)
		if serr := c.sleep(ctx, delay); serr != nil {
			return nil, serr
		}
	}

	c.metrics.ObserveLookup(name, outcomeOf(err), time.Since(start))
	c.diag.failure(name, req.Target(), err)
	c.log.Warn("lookup failed",
		logging.String("source", name),
		logging.String("op", req.Op()),
		logging.String("target", req.Target()),
		logging.Err(err),
	)
	return nil, err
}

func (c *caller) attempt(ctx context.Context, client source.Client, req source.Request) (*source.Response, error) {
	permit, err := c.governor.Acquire(ctx, client.Name())
	if err != nil {
		return nil, err
	}
	defer permit.Release()

	callCtx := ctx
	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	c.diag.lookup(client.Name())
	resp, err := client.Lookup(callCtx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		resp = &source.Response{}
	}
	return resp, nil
}

// backoff is BaseDelay * 2^(attempt-1), capped at MaxDelay
func (c *caller) backoff(attempt int) time.Duration {
	d := c.retry.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if c.retry.MaxDelay > 0 && d >= c.retry.MaxDelay {
			return c.retry.MaxDelay
		}
	}
	if c.retry.MaxDelay > 0 && d > c.retry.MaxDelay {
		return c.retry.MaxDelay
	}
	return d
}

func outcomeOf(err error) string {
	switch source.KindOf(err) {
	case source.Transient:
		return metrics.OutcomeTransient
	case source.Malformed:
		return metrics.OutcomeMalformed
	default:
		return metrics.OutcomePermanent
	}
}
