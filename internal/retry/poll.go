package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimedOut is returned by Poll when the probe budget is spent.
var ErrTimedOut = errors.New("timed out waiting for readiness")

// Poller probes at a fixed interval until a check succeeds or
// attempts × Interval reaches MaxDuration.
type Poller struct {
	Interval    time.Duration
	MaxDuration time.Duration
	// OnProbe observes every probe (1-based) that was not ready.
	OnProbe func(probe int, err error)
	Sleep   SleepFunc
}

// PagesPoller returns the publication reachability poller: a probe every 5s for 60s.
func PagesPoller() Poller {
	return Poller{Interval: 5 * time.Second, MaxDuration: 60 * time.Second}
}

// Probes returns the number of probes the poller will make.
func (p Poller) Probes() int {
	if p.Interval <= 0 || p.MaxDuration <= 0 {
		return 1
	}
	n := int(p.MaxDuration / p.Interval)
	if p.MaxDuration%p.Interval != 0 {
		n++
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Poll runs check until it reports ready. A check that errors or panics is
// treated as not ready. Returns nil when ready, ErrTimedOut when the budget is
// spent, or the context error if ctx ends first.
func Poll(ctx context.Context, p Poller, check func(ctx context.Context) (bool, error)) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	probes := p.Probes()
	for probe := 1; probe <= probes; probe++ {
		ready, err := safeProbe(ctx, check)
		if ready && err == nil {
			return nil
		}
		if p.OnProbe != nil {
			p.OnProbe(probe, err)
		}
		if probe == probes {
			break
		}
		if err := sleep(ctx, p.Interval); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w after %d probes", ErrTimedOut, probes)
}

func safeProbe(ctx context.Context, check func(ctx context.Context) (bool, error)) (ready bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ready, err = false, fmt.Errorf("panic: %v", r)
		}
	}()
	return check(ctx)
}
