package timing

import (
	"context"
	"time"

	"github.com/aiperf/aiperf-go/pkg/config"
	"github.com/aiperf/aiperf-go/pkg/model"
)

// ConcurrencyBurst keeps exactly profile.Concurrency credits in flight,
// issuing one replacement credit each time a raw record arrives (spec.md
// §4.4 strategy 4, and the resolved Open Question in SPEC_FULL.md §4.4:
// re-issuance is driven by CreditManager's completed counter moving, not by
// polling CreditPhaseComplete).
type ConcurrencyBurst struct {
	profile config.LoadProfile
}

// NewConcurrencyBurst builds the concurrency-burst strategy.
func NewConcurrencyBurst(profile config.LoadProfile) *ConcurrencyBurst {
	return &ConcurrencyBurst{profile: profile}
}

func (cb *ConcurrencyBurst) Prepare(phase model.CreditPhase) (PrepareResult, error) {
	if cb.profile.RequestCount > 0 {
		n := cb.profile.RequestCount
		return PrepareResult{TotalExpectedRequests: &n}, nil
	}
	d := cb.profile.BenchmarkDuration
	return PrepareResult{ExpectedDurationSec: &d}, nil
}

// Run issues the initial burst of Concurrency credits, then watches
// cm.Completed() and tops the in-flight count back up to Concurrency each
// time it advances, until RequestCount credits have been sent (or
// BenchmarkDuration has elapsed, if RequestCount is unset).
func (cb *ConcurrencyBurst) Run(ctx context.Context, phase model.CreditPhase, cm *CreditManager) error {
	concurrency := int64(cb.profile.Concurrency)
	if concurrency <= 0 {
		concurrency = 1
	}

	deadline := time.Time{}
	if cb.profile.BenchmarkDuration > 0 && cb.profile.RequestCount <= 0 {
		deadline = time.Now().Add(time.Duration(cb.profile.BenchmarkDuration * float64(time.Second)))
	}
	limit := int64(cb.profile.RequestCount) // 0 means "no fixed count", bounded by deadline instead

	drop := func() (bool, error) {
		if limit > 0 && cm.Sent() >= limit {
			return false, nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return false, nil
		}
		now := time.Now().UnixNano()
		if err := cm.DropCredit(model.Credit{CreditPhase: phase, CreditNum: cm.Sent(), CreditDropNS: &now}); err != nil {
			return false, err
		}
		return true, nil
	}

	for i := int64(0); i < concurrency; i++ {
		if ok, err := drop(); err != nil {
			return err
		} else if !ok {
			break
		}
	}

	lastCompleted := cm.Completed()
	signal := cm.CompletionSignal()
	// deadline-only runs (no RequestCount) still need a wakeup to notice
	// the deadline has passed even with no records arriving; poll that
	// case lightly without using the poll to drive re-issuance.
	var deadlineTick <-chan time.Time
	if limit <= 0 && !deadline.IsZero() {
		t := time.NewTicker(20 * time.Millisecond)
		defer t.Stop()
		deadlineTick = t.C
	}

	for {
		if limit > 0 && cm.Sent() >= limit {
			return nil
		}
		if limit <= 0 && !deadline.IsZero() && time.Now().After(deadline) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadlineTick:
		case <-signal:
			completed := cm.Completed()
			for completed > lastCompleted {
				lastCompleted++
				if ok, err := drop(); err != nil {
					return err
				} else if !ok {
					break
				}
			}
		}
	}
}

func (cb *ConcurrencyBurst) OnCompletion(model.CreditPhase) {}
