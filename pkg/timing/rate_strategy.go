package timing

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/aiperf/aiperf-go/pkg/config"
	"github.com/aiperf/aiperf-go/pkg/model"
)

// RateStrategy issues credits at a constant rate, or at a Poisson-distributed
// inter-arrival rate, for request_count credits or benchmark_duration
// seconds (spec.md §4.4 strategies 2 and 3).
type RateStrategy struct {
	profile config.LoadProfile
	poisson bool
	rng     *rand.Rand
}

// NewRateStrategy builds the constant-rate strategy (poisson=false) or the
// Poisson-rate strategy (poisson=true).
func NewRateStrategy(profile config.LoadProfile, poisson bool) (*RateStrategy, error) {
	if profile.RequestRateHz <= 0 {
		return nil, fmt.Errorf("timing: configuration invalid: request_rate_hz must be > 0")
	}
	if profile.RequestCount <= 0 && profile.BenchmarkDuration <= 0 {
		return nil, fmt.Errorf("timing: configuration invalid: one of request_count or benchmark_duration_sec must be set")
	}
	return &RateStrategy{profile: profile, poisson: poisson, rng: rand.New(rand.NewPCG(1, 2))}, nil
}

func (rs *RateStrategy) Prepare(phase model.CreditPhase) (PrepareResult, error) {
	if rs.profile.RequestCount > 0 {
		n := rs.profile.RequestCount
		return PrepareResult{TotalExpectedRequests: &n}, nil
	}
	d := rs.profile.BenchmarkDuration
	return PrepareResult{ExpectedDurationSec: &d}, nil
}

func (rs *RateStrategy) nextInterval() time.Duration {
	meanSec := 1.0 / rs.profile.RequestRateHz
	if !rs.poisson {
		return time.Duration(meanSec * float64(time.Second))
	}
	// Exponential(λ=rate): -ln(U)/rate, U ~ Uniform(0,1).
	u := rs.rng.Float64()
	for u == 0 {
		u = rs.rng.Float64()
	}
	return time.Duration((-meanSec * math.Log(u)) * float64(time.Second))
}

func (rs *RateStrategy) Run(ctx context.Context, phase model.CreditPhase, cm *CreditManager) error {
	deadline := time.Time{}
	if rs.profile.BenchmarkDuration > 0 && rs.profile.RequestCount <= 0 {
		deadline = time.Now().Add(time.Duration(rs.profile.BenchmarkDuration * float64(time.Second)))
	}

	nextDropNS := time.Now().UnixNano()
	var i int64
	for {
		if rs.profile.RequestCount > 0 && i >= int64(rs.profile.RequestCount) {
			return nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		dropNS := nextDropNS
		credit := model.Credit{CreditPhase: phase, CreditNum: i, CreditDropNS: &dropNS}
		if err := cm.DropCredit(credit); err != nil {
			return err
		}

		nextDropNS += rs.nextInterval().Nanoseconds()
		sleepUntil(ctx, nextDropNS)
		i++
	}
}

func (rs *RateStrategy) OnCompletion(model.CreditPhase) {}

// sleepUntil blocks the caller until absolute monotonic-equivalent time
// targetNS (wall-clock UnixNano, per spec.md §4.4's "target is always
// expressed in absolute monotonic nanoseconds so scheduler jitter does not
// accumulate"), or until ctx is cancelled.
func sleepUntil(ctx context.Context, targetNS int64) {
	d := time.Duration(targetNS - time.Now().UnixNano())
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
