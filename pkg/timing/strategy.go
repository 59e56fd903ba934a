package timing

import (
	"context"
	"fmt"

	"github.com/aiperf/aiperf-go/pkg/config"
	"github.com/aiperf/aiperf-go/pkg/model"
)

// PrepareResult is what Strategy.Prepare reports about how the phase it's
// about to run will end: exactly one of TotalExpectedRequests or
// ExpectedDurationSec is set (spec.md §4.4).
type PrepareResult struct {
	TotalExpectedRequests *int
	ExpectedDurationSec   *float64
}

// Strategy is a pluggable credit-issuing algorithm (spec.md §4.4). No
// import-time registration: each implementation is a concrete type, and
// NewRegistry wires them up explicitly at program start (spec.md §9).
type Strategy interface {
	Prepare(phase model.CreditPhase) (PrepareResult, error)
	Run(ctx context.Context, phase model.CreditPhase, cm *CreditManager) error
	OnCompletion(phase model.CreditPhase)
}

// Registry looks up a Strategy by the load profile's TimingMode.
type Registry struct {
	factories map[config.TimingMode]func(config.LoadProfile, *ScheduleSource) (Strategy, error)
}

// ScheduleSource supplies the fixed schedule to the FixedSchedule strategy;
// implemented by Manager, which requests it from the dataset manager over
// the bus.
type ScheduleSource interface {
	TimingSchedule() ([]ScheduleEntry, error)
}

// ScheduleEntry is one (timestamp, conversation id) pair.
type ScheduleEntry struct {
	TimestampNS    int64
	ConversationID string
}

// NewRegistry builds the registry with all four standard strategies
// registered (spec.md §4.4).
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[config.TimingMode]func(config.LoadProfile, *ScheduleSource) (Strategy, error))}
	r.register(config.TimingFixedSchedule, func(lp config.LoadProfile, src *ScheduleSource) (Strategy, error) {
		if src == nil || *src == nil {
			return nil, fmt.Errorf("timing: fixed_schedule strategy requires a schedule source")
		}
		return NewFixedSchedule(lp, *src), nil
	})
	r.register(config.TimingConstantRate, func(lp config.LoadProfile, _ *ScheduleSource) (Strategy, error) {
		return NewRateStrategy(lp, false)
	})
	r.register(config.TimingPoisson, func(lp config.LoadProfile, _ *ScheduleSource) (Strategy, error) {
		return NewRateStrategy(lp, true)
	})
	r.register(config.TimingConcurrencyBurst, func(lp config.LoadProfile, _ *ScheduleSource) (Strategy, error) {
		return NewConcurrencyBurst(lp), nil
	})
	return r
}

func (r *Registry) register(mode config.TimingMode, f func(config.LoadProfile, *ScheduleSource) (Strategy, error)) {
	r.factories[mode] = f
}

// New builds the Strategy named by profile.Mode.
func (r *Registry) New(profile config.LoadProfile, src ScheduleSource) (Strategy, error) {
	f, ok := r.factories[profile.Mode]
	if !ok {
		return nil, fmt.Errorf("timing: configuration invalid: unknown load mode %q", profile.Mode)
	}
	return f(profile, &src)
}
