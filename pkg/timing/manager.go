package timing

import (
	"context"
	"time"

	"github.com/aiperf/aiperf-go/pkg/bus"
	"github.com/aiperf/aiperf-go/pkg/config"
	"github.com/aiperf/aiperf-go/pkg/messages"
	"github.com/aiperf/aiperf-go/pkg/model"
)

// Manager is the TimingManager service: it owns the credit-issuing
// Strategy for a run and drives the WARMUP -> PROFILING phase sequence,
// publishing the phase lifecycle messages along the way (spec.md §4.2,
// §4.4).
type Manager struct {
	cfg        *config.ServiceConfig
	cm         *CreditManager
	registry   *Registry
	datasetReq *bus.Requester
}

// NewManager builds a TimingManager bound to its CreditManager and a
// Requester dialed against the dataset manager's req/rep proxy (used only
// by the fixed_schedule strategy, to fetch the replay schedule).
func NewManager(cfg *config.ServiceConfig, cm *CreditManager, datasetReq *bus.Requester) *Manager {
	return &Manager{cfg: cfg, cm: cm, registry: NewRegistry(), datasetReq: datasetReq}
}

// TimingSchedule implements ScheduleSource by querying the dataset manager.
func (m *Manager) TimingSchedule() ([]ScheduleEntry, error) {
	env, err := m.datasetReq.Request(messages.TypeDatasetTimingRequest, struct{}{}, m.cfg.CommsRequestTimeout)
	if err != nil {
		return nil, err
	}
	var resp messages.DatasetTimingResponsePayload
	if err := env.Decode(&resp); err != nil {
		return nil, err
	}
	entries := make([]ScheduleEntry, len(resp.Entries))
	for i, e := range resp.Entries {
		entries[i] = ScheduleEntry{TimestampNS: e.TimestampNS, ConversationID: e.ConversationID}
	}
	return entries, nil
}

// RunProfile executes WARMUP (if WarmupRequestCount is set) then PROFILING
// to completion or until ctx is cancelled.
func (m *Manager) RunProfile(ctx context.Context, profile config.LoadProfile) error {
	if profile.WarmupRequestCount > 0 {
		warmup := profile
		warmup.Mode = config.TimingConstantRate
		warmup.RequestCount = profile.WarmupRequestCount
		warmup.BenchmarkDuration = 0
		if warmup.RequestRateHz <= 0 {
			warmup.RequestRateHz = 1
		}
		if err := m.runPhase(ctx, model.PhaseWarmup, warmup); err != nil {
			return err
		}
	}
	return m.runPhase(ctx, model.PhaseProfiling, profile)
}

func (m *Manager) runPhase(ctx context.Context, phase model.CreditPhase, profile config.LoadProfile) error {
	strat, err := m.registry.New(profile, m)
	if err != nil {
		return err
	}
	m.cm.ResetCounters()

	prep, err := strat.Prepare(phase)
	if err != nil {
		return err
	}
	startNS := time.Now().UnixNano()
	if err := m.cm.PublishPhaseStart(phase, startNS, prep.TotalExpectedRequests, prep.ExpectedDurationSec); err != nil {
		return err
	}

	done := make(chan struct{})
	go m.reportProgress(ctx, phase, done)
	runErr := strat.Run(ctx, phase, m.cm)
	close(done)

	if runErr != nil && ctx.Err() == nil {
		return runErr
	}

	sentEndNS := time.Now().UnixNano()
	if err := m.cm.PublishSendingComplete(phase, sentEndNS); err != nil {
		return err
	}

	timedOut := m.cm.AwaitDrain(m.cfg.DrainTimeout)
	endNS := time.Now().UnixNano()
	if err := m.cm.PublishPhaseComplete(phase, endNS, timedOut); err != nil {
		return err
	}
	strat.OnCompletion(phase)

	if phase == model.PhaseProfiling {
		return m.cm.PublishCreditsComplete()
	}
	return ctx.Err()
}

func (m *Manager) reportProgress(ctx context.Context, phase model.CreditPhase, done <-chan struct{}) {
	t := time.NewTicker(m.cfg.CreditProgressReportInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-t.C:
			_ = m.cm.PublishProgress(phase)
		}
	}
}
