package records

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiperf/aiperf-go/pkg/bus"
	"github.com/aiperf/aiperf-go/pkg/config"
	"github.com/aiperf/aiperf-go/pkg/messages"
	"github.com/aiperf/aiperf-go/pkg/model"
	"github.com/aiperf/aiperf-go/pkg/tokenizer"
)

// Manager accumulates ParsedResponseRecords pulled off the parsed-records
// round-robin proxy and, on PROCESS_RECORDS, aggregates them into a final
// ProfileResults (spec.md §4.7). Controller commands ride the event-bus
// fanout broker rather than a dedicated req/rep channel — the same
// Subscribe/Publish pair every other service uses for lifecycle commands
// (spec.md §4.2) — with TargetServiceType filtering so only this replica
// answers.
type Manager struct {
	serviceID   string
	goodput     []config.GoodputConstraint
	inputTok    *tokenizer.Cache
	log         zerolog.Logger

	puller *bus.Puller
	sub    *bus.Subscriber
	pub    *bus.Publisher

	mu     sync.Mutex
	parsed []model.ParsedResponseRecord
}

// New builds a Manager. goodput may be nil.
func New(serviceID string, puller *bus.Puller, sub *bus.Subscriber, pub *bus.Publisher, goodput []config.GoodputConstraint, inputTok *tokenizer.Cache, log zerolog.Logger) *Manager {
	m := &Manager{serviceID: serviceID, goodput: goodput, inputTok: inputTok, puller: puller, sub: sub, pub: pub, log: log}
	puller.RegisterPullCallback(messages.TypeParsedResponseRecord, m.onRecord)
	sub.Subscribe(messages.TypeProcessRecords, m.onProcessRecords)
	return m
}

func (m *Manager) onRecord(env bus.Envelope) {
	var payload messages.ParsedResponseRecordPayload
	if err := env.Decode(&payload); err != nil {
		m.log.Error().Err(err).Msg("records: failed to decode parsed response record")
		return
	}
	m.mu.Lock()
	m.parsed = append(m.parsed, payload.Record)
	m.mu.Unlock()
}

func (m *Manager) onProcessRecords(env bus.Envelope) {
	if env.TargetServiceType != "" && env.TargetServiceType != string(messages.ServiceRecordsManager) {
		return
	}
	if env.TargetServiceID != "" && env.TargetServiceID != m.serviceID {
		return
	}
	var payload messages.ProcessRecordsPayload
	if err := env.Decode(&payload); err != nil {
		m.log.Error().Err(err).Msg("records: failed to decode process records command")
		return
	}
	results := m.Results(payload.Cancelled)
	if err := m.pub.Publish(messages.TypeProcessRecords+"_RESPONSE", messages.ProcessRecordsResponsePayload{Results: results}); err != nil {
		m.log.Error().Err(err).Msg("records: failed to publish process records response")
	}
}

// Results computes the final ProfileResults over every record accumulated
// so far. Safe to call mid-run (e.g. on cancellation).
func (m *Manager) Results(cancelled bool) model.ProfileResults {
	m.mu.Lock()
	parsed := append([]model.ParsedResponseRecord(nil), m.parsed...)
	m.mu.Unlock()

	var startNS, endNS int64
	haveStart := false
	errorCounts := make(map[model.ErrorDetails]int)
	var perRecordMetrics []*model.MetricRecord
	var perRecordScalars []map[string]float64
	totalOutputTokens := 0
	requestCount := 0

	for _, p := range parsed {
		// Only PROFILING-phase records enter aggregation; WARMUP records
		// are counted toward in-flight bookkeeping upstream but excluded
		// from every result here (spec.md §3, §4.4).
		if p.Record.CreditPhase == model.PhaseWarmup {
			continue
		}
		requestCount++
		if !haveStart || p.Record.StartPerfNS < startNS {
			startNS = p.Record.StartPerfNS
			haveStart = true
		}
		if p.Record.EndPerfNS > endNS {
			endNS = p.Record.EndPerfNS
		}
		if p.HasError() {
			errorCounts[*p.Record.Error]++
			continue
		}
		rec := Process(p, m.inputTok, "")
		if rec == nil {
			continue
		}
		perRecordMetrics = append(perRecordMetrics, rec)
		perRecordScalars = append(perRecordScalars, rec.Scalars)
		if p.OutputTokenCount != nil {
			totalOutputTokens += *p.OutputTokenCount
		}
	}

	metrics := Aggregate(perRecordMetrics)
	metrics = append(metrics, DerivedMetrics(requestCount, totalOutputTokens, startNS, endNS)...)

	satisfied, total := Goodput(m.goodput, perRecordScalars)
	if len(m.goodput) > 0 {
		metrics = append(metrics, model.MetricResult{
			Tag: "goodput", Header: "Goodput", Unit: "ratio",
			Count: total, Sum: float64(satisfied), Avg: ratio(satisfied, total),
			Min: ratio(satisfied, total), Max: ratio(satisfied, total),
			P50: ratio(satisfied, total), P75: ratio(satisfied, total),
			P90: ratio(satisfied, total), P95: ratio(satisfied, total), P99: ratio(satisfied, total),
		})
	}

	var errorSummary []model.ErrorSummaryEntry
	for errDetails, count := range errorCounts {
		errorSummary = append(errorSummary, model.ErrorSummaryEntry{Error: errDetails, Count: count})
	}

	return model.ProfileResults{
		Metrics:      metrics,
		WasCancelled: cancelled,
		StartNS:      startNS,
		EndNS:        endNS,
		Errors:       errorSummary,
	}
}

func ratio(satisfied, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(satisfied) / float64(total)
}

// Reset clears all accumulated records, for reuse across back-to-back
// profiling runs in the same process.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.parsed = nil
}

// AwaitQuiescence blocks until no new record has arrived for quietFor, or
// ctx-equivalent timeout elapses, giving in-flight parser pushes a chance
// to land. No caller in this repository uses it.
func (m *Manager) AwaitQuiescence(quietFor, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	lastCount := -1
	for time.Now().Before(deadline) {
		m.mu.Lock()
		n := len(m.parsed)
		m.mu.Unlock()
		if n == lastCount {
			time.Sleep(quietFor)
			m.mu.Lock()
			stillSame := len(m.parsed) == n
			m.mu.Unlock()
			if stillSame {
				return
			}
		}
		lastCount = n
		time.Sleep(quietFor / 4)
	}
}
