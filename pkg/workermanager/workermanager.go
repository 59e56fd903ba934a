// Package workermanager implements the WorkerManager service: it sizes the
// worker pool from the run's configured worker_count and tracks
// per-worker health from periodic WORKER_HEALTH_REPORT messages
// (spec.md §2: "scales worker pool; tracks per-worker health/status
// reports"). Replica spawn/kill itself is the controller's and
// pkg/supervisor's job (step 1 of spec.md §4.2's phased orchestration);
// WorkerManager only decides the desired count and observes liveness.
package workermanager

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiperf/aiperf-go/pkg/bus"
	"github.com/aiperf/aiperf-go/pkg/messages"
)

// workerState tracks one worker replica's last-seen health, the same
// fail-count-then-mark-unhealthy shape the teacher's WorkerEntry/Registry
// used for GPU workers.
type workerState struct {
	lastSeen   time.Time
	inFlight   int
	errorCount int64
	healthy    bool
	failCount  int
}

// Manager tracks the health of every registered worker replica.
type Manager struct {
	sub *bus.Subscriber
	log zerolog.Logger

	healthTimeout time.Duration
	failThreshold int

	mu      sync.Mutex
	workers map[int]*workerState
}

// New builds a Manager for desiredReplicas worker replicas (WorkerCount
// from the run's UserConfig), subscribing to health reports on the
// event-bus fanout broker.
func New(sub *bus.Subscriber, desiredReplicas int, healthTimeout time.Duration, log zerolog.Logger) *Manager {
	if healthTimeout <= 0 {
		healthTimeout = 10 * time.Second
	}
	m := &Manager{
		sub: sub, log: log,
		healthTimeout: healthTimeout,
		failThreshold: 3,
		workers:       make(map[int]*workerState, desiredReplicas),
	}
	for i := 0; i < desiredReplicas; i++ {
		m.workers[i] = &workerState{healthy: true}
	}
	sub.Subscribe(messages.TypeWorkerHealthReport, m.onHealthReport)
	return m
}

func (m *Manager) onHealthReport(env bus.Envelope) {
	var payload messages.WorkerHealthReportPayload
	if err := env.Decode(&payload); err != nil {
		m.log.Error().Err(err).Msg("workermanager: failed to decode worker health report")
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[payload.ReplicaID]
	if !ok {
		w = &workerState{}
		m.workers[payload.ReplicaID] = w
	}
	w.lastSeen = time.Now()
	w.inFlight = payload.InFlight
	w.errorCount = payload.ErrorCount
	if payload.Healthy {
		w.failCount = 0
		w.healthy = true
	} else {
		w.failCount++
		if w.failCount >= m.failThreshold {
			w.healthy = false
		}
	}
}

// SweepStale marks any replica that hasn't reported within healthTimeout
// as unhealthy. Callers run this on a ticker (cmd/workermanager's main
// loop); it is exported separately from a background goroutine so tests
// can call it deterministically instead of racing a timer.
func (m *Manager) SweepStale(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.workers {
		if w.lastSeen.IsZero() {
			continue // never reported yet; still within startup grace
		}
		if now.Sub(w.lastSeen) > m.healthTimeout {
			w.healthy = false
		}
	}
}

// HealthyCount reports how many of the tracked replicas are currently
// healthy.
func (m *Manager) HealthyCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, w := range m.workers {
		if w.healthy {
			n++
		}
	}
	return n
}

// IsHealthy reports one replica's current health, defaulting to false for
// an unknown replica id.
func (m *Manager) IsHealthy(replicaID int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[replicaID]
	return ok && w.healthy
}

// DesiredReplicas reports how many replicas the Manager tracks: the
// desiredReplicas it was built with (UserConfig.WorkerCount), plus one for
// each replica id outside 0..desiredReplicas-1 that has sent a health report.
func (m *Manager) DesiredReplicas() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workers)
}
