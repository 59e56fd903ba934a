package workermanager

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiperf/aiperf-go/pkg/bus"
	"github.com/aiperf/aiperf-go/pkg/messages"
)

func testEventBus(t *testing.T) (frontend, backend string, closeFn func()) {
	t.Helper()
	b := bus.NewBroker("eventbus", bus.ModeFanout)
	mux := http.NewServeMux()
	b.RegisterHTTP(mux, "")
	srv := httptest.NewServer(mux)
	host := strings.TrimPrefix(srv.URL, "http://")
	return host + "/frontend", host + "/backend", srv.Close
}

func TestDesiredReplicasMatchesConfiguredCount(t *testing.T) {
	_, backend, closeFn := testEventBus(t)
	defer closeFn()
	sub, err := bus.NewSubscriber(backend, "worker-manager")
	if err != nil {
		t.Fatalf("subscriber dial: %v", err)
	}
	defer sub.Close()

	m := New(sub, 4, time.Second, zerolog.Nop())
	if got := m.DesiredReplicas(); got != 4 {
		t.Fatalf("DesiredReplicas() = %d, want 4", got)
	}
	if got := m.HealthyCount(); got != 4 {
		t.Fatalf("HealthyCount() = %d, want 4 (all start healthy)", got)
	}
}

func TestHealthReportMarksWorkerUnhealthyAfterThreeFailures(t *testing.T) {
	frontend, backend, closeFn := testEventBus(t)
	defer closeFn()
	pub, err := bus.NewPublisher(frontend, "worker-0")
	if err != nil {
		t.Fatalf("publisher dial: %v", err)
	}
	defer pub.Close()
	sub, err := bus.NewSubscriber(backend, "worker-manager")
	if err != nil {
		t.Fatalf("subscriber dial: %v", err)
	}
	defer sub.Close()

	m := New(sub, 1, time.Second, zerolog.Nop())
	time.Sleep(50 * time.Millisecond)

	for i := 0; i < 3; i++ {
		if err := pub.Publish(messages.TypeWorkerHealthReport, messages.WorkerHealthReportPayload{ReplicaID: 0, Healthy: false}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if !m.IsHealthy(0) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected worker 0 to be marked unhealthy after 3 consecutive failure reports")
}

func TestSweepStaleMarksUnreportedWorkerUnhealthy(t *testing.T) {
	frontend, backend, closeFn := testEventBus(t)
	defer closeFn()
	pub, err := bus.NewPublisher(frontend, "worker-0")
	if err != nil {
		t.Fatalf("publisher dial: %v", err)
	}
	defer pub.Close()
	sub, err := bus.NewSubscriber(backend, "worker-manager")
	if err != nil {
		t.Fatalf("subscriber dial: %v", err)
	}
	defer sub.Close()

	m := New(sub, 1, 100*time.Millisecond, zerolog.Nop())
	if err := pub.Publish(messages.TypeWorkerHealthReport, messages.WorkerHealthReportPayload{ReplicaID: 0, Healthy: true}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if !m.IsHealthy(0) {
		t.Fatal("expected worker 0 healthy immediately after report")
	}

	m.SweepStale(time.Now().Add(200 * time.Millisecond))
	if m.IsHealthy(0) {
		t.Fatal("expected worker 0 to be marked unhealthy once past healthTimeout with no new report")
	}
}
