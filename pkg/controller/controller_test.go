package controller

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiperf/aiperf-go/pkg/bus"
	"github.com/aiperf/aiperf-go/pkg/config"
	"github.com/aiperf/aiperf-go/pkg/messages"
	"github.com/aiperf/aiperf-go/pkg/model"
	"github.com/aiperf/aiperf-go/pkg/supervisor"
)

// fakeProcessManager never spawns a real OS process; it records each Spec
// it is asked to spawn and hands back a nil Process, and its Kill is a no-op.
type fakeProcessManager struct {
	mu    sync.Mutex
	spawned []supervisor.Spec
}

func (f *fakeProcessManager) Spawn(spec supervisor.Spec) (*supervisor.Process, error) {
	f.mu.Lock()
	f.spawned = append(f.spawned, spec)
	f.mu.Unlock()
	// supervisor.Process has no exported constructor, so a fake manager
	// can't hand back one with a controllable exit channel from outside
	// the package; these tests exercise the registration/command protocol
	// directly instead and never call step2 against this fake.
	return nil, nil
}

func (f *fakeProcessManager) Kill(p *supervisor.Process, grace time.Duration) error { return nil }

func testBroker(t *testing.T) (frontendAddr, backendAddr string, closeFn func()) {
	t.Helper()
	b := bus.NewBroker("eventbus", bus.ModeFanout)
	mux := http.NewServeMux()
	b.RegisterHTTP(mux, "")
	srv := httptest.NewServer(mux)
	host := strings.TrimPrefix(srv.URL, "http://")
	return host + "/frontend", host + "/backend", srv.Close
}

func TestStep3ConfigurePublishesAndAwaitsDatasetConfigured(t *testing.T) {
	frontend, backend, closeFn := testBroker(t)
	defer closeFn()

	pub, err := bus.NewPublisher(frontend, "controller-test")
	if err != nil {
		t.Fatalf("publisher dial: %v", err)
	}
	defer pub.Close()
	sub, err := bus.NewSubscriber(backend, "controller-test")
	if err != nil {
		t.Fatalf("subscriber dial: %v", err)
	}
	defer sub.Close()

	// A second pub/sub pair stands in for the dataset manager: it receives
	// PROFILE_CONFIGURE and replies with DATASET_CONFIGURED.
	dsPub, err := bus.NewPublisher(frontend, "dataset-manager")
	if err != nil {
		t.Fatalf("dataset publisher dial: %v", err)
	}
	defer dsPub.Close()
	dsSub, err := bus.NewSubscriber(backend, "dataset-manager")
	if err != nil {
		t.Fatalf("dataset subscriber dial: %v", err)
	}
	defer dsSub.Close()
	dsSub.Subscribe(messages.TypeProfileConfigure, func(bus.Envelope) {
		_ = dsPub.Publish(messages.TypeDatasetConfigured, messages.DatasetConfiguredPayload{ConversationCount: 3})
	})

	cfg := &config.ServiceConfig{CommandResponseTimeout: 2 * time.Second}
	c := &Controller{cfg: cfg, pub: pub, sub: sub, log: zerolog.Nop(), states: map[ReplicaKey]State{}, registerWaiters: map[ReplicaKey]chan struct{}{}, resultsCh: make(chan model.ProfileResults, 1)}

	time.Sleep(50 * time.Millisecond) // let websocket handshakes settle
	if err := c.step3Configure(config.UserConfig{}); err != nil {
		t.Fatalf("step3Configure: %v", err)
	}
}

func TestStep3ConfigureTimesOutWithNoAck(t *testing.T) {
	frontend, backend, closeFn := testBroker(t)
	defer closeFn()

	pub, _ := bus.NewPublisher(frontend, "controller-test")
	defer pub.Close()
	sub, _ := bus.NewSubscriber(backend, "controller-test")
	defer sub.Close()

	cfg := &config.ServiceConfig{CommandResponseTimeout: 100 * time.Millisecond}
	c := &Controller{cfg: cfg, pub: pub, sub: sub, log: zerolog.Nop(), states: map[ReplicaKey]State{}, registerWaiters: map[ReplicaKey]chan struct{}{}, resultsCh: make(chan model.ProfileResults, 1)}

	time.Sleep(50 * time.Millisecond)
	if err := c.step3Configure(config.UserConfig{}); err == nil {
		t.Fatal("expected timeout error, got nil")
	}
}

func TestStep6ProcessRecordsRoundTrip(t *testing.T) {
	frontend, backend, closeFn := testBroker(t)
	defer closeFn()

	pub, _ := bus.NewPublisher(frontend, "controller-test")
	defer pub.Close()
	sub, _ := bus.NewSubscriber(backend, "controller-test")
	defer sub.Close()

	rmPub, _ := bus.NewPublisher(frontend, "records-manager")
	defer rmPub.Close()
	rmSub, _ := bus.NewSubscriber(backend, "records-manager")
	defer rmSub.Close()
	rmSub.Subscribe(messages.TypeProcessRecords, func(env bus.Envelope) {
		var payload messages.ProcessRecordsPayload
		_ = env.Decode(&payload)
		_ = rmPub.Publish(messages.TypeProcessRecords+"_RESPONSE", messages.ProcessRecordsResponsePayload{
			Results: model.ProfileResults{WasCancelled: payload.Cancelled, EndNS: 42},
		})
	})

	cfg := &config.ServiceConfig{CommandResponseTimeout: 2 * time.Second}
	c := &Controller{cfg: cfg, pub: pub, sub: sub, log: zerolog.Nop(), states: map[ReplicaKey]State{}, registerWaiters: map[ReplicaKey]chan struct{}{}, resultsCh: make(chan model.ProfileResults, 1)}

	time.Sleep(50 * time.Millisecond)
	results, err := c.step6ProcessRecords(true)
	if err != nil {
		t.Fatalf("step6ProcessRecords: %v", err)
	}
	if !results.WasCancelled || results.EndNS != 42 {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestSpawnFailsWithoutBinaryPath(t *testing.T) {
	frontend, backend, closeFn := testBroker(t)
	defer closeFn()
	pub, _ := bus.NewPublisher(frontend, "controller-test")
	defer pub.Close()
	sub, _ := bus.NewSubscriber(backend, "controller-test")
	defer sub.Close()

	c := New(&config.ServiceConfig{}, RequiredServices{messages.ServiceDatasetManager: 1}, map[messages.ServiceType]string{}, &fakeProcessManager{}, pub, sub, zerolog.Nop())
	if err := c.step1SpawnAll(config.UserConfig{}); err == nil {
		t.Fatal("expected error for missing binary path")
	}
}
