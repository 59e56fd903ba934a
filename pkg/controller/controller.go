// Package controller implements the SystemController: the per-service
// lifecycle state machine and the seven-step phased orchestration of one
// AIPerf run (spec.md §4.2). Process supervision (spawn/monitor/kill) is
// kept in pkg/supervisor, a separate package, so this state machine stays
// testable without spawning real OS processes — tests inject a fake
// supervisor.ProcessManager.
package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiperf/aiperf-go/pkg/bus"
	"github.com/aiperf/aiperf-go/pkg/config"
	"github.com/aiperf/aiperf-go/pkg/messages"
	"github.com/aiperf/aiperf-go/pkg/model"
	"github.com/aiperf/aiperf-go/pkg/supervisor"
)

// State is one service replica's position in the lifecycle state machine
// (spec.md §4.2): UNREGISTERED -> WAITING -> REGISTERED -> READY -> RUNNING
// -> (STOPPING -> STOPPED) | ERROR.
type State string

const (
	StateUnregistered State = "UNREGISTERED"
	StateWaiting      State = "WAITING"
	StateRegistered   State = "REGISTERED"
	StateReady        State = "READY"
	StateRunning      State = "RUNNING"
	StateStopping     State = "STOPPING"
	StateStopped      State = "STOPPED"
	StateError        State = "ERROR"
)

// ReplicaKey identifies one service replica.
type ReplicaKey struct {
	Type      messages.ServiceType
	ReplicaID int
}

// RequiredServices maps each service type to the replica count the
// controller must spawn and wait on.
type RequiredServices map[messages.ServiceType]int

// Controller supervises one AIPerf run end to end.
type Controller struct {
	cfg      *config.ServiceConfig
	required RequiredServices
	procMgr  supervisor.ProcessManager
	binPaths map[messages.ServiceType]string
	log      zerolog.Logger

	pub *bus.Publisher
	sub *bus.Subscriber

	mu       sync.Mutex
	states   map[ReplicaKey]State
	procs    []*supervisor.Process
	registerWaiters map[ReplicaKey]chan struct{}

	resultsCh chan model.ProfileResults
}

// New builds a Controller. binPaths supplies the cmd/<service> executable
// path for each required service type.
func New(cfg *config.ServiceConfig, required RequiredServices, binPaths map[messages.ServiceType]string, procMgr supervisor.ProcessManager, pub *bus.Publisher, sub *bus.Subscriber, log zerolog.Logger) *Controller {
	c := &Controller{
		cfg: cfg, required: required, binPaths: binPaths, procMgr: procMgr,
		pub: pub, sub: sub, log: log,
		states:          make(map[ReplicaKey]State),
		registerWaiters: make(map[ReplicaKey]chan struct{}),
		resultsCh:       make(chan model.ProfileResults, 1),
	}
	for svcType, count := range required {
		for i := 0; i < count; i++ {
			key := ReplicaKey{Type: svcType, ReplicaID: i}
			c.states[key] = StateUnregistered
			c.registerWaiters[key] = make(chan struct{})
		}
	}
	sub.Subscribe(messages.TypeRegisterService, c.onRegister)
	return c
}

func (c *Controller) onRegister(env bus.Envelope) {
	var payload messages.RegisterServicePayload
	if err := env.Decode(&payload); err != nil {
		c.log.Error().Err(err).Msg("controller: failed to decode register_service")
		return
	}
	key := ReplicaKey{Type: payload.ServiceType, ReplicaID: payload.ReplicaID}
	c.mu.Lock()
	if _, ok := c.states[key]; !ok {
		c.mu.Unlock()
		c.log.Warn().Str("service_type", string(payload.ServiceType)).Int("replica_id", payload.ReplicaID).
			Msg("controller: registration from unexpected replica")
		return
	}
	c.states[key] = StateRegistered
	waiter := c.registerWaiters[key]
	c.mu.Unlock()
	select {
	case <-waiter:
	default:
		close(waiter)
	}
}

func (c *Controller) setState(key ReplicaKey, s State) {
	c.mu.Lock()
	c.states[key] = s
	c.mu.Unlock()
}

// Run executes all seven orchestration steps for one profiling run, or
// short-circuits to step 6 with cancelled=true if ctx is cancelled before
// CreditsComplete arrives.
func (c *Controller) Run(ctx context.Context, userConfig config.UserConfig) (model.ProfileResults, error) {
	if err := c.step1SpawnAll(userConfig); err != nil {
		return model.ProfileResults{}, err
	}
	defer c.step7Shutdown()

	if err := c.step2AwaitRegistrations(); err != nil {
		c.killAllFatal()
		return model.ProfileResults{}, err
	}

	if err := c.step3Configure(userConfig); err != nil {
		c.killAllFatal()
		return model.ProfileResults{}, err
	}

	if err := c.step4Start(); err != nil {
		c.killAllFatal()
		return model.ProfileResults{}, err
	}

	cancelled := c.step5AwaitCreditsComplete(ctx)

	results, err := c.step6ProcessRecords(cancelled)
	if err != nil {
		return model.ProfileResults{}, err
	}
	return results, nil
}

// step1SpawnAll starts brokers (assumed already running by the caller —
// cmd/controller starts them before calling Run) and spawns every required
// service replica as a child process with its comms config passed via env.
func (c *Controller) step1SpawnAll(userConfig config.UserConfig) error {
	ordinal := 0
	for svcType, count := range c.required {
		path, ok := c.binPaths[svcType]
		if !ok {
			return fmt.Errorf("controller: no binary path configured for service %s", svcType)
		}
		for i := 0; i < count; i++ {
			key := ReplicaKey{Type: svcType, ReplicaID: i}
			c.setState(key, StateWaiting)
			spec := supervisor.Spec{
				ServiceType: string(svcType),
				ReplicaID:   i,
				Path:        path,
				Env:         c.childEnv(svcType, i, ordinal),
			}
			ordinal++
			proc, err := c.procMgr.Spawn(spec)
			if err != nil {
				return fmt.Errorf("controller: failed to spawn %s[%d]: %w", svcType, i, err)
			}
			c.mu.Lock()
			c.procs = append(c.procs, proc)
			c.mu.Unlock()
		}
	}
	return nil
}

// childEnv builds a spawned replica's environment. ordinal is unique across
// every replica of every service type in this run (unlike replicaID, which
// restarts at 0 per service type), so each child can derive a metrics port
// that doesn't collide with its siblings on the same host.
func (c *Controller) childEnv(svcType messages.ServiceType, replicaID, ordinal int) []string {
	return []string{
		fmt.Sprintf("SERVICE_ID=%s-%d", svcType, replicaID),
		fmt.Sprintf("SERVICE_TYPE=%s", svcType),
		fmt.Sprintf("REPLICA_ID=%d", replicaID),
		fmt.Sprintf("METRICS_PORT=%d", c.cfg.MetricsPort+ordinal),
		fmt.Sprintf("EVENT_BUS_FRONTEND_ADDR=%s", c.cfg.EventBusFrontendAddr),
		fmt.Sprintf("EVENT_BUS_BACKEND_ADDR=%s", c.cfg.EventBusBackendAddr),
		fmt.Sprintf("DATASET_FRONTEND_ADDR=%s", c.cfg.DatasetFrontendAddr),
		fmt.Sprintf("DATASET_BACKEND_ADDR=%s", c.cfg.DatasetBackendAddr),
		fmt.Sprintf("RAW_INFER_FRONTEND_ADDR=%s", c.cfg.RawInferFrontendAddr),
		fmt.Sprintf("RAW_INFER_BACKEND_ADDR=%s", c.cfg.RawInferBackendAddr),
		fmt.Sprintf("PARSED_FRONTEND_ADDR=%s", c.cfg.ParsedFrontendAddr),
		fmt.Sprintf("PARSED_BACKEND_ADDR=%s", c.cfg.ParsedBackendAddr),
		fmt.Sprintf("CREDIT_FRONTEND_ADDR=%s", c.cfg.CreditFrontendAddr),
		fmt.Sprintf("CREDIT_BACKEND_ADDR=%s", c.cfg.CreditBackendAddr),
	}
}

// step2AwaitRegistrations waits for every replica to send REGISTER_SERVICE
// within RegistrationTimeout. Any replica that exits before registering, or
// fails to register in time, is fatal (spec.md §4.2 step 2).
func (c *Controller) step2AwaitRegistrations() error {
	c.mu.Lock()
	keys := make([]ReplicaKey, 0, len(c.states))
	for k := range c.states {
		keys = append(keys, k)
	}
	procs := append([]*supervisor.Process(nil), c.procs...)
	c.mu.Unlock()

	deadline := time.After(c.cfg.RegistrationTimeout)
	exited := make(chan ReplicaKey, len(procs))
	for _, p := range procs {
		go func(p *supervisor.Process) {
			<-p.ExitedChan()
			exited <- ReplicaKey{Type: messages.ServiceType(p.Spec.ServiceType), ReplicaID: p.Spec.ReplicaID}
		}(p)
	}

	for _, key := range keys {
		c.mu.Lock()
		waiter := c.registerWaiters[key]
		c.mu.Unlock()
		select {
		case <-waiter:
			c.setState(key, StateReady)
		case bad := <-exited:
			return fmt.Errorf("controller: service %s exited before registering", bad.Type)
		case <-deadline:
			return fmt.Errorf("controller: registration timeout waiting for %s[%d]", key.Type, key.ReplicaID)
		}
	}
	return nil
}

// step3Configure broadcasts PROFILE_CONFIGURE and waits for
// DATASET_CONFIGURED (the dataset manager's acknowledgement that the
// corpus is built and queryable) before proceeding.
func (c *Controller) step3Configure(userConfig config.UserConfig) error {
	configured := make(chan struct{}, 1)
	c.sub.Subscribe(messages.TypeDatasetConfigured, func(bus.Envelope) {
		select {
		case configured <- struct{}{}:
		default:
		}
	})
	if err := c.pub.Publish(messages.TypeProfileConfigure, messages.ProfileConfigurePayload{UserConfig: userConfig}); err != nil {
		return fmt.Errorf("controller: failed to publish profile_configure: %w", err)
	}
	select {
	case <-configured:
		return nil
	case <-time.After(c.cfg.CommandResponseTimeout):
		return fmt.Errorf("controller: timed out waiting for dataset_configured")
	}
}

// step4Start broadcasts PROFILE_START; TimingManager and Workers begin
// work on receipt and transition to RUNNING on their own side.
func (c *Controller) step4Start() error {
	c.mu.Lock()
	for k := range c.states {
		c.states[k] = StateRunning
	}
	c.mu.Unlock()
	return c.pub.Publish(messages.TypeProfileStart, struct{}{})
}

// step5AwaitCreditsComplete blocks until CREDITS_COMPLETE arrives or ctx is
// cancelled (user interrupt / overall run timeout), returning whether the
// run was cancelled.
func (c *Controller) step5AwaitCreditsComplete(ctx context.Context) bool {
	done := make(chan struct{}, 1)
	c.sub.Subscribe(messages.TypeCreditsComplete, func(bus.Envelope) {
		select {
		case done <- struct{}{}:
		default:
		}
	})
	select {
	case <-done:
		return false
	case <-ctx.Done():
		_ = c.pub.Publish(messages.TypeProfileCancel, struct{}{})
		// Allow in-flight credits a short drain window before abandoning
		// them, per spec.md §4.2's cancellation note.
		drain := time.NewTimer(c.cfg.DrainTimeout)
		defer drain.Stop()
		select {
		case <-done:
		case <-drain.C:
		}
		return true
	}
}

// step6ProcessRecords broadcasts PROCESS_RECORDS and awaits the
// records manager's PROCESS_RECORDS_RESPONSE reply on the event bus.
func (c *Controller) step6ProcessRecords(cancelled bool) (model.ProfileResults, error) {
	c.sub.Subscribe(messages.TypeProcessRecords+"_RESPONSE", func(env bus.Envelope) {
		var payload messages.ProcessRecordsResponsePayload
		if err := env.Decode(&payload); err != nil {
			c.log.Error().Err(err).Msg("controller: failed to decode process_records_response")
			return
		}
		select {
		case c.resultsCh <- payload.Results:
		default:
		}
	})
	if err := c.pub.Publish(messages.TypeProcessRecords, messages.ProcessRecordsPayload{Cancelled: cancelled}); err != nil {
		return model.ProfileResults{}, fmt.Errorf("controller: failed to publish process_records: %w", err)
	}
	select {
	case results := <-c.resultsCh:
		return results, nil
	case <-time.After(c.cfg.CommandResponseTimeout):
		return model.ProfileResults{}, fmt.Errorf("controller: timed out waiting for process_records_response")
	}
}

// step7Shutdown broadcasts SHUTDOWN, then kills (SIGTERM then SIGKILL,
// TaskCancelTimeoutShort apart) any replica still alive after the grace
// period.
func (c *Controller) step7Shutdown() {
	c.mu.Lock()
	for k := range c.states {
		c.states[k] = StateStopping
	}
	procs := append([]*supervisor.Process(nil), c.procs...)
	c.mu.Unlock()

	_ = c.pub.Publish(messages.TypeShutdown, struct{}{})

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.TaskCancelTimeoutShort*2)
	defer cancel()
	supervisor.KillAll(ctx, c.procMgr, procs, c.cfg.TaskCancelTimeoutShort)

	c.mu.Lock()
	for k := range c.states {
		c.states[k] = StateStopped
	}
	c.mu.Unlock()
}

// killAllFatal is used when an early orchestration step fails: every
// spawned replica is marked ERROR and sent SIGTERM at once, without a
// SHUTDOWN broadcast first, escalating to SIGKILL for any replica still
// alive after TaskCancelTimeoutShort.
func (c *Controller) killAllFatal() {
	c.mu.Lock()
	procs := append([]*supervisor.Process(nil), c.procs...)
	for k := range c.states {
		c.states[k] = StateError
	}
	c.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.TaskCancelTimeoutShort)
	defer cancel()
	supervisor.KillAll(ctx, c.procMgr, procs, c.cfg.TaskCancelTimeoutShort)
}

// State returns the current lifecycle state of one replica, for tests and
// diagnostics.
func (c *Controller) State(key ReplicaKey) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[key]
}
