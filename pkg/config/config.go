// Package config loads per-service configuration from the environment,
// the way the teacher's pkg/config did for the router/worker pair, extended
// to the full AIPerf service set. Loading the user-facing run configuration
// (endpoint + dataset + load profile) from CLI flags or YAML is explicitly
// out of scope (spec.md §1); UserConfig below is the already-parsed value an
// external loader hands to the controller.
package config

import (
	"os"
	"strconv"
	"time"
)

// ServiceConfig holds the systems-level knobs every AIPerf process needs:
// bus addresses, timeouts, and queue sizes. None of this is specific to one
// load-test run; it's how the services find each other.
type ServiceConfig struct {
	ServiceID   string
	ServiceType string
	ReplicaID   int

	// BusListenAddr is where the controller process binds the single HTTP
	// listener that hosts all five Broker proxies, each mounted under its
	// own path prefix (spec.md §6 names five logical buses; mounting them
	// as path-prefixed handlers on one *http.ServeMux, rather than one
	// listener per bus, is this implementation's choice — see DESIGN.md).
	BusListenAddr string

	// Bus transport endpoints (spec.md §6): "host:port/prefix/frontend" or
	// "host:port/prefix/backend", dialed directly as a websocket URL by
	// bus.NewPublisher/NewSubscriber/NewPusher/NewPuller/NewRequester/NewReplier.
	EventBusFrontendAddr string
	EventBusBackendAddr  string
	DatasetFrontendAddr  string
	DatasetBackendAddr   string
	RawInferFrontendAddr string
	RawInferBackendAddr  string
	ParsedFrontendAddr   string
	ParsedBackendAddr    string
	CreditFrontendAddr   string
	CreditBackendAddr    string

	DashboardPort int
	MetricsPort   int

	// Timeouts (spec.md §5), all overridable via environment.
	RegistrationTimeout     time.Duration
	ServiceStartTimeout     time.Duration
	CommandResponseTimeout  time.Duration
	CommsRequestTimeout     time.Duration
	ConnectionProbeTotal    time.Duration
	ConnectionProbeInterval time.Duration
	PushRetryAttempts       int
	PushRetryDelay          time.Duration
	SocketTimeout           time.Duration
	TaskCancelTimeoutShort  time.Duration
	DrainTimeout            time.Duration

	MaxPullConcurrency            int
	CreditProgressReportInterval  time.Duration
	RawExportBatchSize            int

	WorkerHealthReportInterval  time.Duration
	WorkerManagerSweepInterval  time.Duration
}

// Load reads ServiceConfig from the environment with the defaults spec.md
// §5 and §4.1 specify.
func Load() *ServiceConfig {
	return &ServiceConfig{
		ServiceID:   envStr("SERVICE_ID", "service-0"),
		ServiceType: envStr("SERVICE_TYPE", ""),
		ReplicaID:   envInt("REPLICA_ID", 0),

		BusListenAddr: envStr("BUS_LISTEN_ADDR", "127.0.0.1:5660"),

		EventBusFrontendAddr: envStr("EVENT_BUS_FRONTEND_ADDR", "127.0.0.1:5660/eventbus/frontend"),
		EventBusBackendAddr:  envStr("EVENT_BUS_BACKEND_ADDR", "127.0.0.1:5660/eventbus/backend"),
		DatasetFrontendAddr:  envStr("DATASET_FRONTEND_ADDR", "127.0.0.1:5660/dataset/frontend"),
		DatasetBackendAddr:   envStr("DATASET_BACKEND_ADDR", "127.0.0.1:5660/dataset/backend"),
		RawInferFrontendAddr: envStr("RAW_INFER_FRONTEND_ADDR", "127.0.0.1:5660/rawinfer/frontend"),
		RawInferBackendAddr:  envStr("RAW_INFER_BACKEND_ADDR", "127.0.0.1:5660/rawinfer/backend"),
		ParsedFrontendAddr:   envStr("PARSED_FRONTEND_ADDR", "127.0.0.1:5660/parsed/frontend"),
		ParsedBackendAddr:    envStr("PARSED_BACKEND_ADDR", "127.0.0.1:5660/parsed/backend"),
		CreditFrontendAddr:   envStr("CREDIT_FRONTEND_ADDR", "127.0.0.1:5660/credit/frontend"),
		CreditBackendAddr:    envStr("CREDIT_BACKEND_ADDR", "127.0.0.1:5660/credit/backend"),

		DashboardPort: envInt("DASHBOARD_PORT", 8080),
		MetricsPort:   envInt("METRICS_PORT", 9090),

		RegistrationTimeout:     envDuration("REGISTRATION_TIMEOUT_MS", 30_000),
		ServiceStartTimeout:     envDuration("SERVICE_START_TIMEOUT_MS", 30_000),
		CommandResponseTimeout:  envDuration("COMMAND_RESPONSE_TIMEOUT_MS", 30_000),
		CommsRequestTimeout:     envDuration("COMMS_REQUEST_TIMEOUT_MS", 90_000),
		ConnectionProbeTotal:    envDuration("CONNECTION_PROBE_TIMEOUT_MS", 90_000),
		ConnectionProbeInterval: envDuration("CONNECTION_PROBE_INTERVAL_MS", 100),
		PushRetryAttempts:       envInt("PUSH_MAX_RETRIES", 2),
		PushRetryDelay:          envDuration("PUSH_RETRY_DELAY_MS", 100),
		SocketTimeout:           envDuration("SOCKET_TIMEOUT_MS", 5*60*1000),
		TaskCancelTimeoutShort:  envDuration("TASK_CANCEL_TIMEOUT_SHORT_MS", 2_000),
		DrainTimeout:            envDuration("DRAIN_TIMEOUT_MS", 2_000),

		MaxPullConcurrency:           envInt("MAX_PULL_CONCURRENCY", 100_000),
		CreditProgressReportInterval: envDuration("CREDIT_PROGRESS_REPORT_INTERVAL_MS", 1_000),
		RawExportBatchSize:           envInt("RAW_EXPORT_BATCH_SIZE", 10),

		WorkerHealthReportInterval: envDuration("WORKER_HEALTH_REPORT_INTERVAL_MS", 2_000),
		WorkerManagerSweepInterval: envDuration("WORKER_MANAGER_SWEEP_INTERVAL_MS", 5_000),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallbackMS int) time.Duration {
	ms := envInt(key, fallbackMS)
	return time.Duration(ms) * time.Millisecond
}
