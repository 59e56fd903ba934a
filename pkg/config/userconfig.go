package config

import "github.com/aiperf/aiperf-go/pkg/model"

// SamplingStrategy selects how the DatasetManager picks the next
// conversation id to serve.
type SamplingStrategy string

const (
	SampleRandom     SamplingStrategy = "random"
	SampleSequential SamplingStrategy = "sequential"
	SampleShuffle    SamplingStrategy = "shuffle"
)

// TimingMode selects which credit-issuing strategy the TimingManager runs.
type TimingMode string

const (
	TimingFixedSchedule    TimingMode = "fixed_schedule"
	TimingConstantRate     TimingMode = "constant_rate"
	TimingPoisson          TimingMode = "poisson"
	TimingConcurrencyBurst TimingMode = "concurrency_burst"
)

// LoadProfile configures the timing strategy for one run.
type LoadProfile struct {
	Mode TimingMode `json:"mode"`

	// WARMUP
	WarmupRequestCount int `json:"warmup_request_count,omitempty"`

	// fixed_schedule
	AutoOffset  bool   `json:"auto_offset,omitempty"`
	StartOffset *int64 `json:"start_offset_ns,omitempty"`
	EndOffset   *int64 `json:"end_offset_ns,omitempty"`

	// constant_rate / poisson
	RequestRateHz float64 `json:"request_rate_hz,omitempty"`

	// concurrency_burst's in-flight target; constant_rate and poisson do
	// not read it, so it puts no cap on in-flight credits in those modes
	Concurrency int `json:"concurrency,omitempty"`

	// Either RequestCount or BenchmarkDuration must be set for
	// constant_rate/poisson/concurrency_burst; both zero-value means
	// "run forever until cancelled" which callers should reject.
	RequestCount      int     `json:"request_count,omitempty"`
	BenchmarkDuration float64 `json:"benchmark_duration_sec,omitempty"`
}

// GoodputConstraint is one user-declared SLO threshold; a record satisfies
// goodput only if every declared constraint is met simultaneously.
type GoodputConstraint struct {
	MetricTag string  `json:"metric_tag"`
	Threshold float64 `json:"threshold"`
}

// UserConfig is the fully-parsed run configuration the (out-of-scope)
// CLI/YAML layer hands to the SystemController. The core never parses this
// from flags or files itself (spec.md §1).
type UserConfig struct {
	Endpoint         model.ModelEndpointInfo `json:"endpoint"`
	Sampling         SamplingStrategy        `json:"sampling"`
	RandomSeed       int64                   `json:"random_seed"`
	Load             LoadProfile             `json:"load"`
	GoodputThresholds []GoodputConstraint    `json:"goodput_thresholds,omitempty"`

	WorkerCount int `json:"worker_count"`
	ParserCount int `json:"parser_count"`

	ArtifactDir string `json:"artifact_dir"`

	// DatasetPath names a JSON file holding a []model.Conversation, the
	// pre-built dataset the (out-of-scope) composer produced. The core
	// DatasetManager only samples and serves it (spec.md §1, §4.3).
	DatasetPath string `json:"dataset_path"`
}
