// Package records implements the RecordsManager: per-record metric
// processors, population-level aggregation (count/sum/avg/min/max/std and
// percentiles), derived throughput metrics, and goodput (spec.md §4.7).
package records

// Metric tags. Per-record processors populate these into a
// model.MetricRecord; aggregation rolls them up into a population-level
// model.MetricResult of the same tag.
const (
	TagRequestLatency         = "request_latency"
	TagTimeToFirstToken       = "time_to_first_token"
	TagTimeToSecondToken      = "time_to_second_token"
	TagInterTokenLatency      = "inter_token_latency"
	TagInputSequenceLength    = "input_sequence_length"
	TagOutputSequenceLength   = "output_sequence_length"
	TagReasoningSequenceLen   = "reasoning_sequence_length"
	TagOutputThroughputPerUser = "output_token_throughput_per_user"

	// Derived, population-only: computed once over the whole run rather
	// than per record (spec.md §4.7).
	TagRequestThroughput      = "request_throughput"
	TagOutputTokenThroughput  = "output_token_throughput"
	TagBenchmarkDuration      = "benchmark_duration"
)
