package records

import (
	"math"
	"sort"

	"github.com/aiperf/aiperf-go/pkg/config"
	"github.com/aiperf/aiperf-go/pkg/model"
)

type metricMeta struct {
	header      string
	unit        string
	displayUnit string
	flags       model.MetricFlags
}

var scalarMeta = map[string]metricMeta{
	TagRequestLatency:          {"Request Latency", "ms", "", model.MetricFlagNone},
	TagTimeToFirstToken:        {"Time to First Token", "ms", "", model.MetricFlagNone},
	TagTimeToSecondToken:       {"Time to Second Token", "ms", "", model.MetricFlagNone},
	TagInputSequenceLength:     {"Input Sequence Length", "tokens", "", model.MetricFlagNone},
	TagOutputSequenceLength:    {"Output Sequence Length", "tokens", "", model.MetricFlagNone},
	TagReasoningSequenceLen:    {"Reasoning Sequence Length", "tokens", "", model.MetricFlagExperimental},
	TagOutputThroughputPerUser: {"Output Token Throughput Per User", "tokens/sec", "", model.MetricFlagNone},
	TagInterTokenLatency:       {"Inter Token Latency", "ms", "", model.MetricFlagNone},
	TagRequestThroughput:       {"Request Throughput", "requests/sec", "", model.MetricFlagNone},
	TagOutputTokenThroughput:   {"Output Token Throughput", "tokens/sec", "", model.MetricFlagNone},
	TagBenchmarkDuration:       {"Benchmark Duration", "sec", "", model.MetricFlagNone},
}

// Aggregate rolls up a population of per-record MetricRecords (scalar
// metrics and the flattened inter-token-latency array) into the
// population-level summaries spec.md §4.7 requires: count, sum, avg, min,
// max, std, and p50/p75/p90/p95/p99.
func Aggregate(records []*model.MetricRecord) []model.MetricResult {
	scalarValues := make(map[string][]float64)
	for _, rec := range records {
		if rec == nil {
			continue
		}
		for tag, v := range rec.Scalars {
			scalarValues[tag] = append(scalarValues[tag], v)
		}
		if itl, ok := rec.Arrays[TagInterTokenLatency]; ok {
			scalarValues[TagInterTokenLatency] = append(scalarValues[TagInterTokenLatency], itl...)
		}
	}

	var out []model.MetricResult
	for tag, values := range scalarValues {
		out = append(out, summarize(tag, values))
	}
	return out
}

func summarize(tag string, values []float64) model.MetricResult {
	meta := scalarMeta[tag]
	if meta.header == "" {
		meta = metricMeta{header: tag, unit: "", flags: model.MetricFlagNone}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	n := len(sorted)
	result := model.MetricResult{
		Tag: tag, Header: meta.header, Unit: meta.unit, DisplayUnit: meta.displayUnit, Flags: meta.flags,
		Count: n,
	}
	if n == 0 {
		return result
	}

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	avg := sum / float64(n)

	var variance float64
	for _, v := range sorted {
		d := v - avg
		variance += d * d
	}
	variance /= float64(n)

	result.Sum = sum
	result.Avg = avg
	result.Min = sorted[0]
	result.Max = sorted[n-1]
	result.Std = math.Sqrt(variance)
	result.P50 = percentile(sorted, 50)
	result.P75 = percentile(sorted, 75)
	result.P90 = percentile(sorted, 90)
	result.P95 = percentile(sorted, 95)
	result.P99 = percentile(sorted, 99)
	return result
}

// percentile uses linear interpolation between closest ranks (the "R-7"
// method), the common choice for latency percentile reporting.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}
	rank := (p / 100) * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// DerivedMetrics adds the population-only metrics that aren't a rollup of
// any single per-record value: request_throughput is requestCount /
// wall_clock_seconds and output_token_throughput is totalOutputTokens /
// wall_clock_seconds over the whole profiling window, and
// benchmark_duration is that window itself (spec.md §4.7).
func DerivedMetrics(requestCount int, totalOutputTokens int, startNS, endNS int64) []model.MetricResult {
	durationSec := float64(endNS-startNS) / 1e9
	if durationSec <= 0 {
		durationSec = 1e-9
	}
	return []model.MetricResult{
		{
			Tag: TagBenchmarkDuration, Header: scalarMeta[TagBenchmarkDuration].header, Unit: scalarMeta[TagBenchmarkDuration].unit,
			Count: 1, Sum: durationSec, Avg: durationSec, Min: durationSec, Max: durationSec,
			P50: durationSec, P75: durationSec, P90: durationSec, P95: durationSec, P99: durationSec,
		},
		{
			Tag: TagRequestThroughput, Header: scalarMeta[TagRequestThroughput].header, Unit: scalarMeta[TagRequestThroughput].unit,
			Count: 1, Sum: float64(requestCount) / durationSec, Avg: float64(requestCount) / durationSec,
			Min: float64(requestCount) / durationSec, Max: float64(requestCount) / durationSec,
			P50: float64(requestCount) / durationSec, P75: float64(requestCount) / durationSec,
			P90: float64(requestCount) / durationSec, P95: float64(requestCount) / durationSec, P99: float64(requestCount) / durationSec,
		},
		{
			Tag: TagOutputTokenThroughput, Header: scalarMeta[TagOutputTokenThroughput].header, Unit: scalarMeta[TagOutputTokenThroughput].unit,
			Count: 1, Sum: float64(totalOutputTokens) / durationSec, Avg: float64(totalOutputTokens) / durationSec,
			Min: float64(totalOutputTokens) / durationSec, Max: float64(totalOutputTokens) / durationSec,
			P50: float64(totalOutputTokens) / durationSec, P75: float64(totalOutputTokens) / durationSec,
			P90: float64(totalOutputTokens) / durationSec, P95: float64(totalOutputTokens) / durationSec, P99: float64(totalOutputTokens) / durationSec,
		},
	}
}

// Goodput reports, of the len(perRecordScalars) records it is given, how
// many satisfy every declared GoodputConstraint simultaneously
// (spec.md §4.7). perRecordScalars holds each completed record's scalar
// metrics, keyed the same way Process populates model.MetricRecord.Scalars.
func Goodput(constraints []config.GoodputConstraint, perRecordScalars []map[string]float64) (satisfied int, total int) {
	total = len(perRecordScalars)
	if len(constraints) == 0 {
		return total, total
	}
	for _, scalars := range perRecordScalars {
		ok := true
		for _, c := range constraints {
			v, found := scalars[c.MetricTag]
			if !found || v > c.Threshold {
				ok = false
				break
			}
		}
		if ok {
			satisfied++
		}
	}
	return satisfied, total
}
