package records

import (
	"testing"

	"github.com/aiperf/aiperf-go/pkg/config"
	"github.com/aiperf/aiperf-go/pkg/model"
)

func intPtr(n int) *int { return &n }

func TestProcessSkipsErroredRecords(t *testing.T) {
	p := model.ParsedResponseRecord{
		Record: model.RequestRecord{Error: &model.ErrorDetails{Type: "timeout"}},
	}
	if got := Process(p, nil, ""); got != nil {
		t.Fatalf("expected nil MetricRecord for errored record, got %+v", got)
	}
}

func TestProcessComputesLatencyAndTokenMetrics(t *testing.T) {
	p := model.ParsedResponseRecord{
		Record: model.RequestRecord{
			StartPerfNS: 0,
			EndPerfNS:   100_000_000, // 100ms
			ModelName:   "gpt-test",
			// A non-empty SSE response marks this record streaming, so
			// per-token timing metrics apply.
			Responses: []model.InferenceServerResponse{{SSE: []model.SSEMessage{{}}}},
		},
		Responses: []model.ParsedResponse{
			{PerfNS: 10_000_000, Data: model.ParsedResponseData{Kind: model.ResponseText, Text: "a"}},
			{PerfNS: 20_000_000, Data: model.ParsedResponseData{Kind: model.ResponseText, Text: "b"}},
			{PerfNS: 30_000_000, Data: model.ParsedResponseData{Kind: model.ResponseText, Text: "c"}},
		},
		OutputTokenCount: intPtr(9),
	}

	rec := Process(p, nil, "")
	if rec == nil {
		t.Fatal("expected non-nil MetricRecord")
	}
	if rec.Scalars[TagRequestLatency] != 100 {
		t.Errorf("request latency = %v, want 100ms", rec.Scalars[TagRequestLatency])
	}
	if rec.Scalars[TagTimeToFirstToken] != 10 {
		t.Errorf("ttft = %v, want 10ms", rec.Scalars[TagTimeToFirstToken])
	}
	if rec.Scalars[TagTimeToSecondToken] != 20 {
		t.Errorf("tts = %v, want 20ms", rec.Scalars[TagTimeToSecondToken])
	}
	itl := rec.Arrays[TagInterTokenLatency]
	if len(itl) != 2 || itl[0] != 10 || itl[1] != 10 {
		t.Errorf("inter-token latency = %v, want [10 10]", itl)
	}
	if rec.Scalars[TagOutputSequenceLength] != 9 {
		t.Errorf("output sequence length = %v, want 9", rec.Scalars[TagOutputSequenceLength])
	}
	// 9 tokens over (100ms - 10ms first-token time) = 9 / 0.09s = 100 tok/s.
	if got := rec.Scalars[TagOutputThroughputPerUser]; got != 100 {
		t.Errorf("output token throughput per user = %v, want 100", got)
	}
}

func TestProcessNonStreamingRecordSkipsPerTokenMetrics(t *testing.T) {
	p := model.ParsedResponseRecord{
		Record: model.RequestRecord{
			StartPerfNS: 0,
			EndPerfNS:   100_000_000,
			ModelName:   "gpt-test",
			Responses:   []model.InferenceServerResponse{{Text: &model.TextResponse{PerfNS: 100_000_000, Text: "abc"}}},
		},
		Responses: []model.ParsedResponse{
			{PerfNS: 100_000_000, Data: model.ParsedResponseData{Kind: model.ResponseText, Text: "abc"}},
		},
		OutputTokenCount: intPtr(3),
	}

	rec := Process(p, nil, "")
	if rec == nil {
		t.Fatal("expected non-nil MetricRecord")
	}
	if _, ok := rec.Scalars[TagTimeToFirstToken]; ok {
		t.Errorf("expected no time_to_first_token for a non-streaming record")
	}
	if _, ok := rec.Scalars[TagOutputThroughputPerUser]; ok {
		t.Errorf("expected no output_token_throughput_per_user for a non-streaming record")
	}
}

func TestAggregatePercentiles(t *testing.T) {
	var records []*model.MetricRecord
	for _, v := range []float64{10, 20, 30, 40, 50} {
		rec := model.NewMetricRecord()
		rec.Scalars[TagRequestLatency] = v
		records = append(records, rec)
	}
	results := Aggregate(records)
	if len(results) != 1 {
		t.Fatalf("expected 1 metric result, got %d", len(results))
	}
	r := results[0]
	if r.Tag != TagRequestLatency {
		t.Fatalf("tag = %q, want %q", r.Tag, TagRequestLatency)
	}
	if r.Count != 5 {
		t.Errorf("count = %d, want 5", r.Count)
	}
	if r.Min != 10 || r.Max != 50 {
		t.Errorf("min/max = %v/%v, want 10/50", r.Min, r.Max)
	}
	if r.Avg != 30 {
		t.Errorf("avg = %v, want 30", r.Avg)
	}
	if r.P50 != 30 {
		t.Errorf("p50 = %v, want 30", r.P50)
	}
}

func TestAggregateEmptyPopulation(t *testing.T) {
	if got := Aggregate(nil); len(got) != 0 {
		t.Fatalf("expected no metrics for empty population, got %v", got)
	}
}

func TestGoodputAllConstraintsSatisfied(t *testing.T) {
	constraints := []config.GoodputConstraint{
		{MetricTag: TagRequestLatency, Threshold: 100},
	}
	scalars := []map[string]float64{
		{TagRequestLatency: 50},
		{TagRequestLatency: 150},
		{TagRequestLatency: 90},
	}
	satisfied, total := Goodput(constraints, scalars)
	if total != 3 {
		t.Fatalf("total = %d, want 3", total)
	}
	if satisfied != 2 {
		t.Fatalf("satisfied = %d, want 2", satisfied)
	}
}

func TestGoodputNoConstraintsMeansAllSatisfied(t *testing.T) {
	scalars := []map[string]float64{{}, {}, {}}
	satisfied, total := Goodput(nil, scalars)
	if satisfied != total {
		t.Fatalf("satisfied = %d, total = %d, want equal when no constraints declared", satisfied, total)
	}
}

func TestDerivedMetricsThroughput(t *testing.T) {
	metrics := DerivedMetrics(100, 5000, 0, 10_000_000_000) // 10s window
	byTag := make(map[string]model.MetricResult)
	for _, m := range metrics {
		byTag[m.Tag] = m
	}
	if byTag[TagRequestThroughput].Avg != 10 {
		t.Errorf("request throughput = %v, want 10 req/s", byTag[TagRequestThroughput].Avg)
	}
	if byTag[TagOutputTokenThroughput].Avg != 500 {
		t.Errorf("output token throughput = %v, want 500 tok/s", byTag[TagOutputTokenThroughput].Avg)
	}
	if byTag[TagBenchmarkDuration].Avg != 10 {
		t.Errorf("benchmark duration = %v, want 10s", byTag[TagBenchmarkDuration].Avg)
	}
}
