package records

import (
	"github.com/aiperf/aiperf-go/pkg/model"
	"github.com/aiperf/aiperf-go/pkg/tokenizer"
)

// Process computes the per-record metric values for one successfully
// completed ParsedResponseRecord. Records with an Error are not processed
// here — they contribute only to the error summary (spec.md §4.7: "a
// failed request carries no latency metrics of its own").
func Process(p model.ParsedResponseRecord, inputTok *tokenizer.Cache, inputText string) *model.MetricRecord {
	if p.HasError() {
		return nil
	}
	rec := model.NewMetricRecord()
	r := p.Record

	latencyNS := r.EndPerfNS - r.StartPerfNS
	rec.Scalars[TagRequestLatency] = float64(latencyNS) / 1e6 // ms

	// Per-token timing (TTFT, TTS, inter-token latency, per-user
	// throughput) is only computed for a streamed (SSE) response: TTFT and
	// per-user throughput need one token chunk, TTS and inter-token latency
	// need two or more. A non-streaming record's single response lands at
	// EndPerfNS and carries no intermediate timing (spec.md §4.7).
	streaming := isStreamingRecord(r)

	var tokenTimes []int64
	for _, resp := range p.Responses {
		if resp.Data.Kind == model.ResponseText || resp.Data.Kind == model.ResponseReasoning {
			tokenTimes = append(tokenTimes, resp.PerfNS)
		}
	}
	if streaming && len(tokenTimes) > 0 {
		rec.Scalars[TagTimeToFirstToken] = float64(tokenTimes[0]-r.StartPerfNS) / 1e6
	}
	if streaming && len(tokenTimes) > 1 {
		rec.Scalars[TagTimeToSecondToken] = float64(tokenTimes[1]-r.StartPerfNS) / 1e6

		itl := make([]float64, 0, len(tokenTimes)-1)
		for i := 1; i < len(tokenTimes); i++ {
			itl = append(itl, float64(tokenTimes[i]-tokenTimes[i-1])/1e6)
		}
		rec.Arrays[TagInterTokenLatency] = itl
	}

	if p.InputTokenCount != nil {
		rec.Scalars[TagInputSequenceLength] = float64(*p.InputTokenCount)
	} else if inputTok != nil && inputText != "" {
		modelName := r.ModelName
		rec.Scalars[TagInputSequenceLength] = float64(inputTok.Get(modelName).Count(inputText))
	}
	if p.OutputTokenCount != nil {
		rec.Scalars[TagOutputSequenceLength] = float64(*p.OutputTokenCount)
	}
	if p.ReasoningTokenCount != nil {
		rec.Scalars[TagReasoningSequenceLen] = float64(*p.ReasoningTokenCount)
	}

	// Denominator is time since the first token, not since the request
	// started, so TTFT doesn't drag down the per-user generation rate.
	if p.OutputTokenCount != nil && streaming && len(tokenTimes) > 0 {
		if denom := r.EndPerfNS - tokenTimes[0]; denom > 0 {
			seconds := float64(denom) / 1e9
			rec.Scalars[TagOutputThroughputPerUser] = float64(*p.OutputTokenCount) / seconds
		}
	}

	return rec
}

// isStreamingRecord reports whether r's response was read as a sequence of
// SSE chunks rather than a single text body.
func isStreamingRecord(r model.RequestRecord) bool {
	for _, resp := range r.Responses {
		if resp.SSE != nil {
			return true
		}
	}
	return false
}
