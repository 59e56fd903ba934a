// Package model defines the data types that flow across the AIPerf message
// bus: conversations, credits, request/response records, and the metric
// summaries computed from them.
package model

// CreditPhase distinguishes warmup traffic (discarded) from the measured
// profiling phase.
type CreditPhase string

const (
	PhaseWarmup    CreditPhase = "WARMUP"
	PhaseProfiling CreditPhase = "PROFILING"
)

// Text is one named content block within a Turn (e.g. name="query" for a
// rerank request, unnamed for a chat message).
type Text struct {
	Name     string   `json:"name,omitempty"`
	Contents []string `json:"contents"`
}

// Turn is one exchange within a Conversation.
type Turn struct {
	Model     string  `json:"model,omitempty"`
	Texts     []Text  `json:"texts"`
	MaxTokens *int    `json:"max_tokens,omitempty"`
	// TimestampNS is the scheduled absolute send time used by the
	// fixed-schedule strategy; nil when the run isn't schedule-driven.
	TimestampNS *int64 `json:"timestamp_ns,omitempty"`
	// DelayMS is the gap, in milliseconds, the worker waits before sending
	// this turn after the previous one in the same conversation.
	DelayMS *int64 `json:"delay_ms,omitempty"`
}

// Conversation is an immutable, ordered sequence of Turns identified by a
// session id. Conversations are created once by the DatasetManager and never
// mutated afterward.
type Conversation struct {
	SessionID string `json:"session_id"`
	Turns     []Turn `json:"turns"`
}

// ModelSelectionStrategy picks which configured model name a worker uses
// for a given request.
type ModelSelectionStrategy string

const (
	ModelSelectRoundRobin ModelSelectionStrategy = "round_robin"
	ModelSelectRandom     ModelSelectionStrategy = "random"
)

// EndpointType selects the request formatter and response parser a worker
// and parser use for a given run.
type EndpointType string

const (
	EndpointChatCompletions   EndpointType = "chat_completions"
	EndpointCompletions       EndpointType = "completions"
	EndpointEmbeddings        EndpointType = "embeddings"
	EndpointRankingsOpenAI    EndpointType = "rankings_openai"
	EndpointRankingsCohere    EndpointType = "rankings_cohere"
	EndpointHFGenerate        EndpointType = "hf_generate"
	EndpointHFGenerateStream  EndpointType = "hf_generate_stream"
)

// ModelEndpointInfo describes the server under test.
type ModelEndpointInfo struct {
	BaseURL          string                  `json:"base_url"`
	CustomPath       string                  `json:"custom_path,omitempty"`
	Type             EndpointType            `json:"type"`
	Streaming        bool                    `json:"streaming"`
	AuthHeaders      map[string]string       `json:"auth_headers,omitempty"`
	CustomHeaders    map[string]string       `json:"custom_headers,omitempty"`
	TimeoutSeconds   float64                 `json:"timeout_seconds"`
	ExtraPayload     map[string]any          `json:"extra_payload,omitempty"`
	QueryParams      map[string]string       `json:"query_params,omitempty"`
	Models           []string                `json:"models"`
	ModelSelection   ModelSelectionStrategy  `json:"model_selection"`
	APIKey           string                  `json:"api_key,omitempty"`
}

// Credit is a single unit of dispatched work.
type Credit struct {
	CreditPhase    CreditPhase `json:"credit_phase"`
	CreditNum      int64       `json:"credit_num"`
	ConversationID *string     `json:"conversation_id,omitempty"`
	CreditDropNS   *int64      `json:"credit_drop_ns,omitempty"`
	CancelAfterNS  *int64      `json:"cancel_after_ns,omitempty"`
	ShouldCancel   bool        `json:"should_cancel,omitempty"`
}

// ErrorDetails classifies a failed request. It is data, never a Go error.
type ErrorDetails struct {
	Code    int    `json:"code,omitempty"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ErrorSummaryEntry groups identical ErrorDetails with an occurrence count.
type ErrorSummaryEntry struct {
	Error ErrorDetails `json:"error"`
	Count int          `json:"count"`
}

// SSEField is one `field-name: value` (or comment, or bare-field) line of an
// SSE event.
type SSEField struct {
	Name  string
	Value string
}

// SSEMessage is one complete Server-Sent-Events event, tagged with the
// monotonic clock reading captured at the instant its first byte was read.
type SSEMessage struct {
	PerfNS int64      `json:"perf_ns"`
	Fields []SSEField `json:"fields"`
}

// TextResponse is a single non-streaming response body.
type TextResponse struct {
	PerfNS      int64  `json:"perf_ns"`
	ContentType string `json:"content_type"`
	Text        string `json:"text"`
}

// InferenceServerResponse is either one TextResponse or a sequence of
// SSEMessages captured for one RequestRecord.
type InferenceServerResponse struct {
	Text *TextResponse `json:"text,omitempty"`
	SSE  []SSEMessage  `json:"sse,omitempty"`
}

// RequestRecord is emitted by a worker after every HTTP attempt. Immutable
// once emitted.
type RequestRecord struct {
	StartPerfNS     int64                      `json:"start_perf_ns"`
	EndPerfNS       int64                      `json:"end_perf_ns"`
	RecvStartPerfNS *int64                     `json:"recv_start_perf_ns,omitempty"`
	TimestampNS     int64                      `json:"timestamp_ns"`
	Status          int                        `json:"status"`
	Responses       []InferenceServerResponse  `json:"responses"`
	Error           *ErrorDetails              `json:"error,omitempty"`
	DelayedNS       *int64                     `json:"delayed_ns,omitempty"`
	CreditPhase     CreditPhase                `json:"credit_phase"`
	ConversationID  string                     `json:"conversation_id"`
	TurnIndex       int                        `json:"turn_index"`
	ModelName       string                     `json:"model_name"`
	// InputText is the turn's concatenated request text, carried through
	// so the InferenceParser can tokenize it into InputTokenCount even
	// for records that end in an error (spec.md §4.6).
	InputText       string                     `json:"input_text,omitempty"`
}

// ResponseDataKind discriminates the typed payload of a ParsedResponse.
type ResponseDataKind string

const (
	ResponseText       ResponseDataKind = "text"
	ResponseReasoning  ResponseDataKind = "reasoning"
	ResponseEmbedding  ResponseDataKind = "embedding"
	ResponseRanking    ResponseDataKind = "ranking"
	ResponseUsage      ResponseDataKind = "usage"
)

// RankingResult is one scored document from a rerank response.
type RankingResult struct {
	Index           int     `json:"index"`
	RelevanceScore  float64 `json:"relevance_score"`
}

// ParsedResponseData is the typed payload extracted from one raw response.
type ParsedResponseData struct {
	Kind       ResponseDataKind `json:"kind"`
	Text       string           `json:"text,omitempty"`
	Reasoning  string           `json:"reasoning,omitempty"`
	Embeddings [][]float64      `json:"embeddings,omitempty"`
	Rankings   []RankingResult  `json:"rankings,omitempty"`
}

// ParsedResponse pairs one extracted payload with the perf-clock timestamp
// of the chunk/response it came from.
type ParsedResponse struct {
	PerfNS int64               `json:"perf_ns"`
	Data   ParsedResponseData  `json:"data"`
}

// ParsedResponseRecord is produced by the InferenceParser from a
// RequestRecord.
type ParsedResponseRecord struct {
	Record              RequestRecord     `json:"record"`
	Responses           []ParsedResponse  `json:"responses"`
	InputTokenCount     *int              `json:"input_token_count,omitempty"`
	OutputTokenCount    *int              `json:"output_token_count,omitempty"`
	ReasoningTokenCount *int              `json:"reasoning_token_count,omitempty"`
}

// HasError reports whether the underlying record failed.
func (p ParsedResponseRecord) HasError() bool { return p.Record.Error != nil }

// MetricRecord is the per-record dictionary of computed metric values,
// keyed by metric tag. Values are either a scalar or an array (for
// inter-token-latency, which is reported as a slice of durations).
type MetricRecord struct {
	Scalars map[string]float64   `json:"scalars,omitempty"`
	Arrays  map[string][]float64 `json:"arrays,omitempty"`
}

// NewMetricRecord builds an empty MetricRecord ready for writes.
func NewMetricRecord() *MetricRecord {
	return &MetricRecord{
		Scalars: make(map[string]float64),
		Arrays:  make(map[string][]float64),
	}
}

// MetricFlags tags a metric definition for exporter-side filtering. The core
// only carries these flags; it never acts on them.
type MetricFlags uint8

const (
	MetricFlagNone         MetricFlags = 0
	MetricFlagErrorOnly    MetricFlags = 1 << 0
	MetricFlagNoConsole    MetricFlags = 1 << 1
	MetricFlagInternal     MetricFlags = 1 << 2
	MetricFlagExperimental MetricFlags = 1 << 3
	MetricFlagHidden       MetricFlags = 1 << 4
)

// MetricResult is the population-level summary of one metric tag across all
// completed profiling-phase records.
type MetricResult struct {
	Tag          string      `json:"tag"`
	Header       string      `json:"header"`
	Unit         string      `json:"unit"`
	DisplayUnit  string      `json:"display_unit,omitempty"`
	Flags        MetricFlags `json:"flags"`
	Count        int         `json:"count"`
	Sum          float64     `json:"sum"`
	Avg          float64     `json:"avg"`
	Min          float64     `json:"min"`
	Max          float64     `json:"max"`
	Std          float64     `json:"std"`
	P50          float64     `json:"p50"`
	P75          float64     `json:"p75"`
	P90          float64     `json:"p90"`
	P95          float64     `json:"p95"`
	P99          float64     `json:"p99"`
}

// ProfileResults is the final payload of a completed (or cancelled) run.
type ProfileResults struct {
	Metrics      []MetricResult      `json:"metrics"`
	WasCancelled bool                `json:"was_cancelled"`
	StartNS      int64               `json:"start_ns"`
	EndNS        int64               `json:"end_ns"`
	Errors       []ErrorSummaryEntry `json:"errors"`
	ConfigSnapshot any               `json:"config_snapshot,omitempty"`
}

// SessionPayloads captures the exact request bytes sent for one conversation,
// for the (out-of-scope) `inputs.json` reproducibility artifact.
type SessionPayloads struct {
	SessionID string   `json:"session_id"`
	Payloads  [][]byte `json:"payloads"`
}
