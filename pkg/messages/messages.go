// Package messages defines the typed payloads carried inside bus.Envelope
// and the message-type string constants from spec.md §6. Keeping the wire
// tag a plain string (rather than a generated protobuf enum) is what lets
// the JSON on the wire stay a dynamic discriminated union, per spec.md §9.
package messages

import (
	"github.com/aiperf/aiperf-go/pkg/config"
	"github.com/aiperf/aiperf-go/pkg/model"
)

// Message type tags (spec.md §6).
const (
	TypeRegisterService = "REGISTER_SERVICE"

	TypeProfileConfigure = "PROFILE_CONFIGURE"
	TypeProfileStart     = "PROFILE_START"
	TypeProfileCancel    = "PROFILE_CANCEL"
	TypeProcessRecords   = "PROCESS_RECORDS"
	TypeShutdown         = "SHUTDOWN"

	TypeCreditDrop                  = "CREDIT_DROP"
	TypeCreditPhaseStart            = "CREDIT_PHASE_START"
	TypeCreditPhaseProgress         = "CREDIT_PHASE_PROGRESS"
	TypeCreditPhaseSendingComplete  = "CREDIT_PHASE_SENDING_COMPLETE"
	TypeCreditPhaseComplete         = "CREDIT_PHASE_COMPLETE"
	TypeCreditsComplete             = "CREDITS_COMPLETE"

	TypeConversationRequest     = "CONVERSATION_REQUEST"
	TypeConversationTurnRequest = "CONVERSATION_TURN_REQUEST"
	TypeDatasetTimingRequest    = "DATASET_TIMING_REQUEST"

	TypeRawInferenceRecord    = "RAW_INFERENCE_RECORD"
	TypeParsedResponseRecord  = "PARSED_RESPONSE_RECORD"
	TypeDatasetConfigured     = "DATASET_CONFIGURED"

	TypeWorkerHealthReport = "WORKER_HEALTH_REPORT"
)

// ServiceType enumerates the fixed set of AIPerf services the
// SystemController supervises (spec.md §4.2).
type ServiceType string

const (
	ServiceController    ServiceType = "controller"
	ServiceDatasetManager ServiceType = "dataset_manager"
	ServiceTimingManager  ServiceType = "timing_manager"
	ServiceWorker         ServiceType = "worker"
	ServiceWorkerManager  ServiceType = "worker_manager"
	ServiceInferenceParser ServiceType = "inference_parser"
	ServiceRecordsManager ServiceType = "records_manager"
)

// RegisterServicePayload announces a service's presence to the controller.
type RegisterServicePayload struct {
	ServiceType ServiceType `json:"service_type"`
	ReplicaID   int         `json:"replica_id"`
}

// ProfileConfigurePayload attaches the user run configuration.
type ProfileConfigurePayload struct {
	UserConfig config.UserConfig `json:"user_config"`
}

// ProcessRecordsPayload requests final summarization.
type ProcessRecordsPayload struct {
	Cancelled bool `json:"cancelled"`
}

// ProcessRecordsResponsePayload carries the final results.
type ProcessRecordsResponsePayload struct {
	Results model.ProfileResults `json:"results"`
}

// CreditDropPayload is pushed to exactly one worker.
type CreditDropPayload struct {
	Credit model.Credit `json:"credit"`
}

// CreditPhaseStartPayload announces a phase beginning.
type CreditPhaseStartPayload struct {
	Phase                  model.CreditPhase `json:"phase"`
	StartNS                int64             `json:"start_ns"`
	TotalExpectedRequests  *int              `json:"total_expected_requests,omitempty"`
	ExpectedDurationSec    *float64          `json:"expected_duration_sec,omitempty"`
}

// CreditPhaseProgressPayload reports issuing progress.
type CreditPhaseProgressPayload struct {
	Phase     model.CreditPhase `json:"phase"`
	Sent      int64             `json:"sent"`
	Completed int64             `json:"completed"`
}

// CreditPhaseSendingCompletePayload announces the strategy has stopped
// issuing new credits.
type CreditPhaseSendingCompletePayload struct {
	Phase      model.CreditPhase `json:"phase"`
	SentEndNS  int64             `json:"sent_end_ns"`
	Sent       int64             `json:"sent"`
}

// CreditPhaseCompletePayload announces every issued credit has a matching
// completed record (or the drain window expired).
type CreditPhaseCompletePayload struct {
	Phase             model.CreditPhase `json:"phase"`
	Completed         int64             `json:"completed"`
	EndNS             int64             `json:"end_ns"`
	FinalRequestCount int64             `json:"final_request_count"`
	TimeoutTriggered  bool              `json:"timeout_triggered"`
}

// ConversationRequestPayload asks for a conversation, by id or "next
// sampled".
type ConversationRequestPayload struct {
	ConversationID *string `json:"conversation_id,omitempty"`
}

// ConversationResponsePayload carries the requested conversation.
type ConversationResponsePayload struct {
	Conversation model.Conversation `json:"conversation"`
}

// ConversationTurnRequestPayload asks for a single turn.
type ConversationTurnRequestPayload struct {
	ConversationID string `json:"conversation_id"`
	TurnIndex      int    `json:"turn_index"`
}

// ConversationTurnResponsePayload carries the requested turn.
type ConversationTurnResponsePayload struct {
	Turn model.Turn `json:"turn"`
}

// DatasetTimingEntry is one (timestamp, conversation id) pair from the
// fixed schedule.
type DatasetTimingEntry struct {
	TimestampNS    int64  `json:"timestamp_ns"`
	ConversationID string `json:"conversation_id"`
}

// DatasetTimingResponsePayload carries the full fixed schedule.
type DatasetTimingResponsePayload struct {
	Entries []DatasetTimingEntry `json:"entries"`
}

// DatasetConfiguredPayload announces the dataset is ready to serve queries.
type DatasetConfiguredPayload struct {
	ConversationCount int `json:"conversation_count"`
}

// RawInferenceRecordPayload carries one RequestRecord from worker to
// parser.
type RawInferenceRecordPayload struct {
	Record model.RequestRecord `json:"record"`
}

// ParsedResponseRecordPayload carries one ParsedResponseRecord from parser
// to the records manager.
type ParsedResponseRecordPayload struct {
	Record model.ParsedResponseRecord `json:"record"`
}

// WorkerHealthReportPayload is published periodically by each worker so
// WorkerManager can track per-replica liveness without polling over a
// request/reply channel (workers already own a Publisher for other
// telemetry).
type WorkerHealthReportPayload struct {
	ReplicaID  int     `json:"replica_id"`
	InFlight   int     `json:"in_flight"`
	ErrorCount int64   `json:"error_count"`
	Healthy    bool    `json:"healthy"`
}

// ErrorPayload is the generic typed error reply (spec.md §7:
// CommandErrorResponse).
type ErrorPayload struct {
	Error string `json:"error"`
}
