// Package parser implements the InferenceParser service: it pulls raw
// RequestRecords off the raw-inference round-robin proxy, dispatches to an
// endpoint-type-specific extractor for the typed response payload, counts
// tokens via the injected tokenizer, and pushes the resulting
// ParsedResponseRecord onward to the records manager (spec.md §4.6).
package parser

import (
	"github.com/rs/zerolog"

	"github.com/aiperf/aiperf-go/pkg/bus"
	"github.com/aiperf/aiperf-go/pkg/messages"
	"github.com/aiperf/aiperf-go/pkg/model"
	"github.com/aiperf/aiperf-go/pkg/tokenizer"
)

// Parser wires a Puller (raw records in) to a Pusher (parsed records out).
type Parser struct {
	puller       *bus.Puller
	pusher       *bus.Pusher
	tok          *tokenizer.Cache
	endpointType model.EndpointType
	log          zerolog.Logger

	// fallbackModel is used when a record's ModelName is empty: the
	// first configured endpoint model, or "default" if none is
	// configured either (resolved Open Question, SPEC_FULL.md §9).
	fallbackModel string
}

// New builds a Parser for one run's configured endpoint type. fallbackModel
// should be the run's first configured endpoint model name, or "" to use
// the literal "default".
func New(puller *bus.Puller, pusher *bus.Pusher, tok *tokenizer.Cache, endpointType model.EndpointType, fallbackModel string, log zerolog.Logger) *Parser {
	if fallbackModel == "" {
		fallbackModel = "default"
	}
	p := &Parser{puller: puller, pusher: pusher, tok: tok, endpointType: endpointType, fallbackModel: fallbackModel, log: log}
	puller.RegisterPullCallback(messages.TypeRawInferenceRecord, p.onRecord)
	return p
}

func (p *Parser) onRecord(env bus.Envelope) {
	var payload messages.RawInferenceRecordPayload
	if err := env.Decode(&payload); err != nil {
		p.log.Error().Err(err).Msg("parser: failed to decode raw inference record")
		return
	}
	parsed := p.Parse(payload.Record)
	if err := p.pusher.Push(messages.TypeParsedResponseRecord, messages.ParsedResponseRecordPayload{Record: parsed}); err != nil {
		p.log.Error().Err(err).Msg("parser: failed to push parsed response record")
	}
}

// Parse extracts the typed response payload(s) and computes token counts
// for one RequestRecord. Records carrying a transport/HTTP error still
// produce a ParsedResponseRecord (with no Responses), so the error survives
// into the records pipeline's error summary.
func (p *Parser) Parse(record model.RequestRecord) model.ParsedResponseRecord {
	out := model.ParsedResponseRecord{Record: record}

	modelName := record.ModelName
	if modelName == "" {
		modelName = p.fallbackModel
	}
	tok := p.tok.Get(modelName)

	// Tokenize the request text before the error check: even a failed
	// request carries an input token count when possible (spec.md §4.6).
	if record.InputText != "" {
		n := tok.Count(record.InputText)
		out.InputTokenCount = &n
	}

	if record.Error != nil {
		return out
	}

	for _, resp := range record.Responses {
		out.Responses = append(out.Responses, dispatch(p.endpointType, resp)...)
	}

	var outputText, reasoningText string
	for _, r := range out.Responses {
		switch r.Data.Kind {
		case model.ResponseText:
			outputText += r.Data.Text
		case model.ResponseReasoning:
			reasoningText += r.Data.Reasoning
		}
	}

	if outputText != "" {
		n := tok.Count(outputText)
		out.OutputTokenCount = &n
	}
	if reasoningText != "" {
		n := tok.Count(reasoningText)
		out.ReasoningTokenCount = &n
	}
	return out
}
