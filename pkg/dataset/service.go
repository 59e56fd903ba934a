package dataset

import (
	"fmt"

	"github.com/aiperf/aiperf-go/pkg/bus"
	"github.com/aiperf/aiperf-go/pkg/messages"
	"github.com/aiperf/aiperf-go/pkg/model"
)

// RegisterHandlers wires a Manager's queries onto a Replier, matching the
// reply-handler contract in spec.md §4.3.
func RegisterHandlers(rep *bus.Replier, m *Manager) {
	rep.RegisterRequestHandler(messages.TypeConversationRequest, func(env bus.Envelope) (any, error) {
		var req messages.ConversationRequestPayload
		if err := env.Decode(&req); err != nil {
			return nil, err
		}
		var conv model.Conversation
		var err error
		if req.ConversationID != nil {
			conv, err = m.ByID(*req.ConversationID)
		} else {
			conv, err = m.NextSampled()
		}
		if err != nil {
			return nil, err
		}
		return messages.ConversationResponsePayload{Conversation: conv}, nil
	})

	rep.RegisterRequestHandler(messages.TypeConversationTurnRequest, func(env bus.Envelope) (any, error) {
		var req messages.ConversationTurnRequestPayload
		if err := env.Decode(&req); err != nil {
			return nil, err
		}
		turn, err := m.Turn(req.ConversationID, req.TurnIndex)
		if err != nil {
			return nil, err
		}
		return messages.ConversationTurnResponsePayload{Turn: turn}, nil
	})

	rep.RegisterRequestHandler(messages.TypeDatasetTimingRequest, func(env bus.Envelope) (any, error) {
		sched := m.TimingSchedule()
		entries := make([]messages.DatasetTimingEntry, len(sched))
		for i, s := range sched {
			entries[i] = messages.DatasetTimingEntry{TimestampNS: s.TimestampNS, ConversationID: s.ConversationID}
		}
		return messages.DatasetTimingResponsePayload{Entries: entries}, nil
	})
}

// PublishConfigured announces the dataset is ready to serve queries.
func PublishConfigured(pub *bus.Publisher, m *Manager) error {
	if m.Count() == 0 {
		return fmt.Errorf("dataset: refusing to publish DATASET_CONFIGURED for an empty dataset")
	}
	return pub.Publish(messages.TypeDatasetConfigured, messages.DatasetConfiguredPayload{ConversationCount: m.Count()})
}
