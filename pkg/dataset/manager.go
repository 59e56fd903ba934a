package dataset

import (
	"fmt"
	"sync"

	"github.com/aiperf/aiperf-go/pkg/config"
	"github.com/aiperf/aiperf-go/pkg/model"
)

// Manager holds the pre-materialized conversation corpus and answers
// random-access and iteration queries over it (spec.md §4.3).
type Manager struct {
	mu            sync.RWMutex
	byID          map[string]model.Conversation
	order         []string
	sampler       Sampler
}

// NewManager builds a Manager from conversations already produced by the
// (out-of-scope) composer, installing the sampling strategy named by cfg.
func NewManager(conversations []model.Conversation, sampling config.SamplingStrategy, rootSeed int64) (*Manager, error) {
	if len(conversations) == 0 {
		return nil, fmt.Errorf("dataset: configuration invalid: no conversations produced")
	}
	byID := make(map[string]model.Conversation, len(conversations))
	order := make([]string, 0, len(conversations))
	for _, c := range conversations {
		byID[c.SessionID] = c
		order = append(order, c.SessionID)
	}
	sampler, err := NewSampler(sampling, order, rootSeed)
	if err != nil {
		return nil, err
	}
	return &Manager{byID: byID, order: order, sampler: sampler}, nil
}

// Count returns the number of conversations held.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}

// NextSampled returns the next conversation chosen by the installed
// sampling strategy.
func (m *Manager) NextSampled() (model.Conversation, error) {
	id, err := m.sampler.Next()
	if err != nil {
		return model.Conversation{}, err
	}
	return m.ByID(id)
}

// ByID returns exactly the requested conversation, or an error if absent.
// Invariant (spec.md §3): "conversation ids returned for sampling are never
// absent from the dataset map" — this only errors for a caller-supplied id
// that was never in the corpus.
func (m *Manager) ByID(id string) (model.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byID[id]
	if !ok {
		return model.Conversation{}, fmt.Errorf("dataset: no conversation with id %q", id)
	}
	return c, nil
}

// Turn returns a single turn of a conversation, or an error if the
// conversation or turn index is out of range.
func (m *Manager) Turn(conversationID string, turnIndex int) (model.Turn, error) {
	c, err := m.ByID(conversationID)
	if err != nil {
		return model.Turn{}, err
	}
	if turnIndex < 0 || turnIndex >= len(c.Turns) {
		return model.Turn{}, fmt.Errorf("dataset: turn index %d out of range for conversation %q (%d turns)", turnIndex, conversationID, len(c.Turns))
	}
	return c.Turns[turnIndex], nil
}

// TimingSchedule returns (turn.timestamp, conversation_id) for every turn
// of every conversation that carries a timestamp, used by the
// fixed-schedule strategy (spec.md §4.3, §4.4).
func (m *Manager) TimingSchedule() []struct {
	TimestampNS    int64
	ConversationID string
} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []struct {
		TimestampNS    int64
		ConversationID string
	}
	for _, id := range m.order {
		c := m.byID[id]
		for _, t := range c.Turns {
			if t.TimestampNS == nil {
				continue
			}
			out = append(out, struct {
				TimestampNS    int64
				ConversationID string
			}{TimestampNS: *t.TimestampNS, ConversationID: id})
		}
	}
	return out
}
