// Package timing implements the TimingManager and its pluggable
// credit-issuing strategies (spec.md §4.4).
package timing

import (
	"sync/atomic"
	"time"

	"github.com/aiperf/aiperf-go/pkg/bus"
	"github.com/aiperf/aiperf-go/pkg/messages"
	"github.com/aiperf/aiperf-go/pkg/model"
)

// CreditManager dispatches credits to workers and tracks phase completion.
// It implements the CreditManagerProtocol a Strategy calls into, decoupling
// the strategy from the bus transport (spec.md §4.4, mirroring
// original_source's CreditManagerProtocol).
type CreditManager struct {
	serviceID string
	pusher    *bus.Pusher
	publisher *bus.Publisher

	sent      atomic.Int64
	completed atomic.Int64

	completionCh chan struct{} // 1-buffered, coalescing record-arrival signal
}

// NewCreditManager builds a CreditManager bound to the given bus clients.
func NewCreditManager(serviceID string, pusher *bus.Pusher, publisher *bus.Publisher) *CreditManager {
	return &CreditManager{serviceID: serviceID, pusher: pusher, publisher: publisher, completionCh: make(chan struct{}, 1)}
}

// CompletionSignal returns the channel ConcurrencyBurst waits on: it
// receives one value (coalesced) each time RecordCompleted advances the
// counter, so strategies re-issue on arrival rather than on a poll tick.
func (cm *CreditManager) CompletionSignal() <-chan struct{} { return cm.completionCh }

// Sent returns the number of credits dispatched so far in the current
// phase.
func (cm *CreditManager) Sent() int64 { return cm.sent.Load() }

// Completed returns the number of raw records observed so far in the
// current phase.
func (cm *CreditManager) Completed() int64 { return cm.completed.Load() }

// ResetCounters zeroes sent/completed for the start of a new phase.
func (cm *CreditManager) ResetCounters() {
	cm.sent.Store(0)
	cm.completed.Store(0)
}

// RecordCompleted marks one more record as having arrived on the records
// path. Called by whatever observes RAW_INFERENCE_RECORD traffic (or, in
// this implementation, the records pipeline's completion callback).
func (cm *CreditManager) RecordCompleted() int64 {
	n := cm.completed.Add(1)
	select {
	case cm.completionCh <- struct{}{}:
	default:
	}
	return n
}

// DropCredit pushes one credit to the worker pool.
func (cm *CreditManager) DropCredit(credit model.Credit) error {
	if err := cm.pusher.Push(messages.TypeCreditDrop, messages.CreditDropPayload{Credit: credit}); err != nil {
		return err
	}
	cm.sent.Add(1)
	return nil
}

// PublishPhaseStart announces phase to all subscribers.
func (cm *CreditManager) PublishPhaseStart(phase model.CreditPhase, startNS int64, totalExpected *int, expectedDurationSec *float64) error {
	return cm.publisher.Publish(messages.TypeCreditPhaseStart, messages.CreditPhaseStartPayload{
		Phase: phase, StartNS: startNS, TotalExpectedRequests: totalExpected, ExpectedDurationSec: expectedDurationSec,
	})
}

// PublishProgress announces the current sent/completed counters.
func (cm *CreditManager) PublishProgress(phase model.CreditPhase) error {
	return cm.publisher.Publish(messages.TypeCreditPhaseProgress, messages.CreditPhaseProgressPayload{
		Phase: phase, Sent: cm.Sent(), Completed: cm.Completed(),
	})
}

// PublishSendingComplete announces the strategy has stopped issuing.
func (cm *CreditManager) PublishSendingComplete(phase model.CreditPhase, sentEndNS int64) error {
	return cm.publisher.Publish(messages.TypeCreditPhaseSendingComplete, messages.CreditPhaseSendingCompletePayload{
		Phase: phase, SentEndNS: sentEndNS, Sent: cm.Sent(),
	})
}

// PublishPhaseComplete announces completed == sent (or drain timeout).
func (cm *CreditManager) PublishPhaseComplete(phase model.CreditPhase, endNS int64, timeoutTriggered bool) error {
	return cm.publisher.Publish(messages.TypeCreditPhaseComplete, messages.CreditPhaseCompletePayload{
		Phase: phase, Completed: cm.Completed(), EndNS: endNS,
		FinalRequestCount: cm.Sent(), TimeoutTriggered: timeoutTriggered,
	})
}

// PublishCreditsComplete announces the profiling phase is fully done.
func (cm *CreditManager) PublishCreditsComplete() error {
	return cm.publisher.Publish(messages.TypeCreditsComplete, struct{}{})
}

// AwaitDrain blocks until completed == sent or drainTimeout elapses,
// returning whether the drain timed out.
func (cm *CreditManager) AwaitDrain(drainTimeout time.Duration) (timedOut bool) {
	deadline := time.Now().Add(drainTimeout)
	for {
		if cm.Completed() >= cm.Sent() {
			return false
		}
		if time.Now().After(deadline) {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
}
