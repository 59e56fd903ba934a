// Package worker implements the Worker service: it pulls credits off the
// round-robin proxy, fetches the conversation each credit names,
// issues the HTTP request against the endpoint under test with
// nanosecond-precision timing, and pushes the resulting RequestRecord onto
// the raw-inference fan-in (spec.md §4.5). Its shape (a struct wrapping a
// queue/work-loop plus a metrics sidecar) is the teacher's
// pkg/worker/server.go Worker generalized from a GPU micro-batcher to an
// HTTP load-generation loop.
package worker

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiperf/aiperf-go/pkg/aiperferr"
	"github.com/aiperf/aiperf-go/pkg/bus"
	"github.com/aiperf/aiperf-go/pkg/messages"
	"github.com/aiperf/aiperf-go/pkg/model"
	"github.com/aiperf/aiperf-go/pkg/worker/format"
	"github.com/aiperf/aiperf-go/pkg/worker/sse"
)

// Worker pulls credits, executes HTTP requests, and emits RequestRecords.
type Worker struct {
	serviceID string
	replicaID int
	endpoint  model.ModelEndpointInfo
	log       zerolog.Logger

	puller    *bus.Puller
	pusher    *bus.Pusher
	requester *bus.Requester
	healthPub *bus.Publisher

	client *http.Client

	mu         sync.Mutex
	modelIndex int

	inFlightCount atomic.Int64
	errorCount    atomic.Int64
	inFlight      sync.WaitGroup
}

// New builds a Worker. client may be nil, in which case a tuned default
// transport is built. healthPub may be nil if this worker shouldn't report
// health (e.g. in tests).
func New(serviceID string, replicaID int, endpoint model.ModelEndpointInfo, puller *bus.Puller, pusher *bus.Pusher, requester *bus.Requester, healthPub *bus.Publisher, client *http.Client, log zerolog.Logger) *Worker {
	if client == nil {
		client = defaultClient(endpoint)
	}
	w := &Worker{
		serviceID: serviceID,
		replicaID: replicaID,
		endpoint:  endpoint,
		log:       log,
		puller:    puller,
		pusher:    pusher,
		requester: requester,
		healthPub: healthPub,
		client:    client,
	}
	puller.RegisterPullCallback(messages.TypeCreditDrop, w.onCredit)
	return w
}

// StartHealthReporting publishes a WORKER_HEALTH_REPORT on interval until
// ctx is cancelled, so WorkerManager can track this replica's liveness
// (spec.md §2: WorkerManager "tracks per-worker health/status reports").
// No-op if this Worker was built with a nil healthPub.
func (w *Worker) StartHealthReporting(ctx context.Context, interval time.Duration) {
	if w.healthPub == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = w.healthPub.Publish(messages.TypeWorkerHealthReport, messages.WorkerHealthReportPayload{
				ReplicaID:  w.replicaID,
				InFlight:   int(w.inFlightCount.Load()),
				ErrorCount: w.errorCount.Load(),
				Healthy:    true,
			})
		}
	}
}

func defaultClient(endpoint model.ModelEndpointInfo) *http.Client {
	timeout := time.Duration(endpoint.TimeoutSeconds * float64(time.Second))
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			c, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			_ = tuneConn(c)
			return c, nil
		},
		TLSClientConfig:     &tls.Config{},
		MaxIdleConns:        256,
		MaxIdleConnsPerHost: 256,
		IdleConnTimeout:     90 * time.Second,
	}
	return &http.Client{Transport: transport, Timeout: timeout}
}

// Wait blocks until every in-flight request this Worker has accepted has
// finished emitting its record. Used for graceful shutdown.
func (w *Worker) Wait() { w.inFlight.Wait() }

func (w *Worker) onCredit(env bus.Envelope) {
	var payload messages.CreditDropPayload
	if err := env.Decode(&payload); err != nil {
		w.log.Error().Err(err).Msg("worker: failed to decode credit drop")
		return
	}
	w.inFlight.Add(1)
	w.inFlightCount.Add(1)
	defer func() {
		w.inFlightCount.Add(-1)
		w.inFlight.Done()
	}()

	credit := payload.Credit
	var delayedNS *int64
	if credit.CreditDropNS != nil {
		waitFor(*credit.CreditDropNS)
		d := time.Now().UnixNano() - *credit.CreditDropNS
		delayedNS = &d
	}

	conv, err := w.fetchConversation(credit)
	if err != nil {
		w.errorCount.Add(1)
		w.log.Error().Err(err).Int64("credit_num", credit.CreditNum).Msg("worker: conversation fetch failed")
		return
	}

	modelName := w.selectModel()
	for turnIdx, turn := range conv.Turns {
		if turnIdx > 0 && turn.DelayMS != nil {
			time.Sleep(time.Duration(*turn.DelayMS) * time.Millisecond)
		}
		record := w.execute(credit, conv.SessionID, turnIdx, modelName, turn, delayedNS)
		if record.Error != nil {
			w.errorCount.Add(1)
		}
		if err := w.pusher.Push(messages.TypeRawInferenceRecord, messages.RawInferenceRecordPayload{Record: record}); err != nil {
			w.log.Error().Err(err).Msg("worker: failed to push raw inference record")
		}
	}
}

// waitFor blocks the calling goroutine until the wall clock reaches
// targetNS, matching the fixed-schedule strategy's "the drop time is
// absolute, not relative" contract (spec.md §4.4).
func waitFor(targetNS int64) {
	d := time.Duration(targetNS - time.Now().UnixNano())
	if d > 0 {
		time.Sleep(d)
	}
}

// turnText concatenates every Text block's contents into the one string
// tokenized for input_sequence_length (spec.md §4.6, §4.7).
func turnText(turn model.Turn) string {
	var parts []string
	for _, t := range turn.Texts {
		parts = append(parts, t.Contents...)
	}
	return strings.Join(parts, " ")
}

// execute sends one turn's request and always returns a RequestRecord: a
// formatting failure is itself reported as a record-level error rather
// than discarded, so every turn executed produces exactly one record on the
// raw-inference path. A credit whose conversation fetch fails (onCredit)
// never reaches execute and produces no record.
// delayedNS is the credit-drop scheduling skew captured by the caller,
// nil when the credit carried no absolute drop time.
func (w *Worker) execute(credit model.Credit, conversationID string, turnIdx int, modelName string, turn model.Turn, delayedNS *int64) model.RequestRecord {
	record := model.RequestRecord{
		CreditPhase:    credit.CreditPhase,
		ConversationID: conversationID,
		TurnIndex:      turnIdx,
		ModelName:      modelName,
		TimestampNS:    time.Now().UnixNano(),
		DelayedNS:      delayedNS,
		InputText:      turnText(turn),
	}

	body, err := format.Request(w.endpoint, modelName, turn)
	if err != nil {
		record.StartPerfNS = time.Now().UnixNano()
		record.EndPerfNS = record.StartPerfNS
		record.Error = &model.ErrorDetails{Type: "format_error", Message: err.Error()}
		return record
	}

	url := w.endpoint.BaseURL + format.Path(w.endpoint)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		record.StartPerfNS = time.Now().UnixNano()
		record.EndPerfNS = record.StartPerfNS
		record.Error = &model.ErrorDetails{Type: "format_error", Message: err.Error()}
		return record
	}
	for k, v := range format.Headers(w.endpoint) {
		req.Header.Set(k, v)
	}
	if len(w.endpoint.QueryParams) > 0 {
		q := req.URL.Query()
		for k, v := range w.endpoint.QueryParams {
			q.Set(k, v)
		}
		req.URL.RawQuery = q.Encode()
	}

	// should_cancel/cancel_after_ns requests a mid-flight abort at an
	// absolute deadline (spec.md §4.5 step 9). A request that finishes
	// reading its body before the deadline fires completes normally —
	// the context is never consulted again once Do/readStream return.
	ctx := context.Background()
	if credit.ShouldCancel && credit.CancelAfterNS != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, time.Unix(0, *credit.CancelAfterNS))
		defer cancel()
	}
	req = req.WithContext(ctx)

	record.StartPerfNS = time.Now().UnixNano()
	resp, err := w.client.Do(req)
	if err != nil {
		record.EndPerfNS = time.Now().UnixNano()
		record.Error = classifyTransportError(err)
		return record
	}
	defer resp.Body.Close()

	recvStart := time.Now().UnixNano()
	record.RecvStartPerfNS = &recvStart
	record.Status = resp.StatusCode

	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		record.EndPerfNS = time.Now().UnixNano()
		record.Error = &model.ErrorDetails{Code: resp.StatusCode, Type: "http_error", Message: string(b)}
		return record
	}

	if w.endpoint.Streaming {
		msgs, err := w.readStream(resp.Body)
		record.EndPerfNS = time.Now().UnixNano()
		if err != nil && err != io.EOF {
			record.Error = classifyStreamError(err)
		}
		record.Responses = []model.InferenceServerResponse{{SSE: msgs}}
		return record
	}

	b, err := io.ReadAll(resp.Body)
	perfNS := time.Now().UnixNano()
	record.EndPerfNS = perfNS
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			record.Error = &model.ErrorDetails{Type: "cancelled", Message: err.Error()}
		} else {
			record.Error = &model.ErrorDetails{Type: "read_error", Message: err.Error()}
		}
		return record
	}
	record.Responses = []model.InferenceServerResponse{{
		Text: &model.TextResponse{PerfNS: perfNS, ContentType: resp.Header.Get("Content-Type"), Text: string(b)},
	}}
	return record
}

func classifyStreamError(err error) *model.ErrorDetails {
	if errors.Is(err, context.DeadlineExceeded) {
		return &model.ErrorDetails{Type: "cancelled", Message: err.Error()}
	}
	return &model.ErrorDetails{Type: "stream_error", Message: err.Error()}
}

func (w *Worker) readStream(body io.Reader) ([]model.SSEMessage, error) {
	r := sse.NewReader(body)
	var msgs []model.SSEMessage
	for {
		msg, err := r.Next()
		if err != nil {
			return msgs, err
		}
		msgs = append(msgs, msg)
		if sse.IsDone(msg) {
			return msgs, nil
		}
	}
}

// fetchConversation resolves the credit's target conversation: directly,
// if the credit names one (the fixed-schedule strategy always does), or by
// asking the dataset manager for the next sampled one otherwise.
func (w *Worker) fetchConversation(credit model.Credit) (model.Conversation, error) {
	if credit.ConversationID != nil {
		env, err := w.requester.Request(messages.TypeConversationRequest, messages.ConversationRequestPayload{
			ConversationID: credit.ConversationID,
		}, 30*time.Second)
		if err != nil {
			return model.Conversation{}, aiperferr.CommTransientf("worker: conversation request: %w", err)
		}
		var resp messages.ConversationResponsePayload
		if err := env.Decode(&resp); err != nil {
			return model.Conversation{}, err
		}
		return resp.Conversation, nil
	}

	env, err := w.requester.Request(messages.TypeConversationRequest, messages.ConversationRequestPayload{}, 30*time.Second)
	if err != nil {
		return model.Conversation{}, aiperferr.CommTransientf("worker: conversation request: %w", err)
	}
	var resp messages.ConversationResponsePayload
	if err := env.Decode(&resp); err != nil {
		return model.Conversation{}, err
	}
	return resp.Conversation, nil
}

// selectModel applies the endpoint's configured ModelSelectionStrategy
// (spec.md §4.5); round-robin across the configured model list, or a
// uniform-random pick.
func (w *Worker) selectModel() string {
	models := w.endpoint.Models
	if len(models) == 0 {
		return ""
	}
	if len(models) == 1 {
		return models[0]
	}
	switch w.endpoint.ModelSelection {
	case model.ModelSelectRandom:
		return models[time.Now().UnixNano()%int64(len(models))]
	default: // round robin
		w.mu.Lock()
		idx := w.modelIndex % len(models)
		w.modelIndex++
		w.mu.Unlock()
		return models[idx]
	}
}

func classifyTransportError(err error) *model.ErrorDetails {
	if errors.Is(err, context.DeadlineExceeded) {
		return &model.ErrorDetails{Type: "cancelled", Message: err.Error()}
	}
	if err, ok := err.(net.Error); ok && err.Timeout() {
		return &model.ErrorDetails{Type: "timeout", Message: err.Error()}
	}
	return &model.ErrorDetails{Type: "connection_error", Message: err.Error()}
}
