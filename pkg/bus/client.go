package bus

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

func dial(addr string) (*websocket.Conn, error) {
	ws, _, err := websocket.DefaultDialer.Dial("ws://"+addr, nil)
	if err != nil {
		return nil, fmt.Errorf("bus: dial %s: %w", addr, err)
	}
	return ws, nil
}

// Publisher sends fire-and-forget, best-effort messages onto a ModeFanout
// broker's frontend. Spec.md §4.1: "non-blocking; best-effort".
type Publisher struct {
	serviceID string
	c         *conn
}

// NewPublisher dials addr (an event-bus proxy's frontend).
func NewPublisher(addr, serviceID string) (*Publisher, error) {
	ws, err := dial(addr)
	if err != nil {
		return nil, err
	}
	return &Publisher{serviceID: serviceID, c: newConn(ws, nil, nil)}, nil
}

// Publish sends payload tagged with messageType, routed by its type to
// every subscriber. Never blocks.
func (p *Publisher) Publish(messageType string, payload any) error {
	env, err := New(messageType, p.serviceID, payload)
	if err != nil {
		return err
	}
	p.c.Write(env) // best-effort: backpressure is silently dropped
	return nil
}

// PublishTo is Publish with the envelope addressed to a specific service
// type and/or replica id. Every subscriber still receives the frame (the
// fanout broker never filters) — TargetServiceType/TargetServiceID are
// read by the receiving handler to decide whether the message is meant
// for it.
func (p *Publisher) PublishTo(messageType, targetServiceType, targetServiceID string, payload any) error {
	env, err := New(messageType, p.serviceID, payload)
	if err != nil {
		return err
	}
	env.TargetServiceType = targetServiceType
	env.TargetServiceID = targetServiceID
	p.c.Write(env)
	return nil
}

func (p *Publisher) Close() { p.c.Close() }

// Subscriber receives messages from a ModeFanout broker's backend,
// dispatching each to the callback registered for its message type.
type Subscriber struct {
	serviceID string
	c         *conn

	mu       sync.RWMutex
	handlers map[string]func(Envelope)
}

// NewSubscriber dials addr (an event-bus proxy's backend).
func NewSubscriber(addr, serviceID string) (*Subscriber, error) {
	ws, err := dial(addr)
	if err != nil {
		return nil, err
	}
	s := &Subscriber{serviceID: serviceID, handlers: make(map[string]func(Envelope))}
	s.c = newConn(ws, s.dispatch, nil)
	return s, nil
}

func (s *Subscriber) dispatch(env Envelope) {
	s.mu.RLock()
	h, ok := s.handlers[env.MessageType]
	s.mu.RUnlock()
	if ok {
		h(env)
	}
}

// Subscribe registers callback for messageType. Subscriptions must be
// registered before the connection-probe handshake completes (spec.md
// §4.1).
func (s *Subscriber) Subscribe(messageType string, callback func(Envelope)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[messageType] = callback
}

// SubscribeAll registers many handlers at once.
func (s *Subscriber) SubscribeAll(handlers map[string]func(Envelope)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range handlers {
		s.handlers[k] = v
	}
}

func (s *Subscriber) Close() { s.c.Close() }

// Pusher sends messages onto a ModeRoundRobin broker's frontend, retrying a
// bounded number of times on transient backpressure before giving up.
type Pusher struct {
	serviceID string
	c         *conn
	retries   int
	delay     time.Duration
}

// NewPusher dials addr (a push/pull proxy's frontend).
func NewPusher(addr, serviceID string, retries int, delay time.Duration) (*Pusher, error) {
	ws, err := dial(addr)
	if err != nil {
		return nil, err
	}
	if retries <= 0 {
		retries = 2
	}
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	return &Pusher{serviceID: serviceID, c: newConn(ws, nil, nil), retries: retries, delay: delay}, nil
}

// Push sends payload, retrying PUSH_MAX_RETRIES times on transient
// backpressure before raising a CommunicationError (spec.md §4.1).
func (p *Pusher) Push(messageType string, payload any) error {
	env, err := New(messageType, p.serviceID, payload)
	if err != nil {
		return err
	}
	var lastErr error
	for attempt := 0; attempt <= p.retries; attempt++ {
		if err := p.c.Write(env); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if attempt < p.retries {
			time.Sleep(p.delay)
		}
	}
	return fmt.Errorf("bus: push exhausted %d retries: %w", p.retries, lastErr)
}

func (p *Pusher) Close() { p.c.Close() }

// Puller receives messages from a ModeRoundRobin broker's backend,
// dispatching each registered callback concurrently up to
// maxPullConcurrency in flight at once.
type Puller struct {
	serviceID string
	c         *conn
	sem       chan struct{}

	mu       sync.RWMutex
	handlers map[string]func(Envelope)
}

// NewPuller dials addr (a push/pull proxy's backend) with the given bound
// on concurrently-dispatched callbacks (default 100000, spec.md §4.1).
func NewPuller(addr, serviceID string, maxPullConcurrency int) (*Puller, error) {
	ws, err := dial(addr)
	if err != nil {
		return nil, err
	}
	if maxPullConcurrency <= 0 {
		maxPullConcurrency = 100_000
	}
	p := &Puller{
		serviceID: serviceID,
		sem:       make(chan struct{}, maxPullConcurrency),
		handlers:  make(map[string]func(Envelope)),
	}
	p.c = newConn(ws, p.dispatch, nil)
	return p, nil
}

func (p *Puller) dispatch(env Envelope) {
	p.mu.RLock()
	h, ok := p.handlers[env.MessageType]
	p.mu.RUnlock()
	if !ok {
		return
	}
	select {
	case p.sem <- struct{}{}:
	default:
		// At the concurrency bound: run inline rather than dropping the
		// record, since pull callbacks are expected to be fast and the
		// bound exists to cap goroutine fan-out, not to shed load.
		h(env)
		return
	}
	go func() {
		defer func() { <-p.sem }()
		h(env)
	}()
}

// RegisterPullCallback registers callback for messageType.
func (p *Puller) RegisterPullCallback(messageType string, callback func(Envelope)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[messageType] = callback
}

func (p *Puller) Close() { p.c.Close() }

// Requester issues req/rep calls against a ModeRouteByRequestID broker's
// frontend and awaits the correlated reply.
type Requester struct {
	serviceID string
	c         *conn

	mu      sync.Mutex
	pending map[string]chan Envelope
}

// NewRequester dials addr (a req/rep proxy's frontend).
func NewRequester(addr, serviceID string) (*Requester, error) {
	ws, err := dial(addr)
	if err != nil {
		return nil, err
	}
	r := &Requester{serviceID: serviceID, pending: make(map[string]chan Envelope)}
	r.c = newConn(ws, r.onReply, nil)
	return r, nil
}

func (r *Requester) onReply(env Envelope) {
	r.mu.Lock()
	ch, ok := r.pending[env.RequestID]
	if ok {
		delete(r.pending, env.RequestID)
	}
	r.mu.Unlock()
	if ok {
		ch <- env
	}
}

// Request sends payload and blocks until the correlated reply arrives or
// timeout elapses.
func (r *Requester) Request(messageType string, payload any, timeout time.Duration) (Envelope, error) {
	env, err := New(messageType, r.serviceID, payload)
	if err != nil {
		return Envelope{}, err
	}
	env.RequestID = uuid.NewString()

	ch := make(chan Envelope, 1)
	r.mu.Lock()
	r.pending[env.RequestID] = ch
	r.mu.Unlock()

	if err := r.c.WriteBlocking(env, timeout); err != nil {
		r.mu.Lock()
		delete(r.pending, env.RequestID)
		r.mu.Unlock()
		return Envelope{}, err
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case reply := <-ch:
		return reply, nil
	case <-t.C:
		r.mu.Lock()
		delete(r.pending, env.RequestID)
		r.mu.Unlock()
		return Envelope{}, fmt.Errorf("bus: request %s timed out after %v", messageType, timeout)
	}
}

// RequestAsync fires the request and invokes callback when the reply
// lands, without blocking the caller.
func (r *Requester) RequestAsync(messageType string, payload any, timeout time.Duration, callback func(Envelope, error)) {
	go func() {
		env, err := r.Request(messageType, payload, timeout)
		callback(env, err)
	}()
}

func (r *Requester) Close() { r.c.Close() }

// RequestHandler answers one request type with a reply payload.
type RequestHandler func(Envelope) (any, error)

// Replier answers req/rep calls on a ModeRouteByRequestID broker's backend.
type Replier struct {
	serviceID string
	c         *conn

	mu       sync.RWMutex
	handlers map[string]RequestHandler
}

// NewReplier dials addr (a req/rep proxy's backend).
func NewReplier(addr, serviceID string) (*Replier, error) {
	ws, err := dial(addr)
	if err != nil {
		return nil, err
	}
	rep := &Replier{serviceID: serviceID, handlers: make(map[string]RequestHandler)}
	rep.c = newConn(ws, rep.onRequest, nil)
	return rep, nil
}

// RegisterRequestHandler registers a handler for the given message type.
func (rep *Replier) RegisterRequestHandler(messageType string, handler RequestHandler) {
	rep.mu.Lock()
	defer rep.mu.Unlock()
	rep.handlers[messageType] = handler
}

func (rep *Replier) onRequest(env Envelope) {
	rep.mu.RLock()
	h, ok := rep.handlers[env.MessageType]
	rep.mu.RUnlock()

	replyType := env.MessageType + "_RESPONSE"
	var reply Envelope
	var err error
	if !ok {
		reply, err = New("ERROR", rep.serviceID, map[string]string{
			"error": fmt.Sprintf("no handler registered for %s", env.MessageType),
		})
	} else {
		result, herr := h(env)
		if herr != nil {
			reply, err = New("ERROR", rep.serviceID, map[string]string{"error": herr.Error()})
		} else {
			reply, err = New(replyType, rep.serviceID, result)
		}
	}
	if err != nil {
		return
	}
	reply.RequestID = env.RequestID
	rep.c.Write(reply)
}

func (rep *Replier) Close() { rep.c.Close() }
