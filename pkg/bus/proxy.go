package bus

import (
	"net/http"
	"sync"
)

// Mode selects how a Broker routes frames from its frontend connections to
// its backend connections (and, for RouteByRequestID, back again).
type Mode int

const (
	// ModeFanout broadcasts every frontend frame to every backend
	// connection. Used by the event-bus proxy (XSUB/XPUB equivalent):
	// every service's Publisher connects as a frontend, every Subscriber
	// as a backend.
	ModeFanout Mode = iota
	// ModeRouteByRequestID sends frontend frames to the (usually single)
	// backend connection, remembering which frontend connection sent
	// each RequestID so the matching reply is routed back to exactly
	// that frontend. Used by the dataset-manager proxy (Router/Dealer
	// equivalent).
	ModeRouteByRequestID
	// ModeRoundRobin sends each frontend frame to the next backend
	// connection in rotation. Used by the raw-inference proxy (Pull/Push
	// equivalent): workers push, parsers pull.
	ModeRoundRobin
)

// Broker is a proxy pump with two websocket-upgrade endpoints. It runs as a
// goroutine pair inside the controller process (spec.md: "separate
// OS-thread... each owning two bound sockets").
type Broker struct {
	Name string
	Mode Mode

	mu        sync.Mutex
	frontends map[*conn]bool
	backends  []*conn
	routes    map[string]*conn // RequestID -> originating frontend conn

	rrNext int
}

// NewBroker constructs a Broker of the given mode.
func NewBroker(name string, mode Mode) *Broker {
	return &Broker{
		Name:      name,
		Mode:      mode,
		frontends: make(map[*conn]bool),
		routes:    make(map[string]*conn),
	}
}

// RegisterHTTP installs the /frontend and /backend websocket-upgrade
// handlers under the given path prefix (e.g. "/eventbus").
func (b *Broker) RegisterHTTP(mux *http.ServeMux, prefix string) {
	mux.HandleFunc(prefix+"/frontend", b.handleFrontend)
	mux.HandleFunc(prefix+"/backend", b.handleBackend)
}

func (b *Broker) handleFrontend(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	var c *conn
	c = newConn(ws, func(env Envelope) { b.onFrontendRecv(c, env) }, func(error) { b.removeFrontend(c) })
	b.mu.Lock()
	b.frontends[c] = true
	b.mu.Unlock()
}

func (b *Broker) handleBackend(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	var c *conn
	c = newConn(ws, func(env Envelope) { b.onBackendRecv(c, env) }, func(error) { b.removeBackend(c) })
	b.mu.Lock()
	b.backends = append(b.backends, c)
	b.mu.Unlock()
}

func (b *Broker) removeFrontend(c *conn) {
	b.mu.Lock()
	delete(b.frontends, c)
	for id, fc := range b.routes {
		if fc == c {
			delete(b.routes, id)
		}
	}
	b.mu.Unlock()
}

func (b *Broker) removeBackend(c *conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, bc := range b.backends {
		if bc == c {
			b.backends = append(b.backends[:i], b.backends[i+1:]...)
			break
		}
	}
}

func (b *Broker) onFrontendRecv(from *conn, env Envelope) {
	switch b.Mode {
	case ModeFanout:
		b.mu.Lock()
		targets := append([]*conn(nil), b.backends...)
		b.mu.Unlock()
		for _, bc := range targets {
			bc.Write(env)
		}
	case ModeRouteByRequestID:
		b.mu.Lock()
		if env.RequestID != "" {
			b.routes[env.RequestID] = from
		}
		targets := append([]*conn(nil), b.backends...)
		b.mu.Unlock()
		for _, bc := range targets {
			bc.Write(env)
		}
	case ModeRoundRobin:
		target := b.nextBackend()
		if target != nil {
			target.Write(env)
		}
	}
}

func (b *Broker) onBackendRecv(from *conn, env Envelope) {
	// Only ModeRouteByRequestID has a meaningful reverse path: a reply
	// routed back to whichever frontend sent the matching request.
	if b.Mode != ModeRouteByRequestID {
		return
	}
	b.mu.Lock()
	target, ok := b.routes[env.RequestID]
	if ok {
		delete(b.routes, env.RequestID)
	}
	b.mu.Unlock()
	if ok {
		target.Write(env)
	}
}

func (b *Broker) nextBackend() *conn {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.backends)
	if n == 0 {
		return nil
	}
	c := b.backends[b.rrNext%n]
	b.rrNext++
	return c
}

// FrontendCount reports the number of currently connected frontend clients.
func (b *Broker) FrontendCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frontends)
}

// BackendCount reports the number of currently connected backend clients.
func (b *Broker) BackendCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.backends)
}
