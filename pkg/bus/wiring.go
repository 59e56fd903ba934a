package bus

import "net/http"

// Buses groups the five proxy brokers one controller process hosts: the
// event-bus command/telemetry fanout, the dataset-manager request-routed
// pair, and the three round-robin fan-in pairs (credit drop, raw inference,
// parsed response). Mounting all five on one *http.ServeMux, each under its
// own path prefix, means every AIPerf process only needs one listen address
// to reach any of them (spec.md §6 names five logical buses; how many OS
// listeners serve them is an implementation choice).
type Buses struct {
	EventBus *Broker
	Dataset  *Broker
	Credit   *Broker
	RawInfer *Broker
	Parsed   *Broker
}

// NewBuses constructs the five brokers in their fixed modes.
func NewBuses() *Buses {
	return &Buses{
		EventBus: NewBroker("eventbus", ModeFanout),
		Dataset:  NewBroker("dataset", ModeRouteByRequestID),
		Credit:   NewBroker("credit", ModeRoundRobin),
		RawInfer: NewBroker("rawinfer", ModeRoundRobin),
		Parsed:   NewBroker("parsed", ModeRoundRobin),
	}
}

// RegisterHTTP mounts every broker's /frontend and /backend handlers under
// its own prefix on mux, matching the "host:port/<prefix>/frontend" address
// shape config.ServiceConfig hands out.
func (b *Buses) RegisterHTTP(mux *http.ServeMux) {
	b.EventBus.RegisterHTTP(mux, "/eventbus")
	b.Dataset.RegisterHTTP(mux, "/dataset")
	b.Credit.RegisterHTTP(mux, "/credit")
	b.RawInfer.RegisterHTTP(mux, "/rawinfer")
	b.Parsed.RegisterHTTP(mux, "/parsed")
}
