package bus

import (
	"fmt"
	"sync/atomic"
	"time"
)

// ProbeMessage is the MessageType used by the connection-probe handshake
// (spec.md §4.1).
const ProbeMessage = "CONNECTION_PROBE"

// Probe performs the connection-probe handshake: publish a probe addressed
// to self on every interval until it's observed arriving back through sub,
// or fail after timeout. Callers must register all real subscriptions on
// sub before calling Probe, per spec.md §4.1 ("subscriptions registered
// before the initial connection probe").
func Probe(pub *Publisher, sub *Subscriber, serviceID string, interval, timeout time.Duration) error {
	var seen atomic.Bool
	topic := ProbeMessage + "." + serviceID
	sub.Subscribe(topic, func(Envelope) { seen.Store(true) })

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := pub.Publish(topic, map[string]string{"service_id": serviceID}); err != nil {
		return err
	}
	for {
		if seen.Load() {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("bus: connection probe for %s timed out after %v", serviceID, timeout)
		}
		<-ticker.C
		pub.Publish(topic, map[string]string{"service_id": serviceID})
	}
}
