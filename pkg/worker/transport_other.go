//go:build !linux

package worker

import "net"

// tuneConn is a no-op outside Linux: the socket-option tuning
// in transport.go relies on golang.org/x/sys/unix socket option numbers
// that don't carry over to other kernels, and correctness here never
// depends on the tuning, only latency-measurement tightness.
func tuneConn(c net.Conn) error {
	return nil
}
