//go:build linux

package worker

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// tuneConn sets TCP_NODELAY, SO_KEEPALIVE with a 60s idle / 30s interval /
// 1-probe keepalive, TCP_QUICKACK, a 30s TCP_USER_TIMEOUT, and 10 MiB
// receive/send buffers via a raw socket control, stopping at the first
// option the kernel rejects; the Linux-specific path (build with the default tags;
// see transport_other.go for every other GOOS). This is the generalization
// of the teacher's own onnx/!onnx build-tag split (pkg/worker/executor_*.go)
// applied to platform rather than hardware-accelerator selection.
func tuneConn(c net.Conn) error {
	tc, ok := c.(*net.TCPConn)
	if !ok {
		return nil
	}
	raw, err := tc.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		for _, o := range [...]struct{ level, name, value int }{
			{unix.IPPROTO_TCP, unix.TCP_NODELAY, 1},
			{unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1},
			{unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, 60},
			{unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, 30},
			{unix.IPPROTO_TCP, unix.TCP_KEEPCNT, 1},
			{unix.IPPROTO_TCP, unix.TCP_QUICKACK, 1},
			{unix.IPPROTO_TCP, unix.TCP_USER_TIMEOUT, 30_000},
			{unix.SOL_SOCKET, unix.SO_RCVBUF, 10 << 20},
			{unix.SOL_SOCKET, unix.SO_SNDBUF, 10 << 20},
		} {
			if sockErr = unix.SetsockoptInt(int(fd), o.level, o.name, o.value); sockErr != nil {
				return
			}
		}
	})
	if err != nil {
		return err
	}
	if sockErr == syscall.ENOTSOCK {
		return nil
	}
	return sockErr
}
