package upstream

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
)

// isTransientNetwork reports whether err belongs to the transient network
// class: timeouts, DNS failures, refused or reset connections, and torn
// sockets. These are treated as proxy-induced and eligible for rotation.
// Caller cancellation is deliberately excluded.
func isTransientNetwork(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	// Any remaining socket-level op error counts as a connection problem.
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
