package pool

import (
	"io"
	"net"
	"net/netip"
	"sync/atomic"

	E "github.com/nodegate/nodegate/common/exceptions"

	"golang.org/x/sys/unix"
)

// ErrWouldBlock is returned by Read and Write when the operation cannot
// complete immediately. Nothing at this layer ever suspends.
var ErrWouldBlock = E.New("operation would block")

// Handle wraps the socket descriptor of one accepted connection. Both
// liveness properties are re-queried from the kernel on every call, never
// cached, so a Handle held across poll cycles always reflects the current
// peer state.
type Handle struct {
	fd     int
	remote netip.AddrPort
	closed atomic.Bool
}

func (h *Handle) RemoteAddr() netip.AddrPort {
	return h.remote
}

// Connected reports whether the peer still holds its side of the
// connection open.
func (h *Handle) Connected() bool {
	connected, _ := h.probe()
	return connected
}

// Available returns the number of unread bytes queued on the connection.
func (h *Handle) Available() int {
	if h.closed.Load() {
		return 0
	}
	queued, err := unix.IoctlGetInt(h.fd, unix.TIOCINQ)
	if err != nil {
		return 0
	}
	return queued
}

func (h *Handle) Read(p []byte) (int, error) {
	if h.closed.Load() {
		return 0, net.ErrClosed
	}
	n, err := unix.Read(h.fd, p)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, ErrWouldBlock
		}
		return 0, err
	}
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (h *Handle) Write(p []byte) (int, error) {
	if h.closed.Load() {
		return 0, net.ErrClosed
	}
	n, err := unix.Write(h.fd, p)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, ErrWouldBlock
		}
		return 0, err
	}
	return n, nil
}

// Close releases the descriptor. The first call closes it, every later
// call is a no-op, so an evicted handle still held by the embedder can
// be closed again safely.
func (h *Handle) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	return unix.Close(h.fd)
}

// probe reads both liveness properties at one consistent instant.
// A closed handle is unconditionally dead, which also keeps the probe
// away from descriptor numbers the kernel may have reused.
func (h *Handle) probe() (connected bool, hasInput bool) {
	if h.closed.Load() {
		return false, false
	}
	return peerState(h.fd)
}

// dead reports the reclamation criterion: disconnected with nothing
// left to read.
func (h *Handle) dead() bool {
	connected, hasInput := h.probe()
	return !connected && !hasInput
}

var _ io.ReadWriteCloser = (*Handle)(nil)
