//go:build unix && !linux && !darwin

package pool

import (
	"golang.org/x/sys/unix"
)

// peerState probes one descriptor without blocking. Without POLLRDHUP
// or a TCP state query, a half-closed peer with unread input is
// indistinguishable from a live one here, so it stays writable until
// its queue drains.
func peerState(fd int) (connected bool, hasInput bool) {
	pollFds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(pollFds, 0)
	if err != nil {
		return err != unix.EBADF && err != unix.EINVAL, false
	}
	if n == 0 {
		return true, false
	}
	revents := pollFds[0].Revents
	queued, _ := unix.IoctlGetInt(fd, unix.FIONREAD)
	if revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
		return false, queued > 0
	}
	// POLLIN with an empty receive queue is EOF
	return queued > 0, queued > 0
}
