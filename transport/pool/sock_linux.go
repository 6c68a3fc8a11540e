//go:build linux

package pool

import (
	"golang.org/x/sys/unix"
)

func sysSocket(family int) (int, error) {
	return unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
}

func sysAccept(listenFd int) (int, unix.Sockaddr, error) {
	return unix.Accept4(listenFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
}

// peerState probes one descriptor without blocking. POLLRDHUP lets a
// half-closed peer with unread input be told apart from a live one.
func peerState(fd int) (connected bool, hasInput bool) {
	pollFds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN | unix.POLLRDHUP}}
	n, err := unix.Poll(pollFds, 0)
	if err != nil {
		return err != unix.EBADF && err != unix.EINVAL, false
	}
	if n == 0 {
		return true, false
	}
	revents := pollFds[0].Revents
	if revents&unix.POLLNVAL != 0 {
		return false, false
	}
	queued, _ := unix.IoctlGetInt(fd, unix.TIOCINQ)
	connected = revents&(unix.POLLRDHUP|unix.POLLHUP|unix.POLLERR) == 0
	return connected, queued > 0
}
