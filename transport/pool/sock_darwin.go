//go:build darwin

package pool

import (
	"golang.org/x/sys/unix"
)

// TCP state value from xnu netinet/tcp_fsm.h.
const tcpsEstablished = 4

// peerState probes one descriptor without blocking. Darwin has no
// POLLRDHUP, so a peer FIN sitting behind queued input is detected
// through the kernel's TCP state instead.
func peerState(fd int) (connected bool, hasInput bool) {
	pollFds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(pollFds, 0)
	if err != nil {
		return err != unix.EBADF && err != unix.EINVAL, false
	}
	queued, _ := unix.IoctlGetInt(fd, unix.FIONREAD)
	if n > 0 {
		revents := pollFds[0].Revents
		if revents&unix.POLLNVAL != 0 {
			return false, false
		}
		if revents&(unix.POLLHUP|unix.POLLERR) != 0 {
			return false, queued > 0
		}
	}
	info, err := unix.GetsockoptTCPConnectionInfo(fd, unix.IPPROTO_TCP, unix.TCP_CONNECTION_INFO)
	if err != nil {
		// readiness only: POLLIN with an empty receive queue is EOF
		return !(n > 0 && queued == 0), queued > 0
	}
	return info.State == tcpsEstablished, queued > 0
}
