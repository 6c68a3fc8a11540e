//go:build unix && !linux

package pool

import (
	"golang.org/x/sys/unix"
)

func sysSocket(family int) (int, error) {
	fd, err := unix.Socket(family, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, err
	}
	if err = unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, err
	}
	unix.CloseOnExec(fd)
	return fd, nil
}

func sysAccept(listenFd int) (int, unix.Sockaddr, error) {
	fd, sa, err := unix.Accept(listenFd)
	if err != nil {
		return -1, nil, err
	}
	if err = unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, nil, err
	}
	unix.CloseOnExec(fd)
	return fd, sa, nil
}
