// Package pool implements a bounded, non-blocking TCP connection pool.
//
// The server never runs anything on its own: the embedder is the
// scheduler and drives all progress by polling HasPendingConnection,
// claiming handles with TakePending and fanning payloads out with
// Broadcast. Every operation completes immediately. The pool is not
// safe for concurrent use; a multi-threaded embedder must serialize
// access behind its own lock or confine the pool to one goroutine.
package pool

import (
	"net/netip"

	E "github.com/nodegate/nodegate/common/exceptions"
	"github.com/nodegate/nodegate/common/log"
	"github.com/nodegate/nodegate/common/x/list"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const DefaultBacklog = 10

// Server owns the listening socket together with every connection it
// has accepted. Accepted handles live in the active set until evicted;
// handles not yet claimed by the embedder additionally sit in the
// pending queue. Capacity bounds the number of tracked handles, and
// the pending queue is always a subset of the active set.
type Server struct {
	capacity int
	backlog  int
	logger   *logrus.Entry
	listenFd int
	active   list.List[*Handle]
	pending  list.List[*Handle]
}

type Option func(*Server)

func WithBacklog(backlog int) Option {
	return func(s *Server) {
		s.backlog = backlog
	}
}

func WithLogger(logger *logrus.Entry) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

func New(capacity int, options ...Option) *Server {
	s := &Server{
		capacity: capacity,
		backlog:  DefaultBacklog,
		logger:   log.NewLogger("pool"),
		listenFd: -1,
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Start binds the listening socket and puts it in non-blocking mode.
// An invalid bind address means the wildcard. Any failure is final:
// it is logged, returned, and the server stays non-functional.
func (s *Server) Start(bind netip.AddrPort) error {
	addr := bind.Addr()
	if !addr.IsValid() {
		addr = netip.IPv4Unspecified()
	}
	bind = netip.AddrPortFrom(addr, bind.Port())
	family := unix.AF_INET
	if addr.Is6() && !addr.Is4In6() {
		family = unix.AF_INET6
	}
	fd, err := sysSocket(family)
	if err != nil {
		return s.fatal(E.Cause(err, "create listener socket"))
	}
	err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	if err != nil {
		unix.Close(fd)
		return s.fatal(E.Cause(err, "set SO_REUSEADDR"))
	}
	err = unix.Bind(fd, sockaddrFromAddrPort(bind))
	if err != nil {
		unix.Close(fd)
		return s.fatal(E.Cause(err, "bind ", bind))
	}
	err = unix.Listen(fd, s.backlog)
	if err != nil {
		unix.Close(fd)
		return s.fatal(E.Cause(err, "listen"))
	}
	s.listenFd = fd
	s.logger.Info("listening on ", s.Addr())
	return nil
}

func (s *Server) fatal(err error) error {
	s.logger.Error(err)
	return err
}

// Addr returns the bound listen address, or the zero AddrPort if the
// server never started.
func (s *Server) Addr() netip.AddrPort {
	if s.listenFd < 0 {
		return netip.AddrPort{}
	}
	sa, err := unix.Getsockname(s.listenFd)
	if err != nil {
		return netip.AddrPort{}
	}
	return addrPortFromSockaddr(sa)
}

// HasPendingConnection performs exactly one accept attempt and then
// reports whether any accepted connection awaits a TakePending call.
// Accepting a burst requires repeated calls.
func (s *Server) HasPendingConnection() bool {
	s.accept()
	return !s.pending.IsEmpty()
}

// TakePending pops the oldest unclaimed handle, or nil when there is
// none. The claimed handle remains in the active set and keeps
// receiving broadcasts until evicted.
func (s *Server) TakePending() *Handle {
	return s.pending.PopFront()
}

// Len returns the current active and pending counts.
func (s *Server) Len() (active int, pending int) {
	return s.active.Len(), s.pending.Len()
}

// accept runs one cycle: make room if the pool is full, then try a
// single non-blocking accept.
func (s *Server) accept() {
	if s.listenFd < 0 {
		return
	}
	if s.active.Len() >= s.capacity {
		if !s.reclaim() {
			s.logger.Warn("connection pool full, rejecting new connections")
			return
		}
	}
	fd, sa, err := sysAccept(s.listenFd)
	if err != nil {
		if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
			s.logger.Warn(E.Cause(err, "accept"))
		}
		return
	}
	handle := &Handle{fd: fd, remote: addrPortFromSockaddr(sa)}
	s.pending.PushBack(handle)
	s.active.PushBack(handle)
	s.logger.Info("new connection from ", handle.remote)
}

// reclaim frees one slot by dropping a dead connection. The active set
// is scanned first, then the pending queue, which can still find a
// victim when a peer dies between the two passes. Either way the
// eviction goes through the active set: capacity bounds active
// membership, so removing from pending alone would free no slot and
// the following accept would overshoot the bound.
func (s *Server) reclaim() bool {
	for element := s.active.Front(); element != nil; element = element.Next() {
		if element.Value.dead() {
			s.evict(element)
			return true
		}
	}
	for element := s.pending.Front(); element != nil; element = element.Next() {
		if element.Value.dead() && s.evictTracked(element.Value) {
			return true
		}
	}
	return false
}

// evictTracked evicts handle through its active-set element, closing
// the descriptor and freeing a capacity slot.
func (s *Server) evictTracked(handle *Handle) bool {
	for element := s.active.Front(); element != nil; element = element.Next() {
		if element.Value == handle {
			s.evict(element)
			return true
		}
	}
	return false
}

// evict closes the handle and forgets it entirely. An unclaimed handle
// also leaves the pending queue, so TakePending never hands out a
// descriptor that was already torn down.
func (s *Server) evict(element *list.Element[*Handle]) {
	handle := s.active.Remove(element)
	for pendingElement := s.pending.Front(); pendingElement != nil; pendingElement = pendingElement.Next() {
		if pendingElement.Value == handle {
			s.pending.Remove(pendingElement)
			break
		}
	}
	handle.Close()
	s.logger.Info("client disconnected: ", handle.remote)
}

// Broadcast writes payload to every connected client and returns the
// total byte count the kernel accepted. Partial writes are not retried
// within one call. Dead connections found along the way are evicted; a
// half-closed peer with unread input is kept but skipped.
func (s *Server) Broadcast(payload []byte) int {
	var total int
	for element := s.active.Front(); element != nil; {
		next := element.Next()
		handle := element.Value
		connected, hasInput := handle.probe()
		switch {
		case connected:
			n, _ := handle.Write(payload)
			total += n
		case hasInput:
			// peer half-closed with input still queued, keep until drained
		default:
			s.evict(element)
		}
		element = next
	}
	return total
}

// Close tears down the listener and every tracked connection. Safe to
// call on a nil or never-started server.
func (s *Server) Close() error {
	if s == nil {
		return nil
	}
	for element := s.active.Front(); element != nil; element = element.Next() {
		element.Value.Close()
	}
	s.active.Init()
	s.pending.Init()
	if s.listenFd < 0 {
		return nil
	}
	err := unix.Close(s.listenFd)
	s.listenFd = -1
	return err
}

func sockaddrFromAddrPort(destination netip.AddrPort) unix.Sockaddr {
	if destination.Addr().Is4() || destination.Addr().Is4In6() {
		return &unix.SockaddrInet4{Port: int(destination.Port()), Addr: destination.Addr().As4()}
	}
	return &unix.SockaddrInet6{Port: int(destination.Port()), Addr: destination.Addr().As16()}
}

func addrPortFromSockaddr(sa unix.Sockaddr) netip.AddrPort {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(sa.Addr), uint16(sa.Port))
	}
	return netip.AddrPort{}
}
