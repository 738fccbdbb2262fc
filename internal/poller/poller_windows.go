// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

//go:build windows
// +build windows

package poller

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"

	"trpc.group/trpc-go/tpoll/log"
	"trpc.group/trpc-go/tpoll/metrics"
)

const (
	pollReadFlags  = windows.POLLRDNORM | windows.POLLHUP | windows.POLLERR
	pollWriteFlags = windows.POLLWRNORM | windows.POLLHUP | windows.POLLERR
)

// interest is one registered socket's armed state. An entry with both
// directions false is enrolled but disarmed.
type interest struct {
	key      uint64
	readable bool
	writable bool
}

// Poller is the Windows backend: a user-mode rendition of the epoll
// contract over WSAPoll. Registrations are shadowed in a table because
// WSAPoll takes the full descriptor set on every call; the wakeup
// source is a connected loopback UDP socket pair whose receive side is
// always polled under ReservedKey.
type Poller struct {
	mu       sync.Mutex
	sockets  map[windows.Handle]*interest
	wakeRecv windows.Handle
	wakeSend windows.Handle
	buf      []byte
	notified int32
}

// New sets up the registration table and the wakeup socket pair.
func New() (*Poller, error) {
	var data windows.WSAData
	if err := windows.WSAStartup(uint32(0x202), &data); err != nil {
		return nil, os.NewSyscallError("wsastartup", err)
	}
	recv, send, err := wakeSocketPair()
	if err != nil {
		return nil, err
	}
	return &Poller{
		sockets:  make(map[windows.Handle]*interest),
		wakeRecv: recv,
		wakeSend: send,
		buf:      make([]byte, 8),
	}, nil
}

// wakeSocketPair builds two loopback UDP sockets connected to each
// other.
func wakeSocketPair() (recv, send windows.Handle, err error) {
	recv, recvAddr, err := boundLoopbackUDP()
	if err != nil {
		return windows.InvalidHandle, windows.InvalidHandle, err
	}
	send, sendAddr, err := boundLoopbackUDP()
	if err != nil {
		windows.Closesocket(recv)
		return windows.InvalidHandle, windows.InvalidHandle, err
	}
	if err := windows.Connect(recv, sendAddr); err != nil {
		windows.Closesocket(recv)
		windows.Closesocket(send)
		return windows.InvalidHandle, windows.InvalidHandle, os.NewSyscallError("connect", err)
	}
	if err := windows.Connect(send, recvAddr); err != nil {
		windows.Closesocket(recv)
		windows.Closesocket(send)
		return windows.InvalidHandle, windows.InvalidHandle, os.NewSyscallError("connect", err)
	}
	return recv, send, nil
}

func boundLoopbackUDP() (windows.Handle, windows.Sockaddr, error) {
	s, err := windows.Socket(windows.AF_INET, windows.SOCK_DGRAM, windows.IPPROTO_UDP)
	if err != nil {
		return windows.InvalidHandle, nil, os.NewSyscallError("socket", err)
	}
	sa := &windows.SockaddrInet4{Addr: [4]byte{127, 0, 0, 1}}
	if err := windows.Bind(s, sa); err != nil {
		windows.Closesocket(s)
		return windows.InvalidHandle, nil, os.NewSyscallError("bind", err)
	}
	bound, err := windows.Getsockname(s)
	if err != nil {
		windows.Closesocket(s)
		return windows.InvalidHandle, nil, os.NewSyscallError("getsockname", err)
	}
	return s, bound, nil
}

// Insert enrolls the socket with empty interest.
func (p *Poller) Insert(fd uintptr) (err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, fmt.Sprintf("insert socket %d", fd))
		}
	}()
	p.mu.Lock()
	defer p.mu.Unlock()
	s := windows.Handle(fd)
	if _, ok := p.sockets[s]; ok {
		return windows.ERROR_ALREADY_EXISTS
	}
	p.sockets[s] = &interest{}
	metrics.Add(metrics.Inserts, 1)
	return nil
}

// Interest re-arms the socket to deliver at most one event matching ev.
func (p *Poller) Interest(fd uintptr, ev Event) (err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, fmt.Sprintf("interest socket %d", fd))
		}
	}()
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.sockets[windows.Handle(fd)]
	if !ok {
		return windows.ERROR_NOT_FOUND
	}
	entry.key = ev.Key
	entry.readable = ev.Readable
	entry.writable = ev.Writable
	metrics.Add(metrics.Interests, 1)
	return nil
}

// Remove unregisters the socket.
func (p *Poller) Remove(fd uintptr) (err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, fmt.Sprintf("remove socket %d", fd))
		}
	}()
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.sockets[windows.Handle(fd)]; !ok {
		return windows.ERROR_NOT_FOUND
	}
	delete(p.sockets, windows.Handle(fd))
	metrics.Add(metrics.Removes, 1)
	return nil
}

// Wait blocks up to timeout for at least one event and fills events
// with the translated batch. The returned count is the raw one; it may
// include the internal wakeup record.
func (p *Poller) Wait(events *Events, timeout time.Duration) (int, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	msec := waitMsec(timeout)
	for {
		fds, armed := p.pollSet()
		metrics.Add(metrics.PollWait, 1)
		if msec == 0 {
			metrics.Add(metrics.PollNoWait, 1)
		}
		n, err := windows.WSAPoll(&fds[0], uint32(len(fds)), int32(msec))
		if err == windows.WSAEINTR {
			if timeout > 0 {
				remaining := time.Until(deadline)
				if remaining <= 0 {
					return 0, nil
				}
				msec = waitMsec(remaining)
			}
			continue
		}
		if err != nil {
			return 0, os.NewSyscallError("wsapoll", err)
		}
		metrics.Add(metrics.PollEvents, uint64(n))
		p.translate(events, fds, armed)
		return int(n), nil
	}
}

// pollSet snapshots the armed registrations into a WSAPoll descriptor
// set. The wakeup receive side is always slot zero. armed maps the
// remaining slots back to their interest entries.
func (p *Poller) pollSet() ([]windows.WSAPOLLFD, []*interest) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fds := make([]windows.WSAPOLLFD, 1, len(p.sockets)+1)
	armed := make([]*interest, 1, len(p.sockets)+1)
	fds[0] = windows.WSAPOLLFD{Fd: p.wakeRecv, Events: windows.POLLRDNORM}
	for s, entry := range p.sockets {
		if !entry.readable && !entry.writable {
			continue
		}
		var mask int16
		if entry.readable {
			mask |= windows.POLLRDNORM
		}
		if entry.writable {
			mask |= windows.POLLWRNORM
		}
		fds = append(fds, windows.WSAPOLLFD{Fd: s, Events: mask})
		armed = append(armed, entry)
	}
	return fds, armed
}

func (p *Poller) translate(events *Events, fds []windows.WSAPOLLFD, armed []*interest) {
	events.list = events.list[:0]
	if fds[0].Revents != 0 {
		p.drain()
		events.list = append(events.list, Event{Key: ReservedKey, Readable: true})
		metrics.Add(metrics.PollWakeups, 1)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 1; i < len(fds); i++ {
		revents := fds[i].Revents
		if revents == 0 {
			continue
		}
		entry := armed[i]
		events.list = append(events.list, Event{
			Key:      entry.key,
			Readable: revents&pollReadFlags != 0,
			Writable: revents&pollWriteFlags != 0,
		})
		// Delivered means disarmed until the next Interest call.
		entry.readable = false
		entry.writable = false
	}
}

// drain consumes the single pending wakeup datagram. Notify coalesces
// through the notified flag, so at most one datagram is ever in flight
// and the read cannot block here.
func (p *Poller) drain() {
	if _, _, err := windows.Recvfrom(p.wakeRecv, p.buf, 0); err != nil {
		log.Debugf("wakeup drain: %v", err)
	}
	atomic.StoreInt32(&p.notified, 0)
}

// Notify causes exactly one pending or subsequent Wait to return
// promptly. Notifications coalesce until the wakeup is observed.
func (p *Poller) Notify() error {
	metrics.Add(metrics.NotifyCalls, 1)
	if !atomic.CompareAndSwapInt32(&p.notified, 0, 1) {
		metrics.Add(metrics.NotifySuppressed, 1)
		return nil
	}
	buf := windows.WSABuf{Len: 1, Buf: &p.buf[0]}
	var sent uint32
	if err := windows.WSASend(p.wakeSend, &buf, 1, &sent, 0, nil, nil); err != nil {
		return os.NewSyscallError("wsasend", err)
	}
	return nil
}

// Close releases the wakeup socket pair. Registrations are only
// shadowed; the sockets stay owned by the caller.
func (p *Poller) Close() error {
	if err := os.NewSyscallError("closesocket", windows.Closesocket(p.wakeSend)); err != nil {
		return err
	}
	return os.NewSyscallError("closesocket", windows.Closesocket(p.wakeRecv))
}

// String implements fmt.Stringer.
func (p *Poller) String() string {
	return fmt.Sprintf("wsapoll(wakeup: %d)", p.wakeRecv)
}

// Events is the scratch buffer a Wait batch lands in. WSAPoll reports
// through the descriptor set itself, so only the translated portable
// list is kept.
type Events struct {
	list []Event
}

// NewEvents creates an Events buffer whose list starts with room for
// capacity events. A Wait batch is not limited to it: every ready
// socket is delivered.
func NewEvents(capacity int) *Events {
	return &Events{list: make([]Event, 0, capacity)}
}

// List returns the events translated from the latest Wait batch. The
// slice is valid until the next Wait on the same buffer.
func (e *Events) List() []Event {
	return e.list
}
