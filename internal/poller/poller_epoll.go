// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

//go:build linux
// +build linux

package poller

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"trpc.group/trpc-go/tpoll/internal/poller/event"
	"trpc.group/trpc-go/tpoll/log"
	"trpc.group/trpc-go/tpoll/metrics"
)

const (
	rflags = unix.EPOLLIN | unix.EPOLLPRI | unix.EPOLLHUP | unix.EPOLLERR
	wflags = unix.EPOLLOUT | unix.EPOLLHUP | unix.EPOLLERR
)

// Make the endianness of bytes compatible with more linux OSs under different
// processor-architectures, according to http://man7.org/linux/man-pages/man2/eventfd.2.html.
var (
	u uint64 = 1
	b        = (*(*[8]byte)(unsafe.Pointer(&u)))[:]
)

// Poller is the epoll backend. It owns the epoll instance and an
// eventfd wakeup source registered under ReservedKey.
type Poller struct {
	fd       int    // epoll instance
	eventFD  int    // wakeup source
	buf      []byte // eventFD drain buffer
	notified int32
}

// New creates the epoll instance and its wakeup source.
func New() (*Poller, error) {
	// Provide EPOLL_CLOEXEC flag for consistency with Go runtime.
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	// Provide EFD_CLOEXEC flag for consistency with Go runtime.
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("eventfd", err)
	}
	p := &Poller{
		fd:      fd,
		eventFD: efd,
		buf:     make([]byte, 8),
	}
	evt := &event.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLONESHOT}
	setKey(evt, ReservedKey)
	if err := epollCtl(fd, unix.EPOLL_CTL_ADD, efd, evt); err != nil {
		unix.Close(efd)
		unix.Close(fd)
		return nil, os.NewSyscallError("epoll_ctl add", err)
	}
	return p, nil
}

// Insert enrolls fd with empty oneshot interest. The handle delivers
// nothing until Interest arms it.
func (p *Poller) Insert(fd uintptr) (err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, fmt.Sprintf("insert fd %d", fd))
		}
	}()
	evt := &event.EpollEvent{Events: unix.EPOLLONESHOT}
	if err := epollCtl(p.fd, unix.EPOLL_CTL_ADD, int(fd), evt); err != nil {
		return os.NewSyscallError("epoll_ctl add", err)
	}
	metrics.Add(metrics.Inserts, 1)
	return nil
}

// Interest re-arms fd to deliver at most one event matching ev.
func (p *Poller) Interest(fd uintptr, ev Event) (err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, fmt.Sprintf("interest fd %d", fd))
		}
	}()
	evt := &event.EpollEvent{Events: unix.EPOLLONESHOT}
	if ev.Readable {
		evt.Events |= unix.EPOLLIN
	}
	if ev.Writable {
		evt.Events |= unix.EPOLLOUT
	}
	setKey(evt, ev.Key)
	if err := epollCtl(p.fd, unix.EPOLL_CTL_MOD, int(fd), evt); err != nil {
		return os.NewSyscallError("epoll_ctl mod", err)
	}
	metrics.Add(metrics.Interests, 1)
	return nil
}

// Remove unregisters fd.
func (p *Poller) Remove(fd uintptr) (err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, fmt.Sprintf("remove fd %d", fd))
		}
	}()
	if err := epollCtl(p.fd, unix.EPOLL_CTL_DEL, int(fd), nil); err != nil {
		return os.NewSyscallError("epoll_ctl del", err)
	}
	metrics.Add(metrics.Removes, 1)
	return nil
}

// Wait blocks up to timeout for at least one event and fills events
// with the translated batch. The returned count is the raw kernel one;
// it may include the internal wakeup record.
func (p *Poller) Wait(events *Events, timeout time.Duration) (int, error) {
	// The wakeup interest is oneshot like every other; re-arm it
	// before entering the kernel.
	evt := &event.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLONESHOT}
	setKey(evt, ReservedKey)
	if err := epollCtl(p.fd, unix.EPOLL_CTL_MOD, p.eventFD, evt); err != nil {
		return 0, os.NewSyscallError("epoll_ctl mod", err)
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	msec := waitMsec(timeout)
	for {
		n, err := epollWait(p.fd, events.raw, msec)
		if err == unix.EINTR {
			// Interrupted by a signal; resume against the original deadline.
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
			return 0, os.NewSyscallError("epoll_pwait", err)
		}
		p.translate(events, n)
		return n, nil
	}
}

func (p *Poller) translate(events *Events, n int) {
	events.list = events.list[:0]
	for i := 0; i < n; i++ {
		evt := &events.raw[i]
		key := getKey(evt)
		if key == ReservedKey {
			p.drain()
			events.list = append(events.list, Event{Key: ReservedKey, Readable: true})
			metrics.Add(metrics.PollWakeups, 1)
			continue
		}
		events.list = append(events.list, Event{
			Key:      key,
			Readable: evt.Events&rflags != 0,
			Writable: evt.Events&wflags != 0,
		})
	}
}

func (p *Poller) drain() {
	if _, err := unix.Read(p.eventFD, p.buf); err != nil && err != unix.EAGAIN {
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
	for {
		if _, err := unix.Write(p.eventFD, b); err != unix.EINTR && err != unix.EAGAIN {
			return os.NewSyscallError("write", err)
		}
	}
}

// Close releases the wakeup source, then the epoll instance. The
// kernel drops all remaining registrations with the instance.
func (p *Poller) Close() error {
	if err := os.NewSyscallError("close", unix.Close(p.eventFD)); err != nil {
		return err
	}
	return os.NewSyscallError("close", unix.Close(p.fd))
}

// String implements fmt.Stringer.
func (p *Poller) String() string {
	return fmt.Sprintf("epoll(fd: %d, wakeup: %d)", p.fd, p.eventFD)
}

// Events is the scratch buffer a Wait batch lands in: the raw kernel
// records plus the translated portable list.
type Events struct {
	raw  []event.EpollEvent
	list []Event
}

// NewEvents creates an Events buffer holding up to capacity records
// per Wait batch.
func NewEvents(capacity int) *Events {
	return &Events{
		raw:  make([]event.EpollEvent, capacity),
		list: make([]Event, 0, capacity),
	}
}

// List returns the events translated from the latest Wait batch. The
// slice is valid until the next Wait on the same buffer.
func (e *Events) List() []Event {
	return e.list
}

func setKey(evt *event.EpollEvent, key uint64) {
	*(*uint64)(unsafe.Pointer(&evt.Data)) = key
}

func getKey(evt *event.EpollEvent) uint64 {
	return *(*uint64)(unsafe.Pointer(&evt.Data))
}

func epollWait(epfd int, events []event.EpollEvent, msec int) (int, error) {
	var r0 uintptr
	var err unix.Errno
	_p0 := unsafe.Pointer(&events[0])
	if msec == 0 {
		r0, _, err = unix.RawSyscall6(unix.SYS_EPOLL_PWAIT,
			uintptr(epfd), uintptr(_p0), uintptr(len(events)), 0, 0, 0)
		metrics.Add(metrics.PollNoWait, 1)
	} else {
		r0, _, err = unix.Syscall6(unix.SYS_EPOLL_PWAIT,
			uintptr(epfd), uintptr(_p0), uintptr(len(events)), uintptr(msec), 0, 0)
	}
	metrics.Add(metrics.PollWait, 1)
	metrics.Add(metrics.PollEvents, uint64(r0))
	if err != 0 {
		return int(r0), err
	}
	return int(r0), nil
}

func epollCtl(epfd int, op int, fd int, event *event.EpollEvent) error {
	_, _, err := unix.RawSyscall6(
		unix.SYS_EPOLL_CTL,
		uintptr(epfd),
		uintptr(op),
		uintptr(fd),
		uintptr(unsafe.Pointer(event)),
		0, 0)
	if err != 0 {
		return err
	}
	return nil
}
