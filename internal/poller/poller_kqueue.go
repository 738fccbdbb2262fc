// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

//go:build freebsd || dragonfly || darwin
// +build freebsd dragonfly darwin

package poller

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"trpc.group/trpc-go/tpoll/metrics"
)

// Poller is the kqueue backend. The wakeup source is an EVFILT_USER
// filter registered under the reserved ident; there is no separate
// file descriptor to own.
type Poller struct {
	fd       int
	notified int32
}

// New creates the kqueue instance and arms its user-event wakeup.
func New() (*Poller, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, os.NewSyscallError("kqueue", err)
	}
	// Provide FD_CLOEXEC flag for consistency with Go runtime.
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("fcntl", err)
	}
	p := &Poller{fd: fd}
	if err := p.armWakeup(); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return p, nil
}

// Insert is a no-op on kqueue: filters are added when Interest arms
// them. The facade still requires the call for ordering symmetry with
// the other backends.
func (p *Poller) Insert(fd uintptr) error {
	metrics.Add(metrics.Inserts, 1)
	return nil
}

// Interest re-arms fd to deliver at most one event matching ev. Each
// direction is one filter: a requested direction is added oneshot, an
// unrequested one is deleted.
func (p *Poller) Interest(fd uintptr, ev Event) (err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, fmt.Sprintf("interest fd %d", fd))
		}
	}()
	read := unix.Kevent_t{
		Ident:  keventIdent(fd),
		Filter: unix.EVFILT_READ,
		Flags:  unix.EV_RECEIPT,
		Udata:  keventUdata(ev.Key),
	}
	write := unix.Kevent_t{
		Ident:  keventIdent(fd),
		Filter: unix.EVFILT_WRITE,
		Flags:  unix.EV_RECEIPT,
		Udata:  keventUdata(ev.Key),
	}
	if ev.Readable {
		read.Flags |= unix.EV_ADD | unix.EV_ONESHOT
	} else {
		read.Flags |= unix.EV_DELETE
	}
	if ev.Writable {
		write.Flags |= unix.EV_ADD | unix.EV_ONESHOT
	} else {
		write.Flags |= unix.EV_DELETE
	}
	changes := []unix.Kevent_t{read, write}
	// Deleting a direction that was never armed reports ENOENT in its
	// receipt; that is not a caller mistake.
	if err := p.submit(changes, []bool{!ev.Readable, !ev.Writable}); err != nil {
		return err
	}
	metrics.Add(metrics.Interests, 1)
	return nil
}

// Remove unregisters fd by deleting both filters.
func (p *Poller) Remove(fd uintptr) (err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, fmt.Sprintf("remove fd %d", fd))
		}
	}()
	changes := []unix.Kevent_t{
		{Ident: keventIdent(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE | unix.EV_RECEIPT},
		{Ident: keventIdent(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE | unix.EV_RECEIPT},
	}
	if err := p.submit(changes, []bool{true, true}); err != nil {
		return err
	}
	metrics.Add(metrics.Removes, 1)
	return nil
}

// submit applies a changelist and checks the per-change receipts.
// ignoreNotFound marks the changes whose ENOENT receipt is expected.
func (p *Poller) submit(changes []unix.Kevent_t, ignoreNotFound []bool) error {
	receipts := make([]unix.Kevent_t, len(changes))
	n, err := unix.Kevent(p.fd, changes, receipts, nil)
	if err != nil {
		return os.NewSyscallError("kevent", err)
	}
	for i := 0; i < n; i++ {
		if receipts[i].Flags&unix.EV_ERROR == 0 || receipts[i].Data == 0 {
			continue
		}
		errno := unix.Errno(receipts[i].Data)
		if errno == unix.ENOENT && i < len(ignoreNotFound) && ignoreNotFound[i] {
			continue
		}
		return os.NewSyscallError("kevent", errno)
	}
	return nil
}

// armWakeup re-adds the user-event wakeup filter. EV_CLEAR resets its
// triggered state once the event is retrieved.
func (p *Poller) armWakeup() error {
	changes := []unix.Kevent_t{{
		Ident:  wakeIdent(),
		Filter: unix.EVFILT_USER,
		Flags:  unix.EV_ADD | unix.EV_CLEAR | unix.EV_RECEIPT,
	}}
	return p.submit(changes, nil)
}

// Wait blocks up to timeout for at least one event and fills events
// with the translated batch. The returned count is the raw kernel one;
// it may include the internal wakeup record.
func (p *Poller) Wait(events *Events, timeout time.Duration) (int, error) {
	if err := p.armWakeup(); err != nil {
		return 0, err
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	ts := waitTimespec(timeout)
	for {
		metrics.Add(metrics.PollWait, 1)
		if ts != nil && ts.Sec == 0 && ts.Nsec == 0 {
			metrics.Add(metrics.PollNoWait, 1)
		}
		n, err := unix.Kevent(p.fd, nil, events.raw, ts)
		if err == unix.EINTR {
			// Interrupted by a signal; resume against the original deadline.
			if timeout > 0 {
				remaining := time.Until(deadline)
				if remaining <= 0 {
					return 0, nil
				}
				ts = waitTimespec(remaining)
			}
			continue
		}
		if err != nil {
			return 0, os.NewSyscallError("kevent", err)
		}
		metrics.Add(metrics.PollEvents, uint64(n))
		p.translate(events, n)
		return n, nil
	}
}

func (p *Poller) translate(events *Events, n int) {
	events.list = events.list[:0]
	for i := 0; i < n; i++ {
		evt := &events.raw[i]
		if evt.Filter == unix.EVFILT_USER {
			atomic.StoreInt32(&p.notified, 0)
			events.list = append(events.list, Event{Key: ReservedKey, Readable: true})
			metrics.Add(metrics.PollWakeups, 1)
			continue
		}
		// Hang-up and error fold into both directions so the caller's
		// next I/O attempt observes the real error.
		hup := evt.Flags&(unix.EV_EOF|unix.EV_ERROR) != 0
		events.list = append(events.list, Event{
			Key:      udataKey(evt.Udata),
			Readable: evt.Filter == unix.EVFILT_READ || hup,
			Writable: evt.Filter == unix.EVFILT_WRITE || hup,
		})
	}
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
		if _, err := unix.Kevent(p.fd, []unix.Kevent_t{{
			Ident:  wakeIdent(),
			Filter: unix.EVFILT_USER,
			Fflags: unix.NOTE_TRIGGER,
		}}, nil, nil); err != unix.EINTR && err != unix.EAGAIN {
			return os.NewSyscallError("kevent", err)
		}
	}
}

// Close releases the kqueue instance; the kernel drops the wakeup
// filter and all remaining registrations with it.
func (p *Poller) Close() error {
	return os.NewSyscallError("close", unix.Close(p.fd))
}

// String implements fmt.Stringer.
func (p *Poller) String() string {
	return fmt.Sprintf("kqueue(fd: %d)", p.fd)
}

// Events is the scratch buffer a Wait batch lands in: the raw kernel
// records plus the translated portable list.
type Events struct {
	raw  []unix.Kevent_t
	list []Event
}

// NewEvents creates an Events buffer holding up to capacity records
// per Wait batch.
func NewEvents(capacity int) *Events {
	return &Events{
		raw:  make([]unix.Kevent_t, capacity),
		list: make([]Event, 0, capacity),
	}
}

// List returns the events translated from the latest Wait batch. The
// slice is valid until the next Wait on the same buffer.
func (e *Events) List() []Event {
	return e.list
}

func waitTimespec(timeout time.Duration) *unix.Timespec {
	if timeout < 0 {
		return nil
	}
	ts := unix.NsecToTimespec(timeout.Nanoseconds())
	return &ts
}
