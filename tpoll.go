// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

// Package tpoll provides a portable interface to the platform
// readiness notification mechanism: epoll on Linux, kqueue on the BSD
// family and Darwin, and a WSAPoll based rendition on Windows.
//
// Polling is done in oneshot mode: interest in a handle is cleared
// once an event for it is delivered and must be re-armed with Interest
// before the next event. Only one goroutine can be waiting for events
// at a time; concurrent Wait calls return an empty batch instead of
// blocking.
//
//	listener, _ := net.Listen("tcp", "127.0.0.1:0")
//	src, _ := tpoll.SourceOf(listener)
//
//	p, _ := tpoll.New()
//	p.Insert(src)
//	p.Interest(src, tpoll.Readable(7))
//
//	var events []tpoll.Event
//	for {
//		events = events[:0]
//		if _, err := p.Wait(&events, -1); err != nil {
//			break
//		}
//		for _, ev := range events {
//			if ev.Key == 7 {
//				// Accept without blocking, then re-arm.
//				p.Interest(src, tpoll.Readable(7))
//			}
//		}
//	}
package tpoll

import (
	"errors"
	"time"

	"go.uber.org/atomic"

	"trpc.group/trpc-go/tpoll/internal/poller"
	"trpc.group/trpc-go/tpoll/internal/safejob"
	"trpc.group/trpc-go/tpoll/metrics"
)

var (
	// ErrReservedKey is returned by Interest when the event carries
	// ReservedKey, which only the internal wakeup source may use.
	ErrReservedKey = errors.New("tpoll: event key is reserved for internal use")

	// ErrClosed is returned by Wait and Close once the poller is closed.
	ErrClosed = errors.New("tpoll: poller is closed")
)

// Poller waits for I/O readiness on a set of registered handles. All
// methods are safe for concurrent use; registration may change while
// another goroutine is blocked in Wait.
type Poller struct {
	backend *poller.Poller
	events  *poller.Events
	waiting safejob.ExclusiveUnblockJob
	closed  atomic.Bool
}

// New creates a poller.
func New(opts ...Option) (*Poller, error) {
	o := options{eventBufferSize: defaultEventBufferSize}
	for _, opt := range opts {
		opt(&o)
	}
	backend, err := poller.New()
	if err != nil {
		return nil, err
	}
	return &Poller{
		backend: backend,
		events:  poller.NewEvents(o.eventBufferSize),
	}, nil
}

// Insert enrolls a handle with the poller. The handle delivers no
// events until Interest arms it. Inserting an already enrolled handle
// is an error on epoll and Windows; the kqueue backend keeps no
// enrollment, so there Insert always succeeds. Remove the handle
// before closing it; the poller does not own it.
func (p *Poller) Insert(s Source) error {
	return p.backend.Insert(s.Raw())
}

// Interest arms the handle to deliver at most one event matching ev:
// delivery clears the interest until the next Interest call. Arming a
// handle that was never inserted is an error on epoll and Windows
// (kqueue adds its filters on arm and accepts it), and ev.Key must not
// be ReservedKey.
//
// Interest in both directions may be delivered as one event with both
// flags set or as two separate events.
func (p *Poller) Interest(s Source, ev Event) error {
	if ev.Key == ReservedKey {
		return ErrReservedKey
	}
	return p.backend.Interest(s.Raw(), poller.Event{
		Key:      ev.Key,
		Readable: ev.Readable,
		Writable: ev.Writable,
	})
}

// Remove unregisters a handle.
func (p *Poller) Remove(s Source) error {
	return p.backend.Remove(s.Raw())
}

// Wait blocks until at least one armed handle is ready, the timeout
// elapses, or Notify is called, and appends the delivered events to
// *events. A negative timeout waits indefinitely; zero polls without
// blocking.
//
// Only one goroutine can wait at a time: concurrent calls return 0
// immediately with nothing appended. The returned count is the raw
// kernel batch size and may exceed the number of appended events when
// the batch carried an internal wakeup record; treat it as progress
// indication, not as an append count. Nothing appended means a
// timeout, a wakeup or a concurrent waiter, never a terminal condition.
func (p *Poller) Wait(events *[]Event, timeout time.Duration) (int, error) {
	if !p.waiting.Begin() {
		if p.waiting.Closed() {
			return 0, ErrClosed
		}
		metrics.Add(metrics.WaitRejects, 1)
		return 0, nil
	}
	defer p.waiting.End()
	n, err := p.backend.Wait(p.events, timeout)
	if err != nil {
		return 0, err
	}
	for _, ev := range p.events.List() {
		if ev.Key == ReservedKey {
			continue
		}
		*events = append(*events, Event{
			Key:      ev.Key,
			Readable: ev.Readable,
			Writable: ev.Writable,
		})
	}
	return n, nil
}

// Notify wakes the current Wait call, or makes the next one return
// immediately if none is in flight. Notifications coalesce: once one
// is pending, further calls are no-ops until a Wait observes it.
func (p *Poller) Notify() error {
	return p.backend.Notify()
}

// Close releases the poller's kernel resources. An in-flight Wait is
// waited for; interrupt it with Notify first. Registered handles stay
// open, they are caller-owned.
func (p *Poller) Close() error {
	if !p.closed.CAS(false, true) {
		return ErrClosed
	}
	p.waiting.Close()
	return p.backend.Close()
}

// String implements fmt.Stringer, rendering the backend identity.
func (p *Poller) String() string {
	return p.backend.String()
}
