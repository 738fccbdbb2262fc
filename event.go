// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

package tpoll

import (
	"fmt"

	"trpc.group/trpc-go/tpoll/internal/poller"
)

// ReservedKey is reserved for the poller's internal wakeup source.
// Interest rejects it with ErrReservedKey.
const ReservedKey uint64 = poller.ReservedKey

// Event indicates that a file descriptor or socket can read or write
// without blocking. Readiness is not a success guarantee: the actual
// I/O operation may still fail or return zero bytes, it only will not
// block.
type Event struct {
	// Key identifies the handle the event belongs to. It is chosen by
	// the caller on Interest and carried through the kernel untouched.
	Key uint64
	// Readable reports that a read operation would not block.
	Readable bool
	// Writable reports that a write operation would not block.
	Writable bool
}

// All returns interest in both readable and writable events.
func All(key uint64) Event {
	return Event{Key: key, Readable: true, Writable: true}
}

// Readable returns interest in readable events only.
func Readable(key uint64) Event {
	return Event{Key: key, Readable: true}
}

// Writable returns interest in writable events only.
func Writable(key uint64) Event {
	return Event{Key: key, Writable: true}
}

// None returns interest in no events. Supplied to Interest it disarms
// the handle; observed on a delivered event it marks a spurious
// wakeup.
func None(key uint64) Event {
	return Event{Key: key}
}

// String implements fmt.Stringer.
func (e Event) String() string {
	return fmt.Sprintf("Event{key: %d, readable: %t, writable: %t}", e.Key, e.Readable, e.Writable)
}
