// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

// Package poller provides the per-platform readiness backends. Each
// platform compiles exactly one Poller implementation with the same
// method set: New, Insert, Interest, Remove, Wait, Notify and Close,
// plus the Events scratch buffer the backend fills on Wait.
//
// Interest is always oneshot: once the kernel delivers an event for a
// handle, that handle stays disarmed until the next Interest call. The
// internal wakeup source is registered under ReservedKey and follows
// the same discipline; its readable interest is re-armed at the top of
// every Wait.
package poller

import (
	"math"
	"time"
)

// ReservedKey marks events raised by the internal wakeup source.
// Callers must never use it as an interest key.
const ReservedKey uint64 = math.MaxUint64

// Event describes an armed interest or a delivered readiness for one
// handle. Key is the caller-chosen correlation value carried through
// the kernel.
type Event struct {
	Key      uint64
	Readable bool
	Writable bool
}

// waitMsec converts a Wait timeout to the millisecond convention of
// epoll-style kernels: negative waits indefinitely, zero polls. A
// nonzero sub-millisecond timeout rounds up to 1ms so that it cannot
// degenerate into a busy poll. The conversion saturates.
func waitMsec(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	if timeout == 0 {
		return 0
	}
	ms := int64(timeout / time.Millisecond)
	if timeout%time.Millisecond != 0 {
		ms++
	}
	if ms > math.MaxInt32 {
		ms = math.MaxInt32
	}
	return int(ms)
}
