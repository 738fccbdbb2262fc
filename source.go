// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

package tpoll

import (
	"trpc.group/trpc-go/tpoll/internal/netutil"
)

// Source names an I/O object the way the platform does: an integer
// file descriptor on Unix-like systems, a socket handle on Windows.
// The poller never duplicates, closes or otherwise owns the handle;
// remove it from the poller before closing it.
type Source interface {
	// Raw returns the platform's raw handle identifier.
	Raw() uintptr
}

// Fd is a raw handle used directly as a Source.
type Fd uintptr

// Raw implements Source.
func (fd Fd) Raw() uintptr {
	return uintptr(fd)
}

// SourceOf adapts any socket implementing syscall.Conn, such as
// net.TCPListener, net.TCPConn or os.File, into a Source.
func SourceOf(socket any) (Fd, error) {
	handle, err := netutil.GetRawHandle(socket)
	if err != nil {
		return 0, err
	}
	return Fd(handle), nil
}
