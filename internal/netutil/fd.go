// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

// Package netutil provides network netutil functions.
package netutil

import (
	"errors"
	"fmt"
	"syscall"
)

// GetRawHandle returns the raw handle referencing the I/O object: the
// integer file descriptor on Unix-like systems, the socket handle on
// Windows. The handle stays owned by the caller; it is only observed,
// never duplicated.
func GetRawHandle(socket interface{}) (uintptr, error) {
	conn, ok := socket.(syscall.Conn)
	if !ok {
		return 0, fmt.Errorf("type %T doesn't implement syscall.Conn interface", socket)
	}
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return 0, fmt.Errorf("get raw connection fail %w", err)
	}

	var handle uintptr
	var valid bool
	op := func(h uintptr) {
		handle = h
		valid = true
	}
	if err := rawConn.Control(op); err != nil {
		return 0, err
	}
	if !valid {
		return 0, errors.New("invalid raw handle")
	}
	return handle, nil
}
