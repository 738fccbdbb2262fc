// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

//go:build (freebsd || dragonfly || darwin) && (386 || arm)
// +build freebsd dragonfly darwin
// +build 386 arm

package poller

import "unsafe"

// Keys are pointer-sized here: the udata field carries only the low 32
// bits of a key, and the higher bits are dropped on delivery.

func keventIdent(fd uintptr) uint32 {
	return uint32(fd)
}

func wakeIdent() uint32 {
	return ^uint32(0)
}

func keventUdata(key uint64) *byte {
	return (*byte)(unsafe.Pointer(uintptr(key)))
}

func udataKey(udata *byte) uint64 {
	return uint64(uintptr(unsafe.Pointer(udata)))
}
