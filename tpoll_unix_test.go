// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

//go:build linux || freebsd || dragonfly || darwin
// +build linux freebsd dragonfly darwin

package tpoll_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"trpc.group/trpc-go/tpoll"
)

func TestWritablePipe(t *testing.T) {
	fds := make([]int, 2)
	require.Nil(t, unix.Pipe(fds))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])
	require.Nil(t, unix.SetNonblock(fds[1], true))

	p, err := tpoll.New()
	require.Nil(t, err)
	defer p.Close()

	write := tpoll.Fd(fds[1])
	require.Nil(t, p.Insert(write))
	require.Nil(t, p.Interest(write, tpoll.Writable(3)))

	var events []tpoll.Event
	n, err := p.Wait(&events, time.Second)
	require.Nil(t, err)
	require.GreaterOrEqual(t, n, 1)
	require.Len(t, events, 1)
	assert.Equal(t, uint64(3), events[0].Key)
	assert.True(t, events[0].Writable)

	require.Nil(t, p.Remove(write))
}

func TestReadablePipe(t *testing.T) {
	fds := make([]int, 2)
	require.Nil(t, unix.Pipe(fds))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])
	require.Nil(t, unix.SetNonblock(fds[0], true))

	p, err := tpoll.New()
	require.Nil(t, err)
	defer p.Close()

	read := tpoll.Fd(fds[0])
	require.Nil(t, p.Insert(read))
	require.Nil(t, p.Interest(read, tpoll.Readable(11)))

	_, err = unix.Write(fds[1], []byte{1})
	require.Nil(t, err)

	var events []tpoll.Event
	_, err = p.Wait(&events, time.Second)
	require.Nil(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, uint64(11), events[0].Key)
	assert.True(t, events[0].Readable)

	require.Nil(t, p.Remove(read))
}
