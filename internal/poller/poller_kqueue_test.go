// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

//go:build freebsd || dragonfly || darwin
// +build freebsd dragonfly darwin

package poller_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"trpc.group/trpc-go/tpoll/internal/poller"
)

func newPipe(t *testing.T) (int, int) {
	t.Helper()
	fds := make([]int, 2)
	require.Nil(t, unix.Pipe(fds))
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	require.Nil(t, unix.SetNonblock(fds[0], true))
	require.Nil(t, unix.SetNonblock(fds[1], true))
	return fds[0], fds[1]
}

func TestBackendReadable(t *testing.T) {
	p, err := poller.New()
	require.Nil(t, err)
	defer p.Close()

	r, w := newPipe(t)
	require.Nil(t, p.Insert(uintptr(r)))
	require.Nil(t, p.Interest(uintptr(r), poller.Event{Key: 9, Readable: true}))

	_, err = unix.Write(w, []byte{1})
	require.Nil(t, err)

	events := poller.NewEvents(64)
	n, err := p.Wait(events, time.Second)
	require.Nil(t, err)
	require.Equal(t, 1, n)
	require.Len(t, events.List(), 1)
	assert.Equal(t, uint64(9), events.List()[0].Key)
	assert.True(t, events.List()[0].Readable)

	// Oneshot: the pipe still holds data, yet interest is gone.
	n, err = p.Wait(events, 100*time.Millisecond)
	require.Nil(t, err)
	assert.Equal(t, 0, n)

	require.Nil(t, p.Remove(uintptr(r)))
}

func TestBackendWritable(t *testing.T) {
	p, err := poller.New()
	require.Nil(t, err)
	defer p.Close()

	_, w := newPipe(t)
	require.Nil(t, p.Insert(uintptr(w)))
	require.Nil(t, p.Interest(uintptr(w), poller.Event{Key: 3, Writable: true}))

	events := poller.NewEvents(64)
	n, err := p.Wait(events, time.Second)
	require.Nil(t, err)
	require.Equal(t, 1, n)
	require.Len(t, events.List(), 1)
	assert.Equal(t, uint64(3), events.List()[0].Key)
	assert.True(t, events.List()[0].Writable)
}

func TestBackendDisarm(t *testing.T) {
	p, err := poller.New()
	require.Nil(t, err)
	defer p.Close()

	r, w := newPipe(t)
	require.Nil(t, p.Insert(uintptr(r)))
	require.Nil(t, p.Interest(uintptr(r), poller.Event{Key: 9, Readable: true}))
	// Disarming deletes the armed filter and tolerates the never-armed one.
	require.Nil(t, p.Interest(uintptr(r), poller.Event{Key: 9}))

	_, err = unix.Write(w, []byte{1})
	require.Nil(t, err)

	events := poller.NewEvents(64)
	n, err := p.Wait(events, 100*time.Millisecond)
	require.Nil(t, err)
	assert.Equal(t, 0, n)
}

func TestBackendRemoveUnknown(t *testing.T) {
	p, err := poller.New()
	require.Nil(t, err)
	defer p.Close()

	r, _ := newPipe(t)
	// Filters are created on arm, so removing an unarmed handle has
	// nothing to delete and reports nothing.
	assert.Nil(t, p.Remove(uintptr(r)))
}

func TestBackendNotify(t *testing.T) {
	p, err := poller.New()
	require.Nil(t, err)
	defer p.Close()

	require.Nil(t, p.Notify())
	events := poller.NewEvents(64)
	n, err := p.Wait(events, time.Second)
	require.Nil(t, err)
	require.Equal(t, 1, n)
	require.Len(t, events.List(), 1)
	assert.Equal(t, poller.ReservedKey, events.List()[0].Key)

	n, err = p.Wait(events, 100*time.Millisecond)
	require.Nil(t, err)
	assert.Equal(t, 0, n)
}

func TestBackendNotifyCoalesces(t *testing.T) {
	p, err := poller.New()
	require.Nil(t, err)
	defer p.Close()

	require.Nil(t, p.Notify())
	require.Nil(t, p.Notify())

	events := poller.NewEvents(64)
	n, err := p.Wait(events, time.Second)
	require.Nil(t, err)
	require.Equal(t, 1, n)

	n, err = p.Wait(events, 100*time.Millisecond)
	require.Nil(t, err)
	assert.Equal(t, 0, n)
}
