// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

package tpoll_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"trpc.group/trpc-go/tpoll"
)

func TestEventConstructors(t *testing.T) {
	t.Run("All", func(t *testing.T) {
		ev := tpoll.All(7)
		assert.Equal(t, uint64(7), ev.Key)
		assert.True(t, ev.Readable)
		assert.True(t, ev.Writable)
	})
	t.Run("Readable", func(t *testing.T) {
		ev := tpoll.Readable(7)
		assert.Equal(t, uint64(7), ev.Key)
		assert.True(t, ev.Readable)
		assert.False(t, ev.Writable)
	})
	t.Run("Writable", func(t *testing.T) {
		ev := tpoll.Writable(7)
		assert.Equal(t, uint64(7), ev.Key)
		assert.False(t, ev.Readable)
		assert.True(t, ev.Writable)
	})
	t.Run("None", func(t *testing.T) {
		// None means no interest at all.
		ev := tpoll.None(7)
		assert.Equal(t, uint64(7), ev.Key)
		assert.False(t, ev.Readable)
		assert.False(t, ev.Writable)
	})
}

func TestEventString(t *testing.T) {
	ev := tpoll.Readable(3)
	assert.Equal(t, "Event{key: 3, readable: true, writable: false}", ev.String())
}
