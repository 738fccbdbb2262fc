// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

package locker_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"trpc.group/trpc-go/tpoll/internal/locker"
)

func TestLocker(t *testing.T) {
	l := locker.New()
	assert.False(t, l.IsLocked())
	l.Lock()
	assert.True(t, l.IsLocked())
	assert.False(t, l.TryLock())
	l.Unlock()
	assert.False(t, l.IsLocked())
	assert.True(t, l.TryLock())
	l.Unlock()
}

func TestLockerConcurrent(t *testing.T) {
	var l locker.Locker
	var wg sync.WaitGroup
	count := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				l.Lock()
				count++
				l.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 8000, count)
}
