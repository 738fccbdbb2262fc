// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

package tpoll_test

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/tpoll"
)

func TestFdSource(t *testing.T) {
	src := tpoll.Fd(42)
	assert.Equal(t, uintptr(42), src.Raw())
}

func TestSourceOf(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.Nil(t, err)
	defer listener.Close()

	src, err := tpoll.SourceOf(listener)
	require.Nil(t, err)
	assert.NotZero(t, src.Raw())

	// Not a socket at all.
	_, err = tpoll.SourceOf(struct{}{})
	assert.NotNil(t, err)
}
