// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

package netutil_test

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/tpoll/internal/netutil"
)

func TestGetRawHandle(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.Nil(t, err)
	defer listener.Close()

	handle, err := netutil.GetRawHandle(listener)
	assert.Nil(t, err)
	assert.NotZero(t, handle)
}

func TestGetRawHandleNotConn(t *testing.T) {
	_, err := netutil.GetRawHandle(42)
	assert.NotNil(t, err)
}
