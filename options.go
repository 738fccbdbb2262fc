// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

package tpoll

const defaultEventBufferSize = 64

type options struct {
	eventBufferSize int
}

// Option provides poller option.
type Option func(*options)

// WithEventBufferSize sets how many kernel records one Wait batch can
// carry on epoll and kqueue. On Windows it only sizes the initial
// buffer; a batch there carries every ready socket. Values below one
// keep the default.
func WithEventBufferSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.eventBufferSize = n
		}
	}
}
