// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

package safejob_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"trpc.group/trpc-go/tpoll/internal/safejob"
)

func TestExclusiveUnblockJob(t *testing.T) {
	var job safejob.ExclusiveUnblockJob
	assert.True(t, job.Begin())
	// Held by the first section, the second entry does not block.
	assert.False(t, job.Begin())
	job.End()
	assert.True(t, job.Begin())
	job.End()
}

func TestExclusiveUnblockJobClose(t *testing.T) {
	var job safejob.ExclusiveUnblockJob
	assert.False(t, job.Closed())
	job.Close()
	assert.True(t, job.Closed())
	assert.False(t, job.Begin())
}
