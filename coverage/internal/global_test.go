// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package internal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type countingAgent struct {
	NoopAgent
	visits int
}

func (c *countingAgent) AddMethodVisit(_, _, _, _ string, _, _ int) { c.visits++ }

func TestGlobalAgent(t *testing.T) {
	assert.IsType(t, NoopAgent{}, GetGlobalAgent())
	assert.ErrorIs(t, GetGlobalAgent().WaitForStart(context.Background()), ErrNotStarted)
	assert.NoError(t, GetGlobalAgent().WaitForShutdown(context.Background()))

	a := &countingAgent{}
	old := SetGlobalAgent(a)
	defer SetGlobalAgent(old)
	assert.IsType(t, NoopAgent{}, old)

	GetGlobalAgent().AddMethodVisit("pkg.A", "a.go", "Run", "pkg.A.Run()", 1, 2)
	assert.Equal(t, 1, a.visits)
	assert.Same(t, a, GetGlobalAgent())
}
