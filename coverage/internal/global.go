// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

// Package internal holds the process-wide coverage agent.
package internal

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrNotStarted is returned when waiting on an agent that was never started.
var ErrNotStarted = errors.New("coverage: agent not started")

// Agent is the API the coverage package forwards to.
type Agent interface {
	AddMethodVisit(className, sourceFile, methodName, signature string, startLine, endLine int)
	Mark(key, value string)
	ReportClassTransformed(className string)
	ReportClassIgnored(className string)
	ReportClassTransformFailed(className string)
	WaitForStart(ctx context.Context) error
	WaitForShutdown(ctx context.Context) error
	Stop()
}

// globalAgent stores the current agent as *Agent. The atomic.Value type
// requires every stored value to have the same concrete type.
var globalAgent atomic.Value

func init() {
	var a Agent = NoopAgent{}
	globalAgent.Store(&a)
}

// SetGlobalAgent sets the global agent to a and returns the previous one.
func SetGlobalAgent(a Agent) Agent {
	return *globalAgent.Swap(&a).(*Agent)
}

// GetGlobalAgent returns the current agent. It is never nil.
func GetGlobalAgent() Agent {
	return *globalAgent.Load().(*Agent)
}

var _ Agent = NoopAgent{}

// NoopAgent discards everything.
type NoopAgent struct{}

func (NoopAgent) AddMethodVisit(_, _, _, _ string, _, _ int) {}
func (NoopAgent) Mark(_, _ string)                           {}
func (NoopAgent) ReportClassTransformed(_ string)            {}
func (NoopAgent) ReportClassIgnored(_ string)                {}
func (NoopAgent) ReportClassTransformFailed(_ string)        {}
func (NoopAgent) WaitForStart(_ context.Context) error       { return ErrNotStarted }
func (NoopAgent) WaitForShutdown(_ context.Context) error    { return nil }
func (NoopAgent) Stop()                                      {}
