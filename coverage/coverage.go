// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

// Package coverage streams method level coverage of the running program to
// a collection server ("HQ").
//
// The host calls Start once, waits for HQ to start the trace with
// WaitForStart, then reports method visits with AddMethodVisit from any
// goroutine. HQ controls the rest of the agent lifecycle: it may pause,
// suspend or stop tracing at any time. AddMethodVisit never blocks on the
// network and never panics.
//
//	if err := coverage.Start(coverage.WithProjectID(42)); err != nil {
//		log.Printf("coverage disabled: %v", err)
//	}
//	defer coverage.Stop()
//	coverage.WaitForStart(ctx)
package coverage

import (
	"context"

	"github.com/DataDog/dd-coverage-go/coverage/internal"
	"github.com/DataDog/dd-coverage-go/internal/log"
)

var _ internal.Agent = (*agent)(nil)

// Start connects to HQ, prepares the agent and installs it as the global
// agent. Errors are of the types defined by the connect, protocol and queue
// layers: a connection that could not be established, a rejected handshake,
// or a memory budget too small for the buffer pool. When Start fails, the
// global agent discards everything.
func Start(opts ...StartOption) error {
	c := newConfig(opts...)
	a, err := newAgent(context.Background(), c)
	if err != nil {
		log.Warn("Coverage agent failed to start: %v", err)
		return err
	}
	if old := internal.SetGlobalAgent(a); old != nil {
		old.Stop()
	}
	a.run()
	if c.logStartup {
		logStartup(a)
	}
	return nil
}

// Stop shuts down the global agent, waiting for pending data to be sent,
// and replaces it with one that discards everything.
func Stop() {
	internal.SetGlobalAgent(internal.NoopAgent{}).Stop()
	log.Flush()
}

// WaitForStart blocks until HQ starts the trace, the agent stops, or ctx is
// done.
func WaitForStart(ctx context.Context) error {
	return internal.GetGlobalAgent().WaitForStart(ctx)
}

// WaitForShutdown blocks until the agent has shut down or ctx is done.
func WaitForShutdown(ctx context.Context) error {
	return internal.GetGlobalAgent().WaitForShutdown(ctx)
}

// AddMethodVisit records that the given method was entered.
func AddMethodVisit(className, sourceFile, methodName, signature string, startLine, endLine int) {
	internal.GetGlobalAgent().AddMethodVisit(className, sourceFile, methodName, signature, startLine, endLine)
}

// Mark adds a key/value annotation to the data stream, ordered with the
// surrounding method visits.
func Mark(key, value string) {
	internal.GetGlobalAgent().Mark(key, value)
}

// ReportClassTransformed tells HQ that className was instrumented.
func ReportClassTransformed(className string) {
	internal.GetGlobalAgent().ReportClassTransformed(className)
}

// ReportClassIgnored tells HQ that className was deliberately not
// instrumented.
func ReportClassIgnored(className string) {
	internal.GetGlobalAgent().ReportClassIgnored(className)
}

// ReportClassTransformFailed tells HQ that instrumenting className failed.
func ReportClassTransformFailed(className string) {
	internal.GetGlobalAgent().ReportClassTransformFailed(className)
}
