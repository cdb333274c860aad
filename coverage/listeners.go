// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package coverage

import (
	"github.com/DataDog/dd-coverage-go/internal/protocol"
)

// dataBreakListener tells HQ where the data stops before writes are
// suspended.
type dataBreakListener struct{ a *agent }

func (l dataBreakListener) OnModeChange(_, mode protocol.OperationMode) {
	if mode != protocol.ModeSuspended {
		return
	}
	if err := l.a.controller.SendDataBreak(l.a.collector.SequenceID()); err != nil {
		l.a.HandleError("failed to send data break", err)
	}
}

// bufferListener gates buffer writes on the operation mode. Pausing blocks
// writers while senders keep draining; suspending makes writers drop.
type bufferListener struct{ a *agent }

func (l bufferListener) OnModeChange(old, mode protocol.OperationMode) {
	buffers := l.a.buffers
	switch mode {
	case protocol.ModeTracing:
		switch old {
		case protocol.ModePaused:
			buffers.SetPaused(false)
		case protocol.ModeSuspended:
			buffers.SetSuspended(false)
		}
	case protocol.ModePaused:
		buffers.SetPaused(true)
	case protocol.ModeSuspended:
		buffers.SetSuspended(true)
	}
}

// lifecycleListener starts collecting when HQ starts the trace and tears the
// agent down on Shutdown. Teardown runs on its own goroutine since it waits
// for the control loop that is notifying.
type lifecycleListener struct{ a *agent }

func (l lifecycleListener) OnModeChange(old, mode protocol.OperationMode) {
	switch {
	case mode == protocol.ModeShutdown:
		go l.a.shutdownAgent()
	case old == protocol.ModeInitializing:
		l.a.collector.Start()
		l.a.signalStart()
	}
}
