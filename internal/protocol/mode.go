// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package protocol

import "fmt"

// OperationMode is the lifecycle state of an agent.
type OperationMode int32

const (
	ModeInitializing OperationMode = iota
	ModeTracing
	ModePaused
	ModeSuspended
	ModeShutdown
)

// String implements fmt.Stringer.
func (m OperationMode) String() string {
	switch m {
	case ModeInitializing:
		return "Initializing"
	case ModeTracing:
		return "Tracing"
	case ModePaused:
		return "Paused"
	case ModeSuspended:
		return "Suspended"
	case ModeShutdown:
		return "Shutdown"
	}
	return fmt.Sprintf("OperationMode(%d)", int32(m))
}

// heartbeat bytes, ASCII I, T, P, S and X.
var modeBytes = map[OperationMode]byte{
	ModeInitializing: 'I',
	ModeTracing:      'T',
	ModePaused:       'P',
	ModeSuspended:    'S',
	ModeShutdown:     'X',
}

func (m OperationMode) heartbeatByte() (byte, bool) {
	b, ok := modeBytes[m]
	return b, ok
}

func modeFromHeartbeatByte(b byte) (OperationMode, bool) {
	for m, mb := range modeBytes {
		if mb == b {
			return m, true
		}
	}
	return 0, false
}
