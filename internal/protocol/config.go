// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package protocol

import "time"

// RuntimeConfig holds the parameters HQ hands to the agent during the control
// handshake. It travels as a JSON document.
type RuntimeConfig struct {
	RunID byte `json:"RunId"`
	// HeartbeatInterval is expressed in milliseconds.
	HeartbeatInterval  int      `json:"HeartbeatInterval"`
	Exclusions         []string `json:"Exclusions"`
	Inclusions         []string `json:"Inclusions"`
	BufferMemoryBudget int      `json:"BufferMemoryBudget"`
	QueueRetryCount    int      `json:"QueueRetryCount"`
	NumDataSenders     int      `json:"NumDataSenders"`
}

// HeartbeatPeriod returns the heartbeat interval as a duration. Non-positive
// intervals are reported as one millisecond.
func (c RuntimeConfig) HeartbeatPeriod() time.Duration {
	if c.HeartbeatInterval <= 0 {
		return time.Millisecond
	}
	return time.Duration(c.HeartbeatInterval) * time.Millisecond
}
