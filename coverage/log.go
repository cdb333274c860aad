// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package coverage

import (
	"encoding/json"
	"runtime"
	"time"

	"github.com/DataDog/dd-coverage-go/internal/log"
	"github.com/DataDog/dd-coverage-go/internal/version"
)

type startupInfo struct {
	Date               string   `json:"date"`                 // ISO 8601 date and time of start
	OSName             string   `json:"os_name"`              // linux, darwin, windows, etc.
	Version            string   `json:"version"`              // Agent version
	ProtocolVersion    int      `json:"protocol_version"`     // Collection protocol revision
	Lang               string   `json:"lang"`                 // "Go"
	LangVersion        string   `json:"lang_version"`         // Go version, e.g. go1.22
	Architecture       string   `json:"architecture"`         // Architecture of host machine
	HQAddr             string   `json:"hq_addr"`              // Address of the collection server
	ProjectID          int32    `json:"project_id"`           // Project the data belongs to
	RunID              byte     `json:"run_id"`               // Run assigned by the collection server
	Debug              bool     `json:"debug"`                // Whether debug mode is enabled
	HeartbeatInterval  string   `json:"heartbeat_interval"`   // Interval between heartbeats
	BufferMemoryBudget int      `json:"buffer_memory_budget"` // Memory given to the buffer pool, in bytes
	Buffers            int      `json:"buffers"`              // Number of buffers in the pool
	BufferLength       int      `json:"buffer_length"`        // Nominal length of each buffer
	QueueRetryCount    int      `json:"queue_retry_count"`    // Attempts made to obtain a buffer
	DataSenders        int      `json:"data_senders"`         // Number of data connections
	Inclusions         []string `json:"inclusions"`           // Classes to instrument
	Exclusions         []string `json:"exclusions"`           // Classes left alone
	MetricsEnabled     bool     `json:"metrics_enabled"`      // Whether health metrics are sent to DogStatsD
}

// logStartup generates a startupInfo for an agent and writes it to the log
// in JSON format.
func logStartup(a *agent) {
	rc := a.runtimeConfig()
	info := startupInfo{
		Date:               time.Now().Format(time.RFC3339),
		OSName:             runtime.GOOS,
		Version:            version.Tag,
		ProtocolVersion:    version.ProtocolVersion,
		Lang:               "Go",
		LangVersion:        runtime.Version(),
		Architecture:       runtime.GOARCH,
		HQAddr:             a.config.hqAddr(),
		ProjectID:          a.config.projectID,
		RunID:              rc.RunID,
		Debug:              a.config.debug,
		HeartbeatInterval:  rc.HeartbeatPeriod().String(),
		BufferMemoryBudget: rc.BufferMemoryBudget,
		Buffers:            a.pool.NumBuffers(),
		BufferLength:       a.pool.BufferLength(),
		QueueRetryCount:    rc.QueueRetryCount,
		DataSenders:        a.senders.Len(),
		Inclusions:         rc.Inclusions,
		Exclusions:         rc.Exclusions,
		MetricsEnabled:     a.config.statsd != nil || a.config.dogstatsdAddr != "",
	}
	bs, err := json.Marshal(info)
	if err != nil {
		log.Warn("Failed to serialize json for startup log (%v) %#v\n", err, info)
		return
	}
	log.Info("DATADOG COVERAGE AGENT CONFIGURATION %s\n", string(bs))
}
