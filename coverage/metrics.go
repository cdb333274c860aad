// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package coverage

import (
	"time"

	"github.com/DataDog/dd-coverage-go/internal/collector"
	"github.com/DataDog/dd-coverage-go/internal/sender"
)

// healthStats remembers the counters last reported so that every report
// carries deltas.
type healthStats struct {
	collector collector.Stats
	sender    sender.Stats
}

// reportHealth emits health metrics every interval until the agent stops,
// then emits a final report.
func (a *agent) reportHealth(interval time.Duration) {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	var last healthStats
	for {
		select {
		case <-tick.C:
			a.emitHealth(&last)
		case <-a.stop:
			a.emitHealth(&last)
			return
		}
	}
}

func (a *agent) emitHealth(last *healthStats) {
	cs := a.collector.Stats()
	ss := a.senders.Stats()
	a.statsd.Gauge("datadog.coverage.buffers.readable", float64(a.pool.ReadableBuffers()), nil, 1)
	a.statsd.Gauge("datadog.coverage.queue.length", float64(cs.QueueLength), nil, 1)
	a.statsd.Count("datadog.coverage.events.received", int64(cs.Received-last.collector.Received), nil, 1)
	a.statsd.Count("datadog.coverage.events.dropped", int64(cs.Dropped-last.collector.Dropped), nil, 1)
	a.statsd.Count("datadog.coverage.events.written", int64(cs.Written-last.collector.Written), nil, 1)
	a.statsd.Count("datadog.coverage.sender.buffers_sent", int64(ss.BuffersSent-last.sender.BuffersSent), nil, 1)
	a.statsd.Count("datadog.coverage.sender.bytes_sent", int64(ss.BytesSent-last.sender.BytesSent), nil, 1)
	a.statsd.Count("datadog.coverage.sender.errors", int64(ss.Errors-last.sender.Errors), nil, 1)
	last.collector = cs
	last.sender = ss
}
