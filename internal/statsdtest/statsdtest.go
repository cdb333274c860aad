// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

// Package statsdtest provides a recording statsd client for tests.
package statsdtest

import (
	"sync"

	"github.com/DataDog/dd-coverage-go/internal"
)

var _ internal.StatsdClient = &TestStatsdClient{}

// TestStatsdClient records every metric it receives.
type TestStatsdClient struct {
	mu      sync.RWMutex
	counts  map[string]int64
	gauges  map[string]float64
	n       int
	closed  bool
	flushed int
}

func (tg *TestStatsdClient) Gauge(name string, value float64, _ []string, _ float64) error {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	if tg.gauges == nil {
		tg.gauges = make(map[string]float64)
	}
	tg.gauges[name] = value
	tg.n++
	return nil
}

func (tg *TestStatsdClient) Incr(name string, _ []string, _ float64) error {
	tg.addCount(name, 1)
	return nil
}

func (tg *TestStatsdClient) Count(name string, value int64, _ []string, _ float64) error {
	tg.addCount(name, value)
	return nil
}

func (tg *TestStatsdClient) addCount(name string, value int64) {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	if tg.counts == nil {
		tg.counts = make(map[string]int64)
	}
	tg.counts[name] += value
	tg.n++
}

func (tg *TestStatsdClient) Flush() error {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	tg.flushed++
	return nil
}

func (tg *TestStatsdClient) Close() error {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	tg.closed = true
	return nil
}

// Counts returns the accumulated value of every Count and Incr metric.
func (tg *TestStatsdClient) Counts() map[string]int64 {
	tg.mu.RLock()
	defer tg.mu.RUnlock()
	c := make(map[string]int64)
	for key, value := range tg.counts {
		c[key] = value
	}
	return c
}

// LastGauge returns the most recent value reported for the gauge name.
func (tg *TestStatsdClient) LastGauge(name string) (float64, bool) {
	tg.mu.RLock()
	defer tg.mu.RUnlock()
	v, ok := tg.gauges[name]
	return v, ok
}

func (tg *TestStatsdClient) Closed() bool {
	tg.mu.RLock()
	defer tg.mu.RUnlock()
	return tg.closed
}

func (tg *TestStatsdClient) Flushed() int {
	tg.mu.RLock()
	defer tg.mu.RUnlock()
	return tg.flushed
}
