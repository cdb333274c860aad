// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceObtain(t *testing.T) {
	s := NewService(NewPool(1, 64), 3, 5*time.Millisecond)
	b := s.Obtain()
	require.NotNil(t, b)

	start := time.Now()
	assert.Nil(t, s.Obtain())
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)

	s.Relinquish(b)
	assert.NotNil(t, s.Obtain())
}

func TestServicePause(t *testing.T) {
	s := NewService(NewPool(2, 64), 1, 0)
	s.SetPaused(true)
	s.SetPaused(true)
	assert.True(t, s.Paused())

	got := make(chan *Buffer)
	go func() { got <- s.Obtain() }()
	select {
	case <-got:
		t.Fatal("Obtain returned while paused")
	case <-time.After(30 * time.Millisecond):
	}

	s.SetPaused(false)
	select {
	case b := <-got:
		assert.NotNil(t, b)
	case <-time.After(time.Second):
		t.Fatal("Obtain did not resume")
	}
	assert.False(t, s.Paused())
}

func TestServiceSuspend(t *testing.T) {
	p := NewPool(2, 64)
	s := NewService(p, 5, time.Second)
	s.SetSuspended(true)
	assert.True(t, s.Suspended())
	assert.True(t, p.WriteDisabled())

	start := time.Now()
	assert.Nil(t, s.Obtain())
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	s.SetSuspended(false)
	assert.False(t, p.WriteDisabled())
	assert.NotNil(t, s.Obtain())
	assert.Same(t, p, s.Pool())
}
