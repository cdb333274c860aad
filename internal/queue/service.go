// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package queue

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultWriteTimeout bounds a single obtain attempt.
const DefaultWriteTimeout = 100 * time.Millisecond

// Service gates the writer's access to a Pool. While paused, Obtain blocks
// until the service is resumed. While suspended, Obtain returns nil.
type Service struct {
	pool         *Pool
	retries      int
	writeTimeout time.Duration

	mu     sync.Mutex // guards below
	paused bool
	resume chan struct{} // closed when paused turns false

	suspended atomic.Bool
}

// NewService returns a service making up to retries attempts of writeTimeout
// each to obtain a buffer from pool.
func NewService(pool *Pool, retries int, writeTimeout time.Duration) *Service {
	if retries < 1 {
		retries = 1
	}
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &Service{
		pool:         pool,
		retries:      retries,
		writeTimeout: writeTimeout,
	}
}

// Pool returns the underlying pool.
func (s *Service) Pool() *Pool { return s.pool }

// Obtain returns a buffer to write to, or nil when none could be had.
func (s *Service) Obtain() *Buffer {
	s.waitResumed()
	for i := 0; i < s.retries; i++ {
		if s.suspended.Load() {
			return nil
		}
		if b := s.pool.AcquireForWriting(s.writeTimeout); b != nil {
			return b
		}
	}
	return nil
}

func (s *Service) waitResumed() {
	s.mu.Lock()
	for s.paused {
		ch := s.resume
		s.mu.Unlock()
		<-ch
		s.mu.Lock()
	}
	s.mu.Unlock()
}

// Relinquish returns b to the pool.
func (s *Service) Relinquish(b *Buffer) {
	s.pool.Release(b)
}

// SetPaused blocks or unblocks writers.
func (s *Service) SetPaused(paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused == paused {
		return
	}
	s.paused = paused
	if paused {
		s.resume = make(chan struct{})
	} else {
		close(s.resume)
	}
}

// Paused reports whether writers are blocked.
func (s *Service) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// SetSuspended turns writes off, or back on, at both the service and the
// pool level.
func (s *Service) SetSuspended(suspended bool) {
	s.suspended.Store(suspended)
	s.pool.SetWriteDisabled(suspended)
}

// Suspended reports whether writes are turned off.
func (s *Service) Suspended() bool {
	return s.suspended.Load()
}
