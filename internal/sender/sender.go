// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

// Package sender ships filled buffers from the pool to HQ over data
// connections.
package sender

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DataDog/dd-coverage-go/internal"
	"github.com/DataDog/dd-coverage-go/internal/log"
	"github.com/DataDog/dd-coverage-go/internal/queue"
)

const (
	// ReadTimeout bounds how long a sender waits for a readable buffer before
	// checking whether it was asked to stop.
	ReadTimeout = time.Second
	// WriteTimeout bounds the write of a single buffer when the connection
	// supports deadlines.
	WriteTimeout = 30 * time.Second
	// StopTimeout is how long Stop lets the buffer in flight finish before
	// closing the connection under it.
	StopTimeout = 5 * time.Second
)

// Stats holds the counters shared by the senders of a manager.
type Stats struct {
	BuffersSent uint64
	BytesSent   uint64
	Errors      uint64
}

type counters struct {
	buffers atomic.Uint64
	bytes   atomic.Uint64
	errors  atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		BuffersSent: c.buffers.Load(),
		BytesSent:   c.bytes.Load(),
		Errors:      c.errors.Load(),
	}
}

// Sender drains readable buffers from a pool onto one data connection.
type Sender struct {
	id          int
	pool        *queue.Pool
	conn        io.WriteCloser
	errh        internal.ErrorHandler
	stats       *counters
	onFail      func(*Sender)
	readTimeout time.Duration
	// zero disables the write deadline
	writeTimeout time.Duration
	stopTimeout  time.Duration

	busy    atomic.Bool
	failed  atomic.Bool
	stop    chan struct{}
	done    chan struct{}
	stopped sync.Once
}

func newSender(id int, pool *queue.Pool, conn io.WriteCloser, errh internal.ErrorHandler, stats *counters) *Sender {
	return &Sender{
		id:           id,
		pool:         pool,
		conn:         conn,
		errh:         errh,
		stats:        stats,
		readTimeout:  ReadTimeout,
		writeTimeout: WriteTimeout,
		stopTimeout:  StopTimeout,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

func (s *Sender) run() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		default:
		}
		if !s.sendOne() {
			return
		}
	}
}

// sendOne ships at most one buffer. It returns false once the connection is
// unusable.
func (s *Sender) sendOne() bool {
	b := s.pool.AcquireForReading(s.readTimeout)
	if b == nil {
		return true
	}
	s.busy.Store(true)
	defer s.busy.Store(false)
	if d, ok := s.conn.(writeDeadliner); ok && s.writeTimeout > 0 {
		d.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	n, err := b.WriteTo(s.conn)
	if err != nil {
		// the buffer keeps its data so another sender can pick it up
		s.pool.Release(b)
		if s.stopping() {
			return false
		}
		s.failed.Store(true)
		s.stats.errors.Add(1)
		s.errh.HandleError(fmt.Sprintf("sender %d: failed to send buffer %s", s.id, b.Name()), err)
		if s.onFail != nil {
			s.onFail(s)
		}
		return false
	}
	log.Debug("sender %d: sent %d bytes from buffer %s", s.id, n, b.Name())
	b.Reset()
	s.pool.Release(b)
	s.stats.buffers.Add(1)
	s.stats.bytes.Add(uint64(n))
	return true
}

func (s *Sender) stopping() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// Idle reports whether the sender holds no buffer.
func (s *Sender) Idle() bool {
	return !s.busy.Load()
}

// Failed reports whether the sender gave up after a write error.
func (s *Sender) Failed() bool {
	return s.failed.Load()
}

// Stop lets the sender finish the buffer in flight, then closes its
// connection. A write still blocked after the stop timeout is interrupted by
// closing the connection; its buffer goes back to the pool unsent.
func (s *Sender) Stop() {
	s.stopped.Do(func() {
		close(s.stop)
		timer := time.NewTimer(s.stopTimeout)
		defer timer.Stop()
		select {
		case <-s.done:
		case <-timer.C:
			log.Warn("sender %d: write still pending after %s, closing connection", s.id, s.stopTimeout)
		}
		s.conn.Close()
		<-s.done
	})
}
