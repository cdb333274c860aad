// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

// Package queue holds the buffers that carry encoded trace data from the
// collector to the data senders.
//
// A Pool owns a fixed set of buffers spread over three partitions: empty,
// partial and full. A buffer is either resident in exactly one partition or
// held by exactly one caller between an Acquire and the matching Release.
package queue

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/DataDog/dd-coverage-go/internal/log"
)

const (
	// DefaultFullThreshold is the fill ratio at which a released buffer is
	// considered full.
	DefaultFullThreshold = 0.9
	// DefaultPollInterval bounds each wait for a free buffer.
	DefaultPollInterval = time.Millisecond

	// maxReadWait caps how long a reader sleeps between checks when no
	// release wakes it up.
	maxReadWait = 50 * time.Millisecond
)

// PoolOption customizes a Pool.
type PoolOption func(*Pool)

// WithFullThreshold sets the fill ratio, in (0, 1], at or above which a
// released buffer goes to the full partition.
func WithFullThreshold(ratio float64) PoolOption {
	return func(p *Pool) {
		if ratio > 0 && ratio <= 1 {
			p.ratio = ratio
		}
	}
}

// WithPollInterval sets how long a writer waits for an empty buffer before
// checking the partial partition again.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// Pool is a fixed set of buffers shared by one writer and many readers.
type Pool struct {
	size         int
	length       int
	ratio        float64
	threshold    int
	pollInterval time.Duration

	empty   chan *Buffer
	partial chan *Buffer
	full    chan *Buffer

	// readMu serializes releases into partial and full with readers, so that
	// a reader never takes a partial buffer a writer is about to append to.
	readMu sync.Mutex
	// readable is signaled whenever a buffer becomes readable.
	readable chan struct{}

	writeDisabled atomic.Bool
}

// NewPool returns a pool of size empty buffers, each length bytes long.
func NewPool(size, length int, opts ...PoolOption) *Pool {
	p := &Pool{
		size:         size,
		length:       length,
		ratio:        DefaultFullThreshold,
		pollInterval: DefaultPollInterval,
		empty:        make(chan *Buffer, size),
		partial:      make(chan *Buffer, size),
		full:         make(chan *Buffer, size),
		readable:     make(chan struct{}, 1),
	}
	for _, fn := range opts {
		fn(p)
	}
	p.threshold = int(float64(length) * p.ratio)
	for i := 0; i < size; i++ {
		p.empty <- newBuffer(length)
	}
	return p
}

// NumBuffers returns the number of buffers owned by the pool.
func (p *Pool) NumBuffers() int { return p.size }

// BufferLength returns the nominal capacity of each buffer.
func (p *Pool) BufferLength() int { return p.length }

// FullThreshold returns the length at or above which a buffer is full.
func (p *Pool) FullThreshold() int { return p.threshold }

// SetWriteDisabled controls whether AcquireForWriting hands out buffers.
// Readers are unaffected.
func (p *Pool) SetWriteDisabled(disabled bool) {
	p.writeDisabled.Store(disabled)
}

// WriteDisabled reports whether writes are currently disabled.
func (p *Pool) WriteDisabled() bool {
	return p.writeDisabled.Load()
}

// AcquireForWriting returns a buffer to append to, preferring a partially
// filled one. It gives up and returns nil once timeout has elapsed or as soon
// as writes are disabled. A non-positive timeout makes a single attempt.
func (p *Pool) AcquireForWriting(timeout time.Duration) *Buffer {
	deadline := time.Now().Add(timeout)
	timer := time.NewTimer(p.pollInterval)
	defer timer.Stop()
	for !p.writeDisabled.Load() {
		select {
		case b := <-p.partial:
			return b
		default:
		}
		select {
		case b := <-p.empty:
			return b
		case <-timer.C:
		}
		if !time.Now().Before(deadline) {
			return nil
		}
		timer.Reset(p.pollInterval)
	}
	return nil
}

// Release hands b back to the pool, routing it by its length.
func (p *Pool) Release(b *Buffer) {
	if b == nil {
		return
	}
	switch n := b.Len(); {
	case n == 0:
		p.put(p.empty, b)
	case n < p.threshold:
		p.readMu.Lock()
		p.put(p.partial, b)
		p.readMu.Unlock()
		p.signalReadable()
	default:
		p.readMu.Lock()
		p.put(p.full, b)
		p.readMu.Unlock()
		p.signalReadable()
	}
}

func (p *Pool) put(partition chan *Buffer, b *Buffer) {
	select {
	case partition <- b:
	default:
		// only possible when releasing a buffer this pool never handed out
		log.Error("queue: foreign buffer", "queue: dropping buffer %s released to a pool that does not own it", b.Name())
	}
}

func (p *Pool) signalReadable() {
	select {
	case p.readable <- struct{}{}:
	default:
	}
}

// AcquireForReading returns a buffer holding data to send, preferring a full
// one. It returns nil if none shows up before timeout elapses.
func (p *Pool) AcquireForReading(timeout time.Duration) *Buffer {
	deadline := time.Now().Add(timeout)
	for {
		if b := p.tryAcquireForReading(); b != nil {
			return b
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		if remaining > maxReadWait {
			remaining = maxReadWait
		}
		timer := time.NewTimer(remaining)
		select {
		case <-p.readable:
		case <-timer.C:
		}
		timer.Stop()
	}
}

func (p *Pool) tryAcquireForReading() *Buffer {
	p.readMu.Lock()
	defer p.readMu.Unlock()
	select {
	case b := <-p.full:
		return b
	default:
	}
	select {
	case b := <-p.partial:
		return b
	default:
	}
	return nil
}

// ReadableBuffers returns the number of buffers waiting to be sent.
func (p *Pool) ReadableBuffers() int {
	return len(p.full) + len(p.partial)
}

// IsEmpty reports whether every buffer is resident in the empty partition.
func (p *Pool) IsEmpty() bool {
	return len(p.empty) == p.size
}

// Stats is a snapshot of the partition sizes.
type Stats struct {
	Empty, Partial, Full int
}

// Stats returns the current partition sizes. Buffers held by callers are not
// counted.
func (p *Pool) Stats() Stats {
	return Stats{Empty: len(p.empty), Partial: len(p.partial), Full: len(p.full)}
}
