// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

// Package collector turns method visits reported by instrumented code into
// protocol frames written to pooled buffers.
//
// Producers call AddMethodVisit from any goroutine. A single consumer
// goroutine processes visits in arrival order, so the sequence counter and
// the set of announced methods need no locking.
package collector

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DataDog/dd-coverage-go/internal"
	"github.com/DataDog/dd-coverage-go/internal/identity"
	"github.com/DataDog/dd-coverage-go/internal/log"
	"github.com/DataDog/dd-coverage-go/internal/protocol"
	"github.com/DataDog/dd-coverage-go/internal/queue"

	equeue "github.com/eapache/queue/v2"
	"golang.org/x/time/rate"
)

// threadID is reported in every event. Goroutines have no stable identity
// worth exposing, so all events belong to a single logical thread.
const threadID uint16 = 1

// TraceMessage describes a single method visit.
type TraceMessage struct {
	ClassName       string
	SourceFile      string
	MethodName      string
	MethodSignature string
	StartLine       int
	EndLine         int
}

// BufferService hands out buffers to write frames to.
type BufferService interface {
	// Obtain returns a buffer, or nil if none is available.
	Obtain() *queue.Buffer
	Relinquish(b *queue.Buffer)
}

type event struct {
	visit  TraceMessage
	marker *marker
}

type marker struct {
	key, value string
}

// Stats is a snapshot of the collector counters.
type Stats struct {
	Received    uint64 // events accepted by AddMethodVisit and AddMarker
	Dropped     uint64 // events lost for lack of a buffer
	Written     uint64 // frames encoded, including method signature mappings
	QueueLength int    // events waiting to be processed
	Methods     int    // distinct methods registered
}

// Collector is the single consumer of method visits.
type Collector struct {
	buffers BufferService
	errh    internal.ErrorHandler
	classes *identity.ClassRegistry
	methods *identity.MethodRegistry

	mu     sync.Mutex // guards below
	cond   *sync.Cond
	events *equeue.Queue[event]
	closed bool

	// owned by the consumer goroutine
	observed map[int32]struct{}
	start    time.Time

	seq atomic.Int32 // next sequence id; only the consumer writes it

	running   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}

	dropWarn *rate.Limiter
	idleWarn *rate.Limiter
	received atomic.Uint64
	dropped  atomic.Uint64
	written  atomic.Uint64
}

// New returns a collector writing to buffers and reporting failures to errh.
// It does not accept events until Start is called.
func New(buffers BufferService, errh internal.ErrorHandler) *Collector {
	if errh == nil {
		errh = internal.DiscardErrors
	}
	c := &Collector{
		buffers:  buffers,
		errh:     errh,
		classes:  identity.NewClassRegistry(),
		methods:  identity.NewMethodRegistry(),
		events:   equeue.New[event](),
		observed: make(map[int32]struct{}),
		done:     make(chan struct{}),
		dropWarn: rate.NewLimiter(rate.Every(10*time.Second), 1),
		idleWarn: rate.NewLimiter(rate.Every(10*time.Second), 1),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Start launches the consumer goroutine and starts the relative clock.
func (c *Collector) Start() {
	c.startOnce.Do(func() {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			close(c.done)
			return
		}
		c.start = time.Now()
		c.running.Store(true)
		c.mu.Unlock()
		go c.run()
	})
}

// Running reports whether the collector accepts events.
func (c *Collector) Running() bool {
	return c.running.Load()
}

// AddMethodVisit queues a method visit. It never blocks on the network and
// never fails; visits reported while the collector is not running are
// discarded.
func (c *Collector) AddMethodVisit(m TraceMessage) {
	c.enqueue(event{visit: m})
}

// AddMarker queues a key/value marker, ordered with the surrounding visits.
func (c *Collector) AddMarker(key, value string) {
	c.enqueue(event{marker: &marker{key: key, value: value}})
}

func (c *Collector) enqueue(ev event) {
	c.mu.Lock()
	if c.closed || !c.running.Load() {
		c.mu.Unlock()
		if c.idleWarn.Allow() {
			log.Warn("collector: not running, discarding events")
		}
		return
	}
	c.events.Add(ev)
	c.cond.Signal()
	c.mu.Unlock()
	c.received.Add(1)
}

// Shutdown stops accepting events, processes everything already queued and
// waits for the consumer to exit.
func (c *Collector) Shutdown() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.running.Store(false)
		c.cond.Broadcast()
		c.mu.Unlock()
		c.startOnce.Do(func() { close(c.done) })
		<-c.done
	})
}

func (c *Collector) run() {
	defer close(c.done)
	for {
		c.mu.Lock()
		for c.events.Length() == 0 && !c.closed {
			c.cond.Wait()
		}
		if c.events.Length() == 0 {
			c.mu.Unlock()
			return
		}
		ev := c.events.Remove()
		c.mu.Unlock()
		c.process(ev)
	}
}

func (c *Collector) process(ev event) {
	defer func() {
		if r := recover(); r != nil {
			c.errh.HandleError("collector: failed to process event", fmt.Errorf("panic: %v", r))
		}
	}()
	if ev.marker != nil {
		c.processMarker(ev.marker)
		return
	}
	c.processVisit(ev.visit)
}

func (c *Collector) processVisit(m TraceMessage) {
	classID := c.classes.Record(m.ClassName, m.SourceFile)
	methodID, err := c.methods.Record(classID, m.MethodName, m.MethodSignature, m.StartLine, m.EndLine)
	if err != nil {
		c.errh.HandleError("collector: invalid method visit", fmt.Errorf("%s.%s: %w", m.ClassName, m.MethodName, err))
		return
	}
	if _, ok := c.observed[methodID]; !ok {
		buf := c.buffers.Obtain()
		if buf == nil {
			c.drop()
			return
		}
		ok := c.encode(buf, protocol.MapMethodSignature{SignatureID: methodID, Signature: m.MethodSignature})
		c.buffers.Relinquish(buf)
		if !ok {
			return
		}
		c.observed[methodID] = struct{}{}
	}

	buf := c.buffers.Obtain()
	if buf == nil {
		c.drop()
		return
	}
	seq := c.seq.Load()
	ok := c.encode(buf, protocol.MethodEntry{
		RelTime:     c.relTime(),
		Sequence:    seq,
		SignatureID: methodID,
		ThreadID:    threadID,
	})
	c.buffers.Relinquish(buf)
	if ok {
		c.seq.Store(seq + 1)
	}
}

func (c *Collector) processMarker(mk *marker) {
	buf := c.buffers.Obtain()
	if buf == nil {
		c.drop()
		return
	}
	seq := c.seq.Load()
	ok := c.encode(buf, protocol.Marker{
		RelTime:  c.relTime(),
		Sequence: seq,
		Key:      mk.key,
		Value:    mk.value,
	})
	c.buffers.Relinquish(buf)
	if ok {
		c.seq.Store(seq + 1)
	}
}

// encode appends m to buf. On failure the buffer is left as it was.
func (c *Collector) encode(buf *queue.Buffer, m protocol.Message) bool {
	mark := buf.Len()
	err := buf.Append(func(b []byte) ([]byte, error) {
		return protocol.AppendMessage(b, m)
	})
	if err != nil {
		buf.Truncate(mark)
		c.errh.HandleError("collector: failed to encode "+m.Type().String(), err)
		return false
	}
	c.written.Add(1)
	return true
}

func (c *Collector) drop() {
	n := c.dropped.Add(1)
	if c.dropWarn.Allow() {
		log.Warn("collector: no buffer available, dropping events (%d dropped so far)", n)
	}
}

func (c *Collector) relTime() int32 {
	return int32(time.Since(c.start) / time.Millisecond)
}

// SequenceID returns the sequence id the next event will carry.
func (c *Collector) SequenceID() int32 {
	return c.seq.Load()
}

// Methods returns the method registry.
func (c *Collector) Methods() *identity.MethodRegistry {
	return c.methods
}

// QueueLength returns the number of events waiting to be processed.
func (c *Collector) QueueLength() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events.Length()
}

// Stats returns a snapshot of the collector counters.
func (c *Collector) Stats() Stats {
	return Stats{
		Received:    c.received.Load(),
		Dropped:     c.dropped.Load(),
		Written:     c.written.Load(),
		QueueLength: c.QueueLength(),
		Methods:     c.methods.Len(),
	}
}
