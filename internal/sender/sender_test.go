// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package sender

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/DataDog/dd-coverage-go/internal"
	"github.com/DataDog/dd-coverage-go/internal/connect"
	"github.com/DataDog/dd-coverage-go/internal/hqtest"
	"github.com/DataDog/dd-coverage-go/internal/protocol"
	"github.com/DataDog/dd-coverage-go/internal/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type sink struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	err    error
	closed bool
}

func (s *sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	return s.buf.Write(p)
}

func (s *sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Len()
}

func (s *sink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type recordErrors struct {
	mu   sync.Mutex
	errs []error
}

func (r *recordErrors) HandleError(_ string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recordErrors) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)
}

// Count returns how many recorded errors match target.
func (r *recordErrors) Count(target error) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int
	for _, err := range r.errs {
		if errors.Is(err, target) {
			n++
		}
	}
	return n
}

// fill writes n method entries to the pool, one buffer at a time.
func fill(t *testing.T, pool *queue.Pool, n int) {
	for i := 0; i < n; i++ {
		b := pool.AcquireForWriting(time.Second)
		require.NotNil(t, b)
		err := b.Append(func(p []byte) ([]byte, error) {
			return protocol.AppendMessage(p, protocol.MethodEntry{Sequence: int32(i), SignatureID: 1, ThreadID: 1})
		})
		require.NoError(t, err)
		pool.Release(b)
	}
}

func startSender(pool *queue.Pool, w *sink, errh internal.ErrorHandler) (*Sender, *counters) {
	stats := &counters{}
	s := newSender(0, pool, w, errh, stats)
	s.readTimeout = 10 * time.Millisecond
	go s.run()
	return s, stats
}

func TestSenderDrainsPool(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	pool := queue.NewPool(10, 128)
	w := &sink{}
	s, stats := startSender(pool, w, internal.DiscardErrors)

	fill(t, pool, 25)
	require.Eventually(t, func() bool {
		return pool.IsEmpty() && s.Idle()
	}, 5*time.Second, time.Millisecond)
	s.Stop()

	// 15 bytes per MethodEntry frame
	assert.Equal(t, 25*15, w.Len())
	assert.EqualValues(t, 25*15, stats.bytes.Load())
	assert.NotZero(t, stats.buffers.Load())
	assert.True(t, w.Closed())
	assert.False(t, s.Failed())
}

func TestSenderFailureKeepsData(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	pool := queue.NewPool(10, 128)
	w := &sink{err: errors.New("broken pipe")}
	errs := &recordErrors{}
	s, stats := startSender(pool, w, errs)

	fill(t, pool, 1)
	require.Eventually(t, s.Failed, 5*time.Second, time.Millisecond)
	s.Stop()

	assert.Equal(t, 1, errs.Len())
	assert.EqualValues(t, 1, stats.errors.Load())
	assert.Equal(t, 1, pool.ReadableBuffers())
	b := pool.AcquireForReading(0)
	require.NotNil(t, b)
	assert.Equal(t, 15, b.Len())
}

// stalledPool returns a pool holding one full buffer of 1000 bytes.
func stalledPool(t *testing.T) *queue.Pool {
	pool := queue.NewPool(1, 1024)
	b := pool.AcquireForWriting(time.Second)
	require.NotNil(t, b)
	_, err := b.Write(bytes.Repeat([]byte{1}, 1000))
	require.NoError(t, err)
	pool.Release(b)
	return pool
}

func TestSenderStopInterruptsStalledWrite(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	client, server := net.Pipe()
	defer server.Close()
	pool := stalledPool(t)
	errs := &recordErrors{}
	s := newSender(0, pool, client, errs, &counters{})
	s.readTimeout = 10 * time.Millisecond
	s.writeTimeout = 0
	s.stopTimeout = 20 * time.Millisecond
	go s.run()
	require.Eventually(t, func() bool { return !s.Idle() }, 5*time.Second, time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop blocked behind a stalled write")
	}
	assert.True(t, s.Idle())
	assert.False(t, s.Failed())
	assert.Zero(t, errs.Len())
	assert.Equal(t, 1, pool.ReadableBuffers())
}

func TestSenderWriteTimeout(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	client, server := net.Pipe()
	defer server.Close()
	pool := stalledPool(t)
	errs := &recordErrors{}
	s := newSender(0, pool, client, errs, &counters{})
	s.readTimeout = 10 * time.Millisecond
	s.writeTimeout = 20 * time.Millisecond
	go s.run()

	require.Eventually(t, s.Failed, 5*time.Second, time.Millisecond)
	s.Stop()
	require.Equal(t, 1, errs.Len())
	assert.ErrorIs(t, errs.errs[0], os.ErrDeadlineExceeded)
	assert.Equal(t, 1, pool.ReadableBuffers())
}

func TestSenderStopIsIdempotent(t *testing.T) {
	pool := queue.NewPool(10, 128)
	w := &sink{}
	s, _ := startSender(pool, w, internal.DiscardErrors)
	s.Stop()
	s.Stop()
	assert.True(t, w.Closed())
	assert.True(t, s.Idle())
}

func TestManager(t *testing.T) {
	srv := hqtest.NewServer(t, protocol.RuntimeConfig{})
	pool := queue.NewPool(10, 128)
	m := NewManager(pool, srv.Addr(), 7, 3, 0, nil)
	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, 3, m.Len())
	assert.ErrorIs(t, m.Start(context.Background()), ErrAlreadyStarted)

	require.Eventually(t, func() bool { return len(srv.DataHellos()) == 3 }, 5*time.Second, time.Millisecond)
	for _, h := range srv.DataHellos() {
		assert.Equal(t, byte(7), h.RunID)
	}

	fill(t, pool, 40)
	require.Eventually(t, func() bool {
		return len(srv.DataMessages()) == 40
	}, 5*time.Second, time.Millisecond)
	require.Eventually(t, m.Idle, 5*time.Second, time.Millisecond)
	m.Shutdown()

	seen := map[int32]bool{}
	for _, msg := range srv.DataMessages() {
		e, ok := msg.(protocol.MethodEntry)
		require.True(t, ok)
		seen[e.Sequence] = true
	}
	assert.Len(t, seen, 40)
	st := m.Stats()
	assert.EqualValues(t, 40*15, st.BytesSent)
	assert.Zero(t, st.Errors)
	assert.Empty(t, srv.Errors())
}

func TestManagerHandshakeRejected(t *testing.T) {
	srv := hqtest.NewServer(t, protocol.RuntimeConfig{}, hqtest.WithDataReply(protocol.Error{Message: "unknown run"}))
	m := NewManager(queue.NewPool(10, 128), srv.Addr(), 1, 2, 0, nil)
	err := m.Start(context.Background())
	var herr *connect.HandshakeError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, "unknown run", herr.Remote)
	assert.Zero(t, m.Len())
	assert.True(t, m.Idle())
}

func TestManagerConnectFailure(t *testing.T) {
	srv := hqtest.NewServer(t, protocol.RuntimeConfig{})
	m := NewManager(queue.NewPool(10, 128), srv.Addr(), 1, 3, 0, nil)
	var calls int
	m.dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
		calls++
		if calls == 2 {
			return nil, errors.New("connection refused")
		}
		var d net.Dialer
		return d.DialContext(ctx, network, addr)
	}
	err := m.Start(context.Background())
	var cerr *connect.ConnectError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, 2, calls)
	assert.Zero(t, m.Len())
}

// offer writes one method entry if a buffer is free. It never fails the test,
// so it can run inside Eventually.
func offer(pool *queue.Pool) {
	b := pool.AcquireForWriting(0)
	if b == nil {
		return
	}
	b.Append(func(p []byte) ([]byte, error) {
		return protocol.AppendMessage(p, protocol.MethodEntry{SignatureID: 1, ThreadID: 1})
	})
	pool.Release(b)
}

func TestManagerAllConnectionsLost(t *testing.T) {
	srv := hqtest.NewServer(t, protocol.RuntimeConfig{})
	pool := queue.NewPool(10, 128)
	errs := &recordErrors{}
	m := NewManager(pool, srv.Addr(), 1, 2, 0, errs)
	require.NoError(t, m.Start(context.Background()))
	defer m.Shutdown()
	require.Eventually(t, func() bool { return len(srv.DataHellos()) == 2 }, 5*time.Second, time.Millisecond)
	assert.Equal(t, 2, m.Live())

	srv.DropData()
	require.Eventually(t, func() bool {
		offer(pool)
		return m.Live() == 0
	}, 5*time.Second, time.Millisecond)

	require.Eventually(t, func() bool { return errs.Count(ErrAllFailed) == 1 }, 5*time.Second, time.Millisecond)
	assert.EqualValues(t, 2, m.Stats().Errors)
	assert.True(t, m.Idle())
}
