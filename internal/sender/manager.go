// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package sender

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/DataDog/dd-coverage-go/internal"
	"github.com/DataDog/dd-coverage-go/internal/connect"
	"github.com/DataDog/dd-coverage-go/internal/log"
	"github.com/DataDog/dd-coverage-go/internal/queue"
)

var (
	// ErrAlreadyStarted is returned by Start when the senders are running.
	ErrAlreadyStarted = errors.New("sender: manager already started")

	// ErrAllFailed is reported to the error handler once every data
	// connection has failed. Nothing is sent to HQ after that.
	ErrAllFailed = errors.New("sender: every data connection failed")
)

// Manager owns the data connections and the senders draining the pool onto
// them.
type Manager struct {
	pool   *queue.Pool
	addr   string
	runID  byte
	n      int
	window time.Duration
	errh   internal.ErrorHandler
	dial   connect.DialFunc
	stats  counters

	mu      sync.Mutex // guards below
	senders []*Sender
	live    int
}

// NewManager returns a manager that will open n data connections to addr for
// the given run, retrying each dial for up to window.
func NewManager(pool *queue.Pool, addr string, runID byte, n int, window time.Duration, errh internal.ErrorHandler) *Manager {
	if n < 1 {
		n = 1
	}
	if errh == nil {
		errh = internal.DiscardErrors
	}
	return &Manager{
		pool:   pool,
		addr:   addr,
		runID:  runID,
		n:      n,
		window: window,
		errh:   errh,
	}
}

// Start opens every data connection and launches one sender per
// connection. If any connection fails to open or handshake, the ones
// already opened are closed and the error is returned.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.senders != nil {
		return ErrAlreadyStarted
	}
	conns := make([]*connect.Conn, 0, m.n)
	closeAll := func() {
		for _, c := range conns {
			c.Close()
		}
	}
	for i := 0; i < m.n; i++ {
		c, err := m.connect(ctx)
		if err != nil {
			closeAll()
			return fmt.Errorf("data connection %d: %w", i, err)
		}
		conns = append(conns, c)
	}
	m.senders = make([]*Sender, len(conns))
	for i, c := range conns {
		s := newSender(i, m.pool, c, m.errh, &m.stats)
		s.onFail = m.senderFailed
		m.senders[i] = s
	}
	m.live = len(m.senders)
	for _, s := range m.senders {
		go s.run()
	}
	log.Debug("sender: started %d sender(s) to %s", len(conns), m.addr)
	return nil
}

func (m *Manager) connect(ctx context.Context) (*connect.Conn, error) {
	var (
		c   *connect.Conn
		err error
	)
	if m.dial != nil {
		c, err = connect.DialWith(ctx, m.dial, m.addr, m.window)
	} else {
		c, err = connect.Dial(ctx, m.addr, m.window)
	}
	if err != nil {
		return nil, err
	}
	if err := connect.DataHandshake(c, m.runID); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (m *Manager) senderFailed(s *Sender) {
	m.mu.Lock()
	m.live--
	live := m.live
	m.mu.Unlock()
	if live > 0 {
		log.Warn("sender: data connection %d lost, %d left", s.id, live)
		return
	}
	m.errh.HandleError("sender: no data connection left", ErrAllFailed)
}

// Live returns the number of senders that have not failed.
func (m *Manager) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live
}

// Idle reports whether no sender holds a buffer. Failed senders hold none.
func (m *Manager) Idle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.senders {
		if !s.Idle() {
			return false
		}
	}
	return true
}

// Len returns the number of senders.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.senders)
}

// Shutdown stops every sender and closes the data connections.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	senders := m.senders
	m.mu.Unlock()
	var wg sync.WaitGroup
	for _, s := range senders {
		wg.Add(1)
		go func(s *Sender) {
			defer wg.Done()
			s.Stop()
		}(s)
	}
	wg.Wait()
}

// Stats returns the counters accumulated by every sender.
func (m *Manager) Stats() Stats {
	return m.stats.snapshot()
}
