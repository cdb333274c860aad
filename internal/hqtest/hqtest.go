// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

// Package hqtest provides an in-process collection server speaking the
// agent protocol over loopback TCP, for use in tests.
package hqtest

import (
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/DataDog/dd-coverage-go/internal/protocol"
)

// Option customizes a Server.
type Option func(*Server)

// WithControlReply makes the server answer the control Hello with m instead
// of the configuration.
func WithControlReply(m protocol.Message) Option {
	return func(s *Server) { s.controlReply = m }
}

// WithDataReply makes the server answer every DataHello with m instead of
// DataHelloReply.
func WithDataReply(m protocol.Message) Option {
	return func(s *Server) { s.dataReply = m }
}

// Server is a fake HQ. The first frame of each accepted connection decides
// its role: Hello opens the control channel, DataHello a data channel.
type Server struct {
	t            testing.TB
	ln           net.Listener
	config       protocol.RuntimeConfig
	controlReply protocol.Message
	dataReply    protocol.Message

	mu          sync.Mutex // guards below
	conns       []net.Conn
	control     net.Conn
	data        []net.Conn
	hellos      []protocol.Hello
	heartbeats  []protocol.Heartbeat
	controlMsgs []protocol.Message
	dataMsgs    []protocol.Message
	dataHellos  []protocol.DataHello
	errs        []error
	closed      bool

	controlReady chan struct{}
	wg           sync.WaitGroup
}

// NewServer starts a server handing out cfg. It is closed when the test ends.
func NewServer(t testing.TB, cfg protocol.RuntimeConfig, opts ...Option) *Server {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("hqtest: listen: %v", err)
	}
	s := &Server{
		t:            t,
		ln:           ln,
		config:       cfg,
		controlReady: make(chan struct{}),
	}
	for _, fn := range opts {
		fn(s)
	}
	s.wg.Add(1)
	go s.accept()
	t.Cleanup(s.Close)
	return s
}

// Addr returns the host:port the server listens on.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Host returns the host the server listens on.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr())
	return host
}

// Port returns the port the server listens on.
func (s *Server) Port() int { return s.ln.Addr().(*net.TCPAddr).Port }

func (s *Server) accept() {
	defer s.wg.Done()
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			c.Close()
			return
		}
		s.conns = append(s.conns, c)
		s.wg.Add(1)
		s.mu.Unlock()
		go s.serve(c)
	}
}

func (s *Server) serve(c net.Conn) {
	defer s.wg.Done()
	dec := protocol.NewDecoder(c)
	first, err := dec.Decode()
	if err != nil {
		s.fail(err)
		return
	}
	switch m := first.(type) {
	case protocol.Hello:
		s.serveControl(c, dec, m)
	case protocol.DataHello:
		s.serveData(c, dec, m)
	default:
		s.fail(errors.New("hqtest: unexpected opening frame " + m.Type().String()))
	}
}

func (s *Server) serveControl(c net.Conn, dec *protocol.Decoder, hello protocol.Hello) {
	s.mu.Lock()
	s.hellos = append(s.hellos, hello)
	s.mu.Unlock()
	reply := s.controlReply
	if reply == nil {
		reply = protocol.Configuration{Config: s.config}
	}
	if err := protocol.Encode(c, reply); err != nil {
		s.fail(err)
		return
	}
	if _, ok := reply.(protocol.Configuration); !ok {
		return
	}
	s.mu.Lock()
	if s.control == nil {
		s.control = c
		close(s.controlReady)
	}
	s.mu.Unlock()
	for {
		m, err := dec.Decode()
		if err != nil {
			s.fail(err)
			return
		}
		s.mu.Lock()
		if hb, ok := m.(protocol.Heartbeat); ok {
			s.heartbeats = append(s.heartbeats, hb)
		} else {
			s.controlMsgs = append(s.controlMsgs, m)
		}
		s.mu.Unlock()
	}
}

func (s *Server) serveData(c net.Conn, dec *protocol.Decoder, hello protocol.DataHello) {
	s.mu.Lock()
	s.dataHellos = append(s.dataHellos, hello)
	s.data = append(s.data, c)
	s.mu.Unlock()
	reply := s.dataReply
	if reply == nil {
		reply = protocol.DataHelloReply{}
	}
	if err := protocol.Encode(c, reply); err != nil {
		s.fail(err)
		return
	}
	for {
		m, err := dec.Decode()
		if err != nil {
			s.fail(err)
			return
		}
		s.mu.Lock()
		s.dataMsgs = append(s.dataMsgs, m)
		s.mu.Unlock()
	}
}

func (s *Server) fail(err error) {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.errs = append(s.errs, err)
	}
}

// WaitControl blocks until a control channel completed its handshake.
func (s *Server) WaitControl(timeout time.Duration) bool {
	select {
	case <-s.controlReady:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Send writes m on the control channel.
func (s *Server) Send(m protocol.Message) error {
	if !s.WaitControl(5 * time.Second) {
		return errors.New("hqtest: no control connection")
	}
	s.mu.Lock()
	c := s.control
	s.mu.Unlock()
	return protocol.Encode(c, m)
}

// SendRaw writes b on the control channel, unframed.
func (s *Server) SendRaw(b []byte) error {
	if !s.WaitControl(5 * time.Second) {
		return errors.New("hqtest: no control connection")
	}
	s.mu.Lock()
	c := s.control
	s.mu.Unlock()
	_, err := c.Write(b)
	return err
}

// DropControl closes the control channel from the server side.
func (s *Server) DropControl() {
	s.mu.Lock()
	c := s.control
	s.mu.Unlock()
	if c != nil {
		c.Close()
	}
}

// DropData closes every data channel from the server side.
func (s *Server) DropData() {
	s.mu.Lock()
	conns := append([]net.Conn(nil), s.data...)
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

// Hellos returns the control hellos received so far.
func (s *Server) Hellos() []protocol.Hello {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Hello(nil), s.hellos...)
}

// DataHellos returns the data hellos received so far.
func (s *Server) DataHellos() []protocol.DataHello {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.DataHello(nil), s.dataHellos...)
}

// Heartbeats returns the heartbeats received so far.
func (s *Server) Heartbeats() []protocol.Heartbeat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Heartbeat(nil), s.heartbeats...)
}

// ControlMessages returns every non-heartbeat frame received on the control
// channel after the handshake.
func (s *Server) ControlMessages() []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Message(nil), s.controlMsgs...)
}

// DataMessages returns every frame received on data channels, in arrival
// order per connection.
func (s *Server) DataMessages() []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Message(nil), s.dataMsgs...)
}

// Errors returns the decoding failures the server ran into.
func (s *Server) Errors() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errs...)
}

// Close stops the server and closes every connection it accepted.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conns := s.conns
	s.mu.Unlock()
	s.ln.Close()
	for _, c := range conns {
		c.Close()
	}
	s.wg.Wait()
}
