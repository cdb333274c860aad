// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

// Package connect establishes the agent's connections to HQ: TCP dialing
// with retries and the control and data handshakes.
package connect

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/DataDog/dd-coverage-go/internal/protocol"
)

// Conn is a protocol connection. Writes are serialized; reads are meant for
// a single goroutine.
type Conn struct {
	nc  net.Conn
	dec *protocol.Decoder

	wmu sync.Mutex // serializes writes so frames never interleave
	buf []byte

	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps nc.
func NewConn(nc net.Conn) *Conn {
	return &Conn{
		nc:  nc,
		dec: protocol.NewDecoder(nc),
	}
}

// Decoder returns the decoder reading from the connection.
func (c *Conn) Decoder() *protocol.Decoder { return c.dec }

// Receive reads the next frame.
func (c *Conn) Receive() (protocol.Message, error) {
	return c.dec.Decode()
}

// Send encodes msgs and writes them with a single Write call.
func (c *Conn) Send(msgs ...protocol.Message) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	b := c.buf[:0]
	for _, m := range msgs {
		var err error
		if b, err = protocol.AppendMessage(b, m); err != nil {
			return err
		}
	}
	c.buf = b
	_, err := c.nc.Write(b)
	return err
}

// Write writes already encoded frames.
func (c *Conn) Write(p []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.nc.Write(p)
}

// SetReadDeadline sets the deadline for pending and future reads.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.nc.SetReadDeadline(t)
}

// SetWriteDeadline sets the deadline for pending and future writes.
func (c *Conn) SetWriteDeadline(t time.Time) error {
	return c.nc.SetWriteDeadline(t)
}

// RemoteAddr returns the address of HQ.
func (c *Conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

// Close closes the connection. It is safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() { c.closeErr = c.nc.Close() })
	return c.closeErr
}

// IsTimeout reports whether err is a network timeout.
func IsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
