// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package control

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DataDog/dd-coverage-go/internal"
	"github.com/DataDog/dd-coverage-go/internal/connect"
	"github.com/DataDog/dd-coverage-go/internal/log"
	"github.com/DataDog/dd-coverage-go/internal/protocol"
)

// MessageHandler reacts to the control messages HQ sends.
type MessageHandler interface {
	OnStart() error
	OnStop() error
	OnPause() error
	OnUnpause() error
	OnSuspend() error
	OnUnsuspend() error
	OnError(msg string) error
}

// ConfigurationHandler applies a Configuration message received after the
// handshake.
type ConfigurationHandler interface {
	OnConfiguration(cfg protocol.RuntimeConfig) error
}

// HeartbeatInformer provides the content of heartbeats.
type HeartbeatInformer interface {
	Mode() protocol.OperationMode
	SendQueueSize() int
}

// ConnectionLostError reports the control channel failing. The agent cannot
// go on without it.
type ConnectionLostError struct {
	Err error
}

func (e *ConnectionLostError) Error() string {
	return fmt.Sprintf("control channel lost: %v", e.Err)
}

func (e *ConnectionLostError) Unwrap() error { return e.Err }

// Controller runs the control channel: it dispatches inbound messages to a
// MessageHandler and sends heartbeats at a fixed interval.
type Controller struct {
	conn     *connect.Conn
	handler  MessageHandler
	config   ConfigurationHandler
	informer HeartbeatInformer
	errh     internal.ErrorHandler

	interval atomic.Int64 // heartbeat interval in nanoseconds

	started  atomic.Bool
	running  atomic.Bool
	stopping atomic.Bool
	stopOnce sync.Once
	done     chan struct{}
}

// NewController returns a controller for an established control connection.
// config may be nil, in which case Configuration messages are rejected.
func NewController(conn *connect.Conn, handler MessageHandler, config ConfigurationHandler, informer HeartbeatInformer, errh internal.ErrorHandler, interval time.Duration) *Controller {
	if errh == nil {
		errh = internal.DiscardErrors
	}
	c := &Controller{
		conn:     conn,
		handler:  handler,
		config:   config,
		informer: informer,
		errh:     errh,
		done:     make(chan struct{}),
	}
	c.SetHeartbeatInterval(interval)
	return c
}

// SetHeartbeatInterval changes the heartbeat interval. It takes effect after
// the next heartbeat. Intervals below one millisecond are raised to it.
func (c *Controller) SetHeartbeatInterval(d time.Duration) {
	if d < time.Millisecond {
		d = time.Millisecond
	}
	c.interval.Store(int64(d))
}

// HeartbeatInterval returns the current heartbeat interval.
func (c *Controller) HeartbeatInterval() time.Duration {
	return time.Duration(c.interval.Load())
}

// Running reports whether the loop is running.
func (c *Controller) Running() bool {
	return c.running.Load()
}

// Start launches the control loop. Only the first call has an effect.
func (c *Controller) Start() {
	if c.stopping.Load() || c.started.Swap(true) {
		return
	}
	c.running.Store(true)
	go c.run()
}

// Stop interrupts the loop, waits for it to exit and closes the connection.
// A heartbeat blocked on a peer that stopped reading is interrupted too.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		c.stopping.Store(true)
		c.conn.SetReadDeadline(time.Now())
		c.conn.SetWriteDeadline(time.Now())
		if c.started.Load() {
			<-c.done
		}
		c.conn.Close()
	})
}

// Done is closed once the loop has exited.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

func (c *Controller) run() {
	defer func() {
		c.running.Store(false)
		close(c.done)
	}()
	dec := c.conn.Decoder()
	next := time.Now()
	for !c.stopping.Load() {
		for dec.Buffered() > 0 {
			if !c.readOne(time.Now()) {
				return
			}
		}
		if now := time.Now(); !now.Before(next) {
			if err := c.sendHeartbeat(); err != nil {
				if !c.stopping.Load() {
					c.lost(err)
				}
				return
			}
			next = now.Add(c.HeartbeatInterval())
		}
		wait := time.Until(next)
		if wait < time.Millisecond {
			wait = time.Millisecond
		}
		if !c.readOne(time.Now().Add(wait)) {
			return
		}
	}
}

// readOne reads and dispatches a single message, giving up on the tag once
// deadline passes. The rest of the frame must arrive within one heartbeat
// interval; a frame left incomplete past that fails the channel, since the
// stream can no longer be resynchronized. It returns false when the loop
// must exit.
func (c *Controller) readOne(deadline time.Time) bool {
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		c.lost(err)
		return false
	}
	if c.stopping.Load() {
		return false
	}
	dec := c.conn.Decoder()
	t, err := dec.ReadType()
	if err != nil {
		if c.stopping.Load() {
			return false
		}
		if connect.IsTimeout(err) {
			return true
		}
		c.fail(err)
		return false
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(c.HeartbeatInterval())); err != nil {
		c.lost(err)
		return false
	}
	if c.stopping.Load() {
		return false
	}
	m, err := dec.ReadBody(t)
	if err != nil {
		if c.stopping.Load() {
			return false
		}
		if connect.IsTimeout(err) {
			c.errh.HandleError("control: incomplete message from HQ", err)
			return false
		}
		c.fail(err)
		return false
	}
	c.dispatch(m)
	return true
}

func (c *Controller) fail(err error) {
	var perr *protocol.ProtocolError
	if errors.As(err, &perr) {
		c.errh.HandleError("control: invalid message from HQ", err)
		return
	}
	c.lost(err)
}

func (c *Controller) lost(err error) {
	c.errh.HandleError("control: connection failed", &ConnectionLostError{Err: err})
}

func (c *Controller) dispatch(m protocol.Message) {
	log.Debug("control: received %s", m.Type())
	var err error
	switch m := m.(type) {
	case protocol.Start:
		err = c.handler.OnStart()
	case protocol.Stop:
		err = c.handler.OnStop()
	case protocol.Pause:
		err = c.handler.OnPause()
	case protocol.Unpause:
		err = c.handler.OnUnpause()
	case protocol.Suspend:
		err = c.handler.OnSuspend()
	case protocol.Unsuspend:
		err = c.handler.OnUnsuspend()
	case protocol.Error:
		err = c.handler.OnError(m.Message)
	case protocol.Configuration:
		if c.config == nil {
			err = fmt.Errorf("unexpected configuration message")
			break
		}
		err = c.config.OnConfiguration(m.Config)
	default:
		err = fmt.Errorf("unrecognized control message %s", m.Type())
	}
	if err != nil {
		c.errh.HandleError(fmt.Sprintf("control: error handling %s", m.Type()), err)
	}
}

func (c *Controller) sendHeartbeat() error {
	size := c.informer.SendQueueSize()
	if size > math.MaxUint16 {
		size = math.MaxUint16
	} else if size < 0 {
		size = 0
	}
	return c.conn.Send(protocol.Heartbeat{
		Mode:          c.informer.Mode(),
		SendQueueSize: uint16(size),
	})
}

// Send writes m on the control channel.
func (c *Controller) Send(m protocol.Message) error {
	return c.conn.Send(m)
}

// SendError tells HQ about a failure on the agent side.
func (c *Controller) SendError(msg string) error {
	return c.conn.Send(protocol.Error{Message: msg})
}

// SendDataBreak tells HQ that data transmission stops after sequence id seq.
func (c *Controller) SendDataBreak(seq int32) error {
	return c.conn.Send(protocol.DataBreak{SequenceID: seq})
}
