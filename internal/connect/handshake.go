// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package connect

import (
	"fmt"
	"time"

	"github.com/DataDog/dd-coverage-go/internal/protocol"
	"github.com/DataDog/dd-coverage-go/internal/version"
)

// HandshakeTimeout bounds the wait for HQ's handshake reply.
var HandshakeTimeout = 30 * time.Second

// HandshakeError reports a rejected or malformed handshake. The connection
// must be closed by the caller.
type HandshakeError struct {
	Channel string // "control" or "data"
	// Reply is the type of the unexpected reply, if one was read.
	Reply protocol.MessageType
	// Remote holds the text of an Error reply.
	Remote string
	Err    error
}

func (e *HandshakeError) Error() string {
	switch {
	case e.Remote != "":
		return fmt.Sprintf("%s handshake rejected by HQ: %s", e.Channel, e.Remote)
	case e.Err != nil:
		return fmt.Sprintf("%s handshake failed: %v", e.Channel, e.Err)
	default:
		return fmt.Sprintf("%s handshake failed: unexpected reply %s", e.Channel, e.Reply)
	}
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// ControlHandshake says hello on a fresh control connection and returns the
// runtime configuration HQ replies with.
func ControlHandshake(c *Conn, projectID int32) (protocol.RuntimeConfig, error) {
	hello := protocol.Hello{ProtocolVersion: version.ProtocolVersion, ProjectID: projectID}
	reply, err := exchange(c, hello)
	if err != nil {
		return protocol.RuntimeConfig{}, &HandshakeError{Channel: "control", Err: err}
	}
	switch m := reply.(type) {
	case protocol.Configuration:
		return m.Config, nil
	case protocol.Error:
		return protocol.RuntimeConfig{}, &HandshakeError{Channel: "control", Reply: m.Type(), Remote: m.Message}
	default:
		return protocol.RuntimeConfig{}, &HandshakeError{Channel: "control", Reply: m.Type()}
	}
}

// DataHandshake announces a fresh data connection for the given run.
func DataHandshake(c *Conn, runID byte) error {
	reply, err := exchange(c, protocol.DataHello{RunID: runID})
	if err != nil {
		return &HandshakeError{Channel: "data", Err: err}
	}
	switch m := reply.(type) {
	case protocol.DataHelloReply:
		return nil
	case protocol.Error:
		return &HandshakeError{Channel: "data", Reply: m.Type(), Remote: m.Message}
	default:
		return &HandshakeError{Channel: "data", Reply: m.Type()}
	}
}

func exchange(c *Conn, m protocol.Message) (protocol.Message, error) {
	if err := c.Send(m); err != nil {
		return nil, err
	}
	if err := c.SetReadDeadline(time.Now().Add(HandshakeTimeout)); err != nil {
		return nil, err
	}
	defer c.SetReadDeadline(time.Time{})
	return c.Receive()
}
