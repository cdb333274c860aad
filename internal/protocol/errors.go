// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package protocol

import (
	"errors"
	"fmt"
)

// ErrUnknownType is wrapped by a ProtocolError when a frame tag is not in the
// registry.
var ErrUnknownType = errors.New("unknown message type")

// ErrStringTooLong is wrapped by a ProtocolError when a string does not fit in
// a 16-bit length prefix.
var ErrStringTooLong = errors.New("string exceeds 65535 bytes")

// ErrInvalidUTF8 is wrapped by a ProtocolError when a string is not valid
// UTF-8.
var ErrInvalidUTF8 = errors.New("string is not valid UTF-8")

// ProtocolError reports a frame that could not be encoded or decoded. A
// connection that produced one is no longer usable.
type ProtocolError struct {
	Op   string // "encode" or "decode"
	Type MessageType
	Err  error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol: %s %s: %v", e.Op, e.Type, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }
