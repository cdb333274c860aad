// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package protocol

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// Decoder reads frames from a byte stream.
type Decoder struct {
	r       *bufio.Reader
	scratch [4]byte
	readErr error
}

// NewDecoder returns a Decoder reading from r. If r is already a
// *bufio.Reader it is used as is.
func NewDecoder(r io.Reader) *Decoder {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &Decoder{r: br}
}

// Buffered returns the number of bytes that can be read without touching the
// underlying reader.
func (d *Decoder) Buffered() int {
	return d.r.Buffered()
}

// Decode reads one complete frame.
func (d *Decoder) Decode() (Message, error) {
	t, err := d.ReadType()
	if err != nil {
		return nil, err
	}
	return d.ReadBody(t)
}

// ReadType reads the tag of the next frame. It returns io.EOF if the stream
// ends cleanly before a tag, and a *ProtocolError if the tag is unknown.
// Other read errors, including timeouts, are returned unchanged and leave the
// stream positioned at a frame boundary.
func (d *Decoder) ReadType() (MessageType, error) {
	b, err := d.r.ReadByte()
	if err != nil {
		return 0, err
	}
	t := MessageType(b)
	if !t.Known() {
		return t, &ProtocolError{Op: "decode", Type: t, Err: ErrUnknownType}
	}
	return t, nil
}

// ReadBody reads the body of a frame whose tag t was returned by ReadType.
// Any failure is reported as a *ProtocolError, since the stream is no longer
// positioned at a frame boundary.
func (d *Decoder) ReadBody(t MessageType) (Message, error) {
	m, err := d.readBody(t)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		var perr *ProtocolError
		if errors.As(err, &perr) {
			return nil, err
		}
		return nil, &ProtocolError{Op: "decode", Type: t, Err: err}
	}
	return m, nil
}

func (d *Decoder) readBody(t MessageType) (Message, error) {
	switch t {
	case TypeHello:
		var m Hello
		m.ProtocolVersion = d.u8()
		m.ProjectID = d.i32()
		return m, d.err()
	case TypeConfiguration:
		doc := d.str()
		if err := d.err(); err != nil {
			return nil, err
		}
		var m Configuration
		if err := json.Unmarshal([]byte(doc), &m.Config); err != nil {
			return nil, fmt.Errorf("invalid configuration document: %w", err)
		}
		return m, nil
	case TypeStart:
		return Start{}, nil
	case TypeStop:
		return Stop{}, nil
	case TypePause:
		return Pause{}, nil
	case TypeUnpause:
		return Unpause{}, nil
	case TypeSuspend:
		return Suspend{}, nil
	case TypeUnsuspend:
		return Unsuspend{}, nil
	case TypeDataHelloReply:
		return DataHelloReply{}, nil
	case TypeHeartbeat:
		mb := d.u8()
		size := d.u16()
		if err := d.err(); err != nil {
			return nil, err
		}
		mode, ok := modeFromHeartbeatByte(mb)
		if !ok {
			return nil, fmt.Errorf("invalid operation mode byte %d", mb)
		}
		return Heartbeat{Mode: mode, SendQueueSize: size}, nil
	case TypeDataBreak:
		m := DataBreak{SequenceID: d.i32()}
		return m, d.err()
	case TypeMapThreadName:
		var m MapThreadName
		m.ThreadID = d.u16()
		m.RelTime = d.i32()
		m.Name = d.str()
		return m, d.err()
	case TypeMapMethodSignature:
		var m MapMethodSignature
		m.SignatureID = d.i32()
		m.Signature = d.str()
		return m, d.err()
	case TypeMapException:
		var m MapException
		m.ExceptionID = d.i32()
		m.Exception = d.str()
		return m, d.err()
	case TypeMethodEntry:
		var m MethodEntry
		m.RelTime = d.i32()
		m.Sequence = d.i32()
		m.SignatureID = d.i32()
		m.ThreadID = d.u16()
		return m, d.err()
	case TypeMethodExit:
		var m MethodExit
		m.RelTime = d.i32()
		m.Sequence = d.i32()
		m.SignatureID = d.i32()
		m.Line = d.u16()
		m.ThreadID = d.u16()
		return m, d.err()
	case TypeException:
		var m Exception
		m.RelTime = d.i32()
		m.Sequence = d.i32()
		m.SignatureID = d.i32()
		m.ExceptionID = d.i32()
		m.Line = d.u16()
		m.ThreadID = d.u16()
		return m, d.err()
	case TypeExceptionBubble:
		var m ExceptionBubble
		m.RelTime = d.i32()
		m.Sequence = d.i32()
		m.SignatureID = d.i32()
		m.ExceptionID = d.i32()
		m.ThreadID = d.u16()
		return m, d.err()
	case TypeDataHello:
		m := DataHello{RunID: d.u8()}
		return m, d.err()
	case TypeClassTransformed:
		m := ClassTransformed{ClassName: d.str()}
		return m, d.err()
	case TypeClassIgnored:
		m := ClassIgnored{ClassName: d.str()}
		return m, d.err()
	case TypeClassTransformFailed:
		m := ClassTransformFailed{ClassName: d.str()}
		return m, d.err()
	case TypeMarker:
		var m Marker
		m.RelTime = d.i32()
		m.Sequence = d.i32()
		m.Key = d.str()
		m.Value = d.str()
		return m, d.err()
	case TypeError:
		m := Error{Message: d.str()}
		return m, d.err()
	}
	return nil, &ProtocolError{Op: "decode", Type: t, Err: ErrUnknownType}
}

// The field readers below record the first failure in readErr and turn every
// later read into a no-op.

func (d *Decoder) fill(n int) []byte {
	if d.readErr != nil {
		return nil
	}
	if _, err := io.ReadFull(d.r, d.scratch[:n]); err != nil {
		d.readErr = err
		return nil
	}
	return d.scratch[:n]
}

func (d *Decoder) u8() byte {
	if b := d.fill(1); b != nil {
		return b[0]
	}
	return 0
}

func (d *Decoder) u16() uint16 {
	if b := d.fill(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (d *Decoder) i32() int32 {
	if b := d.fill(4); b != nil {
		return int32(binary.BigEndian.Uint32(b))
	}
	return 0
}

func (d *Decoder) str() string {
	n := d.u16()
	if d.readErr != nil || n == 0 {
		return ""
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		d.readErr = err
		return ""
	}
	if !utf8.Valid(buf) {
		// the frame was consumed whole, so the stream stays aligned
		d.readErr = ErrInvalidUTF8
		return ""
	}
	return string(buf)
}

// err returns and clears the pending field read error.
func (d *Decoder) err() error {
	err := d.readErr
	d.readErr = nil
	return err
}
