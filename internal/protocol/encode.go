// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"unicode/utf8"
)

// encoder appends big-endian fields to a byte slice, remembering the first
// failure.
type encoder struct {
	b   []byte
	err error
}

func (e *encoder) u8(v byte)    { e.b = append(e.b, v) }
func (e *encoder) u16(v uint16) { e.b = binary.BigEndian.AppendUint16(e.b, v) }
func (e *encoder) i32(v int32)  { e.b = binary.BigEndian.AppendUint32(e.b, uint32(v)) }

func (e *encoder) str(s string) {
	if len(s) > math.MaxUint16 {
		if e.err == nil {
			e.err = ErrStringTooLong
		}
		return
	}
	if !utf8.ValidString(s) {
		if e.err == nil {
			e.err = ErrInvalidUTF8
		}
		return
	}
	e.u16(uint16(len(s)))
	e.b = append(e.b, s...)
}

// AppendMessage appends the frame for m to b and returns the extended slice.
// On error b is returned unchanged.
func AppendMessage(b []byte, m Message) ([]byte, error) {
	e := encoder{b: append(b, byte(m.Type()))}
	switch m := m.(type) {
	case Hello:
		e.u8(m.ProtocolVersion)
		e.i32(m.ProjectID)
	case Configuration:
		doc, err := json.Marshal(m.Config)
		if err != nil {
			return b, &ProtocolError{Op: "encode", Type: m.Type(), Err: err}
		}
		e.str(string(doc))
	case Start, Stop, Pause, Unpause, Suspend, Unsuspend, DataHelloReply:
		// tag only
	case Heartbeat:
		mb, ok := m.Mode.heartbeatByte()
		if !ok {
			return b, &ProtocolError{Op: "encode", Type: m.Type(), Err: fmt.Errorf("invalid operation mode %v", m.Mode)}
		}
		e.u8(mb)
		e.u16(m.SendQueueSize)
	case DataBreak:
		e.i32(m.SequenceID)
	case MapThreadName:
		e.u16(m.ThreadID)
		e.i32(m.RelTime)
		e.str(m.Name)
	case MapMethodSignature:
		e.i32(m.SignatureID)
		e.str(m.Signature)
	case MapException:
		e.i32(m.ExceptionID)
		e.str(m.Exception)
	case MethodEntry:
		e.i32(m.RelTime)
		e.i32(m.Sequence)
		e.i32(m.SignatureID)
		e.u16(m.ThreadID)
	case MethodExit:
		e.i32(m.RelTime)
		e.i32(m.Sequence)
		e.i32(m.SignatureID)
		e.u16(m.Line)
		e.u16(m.ThreadID)
	case Exception:
		e.i32(m.RelTime)
		e.i32(m.Sequence)
		e.i32(m.SignatureID)
		e.i32(m.ExceptionID)
		e.u16(m.Line)
		e.u16(m.ThreadID)
	case ExceptionBubble:
		e.i32(m.RelTime)
		e.i32(m.Sequence)
		e.i32(m.SignatureID)
		e.i32(m.ExceptionID)
		e.u16(m.ThreadID)
	case DataHello:
		e.u8(m.RunID)
	case ClassTransformed:
		e.str(m.ClassName)
	case ClassIgnored:
		e.str(m.ClassName)
	case ClassTransformFailed:
		e.str(m.ClassName)
	case Marker:
		e.i32(m.RelTime)
		e.i32(m.Sequence)
		e.str(m.Key)
		e.str(m.Value)
	case Error:
		e.str(m.Message)
	default:
		return b, &ProtocolError{Op: "encode", Type: m.Type(), Err: ErrUnknownType}
	}
	if e.err != nil {
		return b, &ProtocolError{Op: "encode", Type: m.Type(), Err: e.err}
	}
	return e.b, nil
}

// Encode writes the frame for m to w in a single Write call.
func Encode(w io.Writer, m Message) error {
	b, err := AppendMessage(nil, m)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}
