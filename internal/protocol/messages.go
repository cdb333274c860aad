// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

// Package protocol implements the binary protocol spoken between the
// coverage agent and the collection server (HQ).
//
// Every frame starts with a one byte MessageType tag followed by a fixed,
// type specific body. Integers are big-endian. Strings are a big-endian
// uint16 byte length followed by that many UTF-8 bytes. Frames carry no
// length prefix, so a decoder must know every tag it may encounter.
package protocol

import "fmt"

// MessageType is the tag leading every frame.
type MessageType byte

const (
	TypeHello                MessageType = 0
	TypeConfiguration        MessageType = 1
	TypeStart                MessageType = 2
	TypeStop                 MessageType = 3
	TypePause                MessageType = 4
	TypeUnpause              MessageType = 5
	TypeSuspend              MessageType = 6
	TypeUnsuspend            MessageType = 7
	TypeHeartbeat            MessageType = 8
	TypeDataBreak            MessageType = 9
	TypeMapThreadName        MessageType = 10
	TypeMapMethodSignature   MessageType = 11
	TypeMapException         MessageType = 12
	TypeMethodEntry          MessageType = 20
	TypeMethodExit           MessageType = 21
	TypeException            MessageType = 22
	TypeExceptionBubble      MessageType = 23
	TypeDataHello            MessageType = 30
	TypeDataHelloReply       MessageType = 31
	TypeClassTransformed     MessageType = 40
	TypeClassIgnored         MessageType = 41
	TypeClassTransformFailed MessageType = 42
	TypeMarker               MessageType = 50
	TypeError                MessageType = 99
)

var typeNames = map[MessageType]string{
	TypeHello:                "Hello",
	TypeConfiguration:        "Configuration",
	TypeStart:                "Start",
	TypeStop:                 "Stop",
	TypePause:                "Pause",
	TypeUnpause:              "Unpause",
	TypeSuspend:              "Suspend",
	TypeUnsuspend:            "Unsuspend",
	TypeHeartbeat:            "Heartbeat",
	TypeDataBreak:            "DataBreak",
	TypeMapThreadName:        "MapThreadName",
	TypeMapMethodSignature:   "MapMethodSignature",
	TypeMapException:         "MapException",
	TypeMethodEntry:          "MethodEntry",
	TypeMethodExit:           "MethodExit",
	TypeException:            "Exception",
	TypeExceptionBubble:      "ExceptionBubble",
	TypeDataHello:            "DataHello",
	TypeDataHelloReply:       "DataHelloReply",
	TypeClassTransformed:     "ClassTransformed",
	TypeClassIgnored:         "ClassIgnored",
	TypeClassTransformFailed: "ClassTransformFailed",
	TypeMarker:               "Marker",
	TypeError:                "Error",
}

// String implements fmt.Stringer.
func (t MessageType) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("MessageType(%d)", byte(t))
}

// Known reports whether t is part of the message registry.
func (t MessageType) Known() bool {
	_, ok := typeNames[t]
	return ok
}

// Message is implemented by every frame of the protocol.
type Message interface {
	Type() MessageType
}

// Hello opens the control channel.
type Hello struct {
	ProtocolVersion byte
	ProjectID       int32
}

// Configuration carries the runtime parameters chosen by HQ.
type Configuration struct {
	Config RuntimeConfig
}

type (
	Start          struct{}
	Stop           struct{}
	Pause          struct{}
	Unpause        struct{}
	Suspend        struct{}
	Unsuspend      struct{}
	DataHelloReply struct{}
)

// Heartbeat reports the agent's mode and its send backlog.
type Heartbeat struct {
	Mode          OperationMode
	SendQueueSize uint16
}

// DataBreak announces the sequence id at which data transmission stopped.
type DataBreak struct {
	SequenceID int32
}

type MapThreadName struct {
	ThreadID uint16
	RelTime  int32
	Name     string
}

type MapMethodSignature struct {
	SignatureID int32
	Signature   string
}

type MapException struct {
	ExceptionID int32
	Exception   string
}

// MethodEntry records one method visit.
type MethodEntry struct {
	RelTime     int32
	Sequence    int32
	SignatureID int32
	ThreadID    uint16
}

type MethodExit struct {
	RelTime     int32
	Sequence    int32
	SignatureID int32
	Line        uint16
	ThreadID    uint16
}

type Exception struct {
	RelTime     int32
	Sequence    int32
	SignatureID int32
	ExceptionID int32
	Line        uint16
	ThreadID    uint16
}

type ExceptionBubble struct {
	RelTime     int32
	Sequence    int32
	SignatureID int32
	ExceptionID int32
	ThreadID    uint16
}

// DataHello opens a data channel for the given run.
type DataHello struct {
	RunID byte
}

type ClassTransformed struct{ ClassName string }

type ClassIgnored struct{ ClassName string }

type ClassTransformFailed struct{ ClassName string }

// Marker attaches a key/value annotation to the data stream.
type Marker struct {
	RelTime  int32
	Sequence int32
	Key      string
	Value    string
}

// Error carries a human readable failure description, in either direction.
type Error struct {
	Message string
}

func (Hello) Type() MessageType                { return TypeHello }
func (Configuration) Type() MessageType        { return TypeConfiguration }
func (Start) Type() MessageType                { return TypeStart }
func (Stop) Type() MessageType                 { return TypeStop }
func (Pause) Type() MessageType                { return TypePause }
func (Unpause) Type() MessageType              { return TypeUnpause }
func (Suspend) Type() MessageType              { return TypeSuspend }
func (Unsuspend) Type() MessageType            { return TypeUnsuspend }
func (Heartbeat) Type() MessageType            { return TypeHeartbeat }
func (DataBreak) Type() MessageType            { return TypeDataBreak }
func (MapThreadName) Type() MessageType        { return TypeMapThreadName }
func (MapMethodSignature) Type() MessageType   { return TypeMapMethodSignature }
func (MapException) Type() MessageType         { return TypeMapException }
func (MethodEntry) Type() MessageType          { return TypeMethodEntry }
func (MethodExit) Type() MessageType           { return TypeMethodExit }
func (Exception) Type() MessageType            { return TypeException }
func (ExceptionBubble) Type() MessageType      { return TypeExceptionBubble }
func (DataHello) Type() MessageType            { return TypeDataHello }
func (DataHelloReply) Type() MessageType       { return TypeDataHelloReply }
func (ClassTransformed) Type() MessageType     { return TypeClassTransformed }
func (ClassIgnored) Type() MessageType         { return TypeClassIgnored }
func (ClassTransformFailed) Type() MessageType { return TypeClassTransformFailed }
func (Marker) Type() MessageType               { return TypeMarker }
func (Error) Type() MessageType                { return TypeError }
