// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

// Package control drives the agent from HQ's control channel: the operation
// mode state machine and the loop reading control messages and sending
// heartbeats.
package control

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/DataDog/dd-coverage-go/internal/log"
	"github.com/DataDog/dd-coverage-go/internal/protocol"
)

// StateError reports a control message that is not valid in the current
// mode. It is never fatal.
type StateError struct {
	Message protocol.MessageType
	Mode    protocol.OperationMode
	Reason  string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s control message is only valid %s (current mode: %s)", e.Message, e.Reason, e.Mode)
}

// RemoteError carries an Error message sent by HQ.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "received error from HQ: " + e.Message
}

// Listener is notified of every mode transition.
type Listener interface {
	OnModeChange(old, new protocol.OperationMode)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(old, new protocol.OperationMode)

// OnModeChange calls f(old, new).
func (f ListenerFunc) OnModeChange(old, new protocol.OperationMode) { f(old, new) }

// StateManager holds the operation mode of an agent. Transitions are
// serialized and each one notifies the listeners, in order, before the next
// transition may start.
type StateManager struct {
	mode atomic.Int32

	mu             sync.Mutex // held across a transition and its notifications
	listeners      []Listener
	startSuspended bool
}

// NewStateManager returns a manager in the Initializing mode notifying the
// given listeners.
func NewStateManager(listeners ...Listener) *StateManager {
	return &StateManager{listeners: listeners}
}

// Mode returns the current operation mode.
func (s *StateManager) Mode() protocol.OperationMode {
	return protocol.OperationMode(s.mode.Load())
}

// TriggerShutdown moves to Shutdown from any mode.
func (s *StateManager) TriggerShutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transition(protocol.ModeShutdown)
}

// transition must be called with s.mu held.
func (s *StateManager) transition(mode protocol.OperationMode) {
	old := s.Mode()
	if old == protocol.ModeShutdown {
		return
	}
	s.mode.Store(int32(mode))
	log.Debug("control: mode %s -> %s", old, mode)
	for _, l := range s.listeners {
		l.OnModeChange(old, mode)
	}
}

// OnStart starts tracing, or starts suspended if a Suspend was received while
// initializing.
func (s *StateManager) OnStart() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.Mode() {
	case protocol.ModeInitializing:
		if s.startSuspended {
			s.transition(protocol.ModeSuspended)
		} else {
			s.transition(protocol.ModeTracing)
		}
		return nil
	case protocol.ModeShutdown:
		return nil
	}
	return &StateError{Message: protocol.TypeStart, Mode: s.Mode(), Reason: "when initializing"}
}

// OnStop shuts down from any mode.
func (s *StateManager) OnStop() error {
	s.TriggerShutdown()
	return nil
}

// OnPause pauses tracing.
func (s *StateManager) OnPause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Mode() != protocol.ModeTracing {
		return &StateError{Message: protocol.TypePause, Mode: s.Mode(), Reason: "when tracing"}
	}
	s.transition(protocol.ModePaused)
	return nil
}

// OnUnpause resumes tracing after a pause.
func (s *StateManager) OnUnpause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.Mode() {
	case protocol.ModePaused:
		s.transition(protocol.ModeTracing)
		return nil
	case protocol.ModeShutdown:
		return nil
	}
	return &StateError{Message: protocol.TypeUnpause, Mode: s.Mode(), Reason: "when paused"}
}

// OnSuspend suspends tracing, or arranges for tracing to start suspended.
func (s *StateManager) OnSuspend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.Mode() {
	case protocol.ModeInitializing:
		s.startSuspended = true
		return nil
	case protocol.ModeTracing:
		s.transition(protocol.ModeSuspended)
		return nil
	}
	return &StateError{Message: protocol.TypeSuspend, Mode: s.Mode(), Reason: "when tracing or initializing"}
}

// OnUnsuspend resumes tracing after a suspension, or cancels an earlier
// Suspend received while initializing.
func (s *StateManager) OnUnsuspend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.Mode() {
	case protocol.ModeInitializing:
		s.startSuspended = false
		return nil
	case protocol.ModeSuspended:
		s.transition(protocol.ModeTracing)
		return nil
	case protocol.ModeShutdown:
		return nil
	}
	return &StateError{Message: protocol.TypeUnsuspend, Mode: s.Mode(), Reason: "when suspended or initializing"}
}

// OnError reports an error sent by HQ. It does not change the mode.
func (s *StateManager) OnError(msg string) error {
	return &RemoteError{Message: msg}
}
