// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package control

import (
	"sync"
	"testing"

	"github.com/DataDog/dd-coverage-go/internal/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transition struct {
	old, new protocol.OperationMode
}

type recordingListener struct {
	mu   sync.Mutex
	name string
	seen []transition
	log  *[]string
}

func (l *recordingListener) OnModeChange(old, new protocol.OperationMode) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen = append(l.seen, transition{old, new})
	if l.log != nil {
		*l.log = append(*l.log, l.name)
	}
}

func (l *recordingListener) transitions() []transition {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]transition(nil), l.seen...)
}

const (
	initializing = protocol.ModeInitializing
	tracing      = protocol.ModeTracing
	paused       = protocol.ModePaused
	suspended    = protocol.ModeSuspended
	shutdown     = protocol.ModeShutdown
)

func TestStartPauseUnpauseStop(t *testing.T) {
	l := &recordingListener{}
	s := NewStateManager(l)
	assert.Equal(t, initializing, s.Mode())

	require.NoError(t, s.OnStart())
	require.NoError(t, s.OnPause())
	require.NoError(t, s.OnUnpause())
	require.NoError(t, s.OnStop())

	assert.Equal(t, []transition{
		{initializing, tracing},
		{tracing, paused},
		{paused, tracing},
		{tracing, shutdown},
	}, l.transitions())
	assert.Equal(t, shutdown, s.Mode())
}

func TestStartSuspended(t *testing.T) {
	t.Run("suspend", func(t *testing.T) {
		l := &recordingListener{}
		s := NewStateManager(l)
		require.NoError(t, s.OnSuspend())
		assert.Equal(t, initializing, s.Mode())
		assert.Empty(t, l.transitions())

		require.NoError(t, s.OnStart())
		assert.Equal(t, suspended, s.Mode())
		require.NoError(t, s.OnUnsuspend())
		assert.Equal(t, []transition{{initializing, suspended}, {suspended, tracing}}, l.transitions())
	})

	t.Run("suspend then unsuspend", func(t *testing.T) {
		s := NewStateManager()
		require.NoError(t, s.OnSuspend())
		require.NoError(t, s.OnUnsuspend())
		require.NoError(t, s.OnStart())
		assert.Equal(t, tracing, s.Mode())
	})
}

func TestOnlyFirstStartCounts(t *testing.T) {
	l := &recordingListener{}
	s := NewStateManager(l)
	require.NoError(t, s.OnStart())
	require.NoError(t, s.OnPause())

	err := s.OnStart()
	var serr *StateError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, paused, s.Mode())
	assert.Len(t, l.transitions(), 2)
}

func TestInvalidTransitions(t *testing.T) {
	for name, tc := range map[string]struct {
		setup func(s *StateManager)
		msg   func(s *StateManager) error
		mode  protocol.OperationMode
	}{
		"pause while initializing": {
			setup: func(s *StateManager) {},
			msg:   (*StateManager).OnPause,
			mode:  initializing,
		},
		"pause while suspended": {
			setup: func(s *StateManager) { s.OnStart(); s.OnSuspend() },
			msg:   (*StateManager).OnPause,
			mode:  suspended,
		},
		"unpause while tracing": {
			setup: func(s *StateManager) { s.OnStart() },
			msg:   (*StateManager).OnUnpause,
			mode:  tracing,
		},
		"suspend while paused": {
			setup: func(s *StateManager) { s.OnStart(); s.OnPause() },
			msg:   (*StateManager).OnSuspend,
			mode:  paused,
		},
		"unsuspend while tracing": {
			setup: func(s *StateManager) { s.OnStart() },
			msg:   (*StateManager).OnUnsuspend,
			mode:  tracing,
		},
		"pause after shutdown": {
			setup: func(s *StateManager) { s.OnStop() },
			msg:   (*StateManager).OnPause,
			mode:  shutdown,
		},
	} {
		t.Run(name, func(t *testing.T) {
			s := NewStateManager()
			tc.setup(s)
			l := &recordingListener{}
			s.listeners = []Listener{l}

			err := tc.msg(s)
			var serr *StateError
			require.ErrorAs(t, err, &serr)
			assert.Equal(t, tc.mode, serr.Mode)
			assert.Equal(t, tc.mode, s.Mode())
			assert.Empty(t, l.transitions())
		})
	}
}

func TestShutdownIsAbsorbing(t *testing.T) {
	for _, mode := range []string{"initializing", "tracing", "paused", "suspended"} {
		t.Run(mode, func(t *testing.T) {
			l := &recordingListener{}
			s := NewStateManager(l)
			switch mode {
			case "tracing":
				s.OnStart()
			case "paused":
				s.OnStart()
				s.OnPause()
			case "suspended":
				s.OnStart()
				s.OnSuspend()
			}
			before := len(l.transitions())
			require.NoError(t, s.OnStop())
			assert.Equal(t, shutdown, s.Mode())
			assert.Len(t, l.transitions(), before+1)

			// nothing moves the agent out of Shutdown, and no one is notified
			assert.NoError(t, s.OnStart())
			assert.NoError(t, s.OnUnpause())
			assert.NoError(t, s.OnUnsuspend())
			assert.NoError(t, s.OnStop())
			s.TriggerShutdown()
			s.OnSuspend()
			s.OnPause()
			assert.Equal(t, shutdown, s.Mode())
			assert.Len(t, l.transitions(), before+1)
		})
	}
}

func TestListenerOrder(t *testing.T) {
	var order []string
	a := &recordingListener{name: "a", log: &order}
	b := &recordingListener{name: "b", log: &order}
	c := &recordingListener{name: "c", log: &order}
	s := NewStateManager(a, b, c)
	s.OnStart()
	s.OnStop()
	assert.Equal(t, []string{"a", "b", "c", "a", "b", "c"}, order)
}

func TestListenerSeesNewMode(t *testing.T) {
	var s *StateManager
	var observed []protocol.OperationMode
	s = NewStateManager(ListenerFunc(func(old, new protocol.OperationMode) {
		observed = append(observed, s.Mode())
	}))
	s.OnStart()
	s.OnPause()
	assert.Equal(t, []protocol.OperationMode{tracing, paused}, observed)
}

func TestOnError(t *testing.T) {
	s := NewStateManager()
	err := s.OnError("disk full")
	var rerr *RemoteError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "received error from HQ: disk full", err.Error())
	assert.Equal(t, initializing, s.Mode())
}

func TestStateErrorMessage(t *testing.T) {
	s := NewStateManager()
	err := s.OnPause()
	assert.Equal(t, "Pause control message is only valid when tracing (current mode: Initializing)", err.Error())
}
