// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package coverage

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/DataDog/dd-coverage-go/coverage/internal"
	"github.com/DataDog/dd-coverage-go/internal/connect"
	"github.com/DataDog/dd-coverage-go/internal/hqtest"
	"github.com/DataDog/dd-coverage-go/internal/log"
	"github.com/DataDog/dd-coverage-go/internal/protocol"
	"github.com/DataDog/dd-coverage-go/internal/queue"
	"github.com/DataDog/dd-coverage-go/internal/statsdtest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestStartStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	srv := hqtest.NewServer(t, testRuntime)
	defer srv.Close()

	require.NoError(t, Start(
		WithHQAddr(srv.Host(), srv.Port()),
		WithProjectID(7),
		WithLogStartup(false),
		WithStatsd(&statsdtest.TestStatsdClient{}),
	))
	assert.IsType(t, &agent{}, internal.GetGlobalAgent())

	require.NoError(t, srv.Send(protocol.Start{}))
	require.NoError(t, WaitForStart(waitCtx(t)))
	ReportClassTransformed("pkg.A")
	AddMethodVisit("pkg.A", "a.go", "Run", "pkg.A.Run()", 1, 5)
	Mark("step", "1")
	Stop()

	assert.Equal(t, internal.NoopAgent{}, internal.GetGlobalAgent())
	assert.ErrorIs(t, WaitForStart(waitCtx(t)), internal.ErrNotStarted)
	assert.NoError(t, WaitForShutdown(waitCtx(t)))
	waitEntries(t, srv, 1)
	assert.Contains(t, srv.ControlMessages(), protocol.Message(protocol.ClassTransformed{ClassName: "pkg.A"}))
	assert.Equal(t, int32(7), srv.Hellos()[0].ProjectID)

	// the global agent discards everything once stopped
	AddMethodVisit("pkg.A", "a.go", "Run", "pkg.A.Run()", 1, 5)
	Stop()
}

func TestStartErrors(t *testing.T) {
	base := []StartOption{WithConnectTimeout(0), WithLogStartup(false), WithStatsd(&statsdtest.TestStatsdClient{})}
	opts := func(host string, port int) []StartOption {
		return append([]StartOption{WithHQAddr(host, port)}, base...)
	}
	rl := &log.RecordLogger{}
	defer log.UseLogger(rl)()

	t.Run("connect", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		addr := ln.Addr().(*net.TCPAddr)
		ln.Close()

		err = Start(opts(addr.IP.String(), addr.Port)...)
		var cerr *connect.ConnectError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, 1, cerr.Attempts)
		assert.IsType(t, internal.NoopAgent{}, internal.GetGlobalAgent())
	})

	t.Run("handshake", func(t *testing.T) {
		srv := hqtest.NewServer(t, testRuntime, hqtest.WithControlReply(protocol.Error{Message: "unknown project"}))
		err := Start(opts(srv.Host(), srv.Port())...)
		var herr *connect.HandshakeError
		require.ErrorAs(t, err, &herr)
		assert.Equal(t, "unknown project", herr.Remote)
		assert.IsType(t, internal.NoopAgent{}, internal.GetGlobalAgent())
	})

	t.Run("capacity", func(t *testing.T) {
		cfg := testRuntime
		cfg.BufferMemoryBudget = 640
		srv := hqtest.NewServer(t, cfg)
		err := Start(opts(srv.Host(), srv.Port())...)
		var qerr *queue.CapacityError
		require.ErrorAs(t, err, &qerr)
		assert.Equal(t, 640, qerr.Budget)
		assert.Empty(t, srv.DataHellos())
		assert.IsType(t, internal.NoopAgent{}, internal.GetGlobalAgent())
	})

	t.Run("data handshake", func(t *testing.T) {
		srv := hqtest.NewServer(t, testRuntime, hqtest.WithDataReply(protocol.Error{Message: "unknown run"}))
		err := Start(opts(srv.Host(), srv.Port())...)
		var herr *connect.HandshakeError
		require.ErrorAs(t, err, &herr)
		assert.Equal(t, "data", herr.Channel)
	})

	logs := rl.Logs()
	require.NotEmpty(t, logs)
	assert.Contains(t, logs[0], "Coverage agent failed to start")
}

func TestStartupLog(t *testing.T) {
	srv := hqtest.NewServer(t, testRuntime)
	rl := &log.RecordLogger{}
	defer log.UseLogger(rl)()

	require.NoError(t, Start(
		WithHQAddr(srv.Host(), srv.Port()),
		WithProjectID(9),
		WithStatsd(&statsdtest.TestStatsdClient{}),
	))
	defer Stop()

	var line string
	for _, l := range rl.Logs() {
		if strings.Contains(l, "DATADOG COVERAGE AGENT CONFIGURATION") {
			line = l
		}
	}
	require.NotEmpty(t, line)
	assert.Regexp(t, `INFO: DATADOG COVERAGE AGENT CONFIGURATION {"date":"[^"]*","os_name":"[^"]*","version":"v[^"]*","protocol_version":4,"lang":"Go","lang_version":"[^"]*","architecture":"[^"]*","hq_addr":"127\.0\.0\.1:\d+","project_id":9,"run_id":3,"debug":false,"heartbeat_interval":"20ms","buffer_memory_budget":81920,"buffers":10,"buffer_length":8192,"queue_retry_count":2,"data_senders":2,"inclusions":null,"exclusions":null,"metrics_enabled":true}`, line)
}

func TestConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		c := newConfig()
		assert.Equal(t, "localhost:8765", c.hqAddr())
		assert.Equal(t, int32(0), c.projectID)
		assert.Equal(t, 30*time.Second, c.connectTimeout)
		assert.True(t, c.logStartup)
		assert.False(t, c.debug)
		assert.Empty(t, c.dogstatsdAddr)
		assert.Equal(t, defaultShutdownPolls, c.shutdownPolls)
	})

	t.Run("env", func(t *testing.T) {
		t.Setenv("DD_COVERAGE_HQ_HOST", "hq.internal")
		t.Setenv("DD_COVERAGE_HQ_PORT", "9000")
		t.Setenv("DD_COVERAGE_PROJECT_ID", "12")
		t.Setenv("DD_COVERAGE_CONNECT_TIMEOUT", "2")
		t.Setenv("DD_COVERAGE_STARTUP_LOGS", "false")
		t.Setenv("DD_DOGSTATSD_ADDR", "localhost:8125")
		c := newConfig()
		assert.Equal(t, "hq.internal:9000", c.hqAddr())
		assert.Equal(t, int32(12), c.projectID)
		assert.Equal(t, 2*time.Second, c.connectTimeout)
		assert.False(t, c.logStartup)
		assert.Equal(t, "localhost:8125", c.dogstatsdAddr)
	})

	t.Run("options override env", func(t *testing.T) {
		t.Setenv("DD_COVERAGE_HQ_PORT", "9000")
		t.Setenv("DD_COVERAGE_PROJECT_ID", "12")
		c := newConfig(WithHQAddr("::1", 1234), WithProjectID(5), WithShutdownPolls(3), WithShutdownPolls(0))
		assert.Equal(t, "[::1]:1234", c.hqAddr())
		assert.Equal(t, int32(5), c.projectID)
		assert.Equal(t, 3, c.shutdownPolls)
	})

	t.Run("debug", func(t *testing.T) {
		defer log.SetLevel(log.LevelInfo)
		newConfig(WithDebugMode(true))
		assert.True(t, log.DebugEnabled())
	})
}
