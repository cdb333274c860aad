// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package coverage

import (
	"net"
	"strconv"
	"time"

	"github.com/DataDog/dd-coverage-go/internal"
	"github.com/DataDog/dd-coverage-go/internal/log"
	"github.com/DataDog/dd-coverage-go/internal/queue"
)

const (
	defaultHQHost         = "localhost"
	defaultHQPort         = 8765
	defaultConnectTimeout = 30 * time.Second
	defaultShutdownPolls  = 20
	defaultStatsInterval  = 10 * time.Second
)

// config holds the agent configuration.
type config struct {
	// hqHost and hqPort locate the collection server.
	hqHost string
	hqPort int

	// projectID identifies the project in the control handshake.
	projectID int32

	// connectTimeout bounds the retries of every connection attempt.
	connectTimeout time.Duration

	// debug, when true, writes details to logs.
	debug bool

	// logStartup, when true, logs the configuration once started.
	logStartup bool

	// logger, when set, receives all agent output.
	logger log.Logger

	// statsd, when set, is used instead of a client built from dogstatsdAddr.
	statsd internal.StatsdClient

	// dogstatsdAddr is the DogStatsD address health metrics are sent to.
	// Metrics are disabled when empty.
	dogstatsdAddr string

	// shutdownPolls bounds how many heartbeat intervals shutdown waits for
	// the senders to drain the buffers.
	shutdownPolls int

	statsInterval time.Duration
	writeTimeout  time.Duration
}

// StartOption represents a function that can be provided as a parameter to Start.
type StartOption func(*config)

func newConfig(opts ...StartOption) *config {
	c := &config{
		hqHost:         internal.StringEnv("DD_COVERAGE_HQ_HOST", defaultHQHost),
		hqPort:         internal.IntEnv("DD_COVERAGE_HQ_PORT", defaultHQPort),
		projectID:      int32(internal.IntEnv("DD_COVERAGE_PROJECT_ID", 0)),
		connectTimeout: internal.DurationEnv("DD_COVERAGE_CONNECT_TIMEOUT", defaultConnectTimeout),
		debug:          internal.BoolEnv("DD_COVERAGE_DEBUG", false),
		logStartup:     internal.BoolEnv("DD_COVERAGE_STARTUP_LOGS", true),
		dogstatsdAddr:  internal.StringEnv("DD_DOGSTATSD_ADDR", ""),
		shutdownPolls:  defaultShutdownPolls,
		statsInterval:  defaultStatsInterval,
		writeTimeout:   queue.DefaultWriteTimeout,
	}
	for _, fn := range opts {
		fn(c)
	}
	if c.logger != nil {
		log.UseLogger(c.logger)
	}
	if c.debug {
		log.SetLevel(log.LevelDebug)
	}
	return c
}

func (c *config) hqAddr() string {
	return net.JoinHostPort(c.hqHost, strconv.Itoa(c.hqPort))
}

// WithHQAddr sets the address of the collection server.
func WithHQAddr(host string, port int) StartOption {
	return func(c *config) {
		c.hqHost = host
		c.hqPort = port
	}
}

// WithProjectID sets the project the traced data belongs to.
func WithProjectID(id int32) StartOption {
	return func(c *config) {
		c.projectID = id
	}
}

// WithConnectTimeout sets how long connection attempts to the collection
// server are retried before giving up. Zero means a single attempt.
func WithConnectTimeout(d time.Duration) StartOption {
	return func(c *config) {
		c.connectTimeout = d
	}
}

// WithLogger sets logger as the agent's error printer, diverting all
// agent output to it.
func WithLogger(logger log.Logger) StartOption {
	return func(c *config) {
		c.logger = logger
	}
}

// WithDebugMode enables debug mode on the agent, resulting in more verbose logging.
func WithDebugMode(enabled bool) StartOption {
	return func(c *config) {
		c.debug = enabled
	}
}

// WithStatsd sets the client health metrics are reported to.
func WithStatsd(client internal.StatsdClient) StartOption {
	return func(c *config) {
		c.statsd = client
	}
}

// WithDogstatsdAddr specifies the address to connect to for sending health
// metrics to the Datadog Agent.
func WithDogstatsdAddr(addr string) StartOption {
	return func(c *config) {
		c.dogstatsdAddr = addr
	}
}

// WithLogStartup allows enabling or disabling the startup log.
func WithLogStartup(enabled bool) StartOption {
	return func(c *config) {
		c.logStartup = enabled
	}
}

// WithShutdownPolls sets how many heartbeat intervals shutdown waits for
// pending data to be sent.
func WithShutdownPolls(n int) StartOption {
	return func(c *config) {
		if n > 0 {
			c.shutdownPolls = n
		}
	}
}
