// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package coverage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DataDog/dd-coverage-go/internal"
	"github.com/DataDog/dd-coverage-go/internal/collector"
	"github.com/DataDog/dd-coverage-go/internal/connect"
	"github.com/DataDog/dd-coverage-go/internal/control"
	"github.com/DataDog/dd-coverage-go/internal/log"
	"github.com/DataDog/dd-coverage-go/internal/protocol"
	"github.com/DataDog/dd-coverage-go/internal/queue"
	"github.com/DataDog/dd-coverage-go/internal/sender"
)

var (
	// ErrKilled is returned by WaitForStart when the trace was aborted after
	// a fatal error.
	ErrKilled = errors.New("coverage: trace killed")

	// ErrStopped is returned by WaitForStart when the agent shut down before
	// tracing started.
	ErrStopped = errors.New("coverage: agent stopped before tracing started")
)

// agent connects the collector, the buffer pool and the senders to HQ and
// drives them from the control channel.
type agent struct {
	config *config
	statsd internal.StatsdClient

	mu      sync.Mutex // guards runtime
	runtime protocol.RuntimeConfig

	state      *control.StateManager
	controller *control.Controller
	pool       *queue.Pool
	buffers    *queue.Service
	collector  *collector.Collector
	senders    *sender.Manager

	started      chan struct{}
	startOnce    sync.Once
	killed       chan struct{}
	killOnce     sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once

	// stop ends the health reporter.
	stop chan struct{}
	wg   sync.WaitGroup

	closeStatsd bool
	isKilled    atomic.Bool
}

// newAgent connects to HQ and prepares the data pipeline. The control loop
// is not running yet.
func newAgent(ctx context.Context, c *config) (*agent, error) {
	a := &agent{
		config:   c,
		started:  make(chan struct{}),
		killed:   make(chan struct{}),
		shutdown: make(chan struct{}),
		stop:     make(chan struct{}),
	}
	if c.statsd != nil {
		a.statsd = c.statsd
	} else {
		client, err := internal.NewStatsdClient(c.dogstatsdAddr, []string{fmt.Sprintf("project_id:%d", c.projectID)})
		if err != nil {
			log.Warn("Runtime and health metrics disabled: %v", err)
			client, _ = internal.NewStatsdClient("", nil)
		}
		a.statsd = client
		a.closeStatsd = true
	}
	conn, err := a.connect(ctx)
	if err != nil {
		a.closeMetrics()
		return nil, err
	}
	if err := a.prepare(ctx, conn); err != nil {
		conn.Close()
		a.closeMetrics()
		return nil, err
	}
	return a, nil
}

// connect opens the control channel and fetches the runtime configuration.
func (a *agent) connect(ctx context.Context) (*connect.Conn, error) {
	addr := a.config.hqAddr()
	conn, err := connect.Dial(ctx, addr, a.config.connectTimeout)
	if err != nil {
		return nil, err
	}
	rc, err := connect.ControlHandshake(conn, a.config.projectID)
	if err != nil {
		conn.Close()
		return nil, err
	}
	log.Debug("connected to HQ at %s, run %d", addr, rc.RunID)
	a.runtime = rc
	return conn, nil
}

// prepare builds the pipeline from the runtime configuration and opens the
// data connections.
func (a *agent) prepare(ctx context.Context, conn *connect.Conn) error {
	rc := a.runtimeConfig()
	pool, err := queue.NewPoolForBudget(rc.BufferMemoryBudget)
	if err != nil {
		return err
	}
	a.pool = pool
	a.buffers = queue.NewService(pool, rc.QueueRetryCount, a.config.writeTimeout)
	a.collector = collector.New(a.buffers, a)
	a.senders = sender.NewManager(pool, a.config.hqAddr(), rc.RunID, rc.NumDataSenders, a.config.connectTimeout, internal.ErrorHandlerFunc(a.handleSenderError))
	if err := a.senders.Start(ctx); err != nil {
		return err
	}
	a.state = control.NewStateManager(
		dataBreakListener{a},
		bufferListener{a},
		lifecycleListener{a},
	)
	a.controller = control.NewController(conn, a.state, a, a, internal.ErrorHandlerFunc(a.handleControlError), rc.HeartbeatPeriod())
	log.Debug("prepared %d buffers of %d bytes and %d sender(s)", pool.NumBuffers(), pool.BufferLength(), a.senders.Len())
	return nil
}

// run starts the control loop and the health reporter.
func (a *agent) run() {
	a.controller.Start()
	a.statsd.Incr("datadog.coverage.started", nil, 1)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.reportHealth(a.config.statsInterval)
	}()
}

func (a *agent) runtimeConfig() protocol.RuntimeConfig {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.runtime
}

// OnConfiguration applies a new runtime configuration sent by HQ. It is
// only accepted before tracing starts and only changes the heartbeat
// interval of a running agent.
func (a *agent) OnConfiguration(rc protocol.RuntimeConfig) error {
	if mode := a.state.Mode(); mode != protocol.ModeInitializing {
		return &control.StateError{Message: protocol.TypeConfiguration, Mode: mode, Reason: "when initializing"}
	}
	a.mu.Lock()
	a.runtime = rc
	a.mu.Unlock()
	a.controller.SetHeartbeatInterval(rc.HeartbeatPeriod())
	return nil
}

// Mode implements control.HeartbeatInformer.
func (a *agent) Mode() protocol.OperationMode {
	return a.state.Mode()
}

// SendQueueSize implements control.HeartbeatInformer.
func (a *agent) SendQueueSize() int {
	return a.pool.ReadableBuffers()
}

// HandleError logs failures of the data pipeline.
func (a *agent) HandleError(msg string, err error) {
	log.Error(msg, "%s: %v", msg, err)
}

// handleSenderError logs failures of the data connections and kills the
// trace once none is left.
func (a *agent) handleSenderError(msg string, err error) {
	a.HandleError(msg, err)
	if errors.Is(err, sender.ErrAllFailed) {
		go a.killTrace(fmt.Sprintf("%s: %v", msg, err))
	}
}

// handleControlError logs failures of the control channel and kills the
// trace unless the failure only concerns a single control message.
func (a *agent) handleControlError(msg string, err error) {
	a.HandleError(msg, err)
	var (
		serr *control.StateError
		rerr *control.RemoteError
	)
	if errors.As(err, &serr) || errors.As(err, &rerr) {
		return
	}
	go a.killTrace(fmt.Sprintf("%s: %v", msg, err))
}

// killTrace tells HQ the trace failed and shuts the agent down. Callers
// waiting for the trace to start are released.
func (a *agent) killTrace(reason string) {
	a.killOnce.Do(func() {
		a.isKilled.Store(true)
		log.Warn("Killing trace: %s", reason)
		if err := a.controller.SendError(reason); err != nil {
			log.Debug("could not send error to HQ: %v", err)
		}
		close(a.killed)
		a.state.TriggerShutdown()
	})
}

func (a *agent) signalStart() {
	a.startOnce.Do(func() { close(a.started) })
}

// shutdownAgent drains the pipeline and closes every connection. It runs
// once, on its own goroutine, after the agent entered Shutdown.
func (a *agent) shutdownAgent() {
	a.shutdownOnce.Do(func() {
		if a.buffers.Paused() {
			a.buffers.SetPaused(false)
		}
		a.collector.Shutdown()
		a.buffers.SetSuspended(true)
		a.waitForSenders()
		a.senders.Shutdown()
		a.controller.Stop()
		close(a.stop)
		a.wg.Wait()
		a.closeMetrics()
		log.Flush()
		close(a.shutdown)
	})
}

// waitForSenders polls, once per heartbeat interval, until the senders are
// idle and no buffer awaits sending. A killed trace, or one without a
// working data connection, does not wait.
func (a *agent) waitForSenders() {
	interval := a.runtimeConfig().HeartbeatPeriod()
	for i := 0; i < a.config.shutdownPolls; i++ {
		if a.isKilled.Load() || a.senders.Live() == 0 {
			return
		}
		if a.senders.Idle() && a.pool.ReadableBuffers() == 0 {
			return
		}
		time.Sleep(interval)
	}
	log.Warn("Shutting down with %d buffer(s) not sent", a.pool.ReadableBuffers())
}

func (a *agent) closeMetrics() {
	a.statsd.Flush()
	if a.closeStatsd {
		a.statsd.Close()
	}
}

// AddMethodVisit records a visit of the given method.
func (a *agent) AddMethodVisit(className, sourceFile, methodName, signature string, startLine, endLine int) {
	a.collector.AddMethodVisit(collector.TraceMessage{
		ClassName:       className,
		SourceFile:      sourceFile,
		MethodName:      methodName,
		MethodSignature: signature,
		StartLine:       startLine,
		EndLine:         endLine,
	})
}

// Mark adds a key/value marker to the data stream.
func (a *agent) Mark(key, value string) {
	a.collector.AddMarker(key, value)
}

// ReportClassTransformed tells HQ that className was instrumented.
func (a *agent) ReportClassTransformed(className string) {
	a.report(protocol.ClassTransformed{ClassName: className})
}

// ReportClassIgnored tells HQ that className was left as is.
func (a *agent) ReportClassIgnored(className string) {
	a.report(protocol.ClassIgnored{ClassName: className})
}

// ReportClassTransformFailed tells HQ that className could not be
// instrumented.
func (a *agent) ReportClassTransformFailed(className string) {
	a.report(protocol.ClassTransformFailed{ClassName: className})
}

func (a *agent) report(m protocol.Message) {
	if a.state.Mode() == protocol.ModeShutdown {
		return
	}
	if err := a.controller.Send(m); err != nil {
		a.HandleError("failed to send "+m.Type().String(), err)
	}
}

// WaitForStart blocks until HQ starts the trace. It fails if the agent
// shuts down or is killed first.
func (a *agent) WaitForStart(ctx context.Context) error {
	select {
	case <-a.started:
		return nil
	case <-a.killed:
	case <-a.shutdown:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-a.started:
		return nil
	default:
	}
	if a.isKilled.Load() {
		return ErrKilled
	}
	return ErrStopped
}

// WaitForShutdown blocks until the agent has shut down.
func (a *agent) WaitForShutdown(ctx context.Context) error {
	select {
	case <-a.shutdown:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop shuts the agent down and waits for pending data to be sent.
func (a *agent) Stop() {
	a.state.TriggerShutdown()
	<-a.shutdown
}
