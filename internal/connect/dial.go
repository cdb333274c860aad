// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package connect

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/DataDog/dd-coverage-go/internal/log"

	"github.com/cenkalti/backoff/v3"
)

// ConnectError reports that no connection could be established within the
// retry window.
type ConnectError struct {
	Addr     string
	Window   time.Duration
	Attempts int
	Err      error // last dial failure
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("could not connect to %s after %d attempt(s) within %s: %v", e.Addr, e.Attempts, e.Window, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

const (
	initialRetryInterval = 50 * time.Millisecond
	maxRetryInterval     = time.Second
	attemptTimeout       = 5 * time.Second
)

// DialFunc opens a raw network connection.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

var defaultDial DialFunc = (&net.Dialer{Timeout: attemptTimeout}).DialContext

// Dial connects to addr over TCP, retrying failed attempts with exponential
// backoff until window has elapsed. A zero window makes a single attempt.
func Dial(ctx context.Context, addr string, window time.Duration) (*Conn, error) {
	return DialWith(ctx, defaultDial, addr, window)
}

// DialWith is Dial using dial to open each attempt.
func DialWith(ctx context.Context, dial DialFunc, addr string, window time.Duration) (*Conn, error) {
	var b backoff.BackOff = &backoff.StopBackOff{}
	if window > 0 {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = initialRetryInterval
		eb.MaxInterval = maxRetryInterval
		eb.MaxElapsedTime = window
		b = eb
	}
	var (
		nc       net.Conn
		lastErr  error
		attempts int
	)
	op := func() error {
		attempts++
		c, err := dial(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			log.Debug("connect: attempt %d to %s failed: %v", attempts, addr, err)
			return err
		}
		nc = c
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil || nc == nil {
		if lastErr == nil {
			lastErr = err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			lastErr = errors.Join(ctxErr, lastErr)
		}
		return nil, &ConnectError{Addr: addr, Window: window, Attempts: attempts, Err: lastErr}
	}
	log.Debug("connect: connected to %s after %d attempt(s)", addr, attempts)
	return NewConn(nc), nil
}
