// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package internal

// ErrorHandler receives every failure the agent's background loops run into.
// Implementations must be safe for concurrent use and must not block.
type ErrorHandler interface {
	HandleError(msg string, err error)
}

// ErrorHandlerFunc is an adapter allowing the use of an ordinary function as
// an ErrorHandler.
type ErrorHandlerFunc func(msg string, err error)

// HandleError calls f(msg, err).
func (f ErrorHandlerFunc) HandleError(msg string, err error) { f(msg, err) }

// DiscardErrors is an ErrorHandler that drops everything.
var DiscardErrors ErrorHandler = ErrorHandlerFunc(func(string, error) {})
