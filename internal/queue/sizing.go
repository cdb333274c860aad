// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package queue

import "fmt"

const (
	// MinBuffers is the smallest pipeline depth a pool is built with.
	MinBuffers = 10
	// MaxBufferLength is the length tried first when sizing buffers.
	MaxBufferLength = 8192
	// MinBufferLength is the shortest buffer worth framing messages into.
	MinBufferLength = 128
)

// CapacityError reports a memory budget too small to hold MinBuffers buffers
// of at least MinBufferLength bytes.
type CapacityError struct {
	Budget int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("buffer memory budget of %d bytes cannot hold %d buffers of at least %d bytes", e.Budget, MinBuffers, MinBufferLength)
}

// BufferLength picks the per-buffer length for the given memory budget:
// MaxBufferLength, halved until the budget holds at least MinBuffers of them.
func BufferLength(budget int) (int, error) {
	length := MaxBufferLength
	for budget/length < MinBuffers {
		length /= 2
		if length < MinBufferLength {
			return 0, &CapacityError{Budget: budget}
		}
	}
	return length, nil
}

// NewPoolForBudget sizes and builds a pool spending at most budget bytes.
func NewPoolForBudget(budget int, opts ...PoolOption) (*Pool, error) {
	length, err := BufferLength(budget)
	if err != nil {
		return nil, err
	}
	return NewPool(budget/length, length, opts...), nil
}
