// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package queue

import (
	"io"

	"github.com/google/uuid"
)

// Buffer is a named byte region with a write cursor. Its nominal capacity is
// fixed; a single frame larger than the free space still fits, growing the
// backing array, so that no frame is ever split across buffers.
type Buffer struct {
	name string
	cap  int
	b    []byte
}

func newBuffer(capacity int) *Buffer {
	return &Buffer{
		name: uuid.NewString(),
		cap:  capacity,
		b:    make([]byte, 0, capacity),
	}
}

// Name uniquely identifies the buffer for the lifetime of the process.
func (b *Buffer) Name() string { return b.name }

// Len returns the number of bytes written since the last Reset.
func (b *Buffer) Len() int { return len(b.b) }

// Cap returns the nominal capacity the buffer was created with.
func (b *Buffer) Cap() int { return b.cap }

// Available returns the free space left before reaching the nominal capacity.
func (b *Buffer) Available() int {
	if n := b.cap - len(b.b); n > 0 {
		return n
	}
	return 0
}

// Bytes returns the written content. It aliases the buffer's storage.
func (b *Buffer) Bytes() []byte { return b.b }

// Write appends p to the buffer. It never fails.
func (b *Buffer) Write(p []byte) (int, error) {
	b.b = append(b.b, p...)
	return len(p), nil
}

// Append gives f the buffer's content and stores whatever it returns. f must
// either extend its argument or return it unchanged.
func (b *Buffer) Append(f func([]byte) ([]byte, error)) error {
	nb, err := f(b.b)
	if err != nil {
		return err
	}
	b.b = nb
	return nil
}

// Truncate discards all but the first n written bytes.
func (b *Buffer) Truncate(n int) {
	if n < 0 || n > len(b.b) {
		return
	}
	b.b = b.b[:n]
}

// Reset empties the buffer. Storage grown past the nominal capacity is
// released.
func (b *Buffer) Reset() {
	if cap(b.b) > 2*b.cap {
		b.b = make([]byte, 0, b.cap)
		return
	}
	b.b = b.b[:0]
}

// WriteTo writes the buffer's content to w. The content is kept; callers
// Reset once the write is known to have succeeded.
func (b *Buffer) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(b.b)
	return int64(n), err
}
