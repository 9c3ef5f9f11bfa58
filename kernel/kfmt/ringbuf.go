package kfmt

import "io"

// ringBufferSize is the capacity of the early print buffer. It must be a
// power of 2.
const ringBufferSize = 4096

// ringBuffer keeps the most recent ringBufferSize-1 bytes written to it.
// Printf uses it to hold boot messages emitted before a console is attached.
type ringBuffer struct {
	buffer         [ringBufferSize]byte
	rIndex, wIndex int
}

// Write appends p to the buffer, overwriting the oldest bytes once the
// buffer is full.
func (rb *ringBuffer) Write(p []byte) (int, error) {
	for _, b := range p {
		rb.buffer[rb.wIndex] = b
		rb.wIndex = (rb.wIndex + 1) & (ringBufferSize - 1)
		if rb.wIndex == rb.rIndex {
			rb.rIndex = (rb.rIndex + 1) & (ringBufferSize - 1)
		}
	}

	return len(p), nil
}

// Read drains up to len(p) buffered bytes into p. It returns io.EOF once
// the buffer is empty.
func (rb *ringBuffer) Read(p []byte) (int, error) {
	if rb.rIndex == rb.wIndex {
		return 0, io.EOF
	}

	end := rb.wIndex
	if rb.rIndex > rb.wIndex {
		// Data wraps around; read up to the end of the backing array
		// and let the next call pick up the rest.
		end = ringBufferSize
	}

	n := copy(p, rb.buffer[rb.rIndex:end])
	rb.rIndex = (rb.rIndex + n) & (ringBufferSize - 1)
	return n, nil
}
