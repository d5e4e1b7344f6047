// Package delay implements the fixed-capacity circular sample store used
// as the building block for every delay-based stage in this module.
package delay

import (
	"fmt"
	"math"
)

// Line is a circular delay line with a single write cursor.
//
// The capacity is fixed at construction; a Line is never resized. Reads
// are expressed as a delay in samples behind the write cursor, where a
// delay of 0 addresses the most recently written sample. One goroutine
// may write and read a given Line; it performs no synchronization.
type Line struct {
	buffer   []float64
	writePos int
}

// New returns a delay line of fixed size.
func New(size int) (*Line, error) {
	if size <= 0 {
		return nil, fmt.Errorf("delay size must be > 0: %d", size)
	}
	return &Line{buffer: make([]float64, size)}, nil
}

// Len returns internal buffer size.
func (d *Line) Len() int {
	return len(d.buffer)
}

// Write writes one sample and advances the write cursor.
func (d *Line) Write(sample float64) {
	d.buffer[d.writePos] = sample
	d.writePos++
	if d.writePos >= len(d.buffer) {
		d.writePos = 0
	}
}

// Read reads an integer delay in samples. Read(0) returns the sample
// most recently written. Delays are clamped to the line capacity.
func (d *Line) Read(delay int) float64 {
	size := len(d.buffer)
	if delay < 0 {
		delay = 0
	}
	if delay > size-1 {
		delay = size - 1
	}
	readPos := d.writePos - 1 - delay
	if readPos < 0 {
		readPos += size
	}
	return d.buffer[readPos]
}

// ReadFractional reads a fractional delay with linear interpolation
// between the two neighboring samples.
func (d *Line) ReadFractional(delay float64) float64 {
	size := len(d.buffer)
	if delay < 0 {
		delay = 0
	}
	maxDelay := float64(size - 2)
	if delay > maxDelay {
		delay = maxDelay
	}

	p := int(math.Floor(delay))
	t := delay - float64(p)

	x0 := d.Read(p)
	x1 := d.Read(p + 1)
	return x0 + (x1-x0)*t
}

// Reset clears line state.
func (d *Line) Reset() {
	for i := range d.buffer {
		d.buffer[i] = 0
	}
	d.writePos = 0
}
