package delay

import (
	"math"
	"testing"
)

func TestNewRejectsInvalidSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		if _, err := New(size); err == nil {
			t.Fatalf("New(%d) expected error", size)
		}
	}
}

func TestReadZeroReturnsLastWritten(t *testing.T) {
	d, err := New(8)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for i := 1; i <= 20; i++ {
		d.Write(float64(i))
		if got := d.Read(0); got != float64(i) {
			t.Fatalf("Read(0) after Write(%d) = %g", i, got)
		}
	}
}

func TestReadDelayedSamples(t *testing.T) {
	d, err := New(16)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for i := 0; i < 100; i++ {
		d.Write(float64(i))
	}

	// Last written value is 99; delay n looks n samples back.
	for delay := 0; delay < 16; delay++ {
		want := float64(99 - delay)
		if got := d.Read(delay); got != want {
			t.Fatalf("Read(%d) = %g, want %g", delay, got, want)
		}
	}
}

func TestReadClampsDelay(t *testing.T) {
	d, err := New(4)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for i := 0; i < 4; i++ {
		d.Write(float64(i))
	}

	if got := d.Read(100); got != d.Read(3) {
		t.Fatalf("Read(100) = %g, want clamp to Read(3) = %g", got, d.Read(3))
	}

	if got := d.Read(-5); got != d.Read(0) {
		t.Fatalf("Read(-5) = %g, want clamp to Read(0) = %g", got, d.Read(0))
	}
}

func TestReadFractionalInterpolates(t *testing.T) {
	d, err := New(32)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for i := 0; i < 32; i++ {
		d.Write(float64(i))
	}

	// Between delays 2 (value 29) and 3 (value 28).
	got := d.ReadFractional(2.25)
	want := 29.0 + (28.0-29.0)*0.25
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("ReadFractional(2.25) = %g, want %g", got, want)
	}

	// Integer positions match the integer read exactly.
	for delay := 0; delay < 8; delay++ {
		if got := d.ReadFractional(float64(delay)); got != d.Read(delay) {
			t.Fatalf("ReadFractional(%d) = %g, want %g", delay, got, d.Read(delay))
		}
	}
}

func TestResetClearsState(t *testing.T) {
	d, err := New(8)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for i := 0; i < 8; i++ {
		d.Write(1)
	}

	d.Reset()

	for delay := 0; delay < 8; delay++ {
		if got := d.Read(delay); got != 0 {
			t.Fatalf("Read(%d) after Reset = %g, want 0", delay, got)
		}
	}
}
