package mm

import (
	"testing"
	"unsafe"
)

func TestFrameMethods(t *testing.T) {
	for frameIndex := uint64(0); frameIndex < 128; frameIndex++ {
		frame := Frame(frameIndex)

		if exp, got := uintptr(frameIndex<<PageShift), frame.Address(); got != exp {
			t.Errorf("expected frame (%d, index: %d) call to Address() to return %x; got %x", frame, frameIndex, exp, got)
		}
	}
}

func TestFrameFromAddress(t *testing.T) {
	specs := []struct {
		input    uintptr
		expFrame Frame
	}{
		{0, Frame(0)},
		{4095, Frame(0)},
		{4096, Frame(1)},
		{4123, Frame(1)},
		{0x1fffff000, Frame(0x1fffff)},
	}

	for specIndex, spec := range specs {
		if got := FrameFromAddress(spec.input); got != spec.expFrame {
			t.Errorf("[spec %d] expected returned frame to be %v; got %v", specIndex, spec.expFrame, got)
		}
	}
}

func TestPageOffset(t *testing.T) {
	specs := []struct {
		input     uintptr
		expOffset uintptr
	}{
		{0, 0},
		{4095, 4095},
		{4096, 0},
		{4123, 27},
		{0xffff800000002910, 0x910},
	}

	for specIndex, spec := range specs {
		if got := PageOffset(spec.input); got != spec.expOffset {
			t.Errorf("[spec %d] expected page offset to be %x; got %x", specIndex, spec.expOffset, got)
		}
	}
}

func TestSizePages(t *testing.T) {
	specs := []struct {
		size     Size
		expPages uint64
	}{
		{0, 0},
		{1, 1},
		{4 * Kb, 1},
		{4*Kb + 1, 2},
		{2 * Mb, 512},
		{0x3c30, 4},
	}

	for specIndex, spec := range specs {
		if got := spec.size.Pages(); got != spec.expPages {
			t.Errorf("[spec %d] expected %d bytes to need %d pages; got %d", specIndex, spec.size, spec.expPages, got)
		}
	}
}

func TestIdentityMappedMemory(t *testing.T) {
	// Use a Go allocated, page-aligned buffer as a stand-in for a physical
	// frame so its address can be converted to a frame index.
	backing := make([]byte, 2*PageSize)
	base := uintptr(unsafe.Pointer(&backing[0]))
	alignedOffset := (PageSize - (base & (PageSize - 1))) & (PageSize - 1)
	frame := FrameFromAddress(base + alignedOffset)

	for i := range backing {
		backing[i] = 0xaa
	}

	var mem IdentityMappedMemory
	view := mem.FrameBytes(frame)
	if uintptr(len(view)) != PageSize {
		t.Fatalf("expected frame view to be %d bytes long; got %d", PageSize, len(view))
	}

	view[0] = 0x42
	if backing[alignedOffset] != 0x42 {
		t.Fatal("expected writes to the frame view to update the backing memory")
	}

	ClearFrame(mem, frame)
	for i := uintptr(0); i < PageSize; i++ {
		if backing[alignedOffset+i] != 0 {
			t.Fatalf("expected byte %d of the frame to be cleared", i)
		}
	}
}
