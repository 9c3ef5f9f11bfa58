// Package pmm implements the physical frame allocator. Frame ownership is
// tracked with a single static bitmap that covers every frame below
// MaxPhysicalMemory; no allocation is needed to bring the allocator up.
package pmm

import (
	"math/bits"

	"github.com/sasurau4/mikan-os/kernel"
	"github.com/sasurau4/mikan-os/kernel/mm"
)

const (
	// MaxPhysicalMemory is the highest physical address (exclusive) that
	// the allocator can manage.
	MaxPhysicalMemory = 128 * mm.Gb

	// FrameCount is the number of frames tracked by the allocator bitmap.
	FrameCount = uint64(MaxPhysicalMemory) >> mm.PageShift

	bitsPerWord = 64
	bitmapWords = FrameCount / bitsPerWord
	fullWord    = ^uint64(0)
)

var (
	// ErrOutOfMemory is returned when no run of free frames large enough
	// to satisfy a request exists.
	ErrOutOfMemory = &kernel.Error{Module: "pmm", Message: "out of memory"}

	// ErrFrameOutOfBounds is returned when a frame range extends past the
	// end of the allocation bitmap.
	ErrFrameOutOfBounds = &kernel.Error{Module: "pmm", Message: "frame range out of bounds"}

	// ErrInvalidFrameCount is returned when a zero-length allocation is
	// requested.
	ErrInvalidFrameCount = &kernel.Error{Module: "pmm", Message: "invalid frame count"}
)

// BitmapAllocator tracks frame ownership using one bit per frame: bit i%64
// of word i/64 is set when frame i is allocated. Allocation requests are
// only served from the manageable range set up via SetMemoryRange.
//
// The zero value is an allocator with every frame free and an empty
// manageable range.
type BitmapAllocator struct {
	bitmap [bitmapWords]uint64

	// [begin, end) is the frame range that Allocate searches.
	begin mm.Frame
	end   mm.Frame
}

// SetMemoryRange sets the frame range that Allocate will search. The end
// frame is clamped to FrameCount.
func (alloc *BitmapAllocator) SetMemoryRange(begin, end mm.Frame) {
	if uint64(end) > FrameCount {
		end = mm.Frame(FrameCount)
	}
	if begin > end {
		begin = end
	}

	alloc.begin, alloc.end = begin, end
}

// MemoryRange returns the manageable frame range.
func (alloc *BitmapAllocator) MemoryRange() (begin, end mm.Frame) {
	return alloc.begin, alloc.end
}

// Allocate reserves the lowest run of count contiguous free frames inside
// the manageable range and returns the first frame of the run. The bitmap
// is not modified if the request cannot be satisfied.
func (alloc *BitmapAllocator) Allocate(count uint64) (mm.Frame, *kernel.Error) {
	if count == 0 {
		return mm.InvalidFrame, ErrInvalidFrameCount
	}

	start, end := uint64(alloc.begin), uint64(alloc.end)
	for start+count <= end {
		// Skip over fully allocated words without probing each bit
		if start%bitsPerWord == 0 && alloc.bitmap[start/bitsPerWord] == fullWord {
			start += bitsPerWord
			continue
		}

		var run uint64
		for run < count && !alloc.isSet(start+run) {
			run++
		}

		if run == count {
			alloc.setBits(start, count)
			return mm.Frame(start), nil
		}

		// start+run is allocated; no run can begin before the next frame
		start += run + 1
	}

	return mm.InvalidFrame, ErrOutOfMemory
}

// Free releases count frames starting at start. Freeing a frame that is
// already free is not an error. A range that extends past the end of the
// bitmap indicates corrupted allocator state; nothing is released in that
// case.
func (alloc *BitmapAllocator) Free(start mm.Frame, count uint64) *kernel.Error {
	if uint64(start) > FrameCount || count > FrameCount-uint64(start) {
		return ErrFrameOutOfBounds
	}

	alloc.clearBits(uint64(start), count)
	return nil
}

// MarkAllocated flags count frames starting at start as allocated without
// checking whether they are free. Frames past the end of the bitmap are
// ignored since firmware memory maps may describe memory above
// MaxPhysicalMemory.
func (alloc *BitmapAllocator) MarkAllocated(start mm.Frame, count uint64) {
	if uint64(start) >= FrameCount {
		return
	}
	if limit := FrameCount - uint64(start); count > limit {
		count = limit
	}

	alloc.setBits(uint64(start), count)
}

// IsAllocated returns true if frame is flagged as allocated. Frames past the
// end of the bitmap are always reported as allocated.
func (alloc *BitmapAllocator) IsAllocated(frame mm.Frame) bool {
	if uint64(frame) >= FrameCount {
		return true
	}

	return alloc.isSet(uint64(frame))
}

// FreeFrames returns the number of free frames inside the manageable range.
func (alloc *BitmapAllocator) FreeFrames() uint64 {
	var (
		start, end = uint64(alloc.begin), uint64(alloc.end)
		free       uint64
	)

	for start < end {
		bit := start % bitsPerWord
		span := min(bitsPerWord-bit, end-start)
		free += span - uint64(bits.OnesCount64(alloc.bitmap[start/bitsPerWord]&bitMask(bit, span)))
		start += span
	}

	return free
}

func (alloc *BitmapAllocator) isSet(frame uint64) bool {
	return alloc.bitmap[frame/bitsPerWord]&(1<<(frame%bitsPerWord)) != 0
}

func (alloc *BitmapAllocator) setBits(start, count uint64) {
	for count > 0 {
		bit := start % bitsPerWord
		span := min(bitsPerWord-bit, count)
		alloc.bitmap[start/bitsPerWord] |= bitMask(bit, span)
		start, count = start+span, count-span
	}
}

func (alloc *BitmapAllocator) clearBits(start, count uint64) {
	for count > 0 {
		bit := start % bitsPerWord
		span := min(bitsPerWord-bit, count)
		alloc.bitmap[start/bitsPerWord] &^= bitMask(bit, span)
		start, count = start+span, count-span
	}
}

// bitMask returns a word with count bits set starting at bit.
func bitMask(bit, count uint64) uint64 {
	if count == bitsPerWord {
		return fullWord
	}

	return ((1 << count) - 1) << bit
}
