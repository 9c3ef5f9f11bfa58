package mm

import "unsafe"

// PhysMemory provides access to the contents of physical frames. The memory
// manager never dereferences a physical address directly; it asks a
// PhysMemory for a view of the frame instead. No type information is kept
// for frames: whether a frame holds a page table or program data is decided
// solely by the code that allocated it.
type PhysMemory interface {
	// FrameBytes returns a PageSize-long view of the contents of frame.
	// The returned slice is backed by the frame itself so writes to it
	// update physical memory.
	FrameBytes(frame Frame) []byte
}

// IdentityMappedMemory is a PhysMemory for frames that are reachable at a
// virtual address equal to their physical address, as is the case for all
// frames covered by the boot identity map.
type IdentityMappedMemory struct{}

// FrameBytes implements PhysMemory.
func (IdentityMappedMemory) FrameBytes(frame Frame) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(frame.Address())), PageSize)
}

// ClearFrame fills the contents of frame with zeroes.
func ClearFrame(mem PhysMemory, frame Frame) {
	clear(mem.FrameBytes(frame))
}
