package vmm

import (
	"unsafe"

	"github.com/sasurau4/mikan-os/kernel"
	"github.com/sasurau4/mikan-os/kernel/mm"
)

// FrameAllocator is implemented by physical frame allocators that can
// provide the frames for page tables and the pages they map.
type FrameAllocator interface {
	// Allocate reserves count contiguous frames and returns the first one.
	Allocate(count uint64) (mm.Frame, *kernel.Error)

	// Free releases count frames starting at start.
	Free(start mm.Frame, count uint64) *kernel.Error
}

// MMU is implemented by the processor interface that caches the
// translations of the active page tables.
type MMU interface {
	// ActivePDT returns the physical address of the active PML4.
	ActivePDT() uintptr

	// SwitchPDT loads the PML4 at pdtPhysAddr and flushes the TLB.
	SwitchPDT(pdtPhysAddr uintptr)

	// FlushTLBEntry drops the cached translation for virtAddr.
	FlushTLBEntry(virtAddr uintptr)
}

// CPU is the MMU of the processor the kernel runs on.
type CPU struct{}

// ActivePDT implements MMU.
func (CPU) ActivePDT() uintptr { return activePDTFn() }

// SwitchPDT implements MMU.
func (CPU) SwitchPDT(pdtPhysAddr uintptr) { switchPDTFn(pdtPhysAddr) }

// FlushTLBEntry implements MMU.
func (CPU) FlushTLBEntry(virtAddr uintptr) { flushTLBEntryFn(virtAddr) }

// AddressSpace populates and tears down the page tables rooted at a PML4
// frame. Page table and page frames are obtained from alloc, their contents
// are accessed through mem and cached translations are maintained through
// mmu.
type AddressSpace struct {
	alloc FrameAllocator
	mem   mm.PhysMemory
	mmu   MMU
	root  mm.Frame
}

// NewAddressSpace returns an AddressSpace for the page tables rooted at the
// supplied PML4 frame.
func NewAddressSpace(alloc FrameAllocator, mem mm.PhysMemory, mmu MMU, root mm.Frame) AddressSpace {
	return AddressSpace{alloc: alloc, mem: mem, mmu: mmu, root: root}
}

// ActiveAddressSpace returns an AddressSpace for the page tables that are
// currently loaded by mmu.
func ActiveAddressSpace(alloc FrameAllocator, mem mm.PhysMemory, mmu MMU) AddressSpace {
	return NewAddressSpace(alloc, mem, mmu, mm.FrameFromAddress(mmu.ActivePDT()))
}

// Root returns the frame that holds the PML4 of this address space.
func (as *AddressSpace) Root() mm.Frame {
	return as.root
}

// Map ensures that pages consecutive pages starting at the page that
// contains addr are backed by zeroed, writable frames. Missing page tables
// are allocated along the way; pages that are already mapped keep their
// frames.
//
// If the allocator runs out of frames, Map returns its error and leaves any
// tables and pages it has already installed in place.
func (as *AddressSpace) Map(addr LinearAddress, pages uint64) *kernel.Error {
	if pages == 0 {
		return nil
	}

	remaining, err := as.mapLevel(as.root, pageLevels, addr, pages)
	if err != nil {
		return err
	}

	if remaining != 0 {
		return ErrAddressSpaceExhausted
	}

	return nil
}

// mapLevel maps up to pages pages through the table at the given level
// starting at the entry selected by addr. It returns the number of pages
// that still need to be mapped once the last entry of the table has been
// consumed.
func (as *AddressSpace) mapLevel(tableFrame mm.Frame, level uint8, addr LinearAddress, pages uint64) (uint64, *kernel.Error) {
	table := as.table(tableFrame)
	for pages > 0 {
		index := addr.Part(level)
		pte := &table[index]

		if level > 1 && pte.HasFlags(FlagPresent|FlagHugePage) {
			return pages, ErrHugePageInPath
		}

		installed := !pte.HasFlags(FlagPresent)
		child, err := as.ensurePresent(pte)
		if err != nil {
			return pages, err
		}
		pte.SetFlags(FlagRW)

		if level == 1 {
			pages--
			if installed {
				as.mmu.FlushTLBEntry(addr.PageAddress())
			}
		} else if pages, err = as.mapLevel(child, level-1, addr, pages); err != nil {
			return pages, err
		}

		// Carry into the parent table once the last entry is consumed
		if index == entriesPerTable-1 {
			break
		}

		addr.SetPart(level, index+1)
		for lower := level - 1; lower > 0; lower-- {
			addr.SetPart(lower, 0)
		}
	}

	return pages, nil
}

// ensurePresent returns the frame pointed to by pte, allocating and clearing
// a new frame if the entry is not present.
func (as *AddressSpace) ensurePresent(pte *pageTableEntry) (mm.Frame, *kernel.Error) {
	if pte.HasFlags(FlagPresent) {
		return pte.Frame(), nil
	}

	frame, err := as.alloc.Allocate(1)
	if err != nil {
		return mm.InvalidFrame, err
	}
	mm.ClearFrame(as.mem, frame)

	*pte = 0
	pte.SetFrame(frame)
	pte.SetFlags(FlagPresent)
	return frame, nil
}

// Unmap releases the frames of every page and page table reachable from the
// PML4 entry that addr selects and clears the entry. The PML4 entry is
// detached before the tables below it are released.
//
// Unmap always visits the whole hierarchy. If the allocator rejects any of
// the frames, the first such error is returned once the walk completes.
func (as *AddressSpace) Unmap(addr LinearAddress) *kernel.Error {
	pml4 := as.table(as.root)
	pte := &pml4[addr.Part(pageLevels)]
	if !pte.HasFlags(FlagPresent) {
		return nil
	}

	pdpt := pte.Frame()
	*pte = 0

	err := as.releaseTable(pdpt, pageLevels-1)
	if freeErr := as.alloc.Free(pdpt, 1); err == nil {
		err = freeErr
	}

	// Drop any stale translations for the released pages
	if as.mmu.ActivePDT() == as.root.Address() {
		as.mmu.SwitchPDT(as.root.Address())
	}

	return err
}

// releaseTable frees every frame referenced by the table at the given level
// and the tables below it, children first, and clears the entries. The
// frame of the table itself is left to the caller.
func (as *AddressSpace) releaseTable(tableFrame mm.Frame, level uint8) *kernel.Error {
	var (
		table    = as.table(tableFrame)
		firstErr *kernel.Error
	)

	for index := range table {
		pte := &table[index]
		if !pte.HasFlags(FlagPresent) {
			continue
		}

		// Huge pages are never created by Map; they don't own their frame
		if level > 1 && pte.HasFlags(FlagHugePage) {
			*pte = 0
			continue
		}

		child := pte.Frame()
		if level > 1 {
			if err := as.releaseTable(child, level-1); err != nil && firstErr == nil {
				firstErr = err
			}
		}

		if err := as.alloc.Free(child, 1); err != nil && firstErr == nil {
			firstErr = err
		}
		*pte = 0
	}

	return firstErr
}

// Translate returns the physical address that corresponds to the supplied
// virtual address or ErrInvalidMapping if the virtual address is not mapped.
func (as *AddressSpace) Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	var (
		addr       = LinearAddress(virtAddr)
		tableFrame = as.root
	)

	for level := uint8(pageLevels); level > 0; level-- {
		pte := as.table(tableFrame)[addr.Part(level)]
		if !pte.HasFlags(FlagPresent) {
			return 0, ErrInvalidMapping
		}

		if level == 1 || pte.HasFlags(FlagHugePage) {
			pageMask := uintptr(1)<<pageLevelShifts[level] - 1
			return pte.Frame().Address()&^pageMask + virtAddr&pageMask, nil
		}

		tableFrame = pte.Frame()
	}

	return 0, ErrInvalidMapping
}

// CopyIn copies src into the pages mapped at virtAddr. The destination does
// not need to be page-aligned; the copy is split at page boundaries and each
// page is written through its physical frame.
func (as *AddressSpace) CopyIn(virtAddr uintptr, src []byte) *kernel.Error {
	for len(src) > 0 {
		dst, err := as.pageBytes(virtAddr)
		if err != nil {
			return err
		}

		n := copy(dst, src)
		src = src[n:]
		virtAddr += uintptr(n)
	}

	return nil
}

// ZeroFill clears size bytes of the pages mapped at virtAddr.
func (as *AddressSpace) ZeroFill(virtAddr uintptr, size uint64) *kernel.Error {
	for size > 0 {
		dst, err := as.pageBytes(virtAddr)
		if err != nil {
			return err
		}

		if uint64(len(dst)) > size {
			dst = dst[:size]
		}
		clear(dst)

		size -= uint64(len(dst))
		virtAddr += uintptr(len(dst))
	}

	return nil
}

// pageBytes returns the contents of the page that holds virtAddr starting at
// virtAddr.
func (as *AddressSpace) pageBytes(virtAddr uintptr) ([]byte, *kernel.Error) {
	physAddr, err := as.Translate(virtAddr)
	if err != nil {
		return nil, err
	}

	return as.mem.FrameBytes(mm.FrameFromAddress(physAddr))[mm.PageOffset(physAddr):], nil
}

// table returns the page table stored in frame.
func (as *AddressSpace) table(frame mm.Frame) *pageTable {
	return (*pageTable)(unsafe.Pointer(&as.mem.FrameBytes(frame)[0]))
}
