package vmm

import "github.com/sasurau4/mikan-os/kernel/mm"

// LinearAddress is a 48-bit virtual address viewed as a page offset plus one
// table index per page level.
type LinearAddress uintptr

// Part returns the table index that addr selects at the given page level.
// Level 1 is the leaf page table and level 4 is the PML4.
func (addr LinearAddress) Part(level uint8) uint {
	if level == 0 || level > pageLevels {
		return 0
	}

	return uint(addr>>pageLevelShifts[level]) & (entriesPerTable - 1)
}

// SetPart replaces the table index that addr selects at the given page level.
// Bits outside the index field are preserved.
func (addr *LinearAddress) SetPart(level uint8, index uint) {
	if level == 0 || level > pageLevels {
		return
	}

	shift := pageLevelShifts[level]
	*addr = (*addr &^ (LinearAddress(entriesPerTable-1) << shift)) |
		(LinearAddress(index&(entriesPerTable-1)) << shift)
}

// Offset returns the offset of addr within its page.
func (addr LinearAddress) Offset() uintptr {
	return mm.PageOffset(uintptr(addr))
}

// PageAddress returns addr rounded down to the start of its page.
func (addr LinearAddress) PageAddress() uintptr {
	return uintptr(addr) &^ (mm.PageSize - 1)
}
