package vmm

import (
	"unsafe"

	"github.com/sasurau4/mikan-os/kernel/mm"
)

// PageDirectoryCount is the number of page directories used by the boot
// identity map. Each page directory maps 1G using 2M pages.
const PageDirectoryCount = 64

const (
	hugePageSize  = 2 * mm.Mb
	pdptEntrySize = 1 * mm.Gb

	// identityTableCount covers the PML4, the PDPT and the page directories.
	identityTableCount = 2 + PageDirectoryCount
)

// identityTableStorage reserves room for the identity map tables plus one
// extra table so the tables can be placed at a page boundary.
var identityTableStorage [identityTableCount + 1]pageTable

// SetupIdentityPageTable builds a page table hierarchy that identity maps
// the first PageDirectoryCount gigabytes of physical memory using 2M pages
// and installs it as the active page table. The tables live in statically
// reserved kernel memory so no frame allocator is required.
//
// SetupIdentityPageTable returns the frame that holds the installed PML4.
func SetupIdentityPageTable() mm.Frame {
	tables := identityTables()
	pml4, pdpt, pageDirs := &tables[0], &tables[1], tables[2:]

	*pml4 = pageTable{}
	*pdpt = pageTable{}

	pml4[0].SetFrame(tableFrame(pdpt))
	pml4[0].SetFlags(FlagPresent | FlagRW)

	for pdIndex := range pageDirs {
		pdpt[pdIndex].SetFrame(tableFrame(&pageDirs[pdIndex]))
		pdpt[pdIndex].SetFlags(FlagPresent | FlagRW)

		for entryIndex := range pageDirs[pdIndex] {
			physAddr := uintptr(pdIndex)*uintptr(pdptEntrySize) + uintptr(entryIndex)*uintptr(hugePageSize)
			pageDirs[pdIndex][entryIndex] = pageTableEntry(physAddr)
			pageDirs[pdIndex][entryIndex].SetFlags(FlagPresent | FlagRW | FlagHugePage)
		}
	}

	root := tableFrame(pml4)
	switchPDTFn(root.Address())
	return root
}

// identityTables returns the page-aligned tables carved out of
// identityTableStorage.
func identityTables() []pageTable {
	base := unsafe.Pointer(&identityTableStorage[0])
	padding := (mm.PageSize - uintptr(base)&(mm.PageSize-1)) & (mm.PageSize - 1)
	return unsafe.Slice((*pageTable)(unsafe.Add(base, padding)), identityTableCount)
}

// tableFrame returns the frame that holds table. The kernel image is loaded
// at its link address so the address of a kernel variable is also its
// physical address.
func tableFrame(table *pageTable) mm.Frame {
	return mm.FrameFromAddress(uintptr(unsafe.Pointer(table)))
}
