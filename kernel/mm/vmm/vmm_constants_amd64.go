package vmm

const (
	// pageLevels indicates the number of page levels supported by the amd64
	// architecture. Levels are numbered from 1 (the page tables that map
	// 4K pages) to pageLevels (the PML4 whose address is loaded into CR3).
	pageLevels = 4

	// entriesPerTable is the number of entries in a page table at any level.
	entriesPerTable = 512

	// ptePhysPageMask is a mask that allows us to extract the physical memory
	// address pointed to by a page table entry. For this particular architecture,
	// bits 12-51 contain the physical memory address.
	ptePhysPageMask = uintptr(0x000ffffffffff000)
)

var (
	// pageLevelShifts defines the shift required to access the table index
	// for each page level of a linear address. Index 0 is unused.
	pageLevelShifts = [pageLevels + 1]uint8{
		0,
		12,
		21,
		30,
		39,
	}
)

const (
	// FlagPresent is set when the page is available in memory and not swapped out.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUserAccessible is set if user-mode processes can access this page. If
	// not set only kernel code can access this page.
	FlagUserAccessible

	// FlagWriteThroughCaching implies write-through caching when set and write-back
	// caching if cleared.
	FlagWriteThroughCaching

	// FlagDoNotCache prevents this page from being cached if set.
	FlagDoNotCache

	// FlagAccessed is set by the CPU when this page is accessed.
	FlagAccessed

	// FlagDirty is set by the CPU when this page is modified.
	FlagDirty

	// FlagHugePage is set when the entry maps a 2M (page directory) or 1G
	// (page directory pointer table) page instead of pointing to a table.
	FlagHugePage

	// FlagGlobal if set, prevents the TLB from flushing the cached memory address
	// for this page when the swapping page tables by updating the CR3 register.
	FlagGlobal

	// FlagNoExecute if set, indicates that a page contains non-executable code.
	FlagNoExecute PageTableEntryFlag = 1 << 63
)
