package pmm

import (
	"github.com/sasurau4/mikan-os/kernel"
	"github.com/sasurau4/mikan-os/kernel/hal/multiboot"
	"github.com/sasurau4/mikan-os/kernel/kfmt"
	"github.com/sasurau4/mikan-os/kernel/mm"
)

var (
	// FrameAllocator is the allocator instance that serves all physical
	// frame requests once Init returns.
	FrameAllocator BitmapAllocator

	// ErrNoMemoryMap is returned by Init when the bootloader did not report
	// any available memory.
	ErrNoMemoryMap = &kernel.Error{Module: "pmm", Message: "no available memory reported by the bootloader"}
)

// Init seeds FrameAllocator using the memory map provided by the bootloader.
// Reserved regions, holes between regions and the frames occupied by the
// kernel image [kernelStart, kernelEnd) are flagged as allocated. Frame 0 is
// never handed out.
//
// Init runs before the Go allocator is available and must not allocate.
func Init(kernelStart, kernelEnd uintptr) *kernel.Error {
	printMemoryMap()
	return FrameAllocator.seed(kernelStart, kernelEnd)
}

func (alloc *BitmapAllocator) seed(kernelStart, kernelEnd uintptr) *kernel.Error {
	var availableEnd uint64

	multiboot.VisitMemRegions(func(region *multiboot.MemoryMapEntry) bool {
		regionStart, regionEnd := region.PhysAddress, region.PhysAddress+region.Length

		if region.Type != multiboot.MemAvailable {
			startFrame := regionStart >> mm.PageShift
			alloc.MarkAllocated(mm.Frame(startFrame), ceilFrame(regionEnd)-startFrame)
			return true
		}

		// Reported addresses may not be page-aligned; round up to get
		// the start frame and round down to get the end frame
		startFrame, endFrame := ceilFrame(regionStart), regionEnd>>mm.PageShift
		if endFrame <= startFrame {
			return true
		}

		if availableEnd < startFrame {
			alloc.MarkAllocated(mm.Frame(availableEnd), startFrame-availableEnd)
		}
		if availableEnd < endFrame {
			availableEnd = endFrame
		}
		return true
	})

	if availableEnd <= 1 {
		return ErrNoMemoryMap
	}

	kernelStartFrame := uint64(kernelStart) >> mm.PageShift
	alloc.MarkAllocated(mm.Frame(kernelStartFrame), ceilFrame(uint64(kernelEnd))-kernelStartFrame)

	alloc.SetMemoryRange(1, mm.Frame(availableEnd))

	begin, end := alloc.MemoryRange()
	kfmt.Log(kfmt.LevelInfo, "[pmm] managing frames [%d, %d), free: %d\n", uint64(begin), uint64(end), alloc.FreeFrames())
	return nil
}

// ceilFrame returns the index of the first frame that starts at or above
// physAddr.
func ceilFrame(physAddr uint64) uint64 {
	return (physAddr + uint64(mm.PageSize-1)) >> mm.PageShift
}

// printMemoryMap scans the memory region information provided by the
// bootloader and prints out the system's memory map.
func printMemoryMap() {
	kfmt.Log(kfmt.LevelInfo, "[pmm] system memory map:\n")
	var totalFree mm.Size
	multiboot.VisitMemRegions(func(region *multiboot.MemoryMapEntry) bool {
		kfmt.Log(kfmt.LevelInfo, "\t[0x%10x - 0x%10x], size: %10d, type: %s\n", region.PhysAddress, region.PhysAddress+region.Length, region.Length, region.Type.String())

		if region.Type == multiboot.MemAvailable {
			totalFree += mm.Size(region.Length)
		}
		return true
	})
	kfmt.Log(kfmt.LevelInfo, "[pmm] available memory: %dKb\n", uint64(totalFree/mm.Kb))
}
