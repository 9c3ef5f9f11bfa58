// Package exec loads and runs executable images. ELF images are copied into
// freshly mapped pages of the active address space, run to completion and
// unmapped again; images without an ELF signature are run in place.
package exec

import (
	"io"
	"unsafe"

	"github.com/sasurau4/mikan-os/kernel"
	"github.com/sasurau4/mikan-os/kernel/kfmt"
	"github.com/sasurau4/mikan-os/kernel/mm"
	"github.com/sasurau4/mikan-os/kernel/mm/vmm"
	"github.com/sasurau4/mikan-os/kernel/sync"
)

// topLevelSlotSize is the size of the address range mapped by a single PML4
// entry.
const topLevelSlotSize = uint64(512 * mm.Gb)

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	runEntryFn      = runEntry
	runFlatFn       = runFlat
	enterCriticalFn = sync.Enter
	leaveCriticalFn = sync.Guard.Leave

	diagPrefix = []byte("[exec] ")
)

// AddressSpace is implemented by the page table engine that backs the
// pages of loaded images.
type AddressSpace interface {
	// Map ensures that pages consecutive pages starting at the page that
	// contains addr are backed by zeroed, writable frames.
	Map(addr vmm.LinearAddress, pages uint64) *kernel.Error

	// Unmap releases every page and page table reachable from the
	// top-level entry that addr selects.
	Unmap(addr vmm.LinearAddress) *kernel.Error

	// CopyIn copies src to the mapped pages at virtAddr.
	CopyIn(virtAddr uintptr, src []byte) *kernel.Error

	// ZeroFill clears size bytes of the mapped pages at virtAddr.
	ZeroFill(virtAddr uintptr, size uint64) *kernel.Error
}

// Loader runs executable images inside an address space and reports their
// outcome to a console.
//
// The state of a run is kept inside the Loader so Execute does not allocate;
// a Loader runs one program at a time.
type Loader struct {
	AddressSpace

	// Console receives the exit status of programs and load errors.
	Console io.Writer

	segments [MaxLoadSegments]Segment
	args     ArgVector
	cArgs    cArgVector
	diag     kfmt.PrefixWriter
}

// Execute runs image passing it an argument vector built from command and
// args. The exit code of the program is returned for ELF images, even when
// releasing its pages fails; images without an ELF signature are called
// directly and always report 0.
//
// Programs run on a dedicated stack of ProgramStackSize bytes.
func (l *Loader) Execute(image []byte, command, args string) (int, *kernel.Error) {
	if len(image) == 0 {
		return l.fail(ErrInvalidFormat)
	}

	if !IsELF(image) {
		runFlatFn(uintptr(unsafe.Pointer(&image[0])))
		return 0, nil
	}

	hdr, err := ParseHeader(image)
	if err != nil {
		return l.fail(err)
	}

	if hdr.Type != elfTypeExecutable {
		return l.fail(ErrInvalidFormat)
	}

	segments, err := LoadSegments(image, hdr, l.segments[:0])
	if err != nil {
		return l.fail(err)
	}

	if len(segments) == 0 {
		return l.fail(ErrInvalidFormat)
	}

	start, end := Footprint(segments)
	if start < UserSpaceStart {
		return l.fail(ErrInvalidFormat)
	}

	if err = MakeArgVector(&l.args, command, args); err != nil {
		return l.fail(err)
	}

	argc, err := l.cArgs.set(l.args.Args())
	if err != nil {
		return l.fail(err)
	}

	if slots := (end-1)/topLevelSlotSize - start/topLevelSlotSize + 1; slots > 1 {
		l.warnf("image spans %d top-level slots; only the first one is released on exit\n", slots)
	}

	guard := enterCriticalFn()
	err = l.load(image, segments, start, end)
	leaveCriticalFn(guard)
	if err != nil {
		return l.fail(err)
	}

	exitCode := runEntryFn(uintptr(hdr.Entry), argc, l.cArgs.argv())
	kfmt.Fprintf(l.Console, "app exited. ret = %d\n", exitCode)

	guard = enterCriticalFn()
	err = l.Unmap(vmm.LinearAddress(start))
	leaveCriticalFn(guard)
	if err != nil {
		l.report(err)
		return exitCode, err
	}

	return exitCode, nil
}

// load maps the pages covering [start, end) and populates them with the
// contents of each segment.
func (l *Loader) load(image []byte, segments []Segment, start, end uint64) *kernel.Error {
	addr := vmm.LinearAddress(start)
	if err := l.Map(addr, mm.Size(end-start+uint64(addr.Offset())).Pages()); err != nil {
		return err
	}

	for _, seg := range segments {
		if err := l.CopyIn(uintptr(seg.VirtAddr), image[seg.Offset:seg.Offset+seg.FileSize]); err != nil {
			return err
		}

		if err := l.ZeroFill(uintptr(seg.VirtAddr+seg.FileSize), seg.MemSize-seg.FileSize); err != nil {
			return err
		}
	}

	return nil
}

func (l *Loader) fail(err *kernel.Error) (int, *kernel.Error) {
	l.report(err)
	return 0, err
}

func (l *Loader) report(err *kernel.Error) {
	kfmt.Fprintf(l.Console, "failed to exec file: %s\n", err.Message)
}

func (l *Loader) warnf(format string, args ...interface{}) {
	if kfmt.LogLevel() < kfmt.LevelWarn {
		return
	}

	l.diag.Sink, l.diag.Prefix = l.Console, diagPrefix
	kfmt.Fprintf(&l.diag, format, args...)
}
