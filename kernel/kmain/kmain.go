package kmain

import (
	"github.com/sasurau4/mikan-os/kernel"
	"github.com/sasurau4/mikan-os/kernel/exec"
	"github.com/sasurau4/mikan-os/kernel/hal/multiboot"
	"github.com/sasurau4/mikan-os/kernel/kfmt"
	"github.com/sasurau4/mikan-os/kernel/mm"
	"github.com/sasurau4/mikan-os/kernel/mm/pmm"
	"github.com/sasurau4/mikan-os/kernel/mm/vmm"
)

var (
	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

	// addressSpace manages the page tables of the boot identity map and
	// the programs run by loader.
	addressSpace vmm.AddressSpace

	// loader runs programs inside the kernel address space once the memory
	// manager is initialized.
	loader exec.Loader

	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	setupIdentityPageTableFn = vmm.SetupIdentityPageTable
	pmmInitFn                = pmm.Init
	panicFn                  = kfmt.Panic
)

// Kmain is the only Go symbol that is visible (exported) from the rt0 initialization
// code. This function is invoked by the rt0 assembly code after setting up the GDT
// and setting up a a minimal g0 struct that allows Go code using the 4K stack
// allocated by the assembly code.
//
// The rt0 code passes the address of the multiboot info payload provided by the
// bootloader as well as the physical addresses for the kernel start/end.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the CPU.
//
//go:noinline
func Kmain(multibootInfoPtr, kernelStart, kernelEnd uintptr) {
	multiboot.SetInfoPtr(multibootInfoPtr)

	if err := initMemory(kernelStart, kernelEnd); err != nil {
		panicFn(err)
		return
	}

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating kfmt.Panic as dead-code and eliminating it.
	panicFn(errKmainReturned)
}

// initMemory brings up the memory manager: the kernel switches to the boot
// identity map, the frame allocator takes over the memory reported by the
// bootloader and the program loader is attached to the resulting address
// space.
//
// The Go allocator is never initialized so initMemory and everything it
// sets up live in statically allocated memory.
func initMemory(kernelStart, kernelEnd uintptr) *kernel.Error {
	if value, ok := multiboot.BootCmdLineOption("loglevel"); ok {
		setLogLevel(value)
	}
	if name := multiboot.GetBootLoaderName(); name != "" {
		kfmt.Log(kfmt.LevelInfo, "[kmain] booted by %s\n", name)
	}

	root := setupIdentityPageTableFn()
	kfmt.Log(kfmt.LevelDebug, "[kmain] identity map installed; PML4 at 0x%x\n", root.Address())

	if err := pmmInitFn(kernelStart, kernelEnd); err != nil {
		return err
	}

	addressSpace = vmm.NewAddressSpace(&pmm.FrameAllocator, mm.IdentityMappedMemory{}, vmm.CPU{}, root)
	loader.AddressSpace = &addressSpace
	loader.Console = console{}
	return nil
}

// setLogLevel applies the value of the loglevel option of the kernel
// command line.
func setLogLevel(value string) {
	level, ok := kfmt.ParseLogLevel(value)
	if !ok {
		kfmt.Log(kfmt.LevelWarn, "[kmain] ignoring unknown log level: %s\n", value)
		return
	}

	kfmt.SetLogLevel(level)
}

// Loader returns the program loader for the kernel address space. It is
// only usable after Kmain has initialized the memory manager.
func Loader() *exec.Loader {
	return &loader
}

// console forwards program output to the kernel output sink.
type console struct{}

// Write implements io.Writer.
func (console) Write(p []byte) (int, error) {
	kfmt.Printf("%s", p)
	return len(p), nil
}
