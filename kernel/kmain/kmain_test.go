package kmain

import (
	"bytes"
	"testing"
	"unsafe"

	"github.com/sasurau4/mikan-os/kernel"
	"github.com/sasurau4/mikan-os/kernel/hal/multiboot"
	"github.com/sasurau4/mikan-os/kernel/kfmt"
	"github.com/sasurau4/mikan-os/kernel/mm"
	"github.com/sasurau4/mikan-os/kernel/mm/pmm"
	"github.com/sasurau4/mikan-os/kernel/mm/vmm"
)

func restoreHooks() {
	setupIdentityPageTableFn = vmm.SetupIdentityPageTable
	pmmInitFn = pmm.Init
	panicFn = kfmt.Panic
	loader.AddressSpace = nil
	loader.Console = nil
	multiboot.SetInfoPtr(0)
	kfmt.SetLogLevel(kfmt.LevelWarn)
}

func TestKmain(t *testing.T) {
	defer restoreHooks()

	var (
		calls       []string
		panicErrors []interface{}
	)

	setupIdentityPageTableFn = func() mm.Frame {
		calls = append(calls, "identity")
		return mm.Frame(7)
	}

	pmmInitFn = func(kernelStart, kernelEnd uintptr) *kernel.Error {
		calls = append(calls, "pmm")
		if kernelStart != 0x100000 || kernelEnd != 0x200000 {
			t.Errorf("expected kernel image [0x100000, 0x200000); got [0x%x, 0x%x)", kernelStart, kernelEnd)
		}
		return nil
	}

	panicFn = func(e interface{}) {
		panicErrors = append(panicErrors, e)
	}

	Kmain(0, 0x100000, 0x200000)

	if len(calls) != 2 || calls[0] != "identity" || calls[1] != "pmm" {
		t.Fatalf("expected the identity map to be installed before the frame allocator is seeded; got %v", calls)
	}

	if len(panicErrors) != 1 || panicErrors[0] != errKmainReturned {
		t.Fatalf("expected Kmain to panic with errKmainReturned; got %v", panicErrors)
	}

	l := Loader()
	as, ok := l.AddressSpace.(*vmm.AddressSpace)
	if !ok {
		t.Fatalf("expected loader to use a *vmm.AddressSpace; got %T", l.AddressSpace)
	}

	if exp, got := mm.Frame(7), as.Root(); got != exp {
		t.Fatalf("expected loader address space root %d; got %d", exp, got)
	}
}

func TestKmainMemoryInitError(t *testing.T) {
	defer restoreHooks()

	var panicErrors []interface{}
	setupIdentityPageTableFn = func() mm.Frame { return 1 }
	pmmInitFn = func(_, _ uintptr) *kernel.Error { return pmm.ErrNoMemoryMap }
	panicFn = func(e interface{}) { panicErrors = append(panicErrors, e) }

	Kmain(0, 0, 0)

	if len(panicErrors) != 1 || panicErrors[0] != pmm.ErrNoMemoryMap {
		t.Fatalf("expected Kmain to panic with ErrNoMemoryMap; got %v", panicErrors)
	}

	if Loader().AddressSpace != nil {
		t.Fatal("expected loader not to be initialized")
	}
}

// cmdLineInfo holds the info block built by setCmdLine while the multiboot
// package points to it.
var cmdLineInfo []uint64

// setCmdLine points the multiboot package to an info block that holds a
// command line tag with the supplied contents.
func setCmdLine(cmdLine string) {
	const tagBootCmdLine = 1

	tagSize := 8 + len(cmdLine) + 1
	info := make([]uint64, 2+(tagSize+7)/8+1)
	info[0] = uint64(len(info) * 8)
	info[1] = tagBootCmdLine | uint64(tagSize)<<32
	copy(unsafe.Slice((*byte)(unsafe.Pointer(&info[2])), len(cmdLine)), cmdLine)

	// end tag
	info[len(info)-1] = 8 << 32

	cmdLineInfo = info
	multiboot.SetInfoPtr(uintptr(unsafe.Pointer(&info[0])))
}

func TestKmainCommandLineLogLevel(t *testing.T) {
	defer restoreHooks()

	setupIdentityPageTableFn = func() mm.Frame { return 1 }
	pmmInitFn = func(_, _ uintptr) *kernel.Error { return nil }
	panicFn = func(interface{}) {}

	// Kmain installs the info pointer it receives
	setCmdLine("nosmp loglevel=debug")
	Kmain(uintptr(unsafe.Pointer(&cmdLineInfo[0])), 0, 0)

	if exp, got := kfmt.LevelDebug, kfmt.LogLevel(); got != exp {
		t.Fatalf("expected the command line to select log level %d; got %d", exp, got)
	}
}

func TestSetLogLevel(t *testing.T) {
	defer restoreHooks()

	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)
	defer kfmt.SetOutputSink(nil)

	specs := []struct {
		value    string
		expLevel kfmt.Level
	}{
		{"debug", kfmt.LevelDebug},
		{"error", kfmt.LevelError},
		{"bogus", kfmt.LevelError},
		{"info", kfmt.LevelInfo},
	}

	for specIndex, spec := range specs {
		setLogLevel(spec.value)
		if got := kfmt.LogLevel(); got != spec.expLevel {
			t.Errorf("[spec %d] expected log level %d; got %d", specIndex, spec.expLevel, got)
		}
	}
}

func TestConsole(t *testing.T) {
	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)
	defer kfmt.SetOutputSink(nil)

	n, err := console{}.Write([]byte("app exited. ret = 0\n"))
	if err != nil || n != 20 {
		t.Fatalf("expected Write to return (20, nil); got (%d, %v)", n, err)
	}

	if exp, got := "app exited. ret = 0\n", buf.String(); got != exp {
		t.Fatalf("expected kernel output %q; got %q", exp, got)
	}
}
