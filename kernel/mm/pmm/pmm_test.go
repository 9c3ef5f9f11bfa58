package pmm

import (
	"bytes"
	"testing"
	"unsafe"

	"github.com/sasurau4/mikan-os/kernel/hal/multiboot"
	"github.com/sasurau4/mikan-os/kernel/kfmt"
	"github.com/sasurau4/mikan-os/kernel/mm"
)

// qemuMemoryMap matches the memory map reported by qemu running with 128M RAM.
var qemuMemoryMap = []multiboot.MemoryMapEntry{
	{PhysAddress: 0, Length: 654336, Type: multiboot.MemAvailable},
	{PhysAddress: 654336, Length: 1024, Type: multiboot.MemReserved},
	{PhysAddress: 983040, Length: 65536, Type: multiboot.MemReserved},
	{PhysAddress: 1048576, Length: 133038080, Type: multiboot.MemAvailable},
	{PhysAddress: 134086656, Length: 131072, Type: multiboot.MemReserved},
	{PhysAddress: 4294705152, Length: 262144, Type: multiboot.MemReserved},
}

// memoryMapInfo holds the info block built by setMemoryMap while the
// multiboot package points to it.
var memoryMapInfo []uint64

// setMemoryMap points the multiboot package to an info block that holds a
// memory map tag with the supplied regions.
func setMemoryMap(regions []multiboot.MemoryMapEntry) {
	const (
		tagMemoryMap = 6
		entrySize    = 24
	)

	// fixed header, tag header and memory map header
	info := []uint64{0, tagMemoryMap | uint64(16+entrySize*len(regions))<<32, entrySize}
	for _, region := range regions {
		info = append(info, region.PhysAddress, region.Length, uint64(region.Type))
	}

	// end tag
	info = append(info, 8<<32)
	info[0] = uint64(len(info) * 8)

	memoryMapInfo = info
	multiboot.SetInfoPtr(uintptr(unsafe.Pointer(&info[0])))
}

func TestSeed(t *testing.T) {
	defer multiboot.SetInfoPtr(0)
	setMemoryMap(qemuMemoryMap)

	alloc := new(BitmapAllocator)
	if err := alloc.seed(0x100000, 0x1fa7c8); err != nil {
		t.Fatal(err)
	}

	if begin, end := alloc.MemoryRange(); begin != 1 || end != 32736 {
		t.Fatalf("expected memory range [1, 32736); got [%d, %d)", begin, end)
	}

	// frames 1-158 from the first region plus 256-32735 minus the
	// 251 frames used by the kernel image
	if exp, got := uint64(32387), alloc.FreeFrames(); got != exp {
		t.Fatalf("expected %d free frames; got %d", exp, got)
	}

	specs := []struct {
		frame        mm.Frame
		expAllocated bool
	}{
		{0, false},
		{158, false},
		{159, true},  // reserved (unaligned start)
		{200, true},  // hole between regions
		{250, true},  // reserved
		{256, true},  // kernel image
		{506, true},  // kernel image (unaligned end)
		{507, false}, // first frame after the kernel
		{32735, false},
		{32736, true}, // reserved
	}

	for specIndex, spec := range specs {
		if got := alloc.IsAllocated(spec.frame); got != spec.expAllocated {
			t.Errorf("[spec %d] expected IsAllocated(%d) to return %t; got %t", specIndex, spec.frame, spec.expAllocated, got)
		}
	}

	specFrames := []mm.Frame{1, 2, 3}
	for specIndex, exp := range specFrames {
		frame, err := alloc.Allocate(1)
		if err != nil {
			t.Fatal(err)
		}

		if frame != exp {
			t.Errorf("[spec %d] expected Allocate(1) to return frame %d; got %d", specIndex, exp, frame)
		}
	}

	frame, err := alloc.Allocate(200)
	if err != nil {
		t.Fatal(err)
	}

	if exp := mm.Frame(507); frame != exp {
		t.Fatalf("expected Allocate(200) to return frame %d; got %d", exp, frame)
	}
}

func TestSeedWithoutAvailableMemory(t *testing.T) {
	defer multiboot.SetInfoPtr(0)

	specs := [][]multiboot.MemoryMapEntry{
		nil,
		{{PhysAddress: 0, Length: 0x100000, Type: multiboot.MemReserved}},
		// a single available frame at address 0 cannot be handed out
		{{PhysAddress: 0, Length: 0x1000, Type: multiboot.MemAvailable}},
		// less than a page of available memory
		{{PhysAddress: 0x1100, Length: 0x800, Type: multiboot.MemAvailable}},
	}

	for specIndex, spec := range specs {
		setMemoryMap(spec)

		alloc := new(BitmapAllocator)
		if err := alloc.seed(0, 0); err != ErrNoMemoryMap {
			t.Errorf("[spec %d] expected ErrNoMemoryMap; got %v", specIndex, err)
		}
	}
}

func TestInit(t *testing.T) {
	var buf bytes.Buffer
	defer func() {
		multiboot.SetInfoPtr(0)
		kfmt.SetOutputSink(nil)
		kfmt.SetLogLevel(kfmt.LevelWarn)
		FrameAllocator = BitmapAllocator{}
	}()
	setMemoryMap(qemuMemoryMap)
	kfmt.SetOutputSink(&buf)
	kfmt.SetLogLevel(kfmt.LevelInfo)

	if err := Init(0x100000, 0x1fa7c8); err != nil {
		t.Fatal(err)
	}

	if exp, got := uint64(32387), FrameAllocator.FreeFrames(); got != exp {
		t.Fatalf("expected %d free frames; got %d", exp, got)
	}

	for _, exp := range []string{
		"[pmm] system memory map:",
		"type: available",
		"[pmm] available memory: 130559Kb",
		"[pmm] managing frames [1, 32736), free: 32387",
	} {
		if !bytes.Contains(buf.Bytes(), []byte(exp)) {
			t.Errorf("expected output to contain %q; got:\n%s", exp, buf.String())
		}
	}
}
