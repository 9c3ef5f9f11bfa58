package exec

import (
	"bytes"
	"encoding/binary"

	"github.com/sasurau4/mikan-os/kernel"
)

// UserSpaceStart is the lowest virtual address at which an executable image
// may be loaded. Lower addresses belong to the kernel identity map.
const UserSpaceStart = uint64(0xffff800000000000)

// MaxLoadSegments is the maximum number of PT_LOAD segments in an image
// accepted by the loader.
const MaxLoadSegments = 16

const (
	elfHeaderSize     = 64
	progHeaderMinSize = 56

	elfClass64        = 2
	elfDataLSB        = 1
	elfMachineX86_64  = 62
	elfTypeExecutable = 2
	progTypeLoad      = 1
)

var (
	elfMagic = []byte("\x7fELF")

	// ErrInvalidFormat is returned for executable images that cannot be
	// loaded.
	ErrInvalidFormat = &kernel.Error{Module: "exec", Message: "invalid executable format"}

	// ErrTooManySegments is returned when an image has more PT_LOAD
	// segments than the storage supplied to LoadSegments can hold.
	ErrTooManySegments = &kernel.Error{Module: "exec", Message: "too many loadable segments"}
)

// Header contains the ELF header fields used by the loader.
type Header struct {
	Type      uint16
	Machine   uint16
	Entry     uint64
	PhOff     uint64
	PhEntSize uint16
	PhNum     uint16
}

// Segment describes a PT_LOAD program header.
type Segment struct {
	// The virtual address where the segment is loaded.
	VirtAddr uint64

	// The offset of the segment contents in the image.
	Offset uint64

	// The number of bytes copied from the image.
	FileSize uint64

	// The size of the segment in memory. Bytes past FileSize are zeroed.
	MemSize uint64
}

// IsELF returns true if image starts with the ELF signature.
func IsELF(image []byte) bool {
	return bytes.HasPrefix(image, elfMagic)
}

// ParseHeader decodes the header of a 64-bit little-endian x86-64 ELF image.
func ParseHeader(image []byte) (Header, *kernel.Error) {
	if len(image) < elfHeaderSize || !IsELF(image) ||
		image[4] != elfClass64 || image[5] != elfDataLSB {
		return Header{}, ErrInvalidFormat
	}

	hdr := Header{
		Type:      binary.LittleEndian.Uint16(image[16:]),
		Machine:   binary.LittleEndian.Uint16(image[18:]),
		Entry:     binary.LittleEndian.Uint64(image[24:]),
		PhOff:     binary.LittleEndian.Uint64(image[32:]),
		PhEntSize: binary.LittleEndian.Uint16(image[54:]),
		PhNum:     binary.LittleEndian.Uint16(image[56:]),
	}

	if hdr.Machine != elfMachineX86_64 {
		return Header{}, ErrInvalidFormat
	}

	return hdr, nil
}

// LoadSegments stores the PT_LOAD segments of image in program header order
// into segments and returns them. The result shares the backing array of
// segments, which is never grown; ErrTooManySegments is returned if it has
// no room left. Program headers or segment contents that lie outside the
// image and segments whose file size exceeds their memory size are rejected.
func LoadSegments(image []byte, hdr Header, segments []Segment) ([]Segment, *kernel.Error) {
	segments = segments[:0]
	if hdr.PhNum == 0 {
		return segments, nil
	}

	entSize := uint64(hdr.PhEntSize)
	if entSize < progHeaderMinSize || hdr.PhOff > uint64(len(image)) ||
		entSize*uint64(hdr.PhNum) > uint64(len(image))-hdr.PhOff {
		return nil, ErrInvalidFormat
	}

	for i := uint64(0); i < uint64(hdr.PhNum); i++ {
		ph := image[hdr.PhOff+i*entSize:]
		if binary.LittleEndian.Uint32(ph[0:]) != progTypeLoad {
			continue
		}

		seg := Segment{
			Offset:   binary.LittleEndian.Uint64(ph[8:]),
			VirtAddr: binary.LittleEndian.Uint64(ph[16:]),
			FileSize: binary.LittleEndian.Uint64(ph[32:]),
			MemSize:  binary.LittleEndian.Uint64(ph[40:]),
		}

		if seg.FileSize > seg.MemSize ||
			seg.Offset > uint64(len(image)) || seg.FileSize > uint64(len(image))-seg.Offset ||
			seg.VirtAddr+seg.MemSize < seg.VirtAddr {
			return nil, ErrInvalidFormat
		}

		if len(segments) == cap(segments) {
			return nil, ErrTooManySegments
		}
		segments = append(segments, seg)
	}

	return segments, nil
}

// Footprint returns the virtual address range [start, end) covered by
// segments.
func Footprint(segments []Segment) (start, end uint64) {
	start = ^uint64(0)
	for _, seg := range segments {
		start = min(start, seg.VirtAddr)
		end = max(end, seg.VirtAddr+seg.MemSize)
	}

	return start, end
}
