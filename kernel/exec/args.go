package exec

import (
	"unsafe"

	"github.com/sasurau4/mikan-os/kernel"
)

const (
	// MaxArgs is the maximum number of entries in an argument vector,
	// including the command.
	MaxArgs = 32

	// maxArgBytes is the room available for the NUL-terminated copies
	// of the arguments handed to a program.
	maxArgBytes = 1024
)

// ErrArgVectorTooLong is returned when the arguments of a program do not fit
// in an argument vector.
var ErrArgVectorTooLong = &kernel.Error{Module: "exec", Message: "argument vector too long"}

// ArgVector holds the argument vector of a program. Entries reference the
// strings the vector was built from.
type ArgVector struct {
	args  [MaxArgs]string
	count int
}

// Args returns the entries of the vector.
func (v *ArgVector) Args() []string {
	return v.args[:v.count]
}

// MakeArgVector fills v with the argument vector passed to a program: the
// command followed by the whitespace-separated words of args. Quoting is not
// supported.
func MakeArgVector(v *ArgVector, command, args string) *kernel.Error {
	v.args[0], v.count = command, 1

	for start := 0; start < len(args); {
		for start < len(args) && isSpace(args[start]) {
			start++
		}

		end := start
		for end < len(args) && !isSpace(args[end]) {
			end++
		}

		if end > start {
			if v.count == MaxArgs {
				return ErrArgVectorTooLong
			}

			v.args[v.count] = args[start:end]
			v.count++
		}
		start = end
	}

	return nil
}

func isSpace(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\v', '\f', '\r':
		return true
	default:
		return false
	}
}

// cArgVector holds NUL-terminated copies of an argument vector and the
// NULL-terminated array of pointers to them that C programs receive as argv.
type cArgVector struct {
	data [maxArgBytes]byte
	ptrs [MaxArgs + 1]*byte
}

// set copies argv into the vector and returns the argument count.
func (v *cArgVector) set(argv []string) (int, *kernel.Error) {
	if len(argv) > MaxArgs {
		return 0, ErrArgVectorTooLong
	}

	var offset int
	for i, arg := range argv {
		if len(arg) >= len(v.data)-offset {
			return 0, ErrArgVectorTooLong
		}

		copy(v.data[offset:], arg)
		v.data[offset+len(arg)] = 0
		v.ptrs[i] = &v.data[offset]
		offset += len(arg) + 1
	}
	v.ptrs[len(argv)] = nil

	return len(argv), nil
}

// argv returns the address of the pointer array.
func (v *cArgVector) argv() unsafe.Pointer {
	return unsafe.Pointer(&v.ptrs[0])
}
