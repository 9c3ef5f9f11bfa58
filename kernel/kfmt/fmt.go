// Package kfmt implements the kernel's formatted output and logging
// facilities. None of the functions in this package allocate memory, which
// allows them to be used by the memory manager while it is setting up the
// structures the Go allocator depends on.
package kfmt

import (
	"io"
	"unsafe"
)

// numBufSize defines the buffer size for formatting numbers.
const numBufSize = 32

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")
	trueValue       = []byte("true")
	falseValue      = []byte("false")

	numBuf [numBufSize]byte

	// oneByte is a shared buffer for writing single characters.
	oneByte = []byte(" ")

	// earlyPrintBuffer stores Printf output until an output sink is
	// attached.
	earlyPrintBuffer ringBuffer

	// outputSink receives the output of Printf. When nil, output is
	// captured by earlyPrintBuffer.
	outputSink io.Writer
)

// SetOutputSink sets the target for calls to Printf to w and flushes any
// output accumulated in the early print buffer to it.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		_, _ = io.Copy(w, &earlyPrintBuffer)
	}
}

// Printf writes formatted output to the active output sink. It supports a
// subset of the fmt verbs:
//
//	%s  string or []byte
//	%d  base 10 integer
//	%x  base 16 integer, lower-case
//	%o  base 8 integer
//	%t  bool
//	%%  a literal percent sign
//
// An optional decimal width may precede the verb. Strings and base-10
// integers are left-padded with spaces; base-8 and base-16 integers are
// left-padded with zeroes.
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf behaves like Printf but writes its output to w.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var (
		argIndex int
		width    int
	)

	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			writeByte(w, format[i])
			continue
		}

		width = 0
		for i++; i < len(format) && format[i] >= '0' && format[i] <= '9'; i++ {
			width = width*10 + int(format[i]-'0')
		}

		if i == len(format) {
			doWrite(w, errNoVerb)
			break
		}

		verb := format[i]
		switch verb {
		case '%':
			writeByte(w, '%')
			continue
		case 'd', 'x', 'o', 's', 't':
		default:
			doWrite(w, errNoVerb)
			continue
		}

		if argIndex >= len(args) {
			doWrite(w, errMissingArg)
			continue
		}

		arg := args[argIndex]
		argIndex++

		switch verb {
		case 'd':
			fmtInt(w, arg, 10, width)
		case 'x':
			fmtInt(w, arg, 16, width)
		case 'o':
			fmtInt(w, arg, 8, width)
		case 's':
			fmtString(w, arg, width)
		case 't':
			fmtBool(w, arg)
		}
	}

	for ; argIndex < len(args); argIndex++ {
		doWrite(w, errExtraArg)
	}
}

func fmtBool(w io.Writer, v interface{}) {
	b, ok := v.(bool)
	switch {
	case !ok:
		doWrite(w, errWrongArgType)
	case b:
		doWrite(w, trueValue)
	default:
		doWrite(w, falseValue)
	}
}

func fmtString(w io.Writer, v interface{}, width int) {
	switch s := v.(type) {
	case string:
		writeRepeat(w, ' ', width-len(s))
		// converting s to a byte slice would allocate.
		for i := 0; i < len(s); i++ {
			writeByte(w, s[i])
		}
	case []byte:
		writeRepeat(w, ' ', width-len(s))
		doWrite(w, s)
	default:
		doWrite(w, errWrongArgType)
	}
}

// fmtInt writes v in the requested base. All built-in integer types are
// supported.
func fmtInt(w io.Writer, v interface{}, base uint64, width int) {
	var (
		mag      uint64
		negative bool
	)

	switch n := v.(type) {
	case uint8:
		mag = uint64(n)
	case uint16:
		mag = uint64(n)
	case uint32:
		mag = uint64(n)
	case uint64:
		mag = n
	case uint:
		mag = uint64(n)
	case uintptr:
		mag = uint64(n)
	case int8:
		mag, negative = signed(int64(n))
	case int16:
		mag, negative = signed(int64(n))
	case int32:
		mag, negative = signed(int64(n))
	case int64:
		mag, negative = signed(n)
	case int:
		mag, negative = signed(int64(n))
	default:
		doWrite(w, errWrongArgType)
		return
	}

	// Digits are produced right-to-left into numBuf.
	pos := numBufSize
	for {
		pos--
		digit := mag % base
		if digit < 10 {
			numBuf[pos] = byte(digit) + '0'
		} else {
			numBuf[pos] = byte(digit-10) + 'a'
		}

		mag /= base
		if mag == 0 {
			break
		}
	}

	if width > numBufSize-1 {
		width = numBufSize - 1
	}

	n := numBufSize - pos
	if negative {
		n++
	}

	// base-8 and base-16 values are zero-padded between the sign and the
	// digits; base-10 values are space-padded before the sign.
	if base != 10 {
		for ; n < width; n++ {
			pos--
			numBuf[pos] = '0'
		}
	}

	if negative {
		pos--
		numBuf[pos] = '-'
	}

	for ; n < width; n++ {
		pos--
		numBuf[pos] = ' '
	}

	doWrite(w, numBuf[pos:])
}

func signed(v int64) (uint64, bool) {
	if v < 0 {
		return uint64(-v), true
	}
	return uint64(v), false
}

func writeRepeat(w io.Writer, ch byte, count int) {
	for ; count > 0; count-- {
		writeByte(w, ch)
	}
}

func writeByte(w io.Writer, ch byte) {
	oneByte[0] = ch
	doWrite(w, oneByte)
}

// doWrite hides p from the compiler's escape analysis. As w is not known at
// compile time, p would otherwise be flagged as escaping and every call to
// Printf would allocate.
func doWrite(w io.Writer, p []byte) {
	doRealWrite(w, noEscape(unsafe.Pointer(&p)))
}

func doRealWrite(w io.Writer, bufPtr unsafe.Pointer) {
	p := *(*[]byte)(bufPtr)
	if w != nil {
		_, _ = w.Write(p)
	} else {
		_, _ = earlyPrintBuffer.Write(p)
	}
}

// noEscape hides a pointer from escape analysis. This function is copied over
// from runtime/stubs.go
//go:nosplit
func noEscape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
