// Command elfspan reports the virtual address footprint that the kernel
// program loader maps for an ELF executable, together with the number of
// frames needed to back it in an empty address space.
package main

import (
	"debug/elf"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sasurau4/mikan-os/kernel/exec"
)

const (
	pageShift      = 12
	tableIndexBits = 9
)

var errNoLoadSegments = errors.New("no PT_LOAD segments")

// span describes the footprint of an executable.
type span struct {
	start, end uint64

	// pages is the number of 4K pages mapped by the loader.
	pages uint64

	// tables holds the number of page tables needed at each level below
	// the PML4: page tables, page directories and page directory pointer
	// tables (one per top-level slot).
	tables [3]uint64

	loadable bool
	reason   string
}

// frames returns the number of frames required to map the span into an
// address space that has no mappings in the affected top-level slots.
func (s span) frames() uint64 {
	return s.pages + s.tables[0] + s.tables[1] + s.tables[2]
}

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[elfspan] error: %s\n", err.Error())
	os.Exit(1)
}

func analyze(f *elf.File) (span, error) {
	var (
		s = span{start: ^uint64(0)}
		n int
	)

	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}

		if prog.Filesz > prog.Memsz {
			return span{}, fmt.Errorf("segment at 0x%x: file size %d exceeds memory size %d", prog.Vaddr, prog.Filesz, prog.Memsz)
		}

		s.start = min(s.start, prog.Vaddr)
		s.end = max(s.end, prog.Vaddr+prog.Memsz)
		n++
	}

	if n == 0 {
		return span{}, errNoLoadSegments
	}

	firstPage := s.start >> pageShift
	if s.end > s.start {
		lastPage := (s.end - 1) >> pageShift
		s.pages = lastPage - firstPage + 1

		for level := range s.tables {
			shift := uint(tableIndexBits * (level + 1))
			s.tables[level] = lastPage>>shift - firstPage>>shift + 1
		}
	}

	switch {
	case f.Type != elf.ET_EXEC:
		s.reason = fmt.Sprintf("type %s is not ET_EXEC", f.Type)
	case f.Machine != elf.EM_X86_64:
		s.reason = fmt.Sprintf("machine %s is not EM_X86_64", f.Machine)
	case s.start < exec.UserSpaceStart:
		s.reason = fmt.Sprintf("lowest segment 0x%x is below 0x%x", s.start, exec.UserSpaceStart)
	default:
		s.loadable = true
	}

	return s, nil
}

func report(w io.Writer, path string, s span, verbose bool, f *elf.File) {
	fmt.Fprintf(w, "%s:\n", path)
	fmt.Fprintf(w, "  footprint: [0x%016x - 0x%016x)\n", s.start, s.end)
	fmt.Fprintf(w, "  pages:     %d\n", s.pages)
	fmt.Fprintf(w, "  tables:    %d PT, %d PD, %d PDPT\n", s.tables[0], s.tables[1], s.tables[2])
	fmt.Fprintf(w, "  frames:    %d\n", s.frames())

	if s.tables[2] > 1 {
		fmt.Fprintf(w, "  warning:   spans %d top-level slots; only the first one is released on exit\n", s.tables[2])
	}

	if s.loadable {
		fmt.Fprintf(w, "  loadable:  yes\n")
	} else {
		fmt.Fprintf(w, "  loadable:  no (%s)\n", s.reason)
	}

	if !verbose {
		return
	}

	for i, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		fmt.Fprintf(w, "  segment %d: vaddr 0x%016x offset 0x%x filesz %d memsz %d\n", i, prog.Vaddr, prog.Off, prog.Filesz, prog.Memsz)
	}
}

func run(w io.Writer, paths []string, verbose bool) error {
	for _, path := range paths {
		f, err := elf.Open(path)
		if err != nil {
			return err
		}

		s, err := analyze(f)
		if err != nil {
			f.Close()
			return fmt.Errorf("%s: %w", path, err)
		}

		report(w, path, s, verbose, f)
		f.Close()
	}

	return nil
}

func main() {
	verbose := flag.Bool("v", false, "list the PT_LOAD segments of each file")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: elfspan [-v] file...\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(os.Stdout, flag.Args(), *verbose); err != nil {
		exit(err)
	}
}
