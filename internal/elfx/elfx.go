// Package elfx loads ARM64 ELF binaries and extracts the code of their
// function symbols.
package elfx

import (
	"cmp"
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
)

var (
	ErrNotELF       = errors.New("elfx: not an ELF file")
	ErrNotARM64     = errors.New("elfx: not ARM64 (EM_AARCH64)")
	ErrNotLoadable  = errors.New("elfx: not an executable or shared object")
	ErrNot64Bit     = errors.New("elfx: not 64-bit ELF")
	ErrNoSymbol     = errors.New("elfx: symbol not found")
	ErrNoSegment    = errors.New("elfx: no PT_LOAD segment covers address")
	ErrSymbolNoSize = errors.New("elfx: symbol has zero size")
)

// File wraps a debug/elf.File.
type File struct {
	ELF  *elf.File
	raw  io.ReaderAt
	size int64
	c    io.Closer
}

// Func is a sized function symbol.
type Func struct {
	Name string
	Addr uint64
	Size uint64
}

// Open opens an ELF file and validates it is a 64-bit ARM64 executable or
// shared object.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("elfx: open: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("elfx: stat: %w", err)
	}
	ef, err := elf.NewFile(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrNotELF, err)
	}

	switch {
	case ef.Class != elf.ELFCLASS64:
		err = ErrNot64Bit
	case ef.Machine != elf.EM_AARCH64:
		err = ErrNotARM64
	case ef.Type != elf.ET_DYN && ef.Type != elf.ET_EXEC:
		err = ErrNotLoadable
	}
	if err != nil {
		f.Close()
		return nil, err
	}
	return &File{ELF: ef, raw: f, size: info.Size(), c: f}, nil
}

// Close releases resources.
func (f *File) Close() error {
	return f.c.Close()
}

// FileSize returns the size of the underlying file.
func (f *File) FileSize() int64 { return f.size }

// Funcs returns the sized STT_FUNC symbols of the static and dynamic symbol
// tables, sorted by address. An address named by both tables keeps the
// static name.
func (f *File) Funcs() ([]Func, error) {
	var all []elf.Symbol
	for _, read := range []func() ([]elf.Symbol, error){f.ELF.Symbols, f.ELF.DynamicSymbols} {
		syms, err := read()
		if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
			return nil, fmt.Errorf("elfx: symbols: %w", err)
		}
		all = append(all, syms...)
	}

	seen := make(map[uint64]bool)
	var funcs []Func
	for _, s := range all {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Size == 0 || s.Section == elf.SHN_UNDEF || seen[s.Value] {
			continue
		}
		seen[s.Value] = true
		funcs = append(funcs, Func{Name: s.Name, Addr: s.Value, Size: s.Size})
	}
	slices.SortFunc(funcs, func(a, b Func) int { return cmp.Compare(a.Addr, b.Addr) })
	return funcs, nil
}

// Symbol looks up a function symbol by exact name.
func (f *File) Symbol(name string) (Func, error) {
	funcs, err := f.Funcs()
	if err != nil {
		return Func{}, err
	}
	for _, fn := range funcs {
		if fn.Name == name {
			return fn, nil
		}
	}
	return Func{}, fmt.Errorf("%w: %s", ErrNoSymbol, name)
}

// FuncBytes reads the code of a function symbol.
func (f *File) FuncBytes(fn Func) ([]byte, error) {
	if fn.Size == 0 {
		return nil, fmt.Errorf("%w: %s", ErrSymbolNoSize, fn.Name)
	}
	return f.ReadBytesAtVA(fn.Addr, int(fn.Size))
}

// Lookup returns a resolver from function entry addresses to names.
func Lookup(funcs []Func) func(uint64) (string, bool) {
	names := make(map[uint64]string, len(funcs))
	for _, fn := range funcs {
		names[fn.Addr] = fn.Name
	}
	return func(addr uint64) (string, bool) {
		name, ok := names[addr]
		return name, ok
	}
}

// VAToFileOffset converts a virtual address to a file offset using PT_LOAD segments.
func (f *File) VAToFileOffset(va uint64) (uint64, error) {
	for _, p := range f.ELF.Progs {
		if p.Type != elf.PT_LOAD || va < p.Vaddr || va >= p.Vaddr+p.Filesz {
			continue
		}
		off := va - p.Vaddr + p.Off
		if off >= uint64(f.size) {
			return 0, fmt.Errorf("elfx: VA 0x%x maps to offset 0x%x beyond file size 0x%x", va, off, f.size)
		}
		return off, nil
	}
	return 0, fmt.Errorf("%w: VA 0x%x", ErrNoSegment, va)
}

// ReadBytesAtVA reads up to n bytes starting at the given virtual address.
func (f *File) ReadBytesAtVA(va uint64, n int) ([]byte, error) {
	off, err := f.VAToFileOffset(va)
	if err != nil {
		return nil, err
	}
	n = int(min(int64(n), f.size-int64(off)))
	buf := make([]byte, n)
	if _, err := f.raw.ReadAt(buf, int64(off)); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("elfx: read at 0x%x: %w", off, err)
	}
	return buf, nil
}
