// Package disasm decodes ARM64 function bodies, splits them into basic
// blocks and lifts the blocks to microcode for the unflattener.
package disasm

import (
	"encoding/binary"
	"fmt"
	"strings"

	"golang.org/x/arch/arm64/arm64asm"
)

// Inst is a decoded ARM64 instruction with address and raw bytes.
type Inst struct {
	Addr     uint64
	Raw      uint32
	Size     int // always 4 for ARM64
	Mnemonic string
	Operands string
	Text     string // full disassembly line
}

// SymbolLookup resolves an address to a symbolic name. Returns ("", false) if unknown.
type SymbolLookup func(addr uint64) (name string, ok bool)

// Annotator returns an optional inline comment for an instruction.
// Empty string means no annotation.
type Annotator func(inst Inst) string

// Options controls disassembly behavior.
type Options struct {
	BaseAddr uint64 // VA of the first byte in data
	MaxSteps int    // maximum instructions to decode; 0 = 1M
}

const defaultMaxSteps = 1_000_000

func (o Options) limit() int {
	if o.MaxSteps > 0 {
		return o.MaxSteps
	}
	return defaultMaxSteps
}

// Disassemble decodes ARM64 instructions from a byte region. Words the
// decoder rejects are kept as .word entries so addresses stay contiguous.
func Disassemble(data []byte, opts Options) []Inst {
	n := min(len(data)/4, opts.limit())
	out := make([]Inst, 0, n)
	for i := range n {
		word := data[i*4 : i*4+4]
		out = append(out, decodeWord(word, opts.BaseAddr+uint64(i*4)))
	}
	return out
}

func decodeWord(word []byte, addr uint64) Inst {
	raw := binary.LittleEndian.Uint32(word)
	in := Inst{Addr: addr, Raw: raw, Size: 4}
	dec, err := arm64asm.Decode(word)
	if err != nil {
		in.Mnemonic = ".word"
		in.Operands = fmt.Sprintf("0x%08x", raw)
		in.Text = ".word " + in.Operands
		return in
	}
	in.Text = dec.String()
	in.Mnemonic, in.Operands, _ = strings.Cut(in.Text, " ")
	return in
}

// Encode packs raw instruction words into little-endian bytes.
func Encode(words ...uint32) []byte {
	buf := make([]byte, 0, 4*len(words))
	for _, w := range words {
		buf = binary.LittleEndian.AppendUint32(buf, w)
	}
	return buf
}

// Format renders instructions as stable text, one per line:
//
//	<addr>  <hex bytes>  <disasm>  ; <comment>
//
// A symbol at the address wins over the annotators; otherwise the first
// non-empty annotation is used.
func Format(insts []Inst, lookup SymbolLookup, annotators ...Annotator) string {
	var b strings.Builder
	for _, in := range insts {
		fmt.Fprintf(&b, "0x%08x  %02x %02x %02x %02x  %s",
			in.Addr, byte(in.Raw), byte(in.Raw>>8), byte(in.Raw>>16), byte(in.Raw>>24), in.Text)
		if comment := annotate(in, lookup, annotators); comment != "" {
			b.WriteString("  ; ")
			b.WriteString(comment)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func annotate(in Inst, lookup SymbolLookup, annotators []Annotator) string {
	if lookup != nil {
		if name, ok := lookup(in.Addr); ok {
			return "<" + name + ">"
		}
	}
	for _, ann := range annotators {
		if s := ann(in); s != "" {
			return s
		}
	}
	return ""
}

// MapLookup returns a SymbolLookup backed by an address → name map.
func MapLookup(names map[uint64]string) SymbolLookup {
	return func(addr uint64) (string, bool) {
		name, ok := names[addr]
		return name, ok
	}
}
