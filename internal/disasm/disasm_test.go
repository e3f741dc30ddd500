package disasm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisassemble(t *testing.T) {
	insts := Disassemble(Encode(nop, nop), Options{BaseAddr: 0x1000})
	require.Len(t, insts, 2)
	assert.Equal(t, uint64(0x1000), insts[0].Addr)
	assert.Equal(t, uint64(0x1004), insts[1].Addr)
	assert.Equal(t, "NOP", strings.ToUpper(insts[0].Mnemonic))
}

func TestDisassembleLimits(t *testing.T) {
	words := make([]uint32, 100)
	for i := range words {
		words[i] = nop
	}
	assert.Len(t, Disassemble(Encode(words...), Options{MaxSteps: 10}), 10)
	assert.Empty(t, Disassemble(nil, Options{}))
	assert.Empty(t, Disassemble([]byte{0x01, 0x02}, Options{}), "short tail")
}

func TestDisassembleUndecodable(t *testing.T) {
	insts := Disassemble(Encode(0x00000000), Options{})
	require.Len(t, insts, 1)
	assert.Equal(t, ".word", insts[0].Mnemonic)
	assert.Equal(t, ".word 0x00000000", insts[0].Text)
}

func TestFormat(t *testing.T) {
	insts := Disassemble(Encode(nop, 0x52824688), Options{BaseAddr: 0x1000})
	text := Format(insts, MapLookup(map[uint64]string{0x1000: "entry"}), MicrocodeAnnotator(nil))
	lines := strings.Split(strings.TrimSpace(text), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "0x00001000")
	assert.Contains(t, lines[0], "; <entry>")
	assert.Contains(t, lines[1], "; mov #0x1234.4, r8.4")
	assert.Equal(t, text, Format(insts, MapLookup(map[uint64]string{0x1000: "entry"}), MicrocodeAnnotator(nil)))
}
