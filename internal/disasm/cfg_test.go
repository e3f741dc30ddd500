package disasm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	nop = 0xD503201F
	ret = 0xD65F03C0
)

func program(base uint64, words ...uint32) []Inst {
	insts := make([]Inst, len(words))
	for i, w := range words {
		insts[i] = Inst{Addr: base + uint64(4*i), Raw: w, Size: 4}
	}
	return insts
}

func TestBuildCFGLinear(t *testing.T) {
	cfg := BuildCFG("linear", program(0x1000, nop, nop, ret))
	require.Len(t, cfg.Blocks, 1)
	blk := cfg.Blocks[0]
	assert.Equal(t, 0, blk.Start)
	assert.Equal(t, 3, blk.End)
	assert.True(t, blk.IsTerm)
	assert.Empty(t, blk.Succs)
	assert.Equal(t, -1, blk.Next)
}

func TestBuildCFGConditionalBranch(t *testing.T) {
	//   0x1000: b.eq 0x1010
	//   0x1004: nop
	//   0x1008: ret
	//   0x100c: nop          dead
	//   0x1010: ret          target
	beq := uint32(0x54000000 | 4<<5)
	cfg := BuildCFG("cond", program(0x1000, beq, nop, ret, nop, ret))
	require.Len(t, cfg.Blocks, 4)

	b0 := cfg.Blocks[0]
	assert.ElementsMatch(t, []Succ{{BlockID: 3, Cond: "T"}, {BlockID: 1, Cond: "F"}}, b0.Succs)
	assert.Equal(t, 3, b0.Taken)
	assert.Equal(t, 1, b0.Next)
	assert.Equal(t, BrBCond, cfg.Terminator(b0).Kind)

	assert.True(t, cfg.Blocks[1].IsTerm)
	assert.True(t, cfg.Blocks[3].IsTerm)
	assert.Len(t, cfg.BlockInsts(cfg.Blocks[1]), 2)
}

func TestBuildCFGUnconditionalBranch(t *testing.T) {
	cfg := BuildCFG("uncond", program(0x2000, 0x14000002, nop, ret))
	require.Len(t, cfg.Blocks, 3)
	b0 := cfg.Blocks[0]
	assert.Equal(t, []Succ{{BlockID: 2}}, b0.Succs)
	assert.Equal(t, 2, b0.Taken)
	assert.Equal(t, -1, b0.Next, "an unconditional branch never falls through")
}

func TestBuildCFGBranchOutOfFunction(t *testing.T) {
	cfg := BuildCFG("tail", program(0x3000, nop, 0x14000100))
	require.Len(t, cfg.Blocks, 1)
	assert.True(t, cfg.Blocks[0].IsTerm)
	assert.Equal(t, -1, cfg.Blocks[0].Taken)
}

func TestBuildCFGEmpty(t *testing.T) {
	assert.Empty(t, BuildCFG("empty", nil).Blocks)
}
