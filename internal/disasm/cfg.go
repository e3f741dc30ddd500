package disasm

import (
	"maps"
	"slices"
)

// BasicBlock is a run of instructions with a single entry point.
type BasicBlock struct {
	ID      int
	Start   int    // index into FuncCFG.Insts (inclusive)
	End     int    // index into FuncCFG.Insts (exclusive)
	Succs   []Succ // successor edges
	IsEntry bool
	IsTerm  bool // ends with RET or a branch out of the function

	Taken int // block reached by the terminating branch, -1 if none
	Next  int // block reached by falling through, -1 if none
}

// Succ describes a control-flow successor edge.
type Succ struct {
	BlockID int
	Cond    string // "" = unconditional, "T" = taken, "F" = fallthrough
}

// FuncCFG is a per-function control flow graph.
type FuncCFG struct {
	Name   string
	Blocks []BasicBlock
	Insts  []Inst
}

// BlockInsts returns the instructions of block b.
func (c *FuncCFG) BlockInsts(b BasicBlock) []Inst {
	return c.Insts[b.Start:min(b.End, len(c.Insts))]
}

// Terminator decodes the branch ending block b, or nil if it falls through.
func (c *FuncCFG) Terminator(b BasicBlock) *BranchInfo {
	if b.End <= b.Start {
		return nil
	}
	last := c.Insts[b.End-1]
	return DecodeBranch(last.Raw, last.Addr)
}

// BuildCFG splits a function's instruction stream into basic blocks.
// Leaders are the entry, in-function branch targets and the instruction
// after every branch. Edges come from each block's last instruction.
func BuildCFG(name string, insts []Inst) FuncCFG {
	cfg := FuncCFG{Name: name, Insts: insts}
	if len(insts) == 0 {
		return cfg
	}
	lo, hi := insts[0].Addr, insts[len(insts)-1].Addr+4
	index := make(map[uint64]int, len(insts))
	for i, in := range insts {
		index[in.Addr] = i
	}
	local := func(target uint64) (int, bool) {
		if target < lo || target >= hi {
			return 0, false
		}
		i, ok := index[target]
		return i, ok
	}

	leaders := map[int]bool{0: true}
	for i, in := range insts {
		bi := DecodeBranch(in.Raw, in.Addr)
		if bi == nil {
			continue
		}
		if i+1 < len(insts) {
			leaders[i+1] = true
		}
		if !bi.IsRet {
			if t, ok := local(bi.Target); ok {
				leaders[t] = true
			}
		}
	}

	starts := slices.Sorted(maps.Keys(leaders))
	blockAt := make(map[int]int, len(starts))
	cfg.Blocks = make([]BasicBlock, len(starts))
	for i, s := range starts {
		end := len(insts)
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		cfg.Blocks[i] = BasicBlock{ID: i, Start: s, End: end, IsEntry: s == 0, Taken: -1, Next: -1}
		blockAt[s] = i
	}

	for i := range cfg.Blocks {
		blk := &cfg.Blocks[i]
		fall, hasFall := blockAt[blk.End]
		bi := cfg.Terminator(*blk)
		switch {
		case bi == nil:
			if hasFall {
				blk.Next = fall
				blk.Succs = append(blk.Succs, Succ{BlockID: fall})
			}
			continue
		case bi.IsRet:
			blk.IsTerm = true
			continue
		}
		if t, ok := local(bi.Target); ok {
			blk.Taken = blockAt[t]
		}
		if !bi.Cond {
			if blk.Taken >= 0 {
				blk.Succs = append(blk.Succs, Succ{BlockID: blk.Taken})
			} else {
				blk.IsTerm = true
			}
			continue
		}
		if blk.Taken >= 0 {
			blk.Succs = append(blk.Succs, Succ{BlockID: blk.Taken, Cond: "T"})
		}
		if hasFall {
			blk.Next = fall
			blk.Succs = append(blk.Succs, Succ{BlockID: fall, Cond: "F"})
		}
	}
	return cfg
}
