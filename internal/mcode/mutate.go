package mcode

import (
	"errors"
	"fmt"
)

// Redirect moves every edge from -> oldTarget to from -> newTarget and
// rebuilds the edge sets. A block that only falls through gets Next updated;
// a conditional jump has both its taken target and its fallthrough checked.
func (f *Func) Redirect(from, oldTarget, newTarget int) error {
	b, err := f.Block(from)
	if err != nil {
		return err
	}
	if _, err := f.Block(newTarget); err != nil {
		return err
	}
	changed := false
	t := b.Terminator()
	switch {
	case t == nil:
		if b.Next == oldTarget {
			b.Next = newTarget
			changed = true
		}
	case t.Op == OpGoto:
		if t.D.Block == oldTarget {
			t.D.Block = newTarget
			changed = true
		}
	case t.Op.IsJcond():
		if t.D.Block == oldTarget {
			t.D.Block = newTarget
			changed = true
		}
		if b.Next == oldTarget {
			b.Next = newTarget
			changed = true
		}
	}
	if !changed {
		return fmt.Errorf("%w: %s %d -> %d", ErrNoEdge, f.Name, from, oldTarget)
	}
	return f.RebuildEdges()
}

// AppendGoto turns a fallthrough block into one ending in an explicit goto.
func (f *Func) AppendGoto(serial, target int) error {
	b, err := f.Block(serial)
	if err != nil {
		return err
	}
	if _, err := f.Block(target); err != nil {
		return err
	}
	if b.Terminator() != nil {
		return fmt.Errorf("%w: %s blk %d already ends in %s", ErrInconsistent, f.Name, serial, b.Tail().Op)
	}
	b.Insns = append(b.Insns, Goto(target))
	b.Next = NoBlock
	return f.RebuildEdges()
}

// Duplicate appends a copy of the block with a fresh serial. The copy has the
// same instructions and the same outgoing edges but no predecessors until the
// caller redirects some to it.
func (f *Func) Duplicate(serial int) (*Block, error) {
	b, err := f.Block(serial)
	if err != nil {
		return nil, err
	}
	dup := b.Clone()
	dup.Serial = len(f.Blocks)
	f.Blocks = append(f.Blocks, dup)
	if err := f.RebuildEdges(); err != nil {
		return nil, err
	}
	return dup, nil
}

// AppendBlock adds a block holding insns with a fresh serial. It has no
// predecessors and no fallthrough, so insns should end in a goto or ret.
// On error f is left as it was.
func (f *Func) AppendBlock(insns ...*Insn) (*Block, error) {
	b := NewBlock(len(f.Blocks), insns...)
	f.Blocks = append(f.Blocks, b)
	if err := f.RebuildEdges(); err != nil {
		f.Blocks = f.Blocks[:len(f.Blocks)-1]
		return nil, errors.Join(err, f.RebuildEdges())
	}
	return b, nil
}

// Reachable returns the set of serials reachable from block 0.
func (f *Func) Reachable() map[int]bool {
	seen := make(map[int]bool, len(f.Blocks))
	if len(f.Blocks) == 0 {
		return seen
	}
	stack := []int{0}
	seen[0] = true
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, s := range f.Blocks[n].Succs {
			if !seen[s] {
				seen[s] = true
				stack = append(stack, s)
			}
		}
	}
	return seen
}

// Compact drops blocks unreachable from the entry and renumbers the rest
// densely, preserving order. Every serial held by a caller is invalidated; the
// returned map translates old serials of surviving blocks to new ones.
func (f *Func) Compact() (map[int]int, error) {
	reach := f.Reachable()
	remap := make(map[int]int, len(reach))
	kept := make([]*Block, 0, len(reach))
	for _, b := range f.Blocks {
		if reach[b.Serial] {
			remap[b.Serial] = len(kept)
			kept = append(kept, b)
		}
	}
	translate := func(s int) (int, error) {
		if s == NoBlock {
			return NoBlock, nil
		}
		n, ok := remap[s]
		if !ok {
			return 0, fmt.Errorf("%w: %s reachable edge to dropped block %d", ErrInconsistent, f.Name, s)
		}
		return n, nil
	}
	for _, b := range kept {
		var err error
		if t := b.Terminator(); t != nil && t.Op.IsJump() {
			if t.D.Block, err = translate(t.D.Block); err != nil {
				return nil, err
			}
		}
		// A block ending in goto or ret never falls through.
		if t := b.Terminator(); t != nil && (t.Op == OpGoto || t.Op == OpRet) {
			b.Next = NoBlock
		} else if b.Next, err = translate(b.Next); err != nil {
			return nil, err
		}
		b.Serial = remap[b.Serial]
	}
	f.Blocks = kept
	return remap, f.RebuildEdges()
}

// ThreadJumps retargets edges that land on empty blocks consisting only of a
// goto, following chains. Returns the number of edges changed.
func (f *Func) ThreadJumps() (int, error) {
	final := func(s int) int {
		seen := make(map[int]bool)
		for !seen[s] {
			seen[s] = true
			b := f.Blocks[s]
			if len(b.Insns) != 1 || b.Insns[0].Op != OpGoto {
				return s
			}
			s = b.Insns[0].D.Block
		}
		return s
	}
	changed := 0
	for _, b := range f.Blocks {
		t := b.Terminator()
		switch {
		case t == nil:
			if b.Next != NoBlock {
				if n := final(b.Next); n != b.Next {
					b.Next = n
					changed++
				}
			}
		case t.Op.IsJump():
			if n := final(t.D.Block); n != t.D.Block {
				t.D.Block = n
				changed++
			}
			if t.Op.IsJcond() {
				if n := final(b.Next); n != b.Next {
					b.Next = n
					changed++
				}
			}
		}
	}
	if changed == 0 {
		return 0, nil
	}
	return changed, f.RebuildEdges()
}
