package unflat

import (
	"fmt"

	"unflat/internal/mcode"
)

// hubShaped reports whether a block's last instruction looks like the central
// dispatcher comparison: a flattening jump of a register or and(x, mask)
// against an immediate.
func hubShaped(b *mcode.Block) bool {
	t := b.Tail()
	if t == nil || !IsFlatteningJump(t.Op) || !t.R.IsImm() {
		return false
	}
	return t.L.Kind == mcode.KindReg || t.L.IsExprOf(mcode.OpAnd)
}

// GuessOutmostDispatcher returns the hub-shaped block with the most
// predecessors, provided it has more than minPreds. Ties keep the lowest
// serial. NoBlock when nothing qualifies.
func GuessOutmostDispatcher(fn *mcode.Func, minPreds int) int {
	best, most := mcode.NoBlock, minPreds
	for _, b := range fn.Blocks {
		if b.NPred() > most && hubShaped(b) {
			best, most = b.Serial, b.NPred()
		}
	}
	return best
}

// LastBlockBeforeDispatcher approximates the last block of the entry sequence
// before control enters the dispatch loop. The first predecessor of dispatch
// is preferred; if it does not precede dispatch or ends in a conditional jump,
// the smallest earlier predecessor with an unconditional last instruction is
// used instead. NoBlock when none qualifies.
func LastBlockBeforeDispatcher(fn *mcode.Func, dispatch int) (int, error) {
	if dispatch == mcode.NoBlock {
		return mcode.NoBlock, nil
	}
	d, err := fn.Block(dispatch)
	if err != nil {
		return mcode.NoBlock, err
	}
	if d.NPred() == 0 {
		return mcode.NoBlock, nil
	}
	last := d.Preds[0]
	lb, err := fn.Block(last)
	if err != nil {
		return mcode.NoBlock, fmt.Errorf("unflat: pred of dispatcher %d: %w", dispatch, err)
	}
	if last >= dispatch || lb.Tail() == nil || lb.Tail().Op.IsJcond() {
		last = dispatch
		for _, p := range d.Preds {
			pb, err := fn.Block(p)
			if err != nil {
				return mcode.NoBlock, fmt.Errorf("unflat: pred of dispatcher %d: %w", dispatch, err)
			}
			if p < last && pb.Tail() != nil && !pb.Tail().Op.IsJcond() {
				last = p
			}
		}
	}
	if last == dispatch {
		return mcode.NoBlock, nil
	}
	return last, nil
}
