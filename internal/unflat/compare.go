package unflat

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"

	"unflat/internal/mcode"
)

// flatteningJumps are the conditional branches a dispatch chain is built from.
var flatteningJumps = mapset.NewThreadUnsafeSet(
	mcode.OpJnz, mcode.OpJz,
	mcode.OpJae, mcode.OpJb, mcode.OpJa, mcode.OpJbe,
	mcode.OpJg, mcode.OpJge, mcode.OpJl, mcode.OpJle,
)

// IsFlatteningJump reports whether op can end a dispatcher comparison block.
func IsFlatteningJump(op mcode.Opcode) bool { return flatteningJumps.ContainsOne(op) }

// Comparison is the (constant, compared operand) pair of a comparison block.
type Comparison struct {
	Const    mcode.Operand
	Compared mcode.Operand
}

// Value returns the constant truncated to its size.
func (c Comparison) Value() uint64 { return mcode.Truncate(c.Const.Value, c.Const.Size) }

// GetComparison extracts the comparison of a block whose last instruction is
// a flattening jump with exactly one immediate operand. The other operand
// must be a variable or a derived expression such as and(x, mask).
func GetComparison(b *mcode.Block) (Comparison, bool) {
	t := b.Tail()
	if t == nil || !IsFlatteningJump(t.Op) {
		return Comparison{}, false
	}
	switch {
	case t.L.IsImm() && comparedOperand(t.R):
		return Comparison{Const: t.L, Compared: t.R}, true
	case t.R.IsImm() && comparedOperand(t.L):
		return Comparison{Const: t.R, Compared: t.L}, true
	}
	return Comparison{}, false
}

func comparedOperand(o mcode.Operand) bool {
	return o.IsVar() || (o.Kind == mcode.KindExpr && o.Expr != nil)
}

// IsCandidateEntry reports whether b compares a variable that none of its
// direct predecessors compares; chained ifs over one variable are program
// logic, not an injected dispatcher.
func IsCandidateEntry(fn *mcode.Func, b *mcode.Block) (bool, error) {
	cmp, ok := GetComparison(b)
	if !ok {
		return false, nil
	}
	for _, p := range b.Preds {
		pb, err := fn.Block(p)
		if err != nil {
			return false, fmt.Errorf("unflat: pred of blk %d: %w", b.Serial, err)
		}
		if pc, ok := GetComparison(pb); ok && pc.Compared.EqualIgnoreSize(cmp.Compared) {
			return false, nil
		}
	}
	return true, nil
}
