package mcode

// Truncate masks v to size bytes. Sizes outside 1..7 leave v unchanged.
func Truncate(v uint64, size int) uint64 {
	if size <= 0 || size >= 8 {
		return v
	}
	return v & (uint64(1)<<(uint(size)*8) - 1)
}

// SignExtend interprets the low size bytes of v as a signed integer.
func SignExtend(v uint64, size int) int64 {
	if size <= 0 || size >= 8 {
		return int64(v)
	}
	shift := 64 - uint(size)*8
	return int64(v<<shift) >> shift
}

// EvalBinary folds a binary or unary data operation. ok is false for opcodes
// that do not compute a value from their operands.
func EvalBinary(op Opcode, l, r uint64, size int) (uint64, bool) {
	var v uint64
	switch op {
	case OpMov, OpLdx:
		v = l
	case OpAdd:
		v = l + r
	case OpSub:
		v = l - r
	case OpMul:
		v = l * r
	case OpAnd:
		v = l & r
	case OpOr:
		v = l | r
	case OpXor:
		v = l ^ r
	case OpShl:
		v = l << (r & 63)
	case OpShr:
		v = l >> (r & 63)
	case OpBnot:
		v = ^l
	case OpNeg:
		v = -l
	case OpSetz:
		if Truncate(l, size) == Truncate(r, size) {
			v = 1
		}
	case OpSetnz:
		if Truncate(l, size) != Truncate(r, size) {
			v = 1
		}
	default:
		return 0, false
	}
	return Truncate(v, size), true
}

// EvalCond evaluates a conditional jump: it reports whether the branch is taken.
func EvalCond(op Opcode, l, r uint64, size int) (taken, ok bool) {
	ul, ur := Truncate(l, size), Truncate(r, size)
	sl, sr := SignExtend(l, size), SignExtend(r, size)
	switch op {
	case OpJnz:
		return ul != ur, true
	case OpJz:
		return ul == ur, true
	case OpJae:
		return ul >= ur, true
	case OpJb:
		return ul < ur, true
	case OpJa:
		return ul > ur, true
	case OpJbe:
		return ul <= ur, true
	case OpJg:
		return sl > sr, true
	case OpJge:
		return sl >= sr, true
	case OpJl:
		return sl < sr, true
	case OpJle:
		return sl <= sr, true
	}
	return false, false
}

// Env is a partial assignment of values to variables.
type Env map[Var]uint64

// Value evaluates an operand. ok is false when it depends on an unknown variable.
func (e Env) Value(o Operand) (uint64, bool) {
	switch o.Kind {
	case KindImm:
		return o.Value, true
	case KindReg, KindStack, KindGlobal:
		v, _ := o.Var()
		x, ok := e[v]
		return Truncate(x, o.Size), ok
	case KindExpr:
		if o.Expr == nil {
			return 0, false
		}
		l, ok := e.Value(o.Expr.L)
		if !ok {
			return 0, false
		}
		var r uint64
		if !o.Expr.Op.IsUnary() {
			if r, ok = e.Value(o.Expr.R); !ok {
				return 0, false
			}
		}
		return EvalBinary(o.Expr.Op, l, r, o.Size)
	}
	return 0, false
}

// Exec applies a data instruction to the environment. Destinations whose
// value cannot be computed are removed, so the environment never holds a
// stale value. Control transfers, calls and stores are not handled here.
func (e Env) Exec(ins *Insn) {
	defs := ins.Defs()
	if len(defs) == 0 {
		return
	}
	dst := defs[0]
	size := ins.D.Size
	l, ok := e.Value(ins.L)
	if ok && !ins.Op.IsUnary() {
		var r uint64
		r, ok = e.Value(ins.R)
		if ok {
			l, ok = EvalBinary(ins.Op, l, r, size)
		}
	} else if ok {
		if ins.Op == OpLdx {
			ok = false
		} else {
			l, ok = EvalBinary(ins.Op, l, 0, size)
		}
	}
	if !ok {
		delete(e, dst)
		return
	}
	e[dst] = l
}
