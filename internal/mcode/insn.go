package mcode

import "strings"

// Insn is a micro-instruction.
//
// Layout by opcode:
//
//	mov/bnot/neg/ldx    D = op L
//	add..shr, setz/nz   D = L op R
//	stx                 store L at address R
//	call                D = L(R), L is the callee
//	und                 D = unknown
//	ret                 return L (optional)
//	goto                jump to D
//	jcc                 if L cc R jump to D, else fall through
type Insn struct {
	Op Opcode  `json:"op"`
	L  Operand `json:"l,omitzero"`
	R  Operand `json:"r,omitzero"`
	D  Operand `json:"d,omitzero"`
}

// Uses returns the variables read by the instruction, in operand order, without duplicates.
func (ins *Insn) Uses() []Var {
	return dedupVars(ins.appendUses(nil))
}

func (ins *Insn) appendUses(dst []Var) []Var {
	dst = ins.L.appendUses(dst)
	dst = ins.R.appendUses(dst)
	// A non-variable destination (e.g. a computed address) is evaluated, not written.
	if ins.D.Kind == KindExpr {
		dst = ins.D.appendUses(dst)
	}
	return dst
}

// Defs returns the variables written by the instruction.
func (ins *Insn) Defs() []Var {
	if !ins.Op.DefinesDest() {
		return nil
	}
	if v, ok := ins.D.Var(); ok {
		return []Var{v}
	}
	return nil
}

// Clone returns a deep copy.
func (ins *Insn) Clone() *Insn {
	c := *ins
	c.L = ins.L.clone()
	c.R = ins.R.clone()
	c.D = ins.D.clone()
	return &c
}

func (ins *Insn) String() string {
	var b strings.Builder
	b.WriteString(ins.Op.String())
	sep := " "
	for _, o := range []Operand{ins.L, ins.R, ins.D} {
		if o.IsNone() {
			continue
		}
		b.WriteString(sep)
		b.WriteString(o.String())
		sep = ", "
	}
	return b.String()
}

func dedupVars(vs []Var) []Var {
	if len(vs) < 2 {
		return vs
	}
	out := vs[:0]
	seen := make(map[Var]bool, len(vs))
	for _, v := range vs {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// Convenience constructors used by lifters, generators and tests.

func Mov(src, dst Operand) *Insn { return &Insn{Op: OpMov, L: src, D: dst} }

func Binary(op Opcode, l, r, dst Operand) *Insn { return &Insn{Op: op, L: l, R: r, D: dst} }

func Goto(serial int) *Insn { return &Insn{Op: OpGoto, D: Target(serial)} }

func Jcc(op Opcode, l, r Operand, serial int) *Insn {
	return &Insn{Op: op, L: l, R: r, D: Target(serial)}
}

func Ret(val Operand) *Insn { return &Insn{Op: OpRet, L: val} }

func Call(callee, arg, dst Operand) *Insn { return &Insn{Op: OpCall, L: callee, R: arg, D: dst} }
