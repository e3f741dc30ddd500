// Package mcode is a small decompiler-style microcode model: functions made of
// numbered basic blocks, each a list of three-operand micro-instructions with
// explicit def/use and predecessor/successor sets.
package mcode

import "fmt"

// Opcode is a micro-instruction opcode.
type Opcode uint8

const (
	OpNop Opcode = iota
	OpMov
	OpAdd
	OpSub
	OpMul
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpBnot
	OpNeg
	OpSetz
	OpSetnz
	OpLdx
	OpStx
	OpCall
	OpUnd // defines D with a value the model cannot express
	OpRet
	OpGoto
	OpJnz
	OpJz
	OpJae
	OpJb
	OpJa
	OpJbe
	OpJg
	OpJge
	OpJl
	OpJle
	numOpcodes
)

var opNames = [numOpcodes]string{
	OpNop:   "nop",
	OpMov:   "mov",
	OpAdd:   "add",
	OpSub:   "sub",
	OpMul:   "mul",
	OpAnd:   "and",
	OpOr:    "or",
	OpXor:   "xor",
	OpShl:   "shl",
	OpShr:   "shr",
	OpBnot:  "bnot",
	OpNeg:   "neg",
	OpSetz:  "setz",
	OpSetnz: "setnz",
	OpLdx:   "ldx",
	OpStx:   "stx",
	OpCall:  "call",
	OpUnd:   "und",
	OpRet:   "ret",
	OpGoto:  "goto",
	OpJnz:   "jnz",
	OpJz:    "jz",
	OpJae:   "jae",
	OpJb:    "jb",
	OpJa:    "ja",
	OpJbe:   "jbe",
	OpJg:    "jg",
	OpJge:   "jge",
	OpJl:    "jl",
	OpJle:   "jle",
}

func (op Opcode) String() string {
	if op < numOpcodes {
		return opNames[op]
	}
	return fmt.Sprintf("op(%d)", uint8(op))
}

// ParseOpcode maps a mnemonic back to its opcode.
func ParseOpcode(s string) (Opcode, bool) {
	for i, name := range opNames {
		if name == s {
			return Opcode(i), true
		}
	}
	return OpNop, false
}

func (op Opcode) MarshalText() ([]byte, error) {
	if op >= numOpcodes {
		return nil, fmt.Errorf("mcode: invalid opcode %d", uint8(op))
	}
	return []byte(opNames[op]), nil
}

func (op *Opcode) UnmarshalText(b []byte) error {
	v, ok := ParseOpcode(string(b))
	if !ok {
		return fmt.Errorf("mcode: unknown opcode %q", b)
	}
	*op = v
	return nil
}

// IsJcond reports whether op is a two-way conditional jump.
func (op Opcode) IsJcond() bool { return op >= OpJnz && op <= OpJle }

// IsJump reports whether op transfers control to a block operand.
func (op Opcode) IsJump() bool { return op == OpGoto || op.IsJcond() }

// EndsBlock reports whether op may only appear as the last instruction of a block.
func (op Opcode) EndsBlock() bool { return op == OpRet || op.IsJump() }

// DefinesDest reports whether op writes its D operand.
func (op Opcode) DefinesDest() bool {
	switch op {
	case OpNop, OpStx, OpRet, OpGoto:
		return false
	}
	return !op.IsJcond()
}

// IsUnary reports whether op reads only L.
func (op Opcode) IsUnary() bool {
	switch op {
	case OpMov, OpBnot, OpNeg, OpLdx:
		return true
	}
	return false
}
