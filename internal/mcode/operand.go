package mcode

import (
	"fmt"
	"strings"
)

// Kind is the operand type tag.
type Kind uint8

const (
	KindNone   Kind = iota
	KindImm         // literal immediate
	KindReg         // machine or pseudo register
	KindStack       // stack slot, Off relative to the Reg base
	KindGlobal      // global address, optionally named
	KindExpr        // result of a nested instruction
	KindBlock       // jump target (block serial)
)

var kindNames = [...]string{
	KindNone:   "none",
	KindImm:    "imm",
	KindReg:    "reg",
	KindStack:  "stack",
	KindGlobal: "global",
	KindExpr:   "expr",
	KindBlock:  "block",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func (k Kind) MarshalText() ([]byte, error) {
	if int(k) >= len(kindNames) {
		return nil, fmt.Errorf("mcode: invalid operand kind %d", uint8(k))
	}
	return []byte(kindNames[k]), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	for i, name := range kindNames {
		if name == string(b) {
			*k = Kind(i)
			return nil
		}
	}
	return fmt.Errorf("mcode: unknown operand kind %q", b)
}

// Operand is one instruction operand. Which fields are meaningful depends on Kind.
type Operand struct {
	Kind  Kind   `json:"t"`
	Size  int    `json:"size,omitempty"`  // bytes
	Value uint64 `json:"value,omitempty"` // KindImm
	Reg   int    `json:"reg,omitempty"`   // KindReg; base register for KindStack
	Off   int64  `json:"off,omitempty"`   // KindStack
	Addr  uint64 `json:"addr,omitempty"`  // KindGlobal
	Name  string `json:"name,omitempty"`  // KindGlobal symbol
	Expr  *Insn  `json:"expr,omitempty"`  // KindExpr
	Block int    `json:"block,omitempty"` // KindBlock
}

// StackBase is the default base register for stack slots.
const StackBase = 31

// Imm returns an immediate operand.
func Imm(v uint64, size int) Operand {
	return Operand{Kind: KindImm, Size: size, Value: Truncate(v, size)}
}

// Register returns a register operand.
func Register(reg, size int) Operand { return Operand{Kind: KindReg, Size: size, Reg: reg} }

// Stack returns a stack slot relative to StackBase.
func Stack(off int64, size int) Operand {
	return Operand{Kind: KindStack, Size: size, Reg: StackBase, Off: off}
}

// StackAt returns a stack slot relative to an explicit base register.
func StackAt(base int, off int64, size int) Operand {
	return Operand{Kind: KindStack, Size: size, Reg: base, Off: off}
}

// Global returns a global address operand.
func Global(addr uint64, name string, size int) Operand {
	return Operand{Kind: KindGlobal, Size: size, Addr: addr, Name: name}
}

// Derived wraps a nested instruction as an operand. Its size is the size of
// the nested instruction's left operand.
func Derived(ins *Insn) Operand {
	return Operand{Kind: KindExpr, Size: ins.L.Size, Expr: ins}
}

// Target returns a block reference operand.
func Target(serial int) Operand { return Operand{Kind: KindBlock, Block: serial} }

func (o Operand) IsNone() bool { return o.Kind == KindNone }
func (o Operand) IsImm() bool  { return o.Kind == KindImm }

// IsVar reports whether the operand names a storage location.
func (o Operand) IsVar() bool {
	return o.Kind == KindReg || o.Kind == KindStack || o.Kind == KindGlobal
}

// IsExprOf reports whether the operand is a nested instruction with opcode op.
func (o Operand) IsExprOf(op Opcode) bool {
	return o.Kind == KindExpr && o.Expr != nil && o.Expr.Op == op
}

// Var returns the size-insensitive location key of a register, stack or global operand.
func (o Operand) Var() (Var, bool) {
	switch o.Kind {
	case KindReg:
		return Var{Kind: KindReg, Reg: o.Reg}, true
	case KindStack:
		return Var{Kind: KindStack, Reg: o.Reg, Key: o.Off}, true
	case KindGlobal:
		return Var{Kind: KindGlobal, Key: int64(o.Addr)}, true
	}
	return Var{}, false
}

// appendUses appends every variable read when the operand is evaluated.
func (o Operand) appendUses(dst []Var) []Var {
	switch o.Kind {
	case KindReg, KindStack, KindGlobal:
		v, _ := o.Var()
		return append(dst, v)
	case KindExpr:
		if o.Expr != nil {
			return o.Expr.appendUses(dst)
		}
	}
	return dst
}

// Uses returns the variables read when the operand is evaluated.
func (o Operand) Uses() []Var { return dedupVars(o.appendUses(nil)) }

// Equal compares two operands. With ignoreSize the operand sizes (and the
// sizes of nested operands) are not compared.
func (o Operand) Equal(p Operand, ignoreSize bool) bool {
	if o.Kind != p.Kind {
		return false
	}
	if !ignoreSize && o.Size != p.Size {
		return false
	}
	switch o.Kind {
	case KindNone:
		return true
	case KindImm:
		if ignoreSize {
			return o.Value == p.Value
		}
		return Truncate(o.Value, o.Size) == Truncate(p.Value, p.Size)
	case KindReg:
		return o.Reg == p.Reg
	case KindStack:
		return o.Reg == p.Reg && o.Off == p.Off
	case KindGlobal:
		return o.Addr == p.Addr
	case KindBlock:
		return o.Block == p.Block
	case KindExpr:
		if o.Expr == nil || p.Expr == nil {
			return o.Expr == p.Expr
		}
		return o.Expr.Op == p.Expr.Op &&
			o.Expr.L.Equal(p.Expr.L, ignoreSize) &&
			o.Expr.R.Equal(p.Expr.R, ignoreSize)
	}
	return false
}

// EqualIgnoreSize is Equal with operand sizes ignored.
func (o Operand) EqualIgnoreSize(p Operand) bool { return o.Equal(p, true) }

func (o Operand) clone() Operand {
	if o.Kind == KindExpr && o.Expr != nil {
		o.Expr = o.Expr.Clone()
	}
	return o
}

func (o Operand) String() string {
	switch o.Kind {
	case KindNone:
		return ""
	case KindImm:
		return fmt.Sprintf("#0x%x.%d", o.Value, o.Size)
	case KindReg:
		return fmt.Sprintf("r%d.%d", o.Reg, o.Size)
	case KindStack:
		if o.Reg == StackBase {
			return fmt.Sprintf("%%var_%x.%d", o.Off, o.Size)
		}
		return fmt.Sprintf("[r%d%+d].%d", o.Reg, o.Off, o.Size)
	case KindGlobal:
		if o.Name != "" {
			return fmt.Sprintf("$%s", o.Name)
		}
		return fmt.Sprintf("$0x%x.%d", o.Addr, o.Size)
	case KindExpr:
		if o.Expr == nil {
			return "(nil)"
		}
		return "(" + o.Expr.String() + ")"
	case KindBlock:
		return fmt.Sprintf("@%d", o.Block)
	}
	return "?"
}

// Var is a size-insensitive storage location: a register, a stack slot or a global.
type Var struct {
	Kind Kind
	Reg  int
	Key  int64
}

func (v Var) String() string {
	switch v.Kind {
	case KindReg:
		return fmt.Sprintf("r%d", v.Reg)
	case KindStack:
		if v.Reg == StackBase {
			return fmt.Sprintf("%%var_%x", v.Key)
		}
		return fmt.Sprintf("[r%d%+d]", v.Reg, v.Key)
	case KindGlobal:
		return fmt.Sprintf("$0x%x", uint64(v.Key))
	}
	return "?"
}

// VarsString renders a variable list for diagnostics.
func VarsString(vs []Var) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = v.String()
	}
	return "{" + strings.Join(parts, ",") + "}"
}
