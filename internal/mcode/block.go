package mcode

// NoBlock is the serial sentinel for "no block".
const NoBlock = -1

// Block is a basic block. Preds and Succs are derived from the instructions
// and Next by Func.RebuildEdges; they are never serialized.
type Block struct {
	Serial int     `json:"serial"`
	Insns  []*Insn `json:"insns"`
	Next   int     `json:"next"` // fallthrough serial, NoBlock if the block never falls through

	Preds []int `json:"-"`
	Succs []int `json:"-"`
}

// NewBlock returns an empty block with no fallthrough.
func NewBlock(serial int, insns ...*Insn) *Block {
	return &Block{Serial: serial, Insns: insns, Next: NoBlock}
}

// Tail returns the last instruction of the block, or nil if the block is empty.
func (b *Block) Tail() *Insn {
	if len(b.Insns) == 0 {
		return nil
	}
	return b.Insns[len(b.Insns)-1]
}

// Terminator returns the tail if it is a jump or return.
func (b *Block) Terminator() *Insn {
	if t := b.Tail(); t != nil && t.Op.EndsBlock() {
		return t
	}
	return nil
}

// Body returns the instructions preceding the terminator.
func (b *Block) Body() []*Insn {
	if b.Terminator() != nil {
		return b.Insns[:len(b.Insns)-1]
	}
	return b.Insns
}

func (b *Block) NPred() int { return len(b.Preds) }
func (b *Block) NSucc() int { return len(b.Succs) }

// HasPred reports whether serial is a predecessor.
func (b *Block) HasPred(serial int) bool { return containsInt(b.Preds, serial) }

// HasSucc reports whether serial is a successor.
func (b *Block) HasSucc(serial int) bool { return containsInt(b.Succs, serial) }

// UseVars returns every variable the block reads.
func (b *Block) UseVars() []Var {
	var vs []Var
	for _, ins := range b.Insns {
		vs = ins.appendUses(vs)
	}
	return dedupVars(vs)
}

// DefVars returns every variable the block writes.
func (b *Block) DefVars() []Var {
	var vs []Var
	for _, ins := range b.Insns {
		vs = append(vs, ins.Defs()...)
	}
	return dedupVars(vs)
}

// FreeVars returns the variables read before any local definition, i.e. the
// variables the block inherits from the path that reached it.
func (b *Block) FreeVars() []Var {
	defined := make(map[Var]bool)
	var free []Var
	for _, ins := range b.Insns {
		for _, v := range ins.Uses() {
			if !defined[v] {
				free = append(free, v)
			}
		}
		for _, v := range ins.Defs() {
			defined[v] = true
		}
	}
	return dedupVars(free)
}

// Defines reports whether any instruction of the block writes v.
func (b *Block) Defines(v Var) bool {
	for _, ins := range b.Insns {
		for _, d := range ins.Defs() {
			if d == v {
				return true
			}
		}
	}
	return false
}

// Clone returns a deep copy with the same serial and no edges.
func (b *Block) Clone() *Block {
	c := &Block{Serial: b.Serial, Next: b.Next, Insns: make([]*Insn, len(b.Insns))}
	for i, ins := range b.Insns {
		c.Insns[i] = ins.Clone()
	}
	return c
}

func containsInt(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
