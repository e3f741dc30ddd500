package disasm

import "unflat/internal/mcode"

// RegTracker records, for X0-X30, the operand a register currently mirrors
// inside one block: a constant built by MOVZ/MOVK, or the stack slot it was
// loaded from. The lifter substitutes tracked values into comparisons and
// stores so dispatcher tests read `jz slot, #imm` rather than scratch
// registers.
type RegTracker struct {
	vals [31]mcode.Operand
}

// NewRegTracker creates an empty tracker.
func NewRegTracker() *RegTracker {
	return &RegTracker{}
}

// Reset clears all tracked values. Call at every block leader.
func (rt *RegTracker) Reset() {
	clear(rt.vals[:])
}

// Define records that register rd now holds v.
func (rt *RegTracker) Define(rd int, v mcode.Operand) {
	if rd < 0 || rd > 30 {
		return
	}
	rt.vals[rd] = v
}

// Lookup returns the operand mirrored by rd.
func (rt *RegTracker) Lookup(rd int) (mcode.Operand, bool) {
	if rd < 0 || rd > 30 || rt.vals[rd].IsNone() {
		return mcode.Operand{}, false
	}
	return rt.vals[rd], true
}

// Kill forgets rd.
func (rt *RegTracker) Kill(rd int) {
	if rd < 0 || rd > 30 {
		return
	}
	rt.vals[rd] = mcode.Operand{}
}

// KillSlot forgets every register mirroring the stack slot v.
func (rt *RegTracker) KillSlot(v mcode.Var) {
	for i, o := range rt.vals {
		if w, ok := o.Var(); ok && w == v {
			rt.vals[i] = mcode.Operand{}
		}
	}
}

// KillCallerSaved forgets X0-X18 and X30, the registers a call may clobber.
func (rt *RegTracker) KillCallerSaved() {
	clear(rt.vals[:19])
	rt.vals[30] = mcode.Operand{}
}
