package render

import (
	"fmt"
	"strings"

	"unflat/internal/disasm"
	"unflat/internal/mcode"
	"unflat/internal/unflat"
)

// Highlight marks the blocks of dispatcher regions by serial.
type Highlight struct {
	Entries  []int
	Internal []int
	Exits    []int
}

// HighlightOf collects the regions of one unflattening pass. Serials from
// different passes refer to different layouts; pass only one pass's regions.
func HighlightOf(regions []unflat.DispatcherSummary) Highlight {
	var h Highlight
	for _, r := range regions {
		h.Entries = append(h.Entries, r.Entry)
		h.Internal = append(h.Internal, r.Internal...)
		h.Exits = append(h.Exits, r.Exits...)
	}
	return h
}

type role uint8

const (
	rolePlain role = iota
	roleExit
	roleInternal
	roleEntry
)

func (h Highlight) roles() map[int]role {
	m := make(map[int]role)
	mark := func(serials []int, r role) {
		for _, s := range serials {
			m[s] = max(m[s], r)
		}
	}
	mark(h.Exits, roleExit)
	mark(h.Internal, roleInternal)
	mark(h.Entries, roleEntry)
	return m
}

func header(b *strings.Builder, title string, t Theme) {
	b.WriteString("digraph cfg {\n")
	b.WriteString("  rankdir=TB;\n")
	b.WriteString("  nodesep=0.3;\n")
	b.WriteString("  ranksep=0.4;\n")
	fmt.Fprintf(b, "  bgcolor=%q;\n", t.Background)
	fmt.Fprintf(b, "  node [shape=rect, style=filled, fillcolor=%q, color=%q, penwidth=0.5, fontname=\"Courier,monospace\", fontsize=8, fontcolor=%q, margin=\"0.08,0.04\"];\n",
		t.NodeFill, t.NodeBorder, t.TextColor)
	b.WriteString("  edge [penwidth=0.7, arrowsize=0.5, arrowhead=vee];\n")
	b.WriteString("  labelloc=t;\n  labeljust=l;\n")
	fmt.Fprintf(b, "  label=<<font face=\"Helvetica Neue,Helvetica\" point-size=\"9\" color=\"%s\">%s</font>>;\n",
		t.TextColor, dotEscape(title))
	b.WriteByte('\n')
}

func node(b *strings.Builder, id int, lines []string, attrs string) {
	label := strings.Join(elide(lines), "<br align=\"left\"/>") + "<br align=\"left\"/>"
	fmt.Fprintf(b, "  bb%d [label=<%s>%s];\n", id, label, attrs)
}

func edge(b *strings.Builder, from, to int, cond string, t Theme) {
	switch cond {
	case "T":
		fmt.Fprintf(b, "  bb%d -> bb%d [color=%q, label=<<font point-size=\"7\" color=\"%s\">T</font>>];\n",
			from, to, t.EdgeTaken, t.EdgeTaken)
	case "F":
		fmt.Fprintf(b, "  bb%d -> bb%d [color=%q, label=<<font point-size=\"7\" color=\"%s\">F</font>>];\n",
			from, to, t.EdgeFall, t.EdgeFall)
	default:
		fmt.Fprintf(b, "  bb%d -> bb%d [color=%q];\n", from, to, t.EdgeDirect)
	}
}

// CFGDOT renders the machine-code CFG of a function as DOT.
// The entry block is outlined; returning blocks are shaded.
func CFGDOT(cfg disasm.FuncCFG, t Theme) string {
	if len(cfg.Blocks) == 0 {
		return ""
	}
	var b strings.Builder
	header(&b, cfg.Name, t)

	for _, blk := range cfg.Blocks {
		var lines []string
		for _, inst := range cfg.BlockInsts(blk) {
			lines = append(lines, dotEscape(fmt.Sprintf("0x%x: %s", inst.Addr, inst.Text)))
		}
		attrs := ""
		if blk.IsEntry {
			attrs = fmt.Sprintf(", penwidth=1.5, color=%q", t.EntryBorder)
		}
		if blk.IsTerm {
			attrs += fmt.Sprintf(", fillcolor=%q", t.ReturnFill)
		}
		node(&b, blk.ID, lines, attrs)
	}
	b.WriteByte('\n')

	for _, blk := range cfg.Blocks {
		for _, s := range blk.Succs {
			edge(&b, blk.ID, s.BlockID, s.Cond, t)
		}
	}
	b.WriteString("}\n")
	return b.String()
}

// FuncDOT renders a microcode function as DOT. Dispatcher blocks named by
// hl are filled; the dispatcher entry gets a heavy border.
func FuncDOT(fn *mcode.Func, hl Highlight, t Theme) string {
	if len(fn.Blocks) == 0 {
		return ""
	}
	var b strings.Builder
	header(&b, fmt.Sprintf("%s (%s)", fn.Name, fn.Maturity), t)

	roles := hl.roles()
	for _, blk := range fn.Blocks {
		lines := []string{fmt.Sprintf("<b>%d</b>", blk.Serial)}
		for _, ins := range blk.Insns {
			lines = append(lines, dotEscape(truncLabel(ins.String(), 72)))
		}
		var attrs string
		switch roles[blk.Serial] {
		case roleEntry:
			attrs = fmt.Sprintf(", fillcolor=%q, penwidth=2, color=%q", t.DispatchFill, t.DispatchBorder)
		case roleInternal:
			attrs = fmt.Sprintf(", fillcolor=%q", t.DispatchFill)
		case roleExit:
			attrs = fmt.Sprintf(", fillcolor=%q", t.ExitFill)
		default:
			if tail := blk.Terminator(); tail != nil && tail.Op == mcode.OpRet {
				attrs = fmt.Sprintf(", fillcolor=%q", t.ReturnFill)
			}
		}
		if blk.Serial == 0 && roles[0] != roleEntry {
			attrs += fmt.Sprintf(", penwidth=1.5, color=%q", t.EntryBorder)
		}
		node(&b, blk.Serial, lines, attrs)
	}
	b.WriteByte('\n')

	for _, blk := range fn.Blocks {
		tail := blk.Terminator()
		switch {
		case tail == nil:
			if blk.Next != mcode.NoBlock {
				edge(&b, blk.Serial, blk.Next, "", t)
			}
		case tail.Op == mcode.OpGoto:
			edge(&b, blk.Serial, tail.D.Block, "", t)
		case tail.Op.IsJcond():
			edge(&b, blk.Serial, tail.D.Block, "T", t)
			if blk.Next != mcode.NoBlock {
				edge(&b, blk.Serial, blk.Next, "F", t)
			}
		}
	}
	b.WriteString("}\n")
	return b.String()
}
