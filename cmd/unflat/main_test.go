package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unflat/internal/diag"
	"unflat/internal/elfx"
	"unflat/internal/flatten"
	"unflat/internal/mcode"
	"unflat/internal/output"
	"unflat/internal/unflat"
)

func TestFlattenThenUnflatten(t *testing.T) {
	dir := t.TempDir()
	flat := filepath.Join(dir, "flat.jsonl")
	require.NoError(t, cmdFlatten([]string{"--samples", "--seed", "3", "--keep", "--out", flat}))
	assert.FileExists(t, filepath.Join(dir, "flat.orig.jsonl"))

	out := filepath.Join(dir, "out")
	require.NoError(t, cmdUnflatten([]string{"--in", flat, "--out", out, "--dot", "--html", "--jobs", "2"}))

	orig, err := mcode.ReadFuncsFile(filepath.Join(dir, "flat.orig.jsonl"))
	require.NoError(t, err)
	got, err := mcode.ReadFuncsFile(filepath.Join(out, "unflattened.jsonl"))
	require.NoError(t, err)
	require.Len(t, got, len(orig))
	for i := range orig {
		require.Equal(t, orig[i].Name, got[i].Name)
		require.NoError(t, got[i].Verify())
		for _, in := range []uint64{0, 1, 2, 7, 11} {
			env := func() mcode.Env { return mcode.Env{{Kind: mcode.KindReg, Reg: 0}: in} }
			w, err := mcode.Run(orig[i], env(), 10000)
			require.NoError(t, err)
			g, err := mcode.Run(got[i], env(), 10000)
			require.NoError(t, err)
			assert.Equal(t, w.Ret, g.Ret, "%s(%d)", orig[i].Name, in)
		}
	}

	data, err := os.ReadFile(filepath.Join(out, "report.json"))
	require.NoError(t, err)
	var rep output.Report
	require.NoError(t, json.Unmarshal(data, &rep))
	assert.Equal(t, len(orig), rep.Funcs)
	assert.Positive(t, rep.Changed)

	assert.FileExists(t, filepath.Join(out, "cfg", "abs.before.dot"))
	assert.FileExists(t, filepath.Join(out, "cfg", "abs.after.dot"))
	assert.FileExists(t, filepath.Join(out, "index.html"))
}

func TestFlattenFlagErrors(t *testing.T) {
	assert.Error(t, cmdFlatten([]string{"--out", "x.jsonl"}))
	assert.Error(t, cmdFlatten([]string{"--samples", "--in", "a.jsonl", "--out", "x.jsonl"}))
	assert.Error(t, cmdUnflatten([]string{"--in", "a.jsonl"}))
}

func TestDetect(t *testing.T) {
	var funcs []*mcode.Func
	for _, fn := range flatten.Samples() {
		flat, err := flatten.Flatten(fn, flatten.Options{Seed: 3})
		require.NoError(t, err)
		funcs = append(funcs, flat)
	}
	funcs = append(funcs, flatten.Samples()[0])

	records, err := detect(funcs, unflat.NewCollector(unflat.DefaultConfig(), nil))
	require.NoError(t, err)
	require.Len(t, records, 3, "the structured function has no dispatcher")
	for _, r := range records {
		require.Len(t, r.Dispatchers, 1, r.Func)
		assert.Equal(t, 1, r.Dispatchers[0].Entry)
	}
}

func TestRenderCommand(t *testing.T) {
	dir := t.TempDir()
	flat := filepath.Join(dir, "flat.jsonl")
	require.NoError(t, cmdFlatten([]string{"--samples", "--out", flat}))

	out := filepath.Join(dir, "render")
	require.NoError(t, cmdRender([]string{"--in", flat, "--out", out}))
	for _, name := range []string{"callgraph.dot", "calls_cfg.dot", filepath.Join("cfg", "sum.dot")} {
		assert.FileExists(t, filepath.Join(out, name))
	}
}

func TestSelectFuncs(t *testing.T) {
	all := []elfx.Func{{Name: "a", Addr: 0x10}, {Name: "b", Addr: 0x20}}
	got, err := selectFuncs(all, "")
	require.NoError(t, err)
	assert.Equal(t, all, got)

	got, err = selectFuncs(all, "b, a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, []string{got[0].Name, got[1].Name})

	_, err = selectFuncs(all, "c")
	require.ErrorIs(t, err, elfx.ErrNoSymbol)
}

func TestJoinInts(t *testing.T) {
	assert.Equal(t, "1,2,10", joinInts([]int{1, 2, 10}))
	assert.Empty(t, joinInts(nil))
}

func TestWriteBeforeDOTReportsCollectError(t *testing.T) {
	// The edge list names a block the function does not have.
	b0 := mcode.NewBlock(0, mcode.Jcc(mcode.OpJz, mcode.Register(8, 1), mcode.Imm(0x55, 1), 9))
	b0.Next = 1
	b0.Succs = []int{1, 9}
	broken := &mcode.Func{Name: "broken", Blocks: []*mcode.Block{
		b0,
		mcode.NewBlock(1, mcode.Ret(mcode.Register(0, 4))),
	}}
	c := unflat.NewCollector(unflat.DefaultConfig(), nil)

	dir := t.TempDir()
	var diags diag.Diags
	require.NoError(t, writeBeforeDOT(dir, []*mcode.Func{broken}, c, diag.ModeBestEffort, &diags))
	require.Equal(t, 1, diags.Len())
	d := diags.Items()[0]
	assert.Equal(t, "broken", d.Func)
	assert.Equal(t, diag.KindUnflatten, d.Kind)
	assert.FileExists(t, filepath.Join(dir, "cfg", "broken.before.dot"), "drawn without highlights")

	err := writeBeforeDOT(t.TempDir(), []*mcode.Func{broken}, c, diag.ModeStrict, &diags)
	require.ErrorIs(t, err, mcode.ErrBlockNotFound)
	assert.Equal(t, 1, diags.Len())
}
