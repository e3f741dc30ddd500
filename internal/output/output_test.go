package output

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unflat/internal/diag"
	"unflat/internal/disasm"
	"unflat/internal/flatten"
	"unflat/internal/mcode"
	"unflat/internal/pipeline"
	"unflat/internal/unflat"
)

func TestWriteReportJSON(t *testing.T) {
	dir := t.TempDir()
	results := []*pipeline.Result{
		{Func: "a", BlocksBefore: 9, BlocksAfter: 4, Stages: []pipeline.Stage{{
			Maturity:  "glbopt1",
			Unflatten: &unflat.Report{Dispatchers: []unflat.DispatcherSummary{{Entry: 1}}},
		}}},
		{Func: "b", BlocksBefore: 2, BlocksAfter: 2},
	}
	r := NewReport("in.jsonl", results, []diag.Diag{{Func: "c", Kind: diag.KindLift, Msg: "sdiv"}})
	assert.Equal(t, 1, r.Changed)
	require.NoError(t, WriteReportJSON(dir, r))

	data, err := os.ReadFile(filepath.Join(dir, "report.json"))
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "in.jsonl", got["input"])
	assert.EqualValues(t, 2, got["funcs"])
	assert.Len(t, got["results"], 2)
	assert.Len(t, got["diagnostics"], 1)
}

func TestWriteFuncsRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	samples := flatten.Samples()
	path, err := WriteFuncs(dir, "funcs.jsonl", samples)
	require.NoError(t, err)

	back, err := mcode.ReadFuncsFile(path)
	require.NoError(t, err)
	require.Len(t, back, len(samples))
	assert.Equal(t, samples[0].Name, back[0].Name)
	assert.Equal(t, samples[0].NumInsns(), back[0].NumInsns())
}

func TestWriteDOTAndHTML(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteDOT(dir, "ns/f", "digraph cfg {}\n")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "cfg", "ns_f.dot"), path)
	assert.FileExists(t, path)

	require.NoError(t, WriteIndexHTML(dir, "run", []*pipeline.Result{{Func: "f"}}, false))
	html, err := os.ReadFile(filepath.Join(dir, "index.html"))
	require.NoError(t, err)
	assert.Contains(t, string(html), "<h1>run</h1>")
}

func TestWriteASM(t *testing.T) {
	dir := t.TempDir()
	insts := disasm.Disassemble(disasm.Encode(0xD65F03C0), disasm.Options{BaseAddr: 0x1000})
	require.NoError(t, WriteASM(dir, "f", insts, nil))
	text, err := os.ReadFile(filepath.Join(dir, "asm", "f.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(text), "0x00001000")
}
