// Package output writes unflat results to files.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"unflat/internal/diag"
	"unflat/internal/disasm"
	"unflat/internal/mcode"
	"unflat/internal/pipeline"
	"unflat/internal/render"
)

// Report is the content of report.json.
type Report struct {
	Input   string             `json:"input"`
	Funcs   int                `json:"funcs"`
	Changed int                `json:"changed"`
	Results []*pipeline.Result `json:"results"`
	Diags   []diag.Diag        `json:"diagnostics,omitempty"`
}

// NewReport summarizes a run. Results keep their order.
func NewReport(input string, results []*pipeline.Result, diags []diag.Diag) *Report {
	r := &Report{Input: input, Funcs: len(results), Results: results, Diags: diags}
	for _, res := range results {
		if res.Dispatchers() > 0 {
			r.Changed++
		}
	}
	return r
}

// WriteReportJSON writes the run report to report.json.
func WriteReportJSON(dir string, r *Report) error {
	return writeJSON(filepath.Join(dir, "report.json"), r)
}

// WriteFuncs writes functions as JSONL to <dir>/<name>.
func WriteFuncs(dir, name string, funcs []*mcode.Func) (string, error) {
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("output: mkdir: %w", err)
	}
	if err := mcode.WriteFuncsFile(path, funcs); err != nil {
		return "", fmt.Errorf("output: %w", err)
	}
	return path, nil
}

// WriteDOT writes a graph to cfg/<name>.dot, with name made file-safe.
func WriteDOT(dir, name, dot string) (string, error) {
	path := filepath.Join(dir, "cfg", render.SafeFileName(name)+".dot")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("output: mkdir cfg: %w", err)
	}
	return path, os.WriteFile(path, []byte(dot), 0644)
}

// WriteIndexHTML writes index.html summarizing the results.
func WriteIndexHTML(dir, title string, results []*pipeline.Result, withCFG bool) error {
	path := filepath.Join(dir, "index.html")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("output: create %s: %w", path, err)
	}
	render.WriteIndexHTML(f, title, results, withCFG)
	return f.Close()
}

// WriteASM writes a function listing to asm/<name>.txt.
func WriteASM(dir string, name string, insts []disasm.Inst, lookup disasm.SymbolLookup, annotators ...disasm.Annotator) error {
	path := filepath.Join(dir, "asm", render.SafeFileName(name)+".txt")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("output: mkdir asm: %w", err)
	}

	text := disasm.Format(insts, lookup, annotators...)
	return os.WriteFile(path, []byte(text), 0644)
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("output: create %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("output: encode %s: %w", path, err)
	}
	return nil
}
