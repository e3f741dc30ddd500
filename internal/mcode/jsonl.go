package mcode

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// ReadFuncs decodes one JSON function per line and rebuilds edge sets.
func ReadFuncs(r io.Reader) ([]*Func, error) {
	var funcs []*Func
	dec := json.NewDecoder(r)
	for dec.More() {
		var f Func
		if err := dec.Decode(&f); err != nil {
			return funcs, fmt.Errorf("mcode: line %d: %w", len(funcs)+1, err)
		}
		if err := f.RebuildEdges(); err != nil {
			return funcs, fmt.Errorf("mcode: line %d: %w", len(funcs)+1, err)
		}
		funcs = append(funcs, &f)
	}
	return funcs, nil
}

// WriteFuncs encodes one function per line.
func WriteFuncs(w io.Writer, funcs []*Func) error {
	enc := json.NewEncoder(w)
	for _, f := range funcs {
		if err := enc.Encode(f); err != nil {
			return fmt.Errorf("mcode: encode %s: %w", f.Name, err)
		}
	}
	return nil
}

// ReadFuncsFile reads a JSONL file of functions.
func ReadFuncsFile(path string) ([]*Func, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mcode: open: %w", err)
	}
	defer f.Close()
	return ReadFuncs(f)
}

// WriteFuncsFile writes functions to a JSONL file.
func WriteFuncsFile(path string, funcs []*Func) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("mcode: create: %w", err)
	}
	if err := WriteFuncs(f, funcs); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
