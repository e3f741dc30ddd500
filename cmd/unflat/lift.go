package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"unflat/internal/diag"
	"unflat/internal/disasm"
	"unflat/internal/elfx"
	"unflat/internal/mcode"
	"unflat/internal/output"
	"unflat/internal/pipeline"
	"unflat/internal/unflat"
)

func cmdLift(args []string) error {
	fs := flag.NewFlagSet("lift", flag.ExitOnError)
	elfPath := fs.String("elf", "", "path to an ARM64 ELF binary")
	syms := fs.String("sym", "", "comma-separated function symbols (empty = all sized functions)")
	outDir := fs.String("out", "", "output directory")
	asm := fs.Bool("asm", false, "write annotated listings to asm/")
	doUnflatten := fs.Bool("unflatten", false, "run the pipeline on the lifted functions")
	cfgPath := fs.String("config", "", "engine configuration (YAML)")
	strict := fs.Bool("strict", false, "fail on unsupported instructions")
	maxSteps := fs.Int("max-steps", 0, "instruction cap per function")
	verbose := fs.Bool("verbose", false, "debug logging")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *elfPath == "" || *outDir == "" {
		return fmt.Errorf("--elf and --out are required")
	}

	ef, err := elfx.Open(*elfPath)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer ef.Close()

	all, err := ef.Funcs()
	if err != nil {
		return err
	}
	targets, err := selectFuncs(all, *syms)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "lifting %d of %d functions\n", len(targets), len(all))

	mode := modeFor(*strict)
	lookup := disasm.SymbolLookup(elfx.Lookup(all))
	opts := disasm.LiftOptions{Symbols: lookup, Strict: *strict}
	var diags diag.Diags
	var funcs []*mcode.Func
	for _, sym := range targets {
		code, err := ef.FuncBytes(sym)
		if err != nil {
			if err := mode.Check(&diags, sym.Name, diag.KindInput, err); err != nil {
				return err
			}
			continue
		}
		insts := disasm.Disassemble(code, disasm.Options{BaseAddr: sym.Addr, MaxSteps: *maxSteps})
		fn, err := disasm.Lift(disasm.BuildCFG(sym.Name, insts), opts)
		if err != nil {
			kind := diag.KindInput
			if errors.Is(err, disasm.ErrUnsupported) {
				kind = diag.KindLift
			}
			if err := mode.Check(&diags, sym.Name, kind, err); err != nil {
				return err
			}
			continue
		}
		funcs = append(funcs, fn)
		if *asm {
			if err := output.WriteASM(*outDir, sym.Name, insts, lookup, disasm.MicrocodeAnnotator(lookup)); err != nil {
				return err
			}
		}
	}

	path, err := output.WriteFuncs(*outDir, "lifted.jsonl", funcs)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "wrote %s (%d functions)\n", path, len(funcs))

	if *doUnflatten {
		cfg, err := loadConfig(*cfgPath)
		if err != nil {
			return err
		}
		log, err := newLogger(*verbose)
		if err != nil {
			return err
		}
		defer log.Sync()

		drv := pipeline.New(unflat.New(cfg, log), log)
		results, err := runAll(context.Background(), drv, funcs, defaultJobs(), mode, &diags)
		if err != nil {
			return err
		}
		if path, err = output.WriteFuncs(*outDir, "unflattened.jsonl", funcs); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "wrote %s\n", path)
		if err := output.WriteReportJSON(*outDir, output.NewReport(*elfPath, results, diags.Items())); err != nil {
			return err
		}
		writeSummary(os.Stdout, results)
	}

	for _, d := range diags.Items() {
		fmt.Fprintf(os.Stderr, "warning: %s\n", d)
	}
	return nil
}

// selectFuncs picks the named symbols in the order given, or every symbol
// when names is empty.
func selectFuncs(all []elfx.Func, names string) ([]elfx.Func, error) {
	if names == "" {
		return all, nil
	}
	byName := make(map[string]elfx.Func, len(all))
	for _, fn := range all {
		byName[fn.Name] = fn
	}
	var out []elfx.Func
	for _, name := range strings.Split(names, ",") {
		name = strings.TrimSpace(name)
		fn, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", elfx.ErrNoSymbol, name)
		}
		out = append(out, fn)
	}
	return out, nil
}
