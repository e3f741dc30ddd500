package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"unflat/internal/flatten"
	"unflat/internal/mcode"
	"unflat/internal/output"
)

func cmdFlatten(args []string) error {
	fs := flag.NewFlagSet("flatten", flag.ExitOnError)
	in := fs.String("in", "", "input functions (JSONL)")
	samples := fs.Bool("samples", false, "flatten the built-in sample functions instead of --in")
	out := fs.String("out", "", "output file (JSONL)")
	seed := fs.Uint64("seed", 1, "seed for the state constants")
	loopEnd := fs.Bool("loopend", false, "route state updates through a shared loop-end block")
	keep := fs.Bool("keep", false, "also write the unflattened inputs next to --out as <name>.orig.jsonl")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *out == "" || (*in == "") == !*samples {
		return fmt.Errorf("--out and exactly one of --in or --samples are required")
	}

	var funcs []*mcode.Func
	if *samples {
		funcs = flatten.Samples()
	} else {
		var err error
		if funcs, err = readFuncs(*in); err != nil {
			return err
		}
	}

	flat := make([]*mcode.Func, 0, len(funcs))
	for i, fn := range funcs {
		f, err := flatten.Flatten(fn, flatten.Options{Seed: *seed + uint64(i), LoopEnd: *loopEnd})
		if err != nil {
			return err
		}
		flat = append(flat, f)
	}

	dir, name := filepath.Split(*out)
	if dir == "" {
		dir = "."
	}
	path, err := output.WriteFuncs(dir, name, flat)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "wrote %s (%d functions)\n", path, len(flat))

	if *keep {
		ext := filepath.Ext(name)
		orig := name[:len(name)-len(ext)] + ".orig" + ext
		if path, err = output.WriteFuncs(dir, orig, funcs); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "wrote %s\n", path)
	}
	return nil
}
