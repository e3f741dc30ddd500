package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"unflat/internal/diag"
	"unflat/internal/mcode"
	"unflat/internal/output"
	"unflat/internal/pipeline"
	"unflat/internal/render"
	"unflat/internal/unflat"
)

func cmdUnflatten(args []string) error {
	fs := flag.NewFlagSet("unflatten", flag.ExitOnError)
	in := fs.String("in", "", "input functions (JSONL)")
	outDir := fs.String("out", "", "output directory")
	cfgPath := fs.String("config", "", "engine configuration (YAML)")
	dot := fs.Bool("dot", false, "write before/after CFGs as DOT")
	html := fs.Bool("html", false, "write index.html")
	strict := fs.Bool("strict", false, "fail on the first per-function error")
	jobs := fs.Int("jobs", defaultJobs(), "functions processed in parallel")
	verbose := fs.Bool("verbose", false, "debug logging")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" || *outDir == "" {
		return fmt.Errorf("--in and --out are required")
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	log, err := newLogger(*verbose)
	if err != nil {
		return err
	}
	defer log.Sync()

	funcs, err := readFuncs(*in)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(*outDir, 0755); err != nil {
		return fmt.Errorf("mkdir output: %w", err)
	}

	var diags diag.Diags
	mode := modeFor(*strict)
	if *dot {
		if err := writeBeforeDOT(*outDir, funcs, unflat.NewCollector(cfg, nil), mode, &diags); err != nil {
			return err
		}
	}

	drv := pipeline.New(unflat.New(cfg, log), log)
	results, err := runAll(context.Background(), drv, funcs, *jobs, mode, &diags)
	if err != nil {
		return err
	}

	path, err := output.WriteFuncs(*outDir, "unflattened.jsonl", funcs)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "wrote %s\n", path)

	if err := output.WriteReportJSON(*outDir, output.NewReport(*in, results, diags.Items())); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "wrote %s\n", filepath.Join(*outDir, "report.json"))

	if *dot {
		for _, fn := range funcs {
			if _, err := output.WriteDOT(*outDir, fn.Name+".after", render.FuncDOT(fn, render.Highlight{}, render.NASA)); err != nil {
				return err
			}
		}
		fmt.Fprintf(os.Stderr, "wrote %d CFG pairs to %s\n", len(funcs), filepath.Join(*outDir, "cfg"))
	}
	if *html {
		if err := output.WriteIndexHTML(*outDir, "unflat: "+filepath.Base(*in), results, false); err != nil {
			return err
		}
	}

	writeSummary(os.Stdout, results)
	for _, d := range diags.Items() {
		fmt.Fprintf(os.Stderr, "warning: %s\n", d)
	}
	return nil
}

// writeBeforeDOT renders the input functions with their dispatcher regions
// highlighted. It runs before the pipeline mutates them. A function whose
// regions cannot be collected is drawn without highlights and reported
// through mode.
func writeBeforeDOT(dir string, funcs []*mcode.Func, c *unflat.Collector, mode diag.Mode, diags *diag.Diags) error {
	for _, fn := range funcs {
		var found []unflat.DispatcherSummary
		regions, err := c.Collect(fn)
		if err := mode.Check(diags, fn.Name, diag.KindUnflatten, err); err != nil {
			return err
		}
		for _, d := range regions {
			found = append(found, d.Summarize(0))
		}
		hl := render.HighlightOf(found)
		if _, err := output.WriteDOT(dir, fn.Name+".before", render.FuncDOT(fn, hl, render.NASA)); err != nil {
			return err
		}
	}
	return nil
}
