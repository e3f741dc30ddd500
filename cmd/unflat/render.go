package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	lrender "github.com/zboralski/lattice/render"

	"unflat/internal/callgraph"
	"unflat/internal/output"
	"unflat/internal/render"
	"unflat/internal/unflat"
)

func cmdRender(args []string) error {
	fs := flag.NewFlagSet("render", flag.ExitOnError)
	in := fs.String("in", "", "input functions (JSONL)")
	outDir := fs.String("out", "", "output directory")
	cfgPath := fs.String("config", "", "engine configuration for dispatcher highlighting (YAML)")
	title := fs.String("title", "", "graph title (defaults to the input file name)")
	svg := fs.Bool("svg", false, "convert DOT files to SVG with graphviz")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" || *outDir == "" {
		return fmt.Errorf("--in and --out are required")
	}
	if *title == "" {
		*title = filepath.Base(*in)
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	funcs, err := readFuncs(*in)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(*outDir, 0755); err != nil {
		return fmt.Errorf("mkdir output: %w", err)
	}

	var dots []string
	c := unflat.NewCollector(cfg, nil)
	for _, fn := range funcs {
		var found []unflat.DispatcherSummary
		regions, err := c.Collect(fn)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: %s: %v\n", fn.Name, err)
		}
		for _, d := range regions {
			found = append(found, d.Summarize(0))
		}
		path, err := output.WriteDOT(*outDir, fn.Name, render.FuncDOT(fn, render.HighlightOf(found), render.NASA))
		if err != nil {
			return err
		}
		dots = append(dots, path)
	}
	fmt.Fprintf(os.Stderr, "wrote %d function CFGs\n", len(dots))

	cgPath := filepath.Join(*outDir, "callgraph.dot")
	if err := os.WriteFile(cgPath, []byte(lrender.DOT(callgraph.BuildCallGraph(funcs), *title)), 0644); err != nil {
		return fmt.Errorf("write callgraph.dot: %w", err)
	}
	cfgDOTPath := filepath.Join(*outDir, "calls_cfg.dot")
	if err := os.WriteFile(cfgDOTPath, []byte(lrender.DOTCFG(callgraph.BuildCFG(funcs), *title+" (calls)")), 0644); err != nil {
		return fmt.Errorf("write calls_cfg.dot: %w", err)
	}
	fmt.Fprintf(os.Stderr, "wrote %s, %s\n", cgPath, cfgDOTPath)
	dots = append(dots, cgPath, cfgDOTPath)

	if *svg {
		for _, p := range dots {
			if err := runDot(p, p[:len(p)-len(".dot")]+".svg", "svg"); err != nil {
				fmt.Fprintf(os.Stderr, "warning: %s: SVG failed: %v\n", p, err)
			}
		}
	}
	return nil
}
