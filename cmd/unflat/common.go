package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"

	"github.com/jedib0t/go-pretty/v6/table"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"unflat/internal/diag"
	"unflat/internal/mcode"
	"unflat/internal/pipeline"
	"unflat/internal/unflat"
)

func loadConfig(path string) (unflat.Config, error) {
	if path == "" {
		return unflat.DefaultConfig(), nil
	}
	return unflat.LoadConfig(path)
}

// newLogger returns a console logger at Info, or a development logger at
// Debug when verbose.
func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true
	return cfg.Build()
}

func readFuncs(path string) ([]*mcode.Func, error) {
	funcs, err := mcode.ReadFuncsFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	fmt.Fprintf(os.Stderr, "read %d functions\n", len(funcs))
	return funcs, nil
}

func modeFor(strict bool) diag.Mode {
	if strict {
		return diag.ModeStrict
	}
	return diag.ModeBestEffort
}

func defaultJobs() int { return runtime.GOMAXPROCS(0) }

// runAll drives every function through the pipeline, at most jobs at a
// time. Results keep the input order; a function that failed in
// best-effort mode keeps its partial result and gets a diag.
func runAll(ctx context.Context, drv *pipeline.Driver, funcs []*mcode.Func, jobs int, mode diag.Mode, diags *diag.Diags) ([]*pipeline.Result, error) {
	results := make([]*pipeline.Result, len(funcs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(jobs, 1))
	for i, fn := range funcs {
		g.Go(func() error {
			res, err := drv.Run(ctx, fn)
			results[i] = res
			if err != nil {
				return mode.Check(diags, fn.Name, diag.KindUnflatten, err)
			}
			if ex := res.Exhausted(); ex != "" {
				diags.Add(fn.Name, diag.KindBudget, ex)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func writeSummary(w io.Writer, results []*pipeline.Result) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Function", "Regions", "Blocks before", "Blocks after", "Note"})
	var regions, before, after int
	for _, r := range results {
		if r == nil {
			continue
		}
		t.AppendRow(table.Row{r.Func, r.Dispatchers(), r.BlocksBefore, r.BlocksAfter, r.Exhausted()})
		regions += r.Dispatchers()
		before += r.BlocksBefore
		after += r.BlocksAfter
	}
	t.AppendFooter(table.Row{"total", regions, before, after, ""})
	t.Render()
}

func runDot(dotPath, outPath, format string) error {
	cmd := exec.Command("dot", "-T"+format, "-o", outPath, dotPath)
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
