package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"unflat/internal/mcode"
	"unflat/internal/unflat"
)

type detectRecord struct {
	Func        string                     `json:"func"`
	Dispatchers []unflat.DispatcherSummary `json:"dispatchers"`
}

func cmdDetect(args []string) error {
	fs := flag.NewFlagSet("detect", flag.ExitOnError)
	in := fs.String("in", "", "input functions (JSONL)")
	cfgPath := fs.String("config", "", "engine configuration (YAML)")
	asJSON := fs.Bool("json", false, "print JSONL records instead of a table")
	verbose := fs.Bool("verbose", false, "debug logging")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return fmt.Errorf("--in is required")
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
	records, err := detect(funcs, unflat.NewCollector(cfg, log))
	if err != nil {
		return err
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		for _, r := range records {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Function", "Entry", "Internal", "Exits", "Values", "Entropy"})
	n := 0
	for _, r := range records {
		for _, d := range r.Dispatchers {
			t.AppendRow(table.Row{r.Func, d.Entry, joinInts(d.Internal), len(d.Exits), len(d.Values), fmt.Sprintf("%.3f", d.Entropy)})
			n++
		}
	}
	t.Render()
	fmt.Fprintf(os.Stderr, "%d dispatcher(s) in %d function(s)\n", n, len(records))
	return nil
}

// detect collects the regions of every function without rewriting it.
// Functions without a dispatcher are omitted.
func detect(funcs []*mcode.Func, c *unflat.Collector) ([]detectRecord, error) {
	var records []detectRecord
	for _, fn := range funcs {
		regions, err := c.Collect(fn)
		if err != nil {
			return records, fmt.Errorf("detect %s: %w", fn.Name, err)
		}
		if len(regions) == 0 {
			continue
		}
		rec := detectRecord{Func: fn.Name}
		for _, d := range regions {
			rec.Dispatchers = append(rec.Dispatchers, d.Summarize(0))
		}
		records = append(records, rec)
	}
	return records, nil
}

func joinInts(vs []int) string {
	s := make([]string, len(vs))
	for i, v := range vs {
		s[i] = fmt.Sprint(v)
	}
	return strings.Join(s, ",")
}
