package render

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"strings"

	"unflat/internal/pipeline"
)

// WriteIndexHTML writes a small HTML page summarizing an unflatten run.
// When withCFG is set each function links to cfg/<name>.svg.
func WriteIndexHTML(w io.Writer, title string, results []*pipeline.Result, withCFG bool) {
	var changed, regions, before, after, exhausted int
	for _, r := range results {
		n := r.Dispatchers()
		regions += n
		if n > 0 {
			changed++
		}
		before += r.BlocksBefore
		after += r.BlocksAfter
		if r.Exhausted() != "" {
			exhausted++
		}
	}

	fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>%s</title>
<style>
body { font-family: "Helvetica Neue", Helvetica, Arial, sans-serif; font-size: 14px; color: #1A1A1A; background: #F5F5F5; margin: 2em; max-width: 900px; }
h1 { font-size: 18px; font-weight: 600; margin-bottom: 0.5em; }
h2 { font-size: 14px; font-weight: 600; margin-top: 1.5em; border-bottom: 1px solid #ddd; padding-bottom: 4px; }
table { border-collapse: collapse; margin: 0.5em 0; }
th, td { text-align: left; padding: 3px 12px 3px 0; font-size: 13px; }
th { font-weight: 600; }
td.num { text-align: right; font-variant-numeric: tabular-nums; }
a { color: #0B3D91; }
.mbar { height: 6px; border-radius: 2px; display: inline-block; vertical-align: middle; background: #0B3D91; }
.fn { font-family: "Courier New", monospace; font-size: 12px; }
.warn { color: #FC3D21; }
</style>
</head>
<body>
`, htmlEscape(title))

	fmt.Fprintf(w, "<h1>%s</h1>\n", htmlEscape(title))

	fmt.Fprintln(w, "<h2>Summary</h2>")
	fmt.Fprintln(w, "<table>")
	fmt.Fprintf(w, "<tr><td>Functions</td><td class=\"num\">%d</td></tr>\n", len(results))
	fmt.Fprintf(w, "<tr><td>Unflattened</td><td class=\"num\">%d</td></tr>\n", changed)
	fmt.Fprintf(w, "<tr><td>Dispatcher regions</td><td class=\"num\">%d</td></tr>\n", regions)
	fmt.Fprintf(w, "<tr><td>Blocks before</td><td class=\"num\">%d</td></tr>\n", before)
	fmt.Fprintf(w, "<tr><td>Blocks after</td><td class=\"num\">%d</td></tr>\n", after)
	if exhausted > 0 {
		fmt.Fprintf(w, "<tr><td class=\"warn\">Budget exhausted</td><td class=\"num\">%d</td></tr>\n", exhausted)
	}
	fmt.Fprintln(w, "</table>")

	if len(results) == 0 {
		fmt.Fprintln(w, "</body></html>")
		return
	}

	// Functions with the most regions first.
	sorted := slices.Clone(results)
	slices.SortStableFunc(sorted, func(a, b *pipeline.Result) int {
		return cmp.Compare(b.Dispatchers(), a.Dispatchers())
	})
	maxBlocks := 1
	for _, r := range sorted {
		maxBlocks = max(maxBlocks, r.BlocksBefore)
	}

	fmt.Fprintln(w, "<h2>Functions</h2>")
	fmt.Fprintln(w, "<table>")
	fmt.Fprintln(w, "<tr><th>Function</th><th>Regions</th><th>Before</th><th>After</th><th></th><th></th></tr>")
	for _, r := range sorted {
		name := htmlEscape(r.Func)
		if withCFG {
			name += fmt.Sprintf(` <a href="cfg/%s.svg" style="font-size:11px">[cfg]</a>`, SafeFileName(r.Func))
		}
		barW := max(r.BlocksAfter*120/maxBlocks, 2)
		note := ""
		if ex := r.Exhausted(); ex != "" {
			note = fmt.Sprintf("<span class=\"warn\">%s</span>", htmlEscape(ex))
		}
		fmt.Fprintf(w, "<tr><td class=\"fn\">%s</td><td class=\"num\">%d</td><td class=\"num\">%d</td><td class=\"num\">%d</td><td><span class=\"mbar\" style=\"width:%dpx\"></span></td><td>%s</td></tr>\n",
			name, r.Dispatchers(), r.BlocksBefore, r.BlocksAfter, barW, note)
	}
	fmt.Fprintln(w, "</table>")

	fmt.Fprintln(w, "</body></html>")
}

func htmlEscape(s string) string {
	return dotEscape(s)
}

// SafeFileName converts a function name to a safe filename.
func SafeFileName(name string) string {
	r := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
		" ", "_",
	)
	s := r.Replace(name)
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
