// Package diag collects non-fatal per-function problems of a batch run.
package diag

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
)

// Kind classifies a diagnostic.
type Kind string

const (
	KindInput     Kind = "input"     // unreadable or inconsistent function
	KindLift      Kind = "lift"      // instruction outside the lifted subset
	KindUnflatten Kind = "unflatten" // engine aborted the function
	KindBudget    Kind = "budget"    // rewriting stopped at a limit
)

// Diag records a non-fatal issue for one function.
type Diag struct {
	Func string `json:"func"`
	Kind Kind   `json:"kind"`
	Msg  string `json:"msg"`
}

func (d Diag) String() string {
	return fmt.Sprintf("[%s] %s: %s", d.Kind, d.Func, d.Msg)
}

// Diags accumulates diagnostics. It is safe for concurrent use.
type Diags struct {
	mu    sync.Mutex
	items []Diag
}

func (d *Diags) Add(fn string, kind Kind, msg string) {
	d.mu.Lock()
	d.items = append(d.items, Diag{Func: fn, Kind: kind, Msg: msg})
	d.mu.Unlock()
}

func (d *Diags) Addf(fn string, kind Kind, format string, args ...any) {
	d.Add(fn, kind, fmt.Sprintf(format, args...))
}

// Items returns a copy sorted by function then kind, so concurrent runs
// report in a stable order.
func (d *Diags) Items() []Diag {
	d.mu.Lock()
	out := slices.Clone(d.items)
	d.mu.Unlock()
	slices.SortStableFunc(out, func(a, b Diag) int {
		return cmp.Or(cmp.Compare(a.Func, b.Func), cmp.Compare(a.Kind, b.Kind))
	})
	return out
}

func (d *Diags) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}

// Mode controls error handling behavior.
type Mode int

const (
	ModeStrict     Mode = iota // first per-function error aborts the run
	ModeBestEffort             // record a diag and continue
)

// Check applies the mode to a per-function error. In strict mode err is
// returned wrapped with the function name; otherwise it is recorded and
// Check returns nil.
func (m Mode) Check(d *Diags, fn string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	if m == ModeStrict {
		return fmt.Errorf("%s: %w", fn, err)
	}
	d.Add(fn, kind, err.Error())
	return nil
}
