package unflat

// DispatcherSummary is the record of one accepted region.
type DispatcherSummary struct {
	Pass     int      `json:"pass"`
	Entry    int      `json:"entry"`
	Internal []int    `json:"internal"`
	Exits    []int    `json:"exits"`
	Values   []uint64 `json:"values"`
	Entropy  float64  `json:"entropy"`
	ViaHub   bool     `json:"via_hub,omitempty"`
}

// Summarize snapshots an accepted region. Serials are those of the pass that
// found it; compaction renumbers blocks afterwards.
func (d *DispatcherInfo) Summarize(pass int) DispatcherSummary {
	return DispatcherSummary{
		Pass:     pass,
		Entry:    d.Entry.Serial(),
		Internal: d.InternalSerials(),
		Exits:    d.ExitSerials(),
		Values:   append([]uint64(nil), d.Values...),
		Entropy:  d.Entropy,
		ViaHub:   d.ViaHub,
	}
}

// Report describes what Optimize did to one function at one maturity.
type Report struct {
	Func         string              `json:"func"`
	Maturity     string              `json:"maturity"`
	Passes       int                 `json:"passes"`
	Dispatchers  []DispatcherSummary `json:"dispatchers,omitempty"`
	Redirected   int                 `json:"redirected"`
	Duplicated   int                 `json:"duplicated"`
	Unresolved   int                 `json:"unresolved"`
	BlocksBefore int                 `json:"blocks_before"`
	BlocksAfter  int                 `json:"blocks_after"`
	Exhausted    string              `json:"exhausted,omitempty"` // budget that stopped rewriting
}

// Changed reports whether any edge was rewritten.
func (r *Report) Changed() bool { return r.Redirected > 0 }
