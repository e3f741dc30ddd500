package render

// Theme holds colors for CFG rendering.
type Theme struct {
	Background string
	NodeFill   string
	NodeBorder string
	TextColor  string

	// Edge colors.
	EdgeTaken  string // conditional jump taken
	EdgeFall   string // conditional fallthrough
	EdgeDirect string // goto or plain fallthrough

	// Node accents.
	EntryBorder    string
	ReturnFill     string // blocks ending in ret
	DispatchFill   string // dispatcher internals
	DispatchBorder string // dispatcher entry
	ExitFill       string // dispatcher exits
	MutedText      string
}

// NASA is the NASA/Bauhaus theme: geometric, monochrome, sparse color.
var NASA = Theme{
	Background: "#F5F5F5",
	NodeFill:   "white",
	NodeBorder: "#1A1A1A",
	TextColor:  "#1A1A1A",

	EdgeTaken:  "#0B3D91", // NASA blue
	EdgeFall:   "#FC3D21", // NASA red
	EdgeDirect: "#424242", // dark gray

	EntryBorder:    "#0B3D91",
	ReturnFill:     "#ECEFF1", // blue-gray 50
	DispatchFill:   "#FFE0B2", // orange 100
	DispatchBorder: "#E65100", // deep orange
	ExitFill:       "#E0F2F1", // teal 50
	MutedText:      "#9E9E9E",
}
