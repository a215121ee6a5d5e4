package engine

import (
	"fmt"
	"strings"

	"uescope/memory"
	"uescope/tablefmt"
)

// GlobalStatus records the discovery outcome for one global
type GlobalStatus struct {
	Name    string
	Address memory.Address
	Found   bool
	Detail  string // miss or skip reason, empty when found
}

// Status is a point-in-time picture of the engine's attachment and
// discovery state
type Status struct {
	PID     memory.ProcessID
	Valid   bool
	Base    memory.Address
	Globals []GlobalStatus
}

// FoundCount returns how many globals the last discovery located
func (s Status) FoundCount() int {
	n := 0
	for _, g := range s.Globals {
		if g.Found {
			n++
		}
	}
	return n
}

// String renders the status as an aligned table
func (s Status) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "pid %d  base %s  valid %v\n", s.PID, s.Base.String(), s.Valid)

	t := tablefmt.NewTable(
		tablefmt.ColumnSpec{Header: "GLOBAL", MinWidth: 10},
		tablefmt.ColumnSpec{Header: "STATE", FormatFunc: tablefmt.StateFormatter},
		tablefmt.ColumnSpec{Header: "ADDRESS", MinWidth: 12},
		tablefmt.ColumnSpec{Header: "DETAIL"},
	)
	for _, g := range s.Globals {
		if g.Found {
			t.AddRow(g.Name, "ok", g.Address.String(), g.Detail)
		} else {
			t.AddRow(g.Name, "miss", "", g.Detail)
		}
	}
	t.Render(&b)
	return b.String()
}
