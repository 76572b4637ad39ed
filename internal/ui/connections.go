package ui

import (
	"sort"

	"github.com/BioHazard786/slotmesh/internal/mesh"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// RenderConnectionTable lists peer connections sorted by peer id.
func RenderConnectionTable(conns []mesh.Info) string {
	if len(conns) == 0 {
		return MutedStyle.Render("No peer connections")
	}
	conns = append([]mesh.Info(nil), conns...)
	sort.Slice(conns, func(i, j int) bool { return conns[i].PeerID < conns[j].PeerID })

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.Style().Format.Header = text.FormatUpper
	t.AppendHeader(table.Row{"Peer", "Role", "State", "Sending"})
	for _, c := range conns {
		sending := "no"
		if c.Sending {
			sending = "yes"
		}
		t.AppendRow(table.Row{c.PeerID, c.Role, stateLabel(c.State), sending})
	}
	return t.Render()
}

func stateLabel(s mesh.State) string {
	switch s {
	case mesh.StateConnected:
		return SuccessStyle.Render(s.String())
	case mesh.StateClosed:
		return ErrorStyle.Render(s.String())
	default:
		return WarningStyle.Render(s.String())
	}
}
