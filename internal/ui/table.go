package ui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/BioHazard786/slotmesh/internal/slots"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/pion/webrtc/v4"
)

// SlotTable renders the room's seats using lipgloss/table.
type SlotTable struct {
	slots []slots.Slot
	self  string
}

func NewSlotTable(s []slots.Slot, self string) *SlotTable {
	return &SlotTable{slots: s, self: self}
}

// View renders the table as a string
func (t *SlotTable) View() string {
	if len(t.slots) == 0 {
		return MutedStyle.Render("No slots")
	}

	var rows [][]string
	for _, s := range t.slots {
		rows = append(rows, []string{strconv.Itoa(s.ID), t.occupant(s), mediaIcons(s)})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("Slot", "Occupant", "Media").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row >= 0 && row < len(t.slots) && t.slots[row].Occupant == t.self && t.self != "":
				return tableCellStyle.Inherit(SelfStyle)
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

func (t *SlotTable) occupant(s slots.Slot) string {
	switch {
	case s.Empty():
		return IconEmpty + " empty"
	case s.Occupant == t.self:
		return IconPeer + " " + s.Occupant + " (you)"
	default:
		return IconPeer + " " + s.Occupant
	}
}

func mediaIcons(s slots.Slot) string {
	if s.Stream == nil {
		return "-"
	}
	var parts []string
	if s.Stream.HasKind(webrtc.RTPCodecTypeVideo) {
		parts = append(parts, IconCamera)
	}
	if s.Stream.HasKind(webrtc.RTPCodecTypeAudio) {
		parts = append(parts, IconAudio)
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, " ")
}

func RenderSlotTable(s []slots.Slot, self string) string {
	return NewSlotTable(s, self).View()
}

// RoomInfo is the header box shown above the board.
type RoomInfo struct {
	Room  string
	Self  string
	Relay string
}

func (r RoomInfo) View() string {
	content := fmt.Sprintf("%s Room:  %s\n%s You:   %s\n%s Relay: %s",
		IconRoom, BoldStyle.Foreground(Primary).Render(r.Room),
		IconPeer, r.Self,
		IconConnect, MutedStyle.Render(r.Relay),
	)
	return InfoBoxStyle.Render(content)
}
