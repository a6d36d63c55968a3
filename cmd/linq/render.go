package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"charm.land/lipgloss/v2"
	"github.com/kr/pretty"

	"github.com/gottscj/Serialize.Linq/pkg/nodes"
	"github.com/gottscj/Serialize.Linq/pkg/people"
)

var (
	titleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("63")).Bold(true)
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("255")).Bold(true)
	cellStyle   = lipgloss.NewStyle().PaddingRight(2)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	livingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
)

var columns = []string{"ID", "Name", "Gender", "Age", "Born", "Died", "Residence"}

func row(p people.Person) []string {
	died := "living"
	if p.DeathDate != nil {
		died = p.DeathDate.Format(people.DateLayout)
	}
	born := ""
	if !p.BirthDate.IsZero() {
		born = p.BirthDate.Format(people.DateLayout)
	}
	id := ""
	if p.ID != 0 {
		id = strconv.Itoa(p.ID)
	}
	return []string{id, p.FullName(), p.Gender.String(), strconv.Itoa(p.Age), born, died, p.Residence}
}

// renderPersons lays persons out as an aligned table under title.
func renderPersons(title string, persons []people.Person) string {
	rows := make([][]string, len(persons))
	widths := make([]int, len(columns))
	for i, c := range columns {
		widths[i] = lipgloss.Width(c)
	}
	for i, p := range persons {
		rows[i] = row(p)
		for j, cell := range rows[i] {
			widths[j] = max(widths[j], lipgloss.Width(cell))
		}
	}

	line := func(cells []string, style func(col int, cell string) lipgloss.Style) string {
		parts := make([]string, len(cells))
		for j, cell := range cells {
			parts[j] = cellStyle.Inherit(style(j, cell)).Width(widths[j] + 2).Render(cell)
		}
		return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
	}

	lines := []string{
		titleStyle.Render(title),
		line(columns, func(int, string) lipgloss.Style { return headerStyle }),
	}
	for _, r := range rows {
		lines = append(lines, line(r, func(col int, cell string) lipgloss.Style {
			if col == 5 && cell == "living" {
				return livingStyle
			}
			return lipgloss.NewStyle()
		}))
	}
	lines = append(lines, dimStyle.Render(fmt.Sprintf("%d persons", len(persons))))
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// dump writes the node tree and its wire text for debugging.
func dump(w io.Writer, label string, n nodes.Node) error {
	text, err := nodes.MarshalIndent(n, "  ")
	if err != nil {
		return err
	}
	var sb strings.Builder
	sb.WriteString(dimStyle.Render("# "+label) + "\n")
	sb.WriteString(pretty.Sprintf("%# v", n) + "\n")
	sb.WriteString(string(text) + "\n")
	_, err = io.WriteString(w, sb.String())
	return err
}
