package output

import (
	"io"

	"github.com/olekukonko/tablewriter"
)

// SimpleTable renders label/value pairs as a borderless two-column listing,
// the shape `ark status` uses.
func SimpleTable(w io.Writer, pairs [][2]string) {
	table := tablewriter.NewWriter(w)
	table.SetBorder(false)
	table.SetColumnSeparator(":")
	table.SetRowSeparator("")
	table.SetCenterSeparator("")
	table.SetHeaderLine(false)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	for _, p := range pairs {
		table.Append([]string{p[0], p[1]})
	}
	table.Render()
}
