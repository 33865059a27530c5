package lib

import (
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// PrintVMIds renders a fleet listing the way the original CLI's sandbox
// table does, just with the narrower column set fleetd's /vms exposes.
func PrintVMIds(title string, ids []string) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetAutoIndex(true)

	t.SetTitle(title)
	t.Style().Title = table.TitleOptions{Align: text.AlignCenter}
	t.AppendHeader(table.Row{"VmID"})
	for _, id := range ids {
		t.AppendRow(table.Row{id})
	}
	t.Render()
}
