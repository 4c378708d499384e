package pipeline

import (
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
)

const timeRound = 10 * time.Millisecond

// WriteSummary renders the per-phase counts table for one pass, followed by
// an itemized error list when any phase reported failures.
func WriteSummary(w io.Writer, results []PhaseResult) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Phase", "Processed", "Succeeded", "Failed", "Skipped", "Duration"})

	var totalErrors int
	for _, r := range results {
		t.AppendRow(table.Row{
			r.Phase,
			r.Processed,
			r.Succeeded,
			r.Failed,
			r.Skipped,
			r.Duration.Round(timeRound).String(),
		})
		totalErrors += len(r.Errors)
	}
	t.Render()

	if totalErrors == 0 {
		return
	}
	et := table.NewWriter()
	et.SetOutputMirror(w)
	et.SetStyle(table.StyleLight)
	et.SetTitle("Errors")
	et.AppendHeader(table.Row{"Phase", "Video ID", "Error"})
	for _, r := range results {
		for _, item := range r.Errors {
			et.AppendRow(table.Row{r.Phase, item.VideoID, item.Message})
		}
	}
	et.Render()
}
