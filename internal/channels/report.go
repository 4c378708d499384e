package channels

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/vietspeech/kidcrawl/internal/domain"
)

// WriteReport renders the channel-quality report to w. Read-only artifact,
// regenerated on demand; not part of the control loop.
func WriteReport(w io.Writer, channels map[string]*domain.ChannelInfo, minVideosAnalyzed int, minQualityScore float64) {
	sorted := make([]*domain.ChannelInfo, 0, len(channels))
	for _, info := range channels {
		sorted = append(sorted, info)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].QualityScore != sorted[j].QualityScore {
			return sorted[i].QualityScore > sorted[j].QualityScore
		}
		return sorted[i].Username < sorted[j].Username
	})

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Channel Quality Report")
	t.AppendHeader(table.Row{"Channel", "Qualified", "Analyzed", "Quality", "Promising", "Last Crawled"})

	promising := 0
	for _, info := range sorted {
		isPromising := info.Promising(minVideosAnalyzed, minQualityScore)
		if isPromising {
			promising++
		}
		lastCrawled := ""
		if !info.LastCrawled.IsZero() {
			lastCrawled = info.LastCrawled.Format(time.RFC3339)
		}
		t.AppendRow(table.Row{
			info.Username,
			info.QualifiedVideos,
			info.TotalAnalyzed,
			fmt.Sprintf("%.2f", info.QualityScore),
			isPromising,
			lastCrawled,
		})
	}
	t.AppendFooter(table.Row{"Total", "", len(sorted), "", promising, ""})
	t.Render()
}
