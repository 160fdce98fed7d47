package stats

import (
	"fmt"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/fluxbase-eu/pipedbundle/internal/bundler"
)

const (
	ansiReset  = "\x1b[0m"
	ansiBold   = "\x1b[1m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
)

// Render formats s according to o. The result is empty when o shows nothing.
func Render(s *bundler.Stats, o Options) string {
	if s == nil || o.Empty() {
		return ""
	}

	var b strings.Builder
	paint := func(code, text string) string {
		if !o.Colors {
			return text
		}
		return code + text + ansiReset
	}

	if o.Hash && s.Hash != "" {
		fmt.Fprintf(&b, "Hash: %s\n", paint(ansiBold, s.Hash))
	}
	if o.Timings {
		fmt.Fprintf(&b, "Time: %s\n", paint(ansiBold, s.Duration.Round(time.Millisecond).String()))
	}

	if o.Assets {
		renderAssets(&b, s.Assets, o, paint)
	}
	if o.Modules {
		renderModules(&b, s.Modules, o)
	}

	if o.Warnings {
		for _, w := range s.Warnings {
			fmt.Fprintf(&b, "\n%s %s\n", paint(ansiYellow, "WARNING in"), w.String())
		}
	}
	if o.Errors {
		for _, e := range s.Errors {
			fmt.Fprintf(&b, "\n%s %s\n", paint(ansiRed, "ERROR in"), e.String())
		}
	}

	if o.Analysis && s.Analysis != "" {
		b.WriteString(s.Analysis)
	}

	return strings.TrimRight(b.String(), "\n")
}

func renderAssets(b *strings.Builder, assets []bundler.Asset, o Options, paint func(string, string) string) {
	var rows [][]string
	hidden := 0
	for _, a := range assets {
		if a.Cached && !o.CachedAssets {
			hidden++
			continue
		}
		rows = append(rows, []string{
			paint(ansiGreen, a.Name),
			formatBytesHuman(a.Size),
			a.EntryPoint,
		})
	}

	if len(rows) > 0 {
		table := tablewriter.NewWriter(b)
		table.SetHeader([]string{"Asset", "Size", "Entry point"})
		table.SetBorder(false)
		table.SetAutoWrapText(false)
		table.SetAutoFormatHeaders(false)
		table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		table.SetCenterSeparator("")
		table.SetColumnSeparator("")
		table.SetRowSeparator("")
		table.SetHeaderLine(false)
		table.SetTablePadding("  ")
		table.SetNoWhiteSpace(true)
		table.AppendBulk(rows)
		table.Render()
	}
	if hidden > 0 {
		fmt.Fprintf(b, "    + %d hidden assets\n", hidden)
	}
}

func renderModules(b *strings.Builder, modules []bundler.Module, o Options) {
	hidden := 0
	for _, m := range modules {
		if (m.Cached && !o.Cached) || excluded(m.Path, o.Exclude) {
			hidden++
			continue
		}
		fmt.Fprintf(b, "  %s %s\n", m.Path, formatBytesHuman(m.Size))
	}
	if hidden > 0 {
		fmt.Fprintf(b, "    + %d hidden modules\n", hidden)
	}
}

// excluded reports whether path lies beneath a directory named in exclude
func excluded(path string, exclude []string) bool {
	wrapped := "/" + strings.Trim(path, "/") + "/"
	for _, dir := range exclude {
		if dir == "" {
			continue
		}
		if strings.Contains(wrapped, "/"+strings.Trim(dir, "/")+"/") {
			return true
		}
	}
	return false
}

// formatBytesHuman formats bytes in human-readable format
func formatBytesHuman(bytes int) string {
	const (
		KB = 1024
		MB = 1024 * KB
	)
	switch {
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
