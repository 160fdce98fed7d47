// Package output provides output formatting for the pipedbundle CLI.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"
)

// Format represents the output format
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses a format string
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "table", "":
		return FormatTable, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("invalid output format: %s (valid: table, json, yaml)", s)
	}
}

// Formatter formats output in various formats
type Formatter struct {
	Format Format
	Quiet  bool
	Writer io.Writer
}

// NewFormatter creates a new formatter writing to stdout
func NewFormatter(format Format, quiet bool) *Formatter {
	return &Formatter{
		Format: format,
		Quiet:  quiet,
		Writer: os.Stdout,
	}
}

// WrittenFile describes one output file written to disk
type WrittenFile struct {
	Path  string `json:"path" yaml:"path"`
	Bytes int    `json:"bytes" yaml:"bytes"`
}

// Print outputs data in the configured format. Table mode falls back to JSON.
func (f *Formatter) Print(data any) error {
	if f.Quiet {
		return nil
	}

	switch f.Format {
	case FormatYAML:
		return f.printYAML(data)
	default:
		return f.printJSON(data)
	}
}

func (f *Formatter) printJSON(data any) error {
	encoder := json.NewEncoder(f.Writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func (f *Formatter) printYAML(data any) error {
	encoder := yaml.NewEncoder(f.Writer)
	encoder.SetIndent(2)
	defer func() { _ = encoder.Close() }()
	return encoder.Encode(data)
}

// PrintFiles prints the files a build wrote
func (f *Formatter) PrintFiles(files []WrittenFile) error {
	if f.Quiet {
		return nil
	}
	if f.Format != FormatTable {
		if files == nil {
			files = []WrittenFile{}
		}
		return f.Print(files)
	}

	rows := make([][]string, 0, len(files))
	total := 0
	for _, file := range files {
		rows = append(rows, []string{file.Path, strconv.Itoa(file.Bytes)})
		total += file.Bytes
	}

	table := tablewriter.NewWriter(f.Writer)
	table.SetHeader([]string{"File", "Bytes"})
	table.SetFooter([]string{fmt.Sprintf("%d files", len(files)), strconv.Itoa(total)})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetFooterAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)
	table.AppendBulk(rows)
	table.Render()
	return nil
}

// PrintKeyValues prints ordered key-value pairs
func (f *Formatter) PrintKeyValues(keys []string, values map[string]string) error {
	if f.Quiet {
		return nil
	}
	if f.Format != FormatTable {
		return f.Print(values)
	}
	for _, key := range keys {
		if _, err := fmt.Fprintf(f.Writer, "%s: %s\n", key, values[key]); err != nil {
			return err
		}
	}
	return nil
}

// PrintError prints an error message
func (f *Formatter) PrintError(message string) {
	fmt.Fprintln(os.Stderr, "Error:", message)
}
