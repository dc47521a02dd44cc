package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// tableView accumulates rows for a rounded table with left-aligned headers.
// Columns marked with rightAlign are right-aligned at render time.
type tableView struct {
	writer  table.Writer
	columns int
	right   map[int]bool
}

func newTableView(headers ...string) *tableView {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	row := make(table.Row, len(headers))
	for i, header := range headers {
		row[i] = header
	}
	tw.AppendHeader(row)
	return &tableView{writer: tw, columns: len(headers), right: make(map[int]bool)}
}

// rightAlign marks zero-based columns for right alignment.
func (v *tableView) rightAlign(columns ...int) *tableView {
	for _, column := range columns {
		v.right[column] = true
	}
	return v
}

func (v *tableView) addRow(cells ...string) {
	row := make(table.Row, v.columns)
	for i := range row {
		if i < len(cells) {
			row[i] = cells[i]
		} else {
			row[i] = ""
		}
	}
	v.writer.AppendRow(row)
}

func (v *tableView) render() string {
	configs := make([]table.ColumnConfig, 0, v.columns)
	for i := 0; i < v.columns; i++ {
		align := text.AlignLeft
		if v.right[i] {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	v.writer.SetColumnConfigs(configs)
	return v.writer.Render()
}

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

func (k statusKind) String() string {
	switch k {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	}
	return "INFO"
}

func (k statusKind) color() text.Color {
	switch k {
	case statusOK:
		return text.FgGreen
	case statusWarn:
		return text.FgYellow
	case statusError:
		return text.FgRed
	}
	return text.FgBlue
}

const (
	statusLabelWidth = 16
	statusIndent     = "  "
)

// statusPrinter writes aligned key/value lines grouped under section headers.
// Color is applied only when the destination is a terminal.
type statusPrinter struct {
	out   io.Writer
	color bool
}

func newStatusPrinter(out io.Writer) *statusPrinter {
	return &statusPrinter{out: out, color: isTerminal(out)}
}

func (p *statusPrinter) section(title string) {
	header := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(header))
	if p.color {
		header = text.FgBlue.EscapeSeq() + header + text.EscapeReset
		rule = text.FgBlue.EscapeSeq() + rule + text.EscapeReset
	}
	fmt.Fprintln(p.out, header)
	fmt.Fprintln(p.out, rule)
}

func (p *statusPrinter) line(kind statusKind, label, message string) {
	detail := "[" + kind.String() + "]"
	if message != "" {
		detail += " " + message
	}
	rendered := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", detail)
	if p.color {
		rendered = kind.color().EscapeSeq() + rendered + text.EscapeReset
	}
	fmt.Fprintln(p.out, rendered)
}

func (p *statusPrinter) blank() {
	fmt.Fprintln(p.out)
}

func isTerminal(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(file.Fd()) || isatty.IsCygwinTerminal(file.Fd())
}

// writeJSON emits v as indented JSON on the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}
