package main

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/jedib0t/go-pretty/v6/text"
)

func TestStatusPrinterPlainLine(t *testing.T) {
	var buf bytes.Buffer
	printer := &statusPrinter{out: &buf}
	printer.line(statusError, "Daemon", "Not running")

	want := fmt.Sprintf("%s%-*s %s\n", statusIndent, statusLabelWidth, "Daemon:", "[ERROR] Not running")
	if got := buf.String(); got != want {
		t.Fatalf("line mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestStatusPrinterColoredLine(t *testing.T) {
	var buf bytes.Buffer
	printer := &statusPrinter{out: &buf, color: true}
	printer.line(statusOK, "Daemon", "Running")

	got := strings.TrimSuffix(buf.String(), "\n")
	if !strings.HasPrefix(got, text.FgGreen.EscapeSeq()) {
		t.Fatalf("expected green prefix, got %q", got)
	}
	if !strings.HasSuffix(got, text.EscapeReset) {
		t.Fatalf("expected reset suffix, got %q", got)
	}
}

func TestStatusPrinterSection(t *testing.T) {
	var buf bytes.Buffer
	printer := &statusPrinter{out: &buf}
	printer.section("Player")

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header and rule, got %q", lines)
	}
	if lines[0] != "== Player ==" {
		t.Fatalf("header = %q", lines[0])
	}
	if lines[1] != strings.Repeat("-", len(lines[0])) {
		t.Fatalf("rule = %q does not match header width", lines[1])
	}
}

func TestIsTerminalNonFile(t *testing.T) {
	if isTerminal(io.Discard) {
		t.Fatalf("expected non-file writer to disable color")
	}
}

func TestTableViewPadsShortRows(t *testing.T) {
	view := newTableView("A", "B", "C").rightAlign(2)
	view.addRow("1", "2")
	rendered := view.render()
	if !strings.Contains(rendered, "A") || !strings.Contains(rendered, "1") {
		t.Fatalf("unexpected table output %q", rendered)
	}
	if strings.Contains(rendered, "<nil>") {
		t.Fatalf("missing cells should render empty, got %q", rendered)
	}
}

func TestFormatUptime(t *testing.T) {
	cases := []struct {
		seconds int64
		want    string
	}{
		{42, "42s"},
		{90, "1m30s"},
		{3720, "1h2m"},
	}
	for _, tc := range cases {
		if got := formatUptime(tc.seconds); got != tc.want {
			t.Fatalf("formatUptime(%d) = %q, want %q", tc.seconds, got, tc.want)
		}
	}
}

func TestFormatSeconds(t *testing.T) {
	cases := []struct {
		value float64
		want  string
	}{
		{75, "1:15"},
		{3661, "1:01:01"},
	}
	for _, tc := range cases {
		if got := formatSeconds(tc.value); got != tc.want {
			t.Fatalf("formatSeconds(%v) = %q, want %q", tc.value, got, tc.want)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	cases := []struct {
		size int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
	}
	for _, tc := range cases {
		if got := formatBytes(tc.size); got != tc.want {
			t.Fatalf("formatBytes(%d) = %q, want %q", tc.size, got, tc.want)
		}
	}
}
