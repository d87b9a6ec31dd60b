package ui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/go-cmp/cmp"
	"github.com/muesli/termenv"
)

func TestPlainRendering(t *testing.T) {
	Init(&bytes.Buffer{}, true)

	if got := RenderPass("✓"); got != "✓" {
		t.Errorf("RenderPass() = %q, want no escape codes", got)
	}
	if got := RenderStatus("draft"); got != "in review" {
		t.Errorf("RenderStatus(draft) = %q", got)
	}
}

func TestTable(t *testing.T) {
	Init(&bytes.Buffer{}, true)

	got := Table([]string{"ID", "TITLE"}, [][]string{
		{"1", "Flooded road"},
		{"-12", "Bridge"},
	})
	want := "ID   TITLE\n" +
		"1    Flooded road\n" +
		"-12  Bridge\n"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Table() mismatch (-want +got):\n%s", diff)
	}
}

func TestTable_StyledHeaderKeepsAlignment(t *testing.T) {
	renderer = lipgloss.NewRenderer(&bytes.Buffer{})
	renderer.SetColorProfile(termenv.ANSI)
	buildStyles()
	t.Cleanup(func() { Init(&bytes.Buffer{}, true) })

	got := Table([]string{"ID", "TITLE"}, [][]string{{"1", "Flooded road"}})
	lines := strings.Split(got, "\n")
	if len(lines) != 3 {
		t.Fatalf("Table() = %q, want header, one row and a trailing newline", got)
	}
	if !strings.Contains(lines[0], "\x1b[") {
		t.Errorf("header %q is not styled", lines[0])
	}
	if !strings.Contains(lines[0], "ID") || !strings.Contains(lines[0], "TITLE") {
		t.Errorf("header %q is missing column names", lines[0])
	}
	if w := lipgloss.Width(lines[0]); w != len("ID   TITLE") {
		t.Errorf("header display width = %d, want %d", w, len("ID   TITLE"))
	}
	if lines[1] != "1    Flooded road" {
		t.Errorf("row = %q, want %q", lines[1], "1    Flooded road")
	}
}

func TestKeyValue(t *testing.T) {
	Init(&bytes.Buffer{}, true)

	got := KeyValue([][2]string{{"Posts", "3"}, {"Location", "/tmp/cache.db"}})
	want := "Posts:    3\nLocation: /tmp/cache.db\n"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("KeyValue() mismatch (-want +got):\n%s", diff)
	}
}

func TestIsTerminal(t *testing.T) {
	if IsTerminal(&bytes.Buffer{}) {
		t.Error("a buffer is not a terminal")
	}
}
