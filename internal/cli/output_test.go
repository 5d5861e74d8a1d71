package cli

import (
	"strings"
	"testing"

	"radar-trader/internal/models"
)

func TestTableAlignsColoredCells(t *testing.T) {
	out, buf := colorOutput()
	table := NewTable(out, "Symbol", "Side")
	table.AddRow("INFY", out.Side(models.OrderSideBuy))
	table.AddRow("HDFCBANK", out.Side(models.OrderSideSell))
	table.Render()

	lines := strings.Split(strings.TrimRight(stripANSI(buf.String()), "\n"), "\n")
	want := []string{
		"Symbol    Side",
		"──────────────",
		"INFY      BUY",
		"HDFCBANK  SELL",
	}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines:\n%s", len(lines), strings.Join(lines, "\n"))
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestPlainOutputHasNoEscapes(t *testing.T) {
	out, buf := plainOutput()
	out.Success("done %d", 3)
	out.Warning("careful")
	out.Box("Wallet", []string{out.Priority(models.PriorityHigh), out.MarketStatus(models.MarketClosed)})

	if strings.Contains(buf.String(), "\x1b[") {
		t.Errorf("plain output contains escape codes: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "done 3\n") || !strings.Contains(buf.String(), "● CLOSED") {
		t.Errorf("unexpected output:\n%s", buf.String())
	}
}

func TestBoxPadsToWidestLine(t *testing.T) {
	out, buf := plainOutput()
	out.Box("T", []string{"ab", "abcd"})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	width := len([]rune(lines[0]))
	for _, l := range lines {
		if n := len([]rune(l)); n != width {
			t.Errorf("line %q has width %d, want %d", l, n, width)
		}
	}
}
