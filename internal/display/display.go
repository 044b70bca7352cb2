// Package display renders CLI results as tables, adapted from the
// sibling NFC tooling's output package to KEY-BLE's much smaller result
// shapes (a scan list, a discover result, a status byte).
package display

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/lynxis/keyblepy/internal/transport"
)

var (
	colorHeader  = text.Colors{text.FgCyan, text.Bold}
	colorLabel   = text.Colors{text.FgYellow}
	colorValue   = text.Colors{text.FgWhite}
	colorSuccess = text.Colors{text.FgGreen}
	colorError   = text.Colors{text.FgRed}
)

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	style := table.StyleRounded
	style.Color.Header = colorHeader
	style.Options.SeparateRows = false
	t.SetStyle(style)
	return t
}

// PrintScanResults lists devices found by a --scan inquiry.
func PrintScanResults(results []transport.ScanResult) {
	t := newTable()
	t.SetTitle("KEY-BLE DEVICES")
	t.AppendHeader(table.Row{"#", "MAC", "RSSI"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Colors: colorLabel, WidthMin: 4},
		{Number: 2, Colors: colorValue, WidthMin: 20},
		{Number: 3, Colors: colorValue, WidthMin: 8},
	})
	if len(results) == 0 {
		t.AppendRow(table.Row{"-", "(no devices found)", "-"})
	}
	for i, r := range results {
		t.AppendRow(table.Row{i, r.MAC, r.RSSI})
	}
	t.Render()
}

// PrintDiscover shows the lock's reported firmware versions.
func PrintDiscover(bootloader, application byte) {
	t := newTable()
	t.SetTitle("LOCK FIRMWARE")
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Colors: colorLabel, WidthMin: 16},
		{Number: 2, Colors: colorValue, WidthMin: 10},
	})
	t.AppendRow(table.Row{"Bootloader", bootloader})
	t.AppendRow(table.Row{"Application", application})
	t.Render()
}

// PrintStatus shows a decrypted status response's raw byte.
func PrintStatus(body []byte) {
	t := newTable()
	t.SetTitle("LOCK STATUS")
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Colors: colorLabel, WidthMin: 16},
		{Number: 2, Colors: colorValue, WidthMin: 20},
	})
	t.AppendRow(table.Row{"Raw bytes", fmt.Sprintf("%X", body)})
	t.Render()
}

// PrintSuccess prints a green success line.
func PrintSuccess(msg string) { fmt.Println(colorSuccess.Sprintf("✓ %s", msg)) }

// PrintError prints a red error line to stderr.
func PrintError(msg string) { fmt.Fprintln(os.Stderr, colorError.Sprintf("✗ %s", msg)) }
