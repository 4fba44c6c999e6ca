// Package nodes renders the cluster's slave list as a table or as JSON.
package nodes

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"golang.org/x/term"

	"github.com/dcos/dcos-node/pkg/mesos"
)

// Placeholder is shown for a slave whose address cannot be derived.
const Placeholder = "-"

// WriteTable writes one row per slave under a HOSTNAME, IP, ID header.
// width caps the row length; zero leaves rows unbounded.
func WriteTable(w io.Writer, slaves []mesos.Slave, width int) error {
	tw := table.NewWriter()
	tw.SetStyle(plainStyle())
	if width > 0 {
		tw.SetAllowedRowLength(width)
	}

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft, AlignHeader: text.AlignLeft},
		{Number: 2, Align: text.AlignLeft, AlignHeader: text.AlignLeft},
		{Number: 3, Align: text.AlignLeft, AlignHeader: text.AlignLeft},
	})
	tw.AppendHeader(table.Row{"HOSTNAME", "IP", "ID"})

	for _, s := range slaves {
		ip, err := s.Host()
		if err != nil {
			ip = Placeholder
		}
		tw.AppendRow(table.Row{s.Hostname, ip, s.ID})
	}

	_, err := io.WriteString(w, tw.Render()+"\n")
	return err
}

// plainStyle draws columns separated by spaces only, so the output stays
// easy to cut and grep.
func plainStyle() table.Style {
	style := table.StyleDefault
	style.Name = "plain"
	style.Box.PaddingLeft = ""
	style.Box.PaddingRight = "  "
	style.Options = table.Options{
		DrawBorder:      false,
		SeparateColumns: false,
		SeparateFooter:  false,
		SeparateHeader:  false,
		SeparateRows:    false,
	}
	style.Format.Header = text.FormatUpper
	return style
}

// WriteJSON writes the slaves' full state objects as an indented JSON array
// with sorted keys.
func WriteJSON(w io.Writer, slaves []mesos.Slave) error {
	items := make([]interface{}, 0, len(slaves))
	for _, s := range slaves {
		if len(s.Raw) == 0 {
			items = append(items, map[string]interface{}{
				"id":       s.ID,
				"pid":      s.PID,
				"hostname": s.Hostname,
				"active":   s.Active,
			})
			continue
		}
		var obj map[string]interface{}
		dec := json.NewDecoder(bytes.NewReader(s.Raw))
		dec.UseNumber()
		if err := dec.Decode(&obj); err != nil {
			return err
		}
		items = append(items, obj)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(items)
}

// TerminalWidth returns the width of out when it is a terminal, then
// $COLUMNS, and zero when neither is known.
func TerminalWidth(out *os.File) int {
	if out != nil {
		if w, _, err := term.GetSize(int(out.Fd())); err == nil && w > 0 {
			return w
		}
	}
	if cols := os.Getenv("COLUMNS"); cols != "" {
		if v, err := strconv.Atoi(cols); err == nil && v > 0 {
			return v
		}
	}
	return 0
}
