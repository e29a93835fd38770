package snapshot

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/entitykit/entitykit/store"
)

// renderSnapshot writes a key value table for one snapshot, with the state
// properties rendered as a nested table sorted by property name.
func renderSnapshot(w io.Writer, snap store.Snapshot) error {
	var state map[string]any
	if len(snap.State) > 0 {
		if err := json.Unmarshal(snap.State, &state); err != nil {
			return fmt.Errorf("failed to decode state for %s: %w", snap.Key(), err)
		}
	}

	names := slices.Sorted(maps.Keys(state))
	rows := make([][]string, 0, len(names))
	for _, name := range names {
		rows = append(rows, []string{name, formatValue(state[name])})
	}

	propsString := &strings.Builder{}
	propsTable := tablewriter.NewWriter(propsString)
	propsTable.SetBorders(tablewriter.Border{
		Left:   false,
		Right:  false,
		Top:    true,
		Bottom: true,
	})
	propsTable.AppendBulk(rows)
	propsTable.Render()

	data := [][]string{
		{"Kind", snap.Kind},
		{"ID", snap.ID},
		{"Version", strconv.FormatInt(snap.Version, 10)},
		{"New", strconv.FormatBool(snap.Meta.IsNew)},
		{"Deleted", strconv.FormatBool(snap.Meta.IsDeleted)},
		{"Properties", propsString.String()},
	}
	if snap.Annotations != nil {
		data = append(data, []string{"Annotations", formatValue(snap.Annotations)})
	}
	data = append(data, []string{"Updated at", snap.UpdatedAt.Format(time.RFC3339)})

	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.AppendBulk(data)
	table.Render()

	return nil
}

// formatValue renders a JSON decoded property value for a table cell.
// Nested objects and arrays stay compact JSON.
func formatValue(v any) string {
	switch tv := v.(type) {
	case nil:
		return "null"
	case string:
		return tv
	case bool:
		return strconv.FormatBool(tv)
	case float64:
		return strconv.FormatFloat(tv, 'f', -1, 64)
	default:
		raw, err := json.Marshal(tv)
		if err != nil {
			return fmt.Sprintf("%v", tv)
		}

		return string(raw)
	}
}
