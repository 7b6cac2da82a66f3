package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	oarrow "github.com/duckstax/otterbrix-go/arrow"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	cellStyle = lipgloss.NewStyle().Padding(0, 1)

	nullStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666")).
			Padding(0, 1)

	borderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D56F4"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))
)

const nullText = "NULL"

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return nullText
	case string:
		return x
	case []byte:
		return string(x)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

// renderTable draws res as a table, or as a row count for statements
// without columns.
func renderTable(res *result) string {
	if len(res.columns) == 0 {
		return fmt.Sprintf("OK, %d document(s)", res.count)
	}

	rows := make([][]string, len(res.rows))
	for i, r := range res.rows {
		rows[i] = make([]string, len(r))
		for j, v := range r {
			rows[i][j] = formatValue(v)
		}
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers(res.columns...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case row >= 0 && row < len(res.rows) && col < len(res.rows[row]) && res.rows[row][col] == nil:
				return nullStyle
			default:
				return cellStyle
			}
		})
	return fmt.Sprintf("%s\n%d row(s)", t.String(), len(rows))
}

// renderJSON writes res as a JSON array of objects, or as {"count": n}
// for statements without columns.
func renderJSON(res *result) (string, error) {
	if res.record != nil {
		data, err := oarrow.RecordToJSON(res.record)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	var v any
	if len(res.columns) == 0 {
		v = map[string]int64{"count": res.count}
	} else {
		objects := make([]map[string]any, len(res.rows))
		for i, r := range res.rows {
			obj := make(map[string]any, len(res.columns))
			for j, col := range res.columns {
				if j < len(r) {
					obj[col] = r[j]
				}
			}
			objects[i] = obj
		}
		v = objects
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func render(w io.Writer, res *result, format string) error {
	switch format {
	case "json":
		s, err := renderJSON(res)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, s)
		return err
	case "table", "":
		_, err := fmt.Fprintln(w, renderTable(res))
		return err
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
