package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"tally/internal/stats"
	"tally/internal/store"

	"gopkg.in/yaml.v3"
)

// ColumnSummary describes one column across all rows.
type ColumnSummary struct {
	Name  string   `json:"name" yaml:"name"`
	Kinds []string `json:"kinds" yaml:"kinds"`
	Nulls int      `json:"nulls" yaml:"nulls"`
}

// Inspection is the printable summary of an artifact or a results store.
type Inspection struct {
	Source  string          `json:"source" yaml:"source"`
	Rows    int             `json:"rows" yaml:"rows"`
	Columns []ColumnSummary `json:"columns" yaml:"columns"`
	Sample  []string        `json:"sample,omitempty" yaml:"sample,omitempty"`
}

func main() {
	artifact := flag.String("artifact", "stats.json", "path to a stats artifact, plain or zstd-compressed")
	dbPath := flag.String("db", "", "inspect a results store directly instead of an artifact")
	format := flag.String("format", "text", "output format: text or yaml")
	limit := flag.Int("limit", 5, "max sample rows to print, -1 for all")
	flag.Parse()

	var (
		rows   []store.Row
		source string
		err    error
	)
	if *dbPath != "" {
		source = *dbPath
		rows, err = store.FetchResults(context.Background(), *dbPath)
	} else {
		source = *artifact
		rows, err = stats.Load(*artifact)
	}
	if err != nil {
		fail("load rows: %v", err)
	}

	ins := inspect(source, rows, *limit)
	switch *format {
	case "text":
		printText(ins)
	case "yaml":
		data, err := yaml.Marshal(&ins)
		if err != nil {
			fail("encode yaml: %v", err)
		}
		fmt.Print(string(data))
	default:
		fail("unknown format %q", *format)
	}
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func inspect(source string, rows []store.Row, limit int) Inspection {
	ins := Inspection{Source: source, Rows: len(rows)}
	if len(rows) == 0 {
		return ins
	}
	kinds := make(map[string]map[string]struct{})
	nulls := make(map[string]int)
	for _, row := range rows {
		for i, col := range row.Columns {
			v := row.Values[i]
			if v == nil {
				nulls[col]++
				continue
			}
			if kinds[col] == nil {
				kinds[col] = make(map[string]struct{})
			}
			kinds[col][kindOf(v)] = struct{}{}
		}
	}
	for _, col := range rows[0].Columns {
		ks := make([]string, 0, len(kinds[col]))
		for k := range kinds[col] {
			ks = append(ks, k)
		}
		sort.Strings(ks)
		ins.Columns = append(ins.Columns, ColumnSummary{Name: col, Kinds: ks, Nulls: nulls[col]})
	}
	for i, row := range rows {
		if limit >= 0 && i >= limit {
			break
		}
		ins.Sample = append(ins.Sample, renderRow(row))
	}
	return ins
}

func kindOf(v any) string {
	switch t := v.(type) {
	case bool:
		return "bool"
	case int64:
		return "integer"
	case float64:
		return "float"
	case string:
		return "text"
	case []byte:
		return "blob"
	case json.Number:
		if _, err := t.Int64(); err == nil {
			return "integer"
		}
		return "float"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func renderRow(row store.Row) string {
	parts := make([]string, 0, len(row.Columns))
	for i, col := range row.Columns {
		parts = append(parts, col+"="+formatValue(row.Values[i]))
	}
	return strings.Join(parts, " ")
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case bool:
		return strconv.FormatBool(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case string:
		return t
	case []byte:
		return base64.StdEncoding.EncodeToString(t)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

func printText(ins Inspection) {
	fmt.Printf("source: %s\n", ins.Source)
	fmt.Printf("rows: %d\n", ins.Rows)
	for _, col := range ins.Columns {
		fmt.Printf("column %s: kinds=%s nulls=%d\n", col.Name, strings.Join(col.Kinds, ","), col.Nulls)
	}
	for i, line := range ins.Sample {
		fmt.Printf("row %d: %s\n", i, line)
	}
}
