package exporter

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/jsherman999/tailorboard/internal/store"
)

// Lister is the store method the exporter needs.
type Lister interface {
	List(ctx context.Context, resource string, limit int) ([]store.Record, error)
}

type ResourceExport struct {
	Resource   string         `json:"resource"`
	ExportedAt time.Time      `json:"exported_at"`
	Records    []store.Record `json:"records"`
}

// Export renders resource in format ("json" or "csv") and returns the body
// and its content type.
func Export(ctx context.Context, st Lister, resource, format string, limit int) ([]byte, string, error) {
	switch format {
	case "", "json":
		return ExportJSON(ctx, st, resource, limit)
	case "csv":
		return ExportCSV(ctx, st, resource, limit)
	default:
		return nil, "", fmt.Errorf("unknown format %q", format)
	}
}

func ExportJSON(ctx context.Context, st Lister, resource string, limit int) ([]byte, string, error) {
	recs, err := st.List(ctx, resource, limit)
	if err != nil {
		return nil, "", err
	}
	b, err := json.MarshalIndent(ResourceExport{Resource: resource, ExportedAt: time.Now().UTC(), Records: recs}, "", "  ")
	if err != nil {
		return nil, "", err
	}
	return b, "application/json", nil
}

// ExportCSV writes one row per record: id, timestamps, then one column per
// top-level data field (sorted). Non-string values are written as JSON.
func ExportCSV(ctx context.Context, st Lister, resource string, limit int) ([]byte, string, error) {
	recs, err := st.List(ctx, resource, limit)
	if err != nil {
		return nil, "", err
	}

	rows := make([]map[string]json.RawMessage, len(recs))
	fields := map[string]bool{}
	for i, r := range recs {
		if err := json.Unmarshal(r.Data, &rows[i]); err != nil {
			return nil, "", fmt.Errorf("record %d: %w", r.ID, err)
		}
		for k := range rows[i] {
			fields[k] = true
		}
	}
	cols := make([]string, 0, len(fields))
	for k := range fields {
		cols = append(cols, k)
	}
	sort.Strings(cols)

	buf := new(bytes.Buffer)
	w := csv.NewWriter(buf)
	_ = w.Write(append([]string{"id", "created_at", "updated_at"}, cols...))
	for i, r := range recs {
		line := []string{strconv.FormatInt(r.ID, 10), r.CreatedAt.Format(time.RFC3339), r.UpdatedAt.Format(time.RFC3339)}
		for _, c := range cols {
			line = append(line, cell(rows[i][c]))
		}
		_ = w.Write(line)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), "text/csv", nil
}

func cell(v json.RawMessage) string {
	if len(v) == 0 || string(v) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	return string(v)
}
