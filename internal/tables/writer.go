package tables

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
)

// DirWriter persists audit tables as CSV files under
// <dir>/<category>/<stage>/<name>.csv.
type DirWriter struct {
	Dir    string
	Logger *zap.SugaredLogger
}

// NewDirWriter creates a writer rooted at dir.
func NewDirWriter(dir string, logger *zap.SugaredLogger) *DirWriter {
	return &DirWriter{Dir: dir, Logger: logger}
}

// WriteTable writes one table. Column order is the sorted union of row keys
// so output is stable across runs.
func (w *DirWriter) WriteTable(category, stage, name string, rows []map[string]interface{}) error {
	if stage != StageIntermediate && stage != StageResults {
		return fmt.Errorf("write table %s/%s: unknown stage %q", category, name, stage)
	}
	dir := filepath.Join(w.Dir, category, stage)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, name+".csv")

	cols := columnUnion(rows)

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write(cols); err != nil {
		return err
	}
	for _, row := range rows {
		rec := make([]string, len(cols))
		for i, col := range cols {
			rec[i] = cellString(row[col])
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	if w.Logger != nil {
		w.Logger.Debugw("audit table written", "path", path, "rows", len(rows))
	}
	return nil
}

func columnUnion(rows []map[string]interface{}) []string {
	seen := make(map[string]struct{})
	for _, row := range rows {
		for k := range row {
			seen[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

func cellString(v interface{}) string {
	switch vv := v.(type) {
	case nil:
		return ""
	case string:
		return vv
	case []string:
		b, _ := json.Marshal(vv)
		return string(b)
	default:
		return fmt.Sprintf("%v", vv)
	}
}
