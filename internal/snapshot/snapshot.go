// Package snapshot implements the portable, deterministic JSON export and
// import format described in spec.md §6: one JSON object carrying a
// schema version, export metadata, and per-table row arrays in a stable
// order, so two exports of an unchanged graph diff as no-ops. Ephemeral
// tables (workers, file marks, the claim sequence, FTS auxiliaries) are
// never included — they don't survive a restore meaningfully.
package snapshot

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/graphwork/taskgraphd/internal/migration"
	"github.com/graphwork/taskgraphd/internal/store"
)

// gzipMagic is the two leading bytes of every gzip stream (RFC 1952 §2.3.1).
var gzipMagic = []byte{0x1f, 0x8b}

// CurrentExportVersion is the semver stamped into every export produced by
// this build. It is independent of the store's integer schema_version —
// export_version tracks the snapshot format itself, schema_version tracks
// the database schema the rows were read from.
const CurrentExportVersion = "1.0.0"

// Snapshot is the root document written to and read from disk.
type Snapshot struct {
	SchemaVersion int                       `json:"schema_version"`
	ExportVersion string                    `json:"export_version"`
	ExportedAt    time.Time                 `json:"exported_at"`
	ExportedBy    string                    `json:"exported_by"`
	Tables        map[string][]map[string]any `json:"tables"`
}

// tableSpec names one exported table, the SELECT query that reads its
// rows, and its stable sort key.
type tableSpec struct {
	name    string
	query   string
	sortKey func(a, b map[string]any) bool
}

var exportTables = []tableSpec{
	{
		name:  "tasks",
		query: `SELECT * FROM tasks`,
		sortKey: func(a, b map[string]any) bool {
			return fmt.Sprint(a["id"]) < fmt.Sprint(b["id"])
		},
	},
	{
		name:  "dependencies",
		query: `SELECT * FROM dependencies`,
		sortKey: func(a, b map[string]any) bool {
			ka := fmt.Sprintf("%v\x00%v\x00%v", a["from_task"], a["to_task"], a["kind"])
			kb := fmt.Sprintf("%v\x00%v\x00%v", b["from_task"], b["to_task"], b["kind"])
			return ka < kb
		},
	},
	{
		name:  "attachments",
		query: `SELECT * FROM attachments`,
		sortKey: func(a, b map[string]any) bool {
			ka := fmt.Sprintf("%v\x00%020v", a["task_id"], a["order_index"])
			kb := fmt.Sprintf("%v\x00%020v", b["task_id"], b["order_index"])
			return ka < kb
		},
	},
	{
		name:  "task_tags",
		query: `SELECT * FROM task_tags`,
		sortKey: func(a, b map[string]any) bool {
			ka := fmt.Sprintf("%v\x00%v\x00%v", a["task_id"], a["tag"], a["kind"])
			kb := fmt.Sprintf("%v\x00%v\x00%v", b["task_id"], b["tag"], b["kind"])
			return ka < kb
		},
	},
	{
		name:  "ledger",
		query: `SELECT * FROM ledger`,
		sortKey: func(a, b map[string]any) bool {
			ka := fmt.Sprintf("%v\x00%020v", a["task_id"], a["id"])
			kb := fmt.Sprintf("%v\x00%020v", b["task_id"], b["id"])
			return ka < kb
		},
	},
}

// Export reads every non-ephemeral table from s into a Snapshot, rows
// ordered per exportTables' sort keys for stable diffs.
func Export(ctx context.Context, s *store.Store, exportedBy string) (*Snapshot, error) {
	version, err := s.SchemaVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("read schema version: %w", err)
	}

	snap := &Snapshot{
		SchemaVersion: version,
		ExportVersion: CurrentExportVersion,
		ExportedAt:    time.Now().UTC(),
		ExportedBy:    exportedBy,
		Tables:        make(map[string][]map[string]any, len(exportTables)),
	}

	for _, spec := range exportTables {
		rows, err := queryRows(ctx, s.DB(), spec.query)
		if err != nil {
			return nil, fmt.Errorf("export table %s: %w", spec.name, err)
		}
		sort.SliceStable(rows, func(i, j int) bool { return spec.sortKey(rows[i], rows[j]) })
		snap.Tables[spec.name] = rows
	}
	return snap, nil
}

func queryRows(ctx context.Context, db *sql.DB, query string) ([]map[string]any, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]any
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		obj := make(map[string]any, len(cols))
		for i, c := range cols {
			obj[c] = normalize(raw[i])
		}
		out = append(out, obj)
	}
	return out, rows.Err()
}

func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// Encode serializes snap to JSON, gzip-framed when gzipFramed is true.
func Encode(snap *Snapshot, gzipFramed bool) ([]byte, error) {
	body, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	if !gzipFramed {
		return body, nil
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		return nil, fmt.Errorf("gzip snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses raw snapshot bytes, transparently un-gzipping when the
// leading magic bytes indicate a gzip stream.
func Decode(raw []byte) (*Snapshot, error) {
	if len(raw) >= 2 && bytes.Equal(raw[:2], gzipMagic) {
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("open gzip snapshot: %w", err)
		}
		defer func() { _ = zr.Close() }()
		raw, err = io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("read gzip snapshot: %w", err)
		}
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// ImportOptions controls an Import call.
type ImportOptions struct {
	DryRun bool
}

// ImportResult reports what Import did (or, for a dry run, would do).
type ImportResult struct {
	TablesImported map[string]int
	MigratedFrom   int
	MigratedTo     int
}

// Import migrates snap to s's current schema version (if the registry has
// a path) and then re-inserts every table's rows inside a single
// transaction. A DryRun commits nothing — the returned counts describe
// what would have been written.
func Import(ctx context.Context, s *store.Store, snap *Snapshot, migrations *migration.Registry, opts ImportOptions) (*ImportResult, error) {
	target, err := s.SchemaVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("read target schema version: %w", err)
	}

	result := &ImportResult{TablesImported: make(map[string]int), MigratedFrom: snap.SchemaVersion, MigratedTo: target}

	if snap.SchemaVersion != target {
		doc := snapshotToValue(snap)
		migrated, err := migrations.Migrate(doc, snap.SchemaVersion, target)
		if err != nil {
			return nil, fmt.Errorf("migrate snapshot: %w", err)
		}
		snap = valueToSnapshot(migrated)
	}

	for name, rows := range snap.Tables {
		result.TablesImported[name] = len(rows)
	}

	if opts.DryRun {
		return result, nil
	}

	if err := s.ImportTables(ctx, snap.Tables); err != nil {
		return nil, fmt.Errorf("import tables: %w", err)
	}
	return result, nil
}

func snapshotToValue(snap *Snapshot) migration.Value {
	return migration.Value{
		"schema_version": snap.SchemaVersion,
		"export_version": snap.ExportVersion,
		"exported_at":    snap.ExportedAt,
		"exported_by":    snap.ExportedBy,
		"tables":         snap.Tables,
	}
}

func valueToSnapshot(v migration.Value) *Snapshot {
	snap := &Snapshot{Tables: make(map[string][]map[string]any)}
	if sv, ok := v["schema_version"].(int); ok {
		snap.SchemaVersion = sv
	}
	if ev, ok := v["export_version"].(string); ok {
		snap.ExportVersion = ev
	}
	if eb, ok := v["exported_by"].(string); ok {
		snap.ExportedBy = eb
	}
	if t, ok := v["tables"].(map[string][]map[string]any); ok {
		snap.Tables = t
	}
	return snap
}
