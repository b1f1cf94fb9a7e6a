// Package query implements the read-only SQL facility described in
// spec.md §6: a statement whose first significant word is SELECT or WITH,
// free of any DDL/DML keyword appearing as a whole word, with at most one
// statement, positional parameters, a clamped row limit, and rendering to
// JSON, CSV, or Markdown with blob columns base64-encoded.
//
// No ecosystem SQL-safety-linter library in the retrieved corpus covers
// this exact narrow contract (a reject-list over raw SQL text, not a full
// parser or planner), so this is built on regexp + encoding/csv +
// encoding/json, per the third-party-first rule's standard-library
// exception.
package query

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/graphwork/taskgraphd/internal/types"
)

// Format names a supported rendering for Result.
type Format string

const (
	FormatJSON     Format = "json"
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
)

const (
	defaultLimit = 100
	minLimit     = 1
	maxLimit     = 1000
)

var forbiddenKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "CREATE", "ALTER", "TRUNCATE",
	"REPLACE", "UPSERT", "MERGE", "GRANT", "REVOKE", "ATTACH", "DETACH",
	"VACUUM", "REINDEX", "ANALYZE", "PRAGMA",
}

var forbiddenRe = buildForbiddenRe()

func buildForbiddenRe() *regexp.Regexp {
	escaped := make([]string, len(forbiddenKeywords))
	for i, kw := range forbiddenKeywords {
		escaped[i] = regexp.QuoteMeta(kw)
	}
	// \b isn't available in Go's RE2 for non-word boundaries the same way
	// PCRE offers, but RE2 does support \b on ASCII word characters, which
	// is exactly what SQL keywords are.
	return regexp.MustCompile(`(?i)\b(` + strings.Join(escaped, "|") + `)\b`)
}

var leadingKeywordRe = regexp.MustCompile(`(?is)^\s*(SELECT|WITH)\b`)

// Input describes a read-only query request.
type Input struct {
	Statement string
	Params    []any
	Limit     int
	Format    Format
}

// Result is a rendered query result plus its shape for callers that want
// the raw rows instead of (or in addition to) the rendered bytes.
type Result struct {
	Columns []string
	Rows    [][]any
	Format  Format
	Body    []byte
}

// Validate checks in.Statement against the safety contract without
// touching the database: a leading SELECT/WITH, no forbidden keyword as a
// whole word, and exactly one statement.
func Validate(statement string) error {
	trimmed := strings.TrimSpace(statement)
	if trimmed == "" {
		return types.NewError(types.CodeMissingRequiredField, "statement is required").WithField("statement")
	}
	if !leadingKeywordRe.MatchString(trimmed) {
		return types.NewError(types.CodeInvalidFieldValue,
			"statement must begin with SELECT or WITH").WithField("statement")
	}
	if forbiddenRe.MatchString(trimmed) {
		return types.NewError(types.CodeInvalidFieldValue,
			"statement contains a forbidden keyword").WithField("statement")
	}
	if countStatements(trimmed) > 0 {
		return types.NewError(types.CodeInvalidFieldValue,
			"only a single statement is allowed").WithField("statement")
	}
	return nil
}

// countStatements counts top-level statement terminators (';') that are
// followed by more text, ignoring those inside single- or double-quoted
// string literals; a single trailing ';' is not counted.
func countStatements(statement string) int {
	count := 0
	var quote rune
	runes := []rune(statement)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case quote != 0:
			if c == quote {
				// SQL escapes a quote by doubling it; a doubled quote
				// doesn't close the literal.
				if i+1 < len(runes) && runes[i+1] == quote {
					i++
					continue
				}
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == ';':
			trailing := strings.TrimSpace(string(runes[i+1:]))
			if trailing == "" {
				continue // trailing semicolon on an otherwise single statement
			}
			count++
		}
	}
	return count
}

// Run validates, binds, executes, and renders in.Statement against db.
func Run(ctx context.Context, db *sql.DB, in Input) (*Result, error) {
	if err := Validate(in.Statement); err != nil {
		return nil, err
	}

	limit := in.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit < minLimit {
		limit = minLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	rows, err := db.QueryContext(ctx, in.Statement, in.Params...)
	if err != nil {
		return nil, types.NewError(types.CodeDatabaseError, "query failed: %v", err)
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, types.NewError(types.CodeDatabaseError, "read columns: %v", err)
	}

	var out [][]any
	for len(out) < limit && rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, types.NewError(types.CodeDatabaseError, "scan row: %v", err)
		}
		out = append(out, normalizeRow(raw))
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewError(types.CodeDatabaseError, "iterate rows: %v", err)
	}

	format := in.Format
	if format == "" {
		format = FormatJSON
	}
	body, err := render(cols, out, format)
	if err != nil {
		return nil, err
	}

	return &Result{Columns: cols, Rows: out, Format: format, Body: body}, nil
}

// normalizeRow base64-encodes any []byte (blob) column, the only value
// shape that JSON/CSV/Markdown rendering can't otherwise represent
// losslessly.
func normalizeRow(raw []any) []any {
	out := make([]any, len(raw))
	for i, v := range raw {
		if b, ok := v.([]byte); ok {
			out[i] = base64.StdEncoding.EncodeToString(b)
		} else {
			out[i] = v
		}
	}
	return out
}

func render(cols []string, rows [][]any, format Format) ([]byte, error) {
	switch format {
	case FormatCSV:
		return renderCSV(cols, rows)
	case FormatMarkdown:
		return renderMarkdown(cols, rows), nil
	case FormatJSON, "":
		return renderJSON(cols, rows)
	default:
		return nil, types.NewError(types.CodeInvalidFieldValue, "unknown format %q", format).WithField("format")
	}
}

func renderJSON(cols []string, rows [][]any) ([]byte, error) {
	objs := make([]map[string]any, len(rows))
	for i, row := range rows {
		obj := make(map[string]any, len(cols))
		for j, c := range cols {
			obj[c] = row[j]
		}
		objs[i] = obj
	}
	return json.Marshal(objs)
}

func renderCSV(cols []string, rows [][]any) ([]byte, error) {
	var buf strings.Builder
	w := csv.NewWriter(&buf)
	if err := w.Write(cols); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range rows {
		rec := make([]string, len(row))
		for i, v := range row {
			rec[i] = fmt.Sprint(v)
		}
		if err := w.Write(rec); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return []byte(buf.String()), nil
}

func renderMarkdown(cols []string, rows [][]any) []byte {
	var b strings.Builder
	b.WriteString("| " + strings.Join(cols, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(cols)) + "\n")
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = fmt.Sprint(v)
		}
		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	return []byte(b.String())
}
