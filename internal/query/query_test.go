package query_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/graphwork/taskgraphd/internal/query"
)

func newDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(`CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO widgets (id, name) VALUES (1, 'a'), (2, 'b')`)
	require.NoError(t, err)
	return db
}

func TestValidateRejectsNonSelectLeadingKeyword(t *testing.T) {
	require.Error(t, query.Validate("DELETE FROM widgets"))
}

func TestValidateRejectsForbiddenKeywordMidStatement(t *testing.T) {
	require.Error(t, query.Validate("SELECT * FROM widgets; DROP TABLE widgets"))
}

func TestValidateRejectsMultipleStatements(t *testing.T) {
	require.Error(t, query.Validate("SELECT 1; SELECT 2"))
}

func TestValidateAllowsTrailingSemicolon(t *testing.T) {
	require.NoError(t, query.Validate("SELECT * FROM widgets;"))
}

func TestValidateAllowsWithCTE(t *testing.T) {
	require.NoError(t, query.Validate("WITH x AS (SELECT 1) SELECT * FROM x"))
}

func TestValidateAllowsKeywordSubstringInIdentifier(t *testing.T) {
	// "updated_at" contains "update" only as a substring, not a whole word.
	require.NoError(t, query.Validate("SELECT updated_at FROM widgets"))
}

func TestRunRendersJSON(t *testing.T) {
	db := newDB(t)
	res, err := query.Run(context.Background(), db, query.Input{Statement: "SELECT id, name FROM widgets ORDER BY id"})
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, res.Columns)

	var rows []map[string]any
	require.NoError(t, json.Unmarshal(res.Body, &rows))
	require.Len(t, rows, 2)
}

func TestRunClampsLimit(t *testing.T) {
	db := newDB(t)
	res, err := query.Run(context.Background(), db, query.Input{
		Statement: "SELECT id FROM widgets ORDER BY id",
		Limit:     1,
	})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
}

func TestRunRendersCSV(t *testing.T) {
	db := newDB(t)
	res, err := query.Run(context.Background(), db, query.Input{
		Statement: "SELECT id, name FROM widgets ORDER BY id",
		Format:    query.FormatCSV,
	})
	require.NoError(t, err)
	assert.Contains(t, string(res.Body), "id,name")
}

func TestRunRendersMarkdown(t *testing.T) {
	db := newDB(t)
	res, err := query.Run(context.Background(), db, query.Input{
		Statement: "SELECT id, name FROM widgets ORDER BY id",
		Format:    query.FormatMarkdown,
	})
	require.NoError(t, err)
	assert.Contains(t, string(res.Body), "| id | name |")
}

func TestRunRejectsInvalidStatementBeforeExecuting(t *testing.T) {
	db := newDB(t)
	_, err := query.Run(context.Background(), db, query.Input{Statement: "DROP TABLE widgets"})
	require.Error(t, err)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM widgets").Scan(&count))
	assert.Equal(t, 2, count, "a rejected statement must never reach the database")
}
