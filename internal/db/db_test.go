package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var incidentCols = []string{"id", "category", "severity"}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestUpsert_ConfigErrors(t *testing.T) {
	rows := [][]any{{"C1", "Theft", 2}}

	n, err := Upsert(context.Background(), nil, UpsertConfig{Table: "incidents"}, nil)
	assert.NoError(t, err)
	assert.Zero(t, n)

	_, err = Upsert(context.Background(), nil, UpsertConfig{Table: "incidents", ConflictKeys: []string{"id"}}, rows)
	assert.ErrorContains(t, err, "no columns specified")

	_, err = Upsert(context.Background(), nil, UpsertConfig{Table: "incidents", Columns: incidentCols}, rows)
	assert.ErrorContains(t, err, "no conflict keys specified")
}

func TestUpsert_Success(t *testing.T) {
	mock := newMock(t)
	cfg := UpsertConfig{Table: "incidents", Columns: incidentCols, ConflictKeys: []string{"id"}}

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_incidents" \(LIKE "incidents"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_incidents"}, incidentCols).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "incidents" .* ON CONFLICT \("id"\) DO UPDATE SET "category" = EXCLUDED."category", "severity" = EXCLUDED."severity"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := Upsert(context.Background(), mock, cfg, [][]any{{"C1", "Theft", 2}, {"C2", "Assault", 4}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert_RollsBackOnCopyError(t *testing.T) {
	mock := newMock(t)
	cfg := UpsertConfig{Table: "incidents", Columns: incidentCols, ConflictKeys: []string{"id"}}

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_incidents"}, incidentCols).WillReturnError(errors.New("bad row"))
	mock.ExpectRollback()

	_, err := Upsert(context.Background(), mock, cfg, [][]any{{"C1", "Theft", 2}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY into temp table for incidents")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeSQL(t *testing.T) {
	cfg := UpsertConfig{Table: "riskgrid.feedback", Columns: []string{"id"}, ConflictKeys: []string{"id"}}
	got := mergeSQL(cfg, TempTableName(cfg.Table))
	assert.Equal(t,
		`INSERT INTO "riskgrid"."feedback" ("id") SELECT "id" FROM "_tmp_upsert_riskgrid_feedback" ON CONFLICT ("id") DO NOTHING`,
		got)

	cfg = UpsertConfig{Table: "t", Columns: []string{"a", "b", "c"}, ConflictKeys: []string{"a"}, UpdateCols: []string{"c"}}
	assert.Contains(t, mergeSQL(cfg, "tmp"), `DO UPDATE SET "c" = EXCLUDED."c"`)
}

func TestIdentifier(t *testing.T) {
	assert.Equal(t, `"incidents"`, identifier("incidents").Sanitize())
	assert.Equal(t, `"riskgrid"."incidents"`, identifier("riskgrid.incidents").Sanitize())
}
