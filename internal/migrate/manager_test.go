package migrate

import (
	"context"
	"errors"
	"io/fs"
	"regexp"
	"testing"
	"testing/fstest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkpost.org/migrations"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T, fsys fstest.MapFS, opts ...Option) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	m := NewManager(db, fsys, opts...)
	m.now = func() time.Time { return fixedNow }
	return m, mock
}

func expectEnsureTables(mock sqlmock.Sqlmock) {
	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
}

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"0001_a.up.sql":   {Data: []byte("create table a (id int);\n")},
		"0001_a.down.sql": {Data: []byte("drop table a;\n")},
		"0002_b.up.sql":   {Data: []byte("-- second table; with a comment\ncreate table b (id int);\ninsert into b values (1);\n")},
		"0002_b.down.sql": {Data: []byte("drop table b;")},
		"README.md":       {Data: []byte("not sql")},
	}
}

func TestUpAppliesPendingInOrder(t *testing.T) {
	m, mock := newTestManager(t, testFS())

	expectEnsureTables(mock)
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("create table b").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("insert into b values (1)")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into schema_migrations").
		WithArgs("0002_b.up.sql", fixedNow).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	applied, err := m.Up(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"0002_b.up.sql"}, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpRollsBackFailedFile(t *testing.T) {
	m, mock := newTestManager(t, testFS())

	expectEnsureTables(mock)
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectBegin()
	mock.ExpectExec("create table a").WillReturnError(errors.New("permission denied"))
	mock.ExpectRollback()

	applied, err := m.Up(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apply migration 0001_a.up.sql")
	assert.Empty(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDownRollsBackLatest(t *testing.T) {
	m, mock := newTestManager(t, testFS())

	expectEnsureTables(mock)
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql").AddRow("0002_b.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("drop table b").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("delete from schema_migrations where name = $1")).
		WithArgs("0002_b.up.sql").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	name, err := m.Down(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0002_b.up.sql", name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDownWithNothingApplied(t *testing.T) {
	m, mock := newTestManager(t, testFS())
	expectEnsureTables(mock)
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}))

	_, err := m.Down(context.Background())
	require.ErrorIs(t, err, ErrNothingToRollback)
}

func TestSeedUsesSeedsTable(t *testing.T) {
	seeds := fstest.MapFS{"0001_admin.sql": {Data: []byte("update users set role = 'admin' where username = 'admin';")}}
	m, mock := newTestManager(t, fstest.MapFS{}, WithSeeds(seeds))

	expectEnsureTables(mock)
	mock.ExpectQuery("select name from schema_seeds").
		WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectBegin()
	mock.ExpectExec("update users set role").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into schema_seeds").
		WithArgs("0001_admin.sql", fixedNow).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	applied, err := m.Seed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_admin.sql"}, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements("insert into t values ('a;b');\n-- drop table t;\nselect 1;")
	require.Len(t, stmts, 2)
	assert.Equal(t, "insert into t values ('a;b')", stmts[0])
	assert.Equal(t, "\n\nselect 1", stmts[1])
}

func TestEmbeddedSchema(t *testing.T) {
	files, err := collectSQL(migrations.Schema(), ".up.sql")
	require.NoError(t, err)
	require.NotEmpty(t, files)
	assert.Equal(t, "0001_users.up.sql", files[0])

	seeds, err := collectSQL(migrations.Seeds(), ".sql")
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_admin.sql"}, seeds)

	for _, name := range files {
		body, err := fs.ReadFile(migrations.Schema(), name)
		require.NoError(t, err)
		assert.NotEmpty(t, splitStatements(string(body)))
	}
}
