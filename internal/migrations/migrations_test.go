package migrations

import (
	"context"
	"regexp"
	"testing"
	"testing/fstest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Embedded(t *testing.T) {
	r := NewRunner(nil)
	migrations, err := Load(r.source)
	require.NoError(t, err)
	require.NotEmpty(t, migrations)

	first := migrations[0]
	assert.Equal(t, 1, first.Version)
	assert.Equal(t, "init", first.Name)
	assert.Contains(t, first.Up, "CREATE TABLE IF NOT EXISTS campaign_recipients")
	assert.Contains(t, first.Up, "(campaign_id, status, created_at)")
	assert.Contains(t, first.Down, "DROP TABLE IF EXISTS campaigns")
}

func TestLoad_OrdersAndValidates(t *testing.T) {
	source := fstest.MapFS{
		"002_add_index.up.sql": {Data: []byte("CREATE INDEX x ON t (a);")},
		"001_init.up.sql":      {Data: []byte("CREATE TABLE t (a INT);")},
		"001_init.down.sql":    {Data: []byte("DROP TABLE t;")},
		"README.md":            {Data: []byte("ignored")},
	}
	migrations, err := Load(source)
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, 1, migrations[0].Version)
	assert.Equal(t, 2, migrations[1].Version)
	assert.Empty(t, migrations[1].Down)

	_, err = Load(fstest.MapFS{"003_orphan.down.sql": {Data: []byte("DROP TABLE t;")}})
	assert.Error(t, err)
}

func TestRunner_UpAppliesPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	r := &Runner{db: db, source: fstest.MapFS{
		"001_init.up.sql": {Data: []byte("CREATE TABLE a (id INT);")},
		"002_more.up.sql": {Data: []byte("CREATE TABLE b (id INT);")},
	}}

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version, applied_at FROM schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version", "applied_at"}).AddRow(1, time.Now()))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE b (id INT);")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO schema_migrations").WithArgs(2, "more").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	done, err := r.Up(context.Background())
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, 2, done[0].Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunner_DownRollsBackNewest(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	r := &Runner{db: db, source: fstest.MapFS{
		"001_init.up.sql":   {Data: []byte("CREATE TABLE a (id INT);")},
		"001_init.down.sql": {Data: []byte("DROP TABLE a;")},
	}}

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version, applied_at FROM schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version", "applied_at"}).AddRow(1, time.Now()))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DROP TABLE a;")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM schema_migrations").WithArgs(1).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	m, err := r.Down(context.Background())
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "init", m.Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}
