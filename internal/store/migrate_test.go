package store

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestApplyMigrationsSkipsRecordedVersions(t *testing.T) {
	dbMock, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer func() { _ = dbMock.Close() }()

	migrations := fstest.MapFS{
		"0001_a.up.sql":   {Data: []byte("CREATE TABLE a (id TEXT)")},
		"0001_a.down.sql": {Data: []byte("DROP TABLE a")},
		"0002_b.up.sql":   {Data: []byte("CREATE TABLE b (id TEXT)")},
	}

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("0001_a.up.sql").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("0002_b.up.sql").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE b").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO schema_migrations").WithArgs("0002_b.up.sql").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := ApplyMigrations(context.Background(), dbMock, migrations); err != nil {
		t.Fatalf("ApplyMigrations() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestApplyMigrationsRollsBackFailedFile(t *testing.T) {
	dbMock, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer func() { _ = dbMock.Close() }()

	migrations := fstest.MapFS{
		"0001_a.up.sql": {Data: []byte("CREATE TABLE a (id TEXT)")},
	}

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE a").WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	if err := ApplyMigrations(context.Background(), dbMock, migrations); err == nil {
		t.Fatal("expected migration failure")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRollbackMigrationsRunsNewestFirst(t *testing.T) {
	dbMock, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer func() { _ = dbMock.Close() }()

	migrations := fstest.MapFS{
		"0001_a.down.sql": {Data: []byte("DROP TABLE a")},
		"0002_b.down.sql": {Data: []byte("DROP TABLE b")},
		"0003_c.down.sql": {Data: []byte("  ")},
	}

	mock.ExpectExec("DROP TABLE b").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DROP TABLE a").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM schema_migrations").WillReturnResult(sqlmock.NewResult(0, 2))

	if err := RollbackMigrations(context.Background(), dbMock, migrations); err != nil {
		t.Fatalf("RollbackMigrations() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMigrationSourceFallsBackToEmbedded(t *testing.T) {
	embedded := fstest.MapFS{
		"migrations/0001_a.up.sql": {Data: []byte("SELECT 1")},
	}
	source := MigrationSource("/does/not/exist", embedded)
	files, err := migrationFiles(source, ".up.sql")
	if err != nil {
		t.Fatalf("migrationFiles() error = %v", err)
	}
	if len(files) != 1 || files[0] != "0001_a.up.sql" {
		t.Fatalf("files = %v", files)
	}
}
