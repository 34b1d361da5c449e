package migrate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func writeMigration(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestSplitStatements(t *testing.T) {
	script := `-- identity tables
create table a (
	id text primary key
);

create index a_idx on a (id);
`
	stmts := splitStatements(script)
	if len(stmts) != 2 {
		t.Fatalf("got %d statements, want 2: %#v", len(stmts), stmts)
	}
}

func TestCollectSQLOrdersLexically(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "0002_second.up.sql", "select 1;")
	writeMigration(t, dir, "0001_first.up.sql", "select 1;")
	writeMigration(t, dir, "0001_first.down.sql", "select 1;")
	writeMigration(t, dir, "notes.txt", "ignore me")

	files, err := collectSQL(dir, ".up.sql")
	if err != nil {
		t.Fatalf("collectSQL: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("got %d files, want 2", len(files))
	}
	if files[0].base != "0001_first.up.sql" || files[1].base != "0002_second.up.sql" {
		t.Fatalf("wrong order: %v, %v", files[0].base, files[1].base)
	}
}

func TestUpAppliesPendingOnly(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "0001_first.up.sql", "create table a (id text);\n")
	writeMigration(t, dir, "0002_second.up.sql", "create table b (id text);\n")

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`create table if not exists schema_migrations`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`create table if not exists schema_migrations`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`select name from schema_migrations`).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_first.up.sql"))

	// Only the second migration runs.
	mock.ExpectBegin()
	mock.ExpectExec(`create table b`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec(`insert into schema_migrations`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	m := NewManager(db, dir)
	if err := m.Up(context.Background()); err != nil {
		t.Fatalf("Up: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDownRequiresDownFile(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "0001_first.up.sql", "create table a (id text);\n")

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`create table if not exists schema_migrations`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`create table if not exists schema_migrations`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`select name from schema_migrations`).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_first.up.sql"))

	m := NewManager(db, dir)
	if err := m.Down(context.Background()); err == nil {
		t.Fatal("expected error for missing down file")
	}
}
