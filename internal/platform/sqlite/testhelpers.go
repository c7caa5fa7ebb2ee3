package sqlite

import (
	"context"
	"os"
	"testing"
)

// TestDB представляет тестовую SQLite базу данных с удобными хелперами.
type TestDB struct {
	*DB
	Path string // Путь к файлу БД (":memory:" для in-memory)
}

// NewTestDBInMemory создает in-memory SQLite БД для тестов.
// БД автоматически закрывается после завершения теста.
func NewTestDBInMemory(t *testing.T) *TestDB {
	t.Helper()

	ctx := context.Background()
	db, err := OpenInMemory(ctx)
	if err != nil {
		t.Fatalf("Failed to create in-memory test DB: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Close()
	})

	return &TestDB{DB: db, Path: ":memory:"}
}

// NewTestDBFile создает файловую SQLite БД для тестов.
// БД автоматически закрывается и удаляется после завершения теста.
func NewTestDBFile(t *testing.T) *TestDB {
	t.Helper()

	ctx := context.Background()
	tmpFile, err := os.CreateTemp("", "test_db_*.sqlite")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	path := tmpFile.Name()
	_ = tmpFile.Close()

	db, err := Open(ctx, path)
	if err != nil {
		_ = os.Remove(path)
		t.Fatalf("Failed to create file test DB: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Close()
		_ = os.Remove(path)
	})

	return &TestDB{DB: db, Path: path}
}

// MustExec выполняет SQL команду и проверяет отсутствие ошибок.
func (tdb *TestDB) MustExec(t *testing.T, query string, args ...any) {
	t.Helper()

	if _, err := tdb.Exec(context.Background(), query, args...); err != nil {
		t.Fatalf("Failed to execute query: %v", err)
	}
}

// MustMigrate применяет миграции и проверяет отсутствие ошибок.
func (tdb *TestDB) MustMigrate(t *testing.T, migrations []Migration) []int {
	t.Helper()

	applied, err := tdb.Migrate(context.Background(), migrations)
	if err != nil {
		t.Fatalf("Failed to apply test migrations: %v", err)
	}
	return applied
}

// CountRows возвращает число строк в таблице, падая при ошибке.
func (tdb *TestDB) CountRows(t *testing.T, table string) int64 {
	t.Helper()

	n, err := tdb.Table(table).Count(context.Background())
	if err != nil {
		t.Fatalf("Failed to count rows in %s: %v", table, err)
	}
	return n
}
