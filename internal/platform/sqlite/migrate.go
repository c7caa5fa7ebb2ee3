package sqlite

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"litekit/internal/shared"
)

// migrationsTable - таблица учёта применённых миграций. Формат фиксирован
// для совместимости: version INTEGER PRIMARY KEY, applied_at TEXT (ISO-8601 UTC).
const migrationsTable = "_migrations"

// Migration описывает одну миграцию схемы.
type Migration struct {
	// Version - уникальный положительный номер версии. Номера могут идти
	// с пропусками, применяются строго по возрастанию.
	Version int
	// Up - скрипт применения миграции (обязателен)
	Up string
	// Down - скрипт отката миграции (необязателен, но без него
	// RollbackTo через эту версию не пройдёт)
	Down string
}

// MigrationRecord - строка учёта применённой миграции.
type MigrationRecord struct {
	Version   int
	AppliedAt time.Time
}

// MigrationError декорирует ошибку выполнения миграции номером версии,
// на которой произошёл сбой.
type MigrationError struct {
	Version int
	Op      string // "up" или "down"
	Err     error
}

// Error реализует интерфейс error.
func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration %d (%s): %v", e.Version, e.Op, e.Err)
}

// Unwrap возвращает исходную ошибку.
func (e *MigrationError) Unwrap() error {
	return e.Err
}

// Migrate применяет миграции, версии которых превышают текущую версию БД.
//
// Список проверяется целиком до первого обращения к базе: версии должны быть
// уникальны и положительны, up-скрипты непусты. Затем миграции сортируются по
// возрастанию, и каждая ожидающая выполняется в отдельной верхнеуровневой
// транзакции: up-скрипт и запись в таблицу учёта коммитятся или откатываются
// вместе. Сбой на версии v откатывает только v: более ранние версии остаются
// применёнными, более поздние не запускаются, а ошибка декорируется
// номером v (*MigrationError).
//
// Возвращает номера применённых за этот вызов версий по возрастанию
// (пустой срез если ожидающих не было).
func (db *DB) Migrate(ctx context.Context, migrations []Migration) ([]int, error) {
	if err := validateMigrations(migrations); err != nil {
		return nil, err
	}

	if err := db.ensureMigrationsTable(ctx); err != nil {
		return nil, err
	}

	current, err := db.MigrationVersion(ctx)
	if err != nil {
		return nil, err
	}

	// Сортируем копию: порядок входного списка не важен
	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })

	applied := []int{}
	for _, m := range sorted {
		if m.Version <= current {
			continue
		}

		m := m
		err := db.WithinTx(ctx, func(txCtx context.Context) error {
			if _, err := db.Exec(txCtx, m.Up); err != nil {
				return shared.MarkKind(err, shared.KindExecution)
			}
			appliedAt := time.Now().UTC().Format(time.RFC3339)
			if _, err := db.Exec(txCtx,
				"INSERT INTO "+migrationsTable+" (version, applied_at) VALUES (?, ?)",
				m.Version, appliedAt); err != nil {
				return shared.MarkKind(err, shared.KindExecution)
			}
			return nil
		})
		if err != nil {
			return applied, &MigrationError{Version: m.Version, Op: "up", Err: err}
		}
		applied = append(applied, m.Version)
	}

	return applied, nil
}

// RollbackTo откатывает применённые миграции до целевой версии включительно
// не трогая её саму: откатываются версии строго больше target, по убыванию.
// target = 0 откатывает всё.
//
// Каждая версия откатывается в отдельной верхнеуровневой транзакции:
// down-скрипт и удаление строки учёта атомарны. Отсутствие down-скрипта -
// ошибка консистентности, обнаруживаемая до выполнения SQL этой версии:
// она сама и все версии ниже остаются нетронутыми.
//
// Возвращает номера откаченных версий в порядке отката (по убыванию).
func (db *DB) RollbackTo(ctx context.Context, target int, migrations []Migration) ([]int, error) {
	if target < 0 {
		return nil, shared.Wrapf(shared.ErrValidation, "rollback target %d is negative", target)
	}

	if err := db.ensureMigrationsTable(ctx); err != nil {
		return nil, err
	}

	current, err := db.MigrationVersion(ctx)
	if err != nil {
		return nil, err
	}
	if target > current {
		return nil, shared.Wrapf(shared.ErrValidation,
			"rollback target %d exceeds current version %d", target, current)
	}

	appliedVersions, err := db.appliedVersions(ctx)
	if err != nil {
		return nil, err
	}

	byVersion := make(map[int]Migration, len(migrations))
	for _, m := range migrations {
		byVersion[m.Version] = m
	}

	// Применённые версии выше целевой, по убыванию
	var pending []int
	for _, v := range appliedVersions {
		if v > target {
			pending = append(pending, v)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(pending)))

	rolledBack := []int{}
	for _, v := range pending {
		m, ok := byVersion[v]
		if !ok || strings.TrimSpace(m.Down) == "" {
			return rolledBack, &MigrationError{Version: v, Op: "down",
				Err: shared.Wrapf(shared.ErrConsistency, "no down script for version %d", v)}
		}

		err := db.WithinTx(ctx, func(txCtx context.Context) error {
			if _, err := db.Exec(txCtx, m.Down); err != nil {
				return shared.MarkKind(err, shared.KindExecution)
			}
			if _, err := db.Exec(txCtx,
				"DELETE FROM "+migrationsTable+" WHERE version = ?", v); err != nil {
				return shared.MarkKind(err, shared.KindExecution)
			}
			return nil
		})
		if err != nil {
			return rolledBack, &MigrationError{Version: v, Op: "down", Err: err}
		}
		rolledBack = append(rolledBack, v)
	}

	return rolledBack, nil
}

// MigrationVersion возвращает текущую версию схемы: максимальную применённую
// версию либо 0, если миграции не применялись (в том числе если таблица учёта
// ещё не создана). Чистое чтение, транзакция не открывается.
func (db *DB) MigrationVersion(ctx context.Context) (int, error) {
	exists, err := db.migrationsTableExists(ctx)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}

	var version int
	row := db.QueryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM "+migrationsTable)
	if err := row.Scan(&version); err != nil {
		return 0, shared.Wrap(err, "read migration version")
	}
	return version, nil
}

// MigrationRecords возвращает все записи учёта по возрастанию версии.
func (db *DB) MigrationRecords(ctx context.Context) ([]MigrationRecord, error) {
	exists, err := db.migrationsTableExists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	rows, err := db.Query(ctx,
		"SELECT version, applied_at FROM "+migrationsTable+" ORDER BY version")
	if err != nil {
		return nil, shared.Wrap(err, "read migration records")
	}
	defer rows.Close()

	var records []MigrationRecord
	for rows.Next() {
		var (
			version   int
			appliedAt string
		)
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, shared.Wrap(err, "scan migration record")
		}
		ts, err := time.Parse(time.RFC3339, appliedAt)
		if err != nil {
			return nil, shared.Wrapf(shared.ErrConsistency,
				"malformed applied_at for version %d: %v", version, err)
		}
		records = append(records, MigrationRecord{Version: version, AppliedAt: ts})
	}
	return records, rows.Err()
}

// validateMigrations проверяет список миграций до любого обращения к БД.
func validateMigrations(migrations []Migration) error {
	seen := make(map[int]struct{}, len(migrations))
	for _, m := range migrations {
		if m.Version < 1 {
			return shared.Wrapf(shared.ErrValidation,
				"migration version %d must be a positive integer", m.Version)
		}
		if _, dup := seen[m.Version]; dup {
			return shared.Wrapf(shared.ErrValidation,
				"duplicate migration version %d", m.Version)
		}
		seen[m.Version] = struct{}{}
		if strings.TrimSpace(m.Up) == "" {
			return shared.Wrapf(shared.ErrValidation,
				"migration %d has an empty up script", m.Version)
		}
	}
	return nil
}

// ensureMigrationsTable создаёт таблицу учёта если её ещё нет. Идемпотентно.
func (db *DB) ensureMigrationsTable(ctx context.Context) error {
	_, err := db.Exec(ctx, "CREATE TABLE IF NOT EXISTS "+migrationsTable+
		" (version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL)")
	return shared.Wrap(err, "ensure migrations table")
}

func (db *DB) migrationsTableExists(ctx context.Context) (bool, error) {
	var count int
	row := db.QueryRow(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?",
		migrationsTable)
	if err := row.Scan(&count); err != nil {
		return false, shared.Wrap(err, "check migrations table")
	}
	return count > 0, nil
}

// appliedVersions возвращает применённые версии по возрастанию.
func (db *DB) appliedVersions(ctx context.Context) ([]int, error) {
	rows, err := db.Query(ctx, "SELECT version FROM "+migrationsTable+" ORDER BY version")
	if err != nil {
		return nil, shared.Wrap(err, "read applied versions")
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, shared.Wrap(err, "scan applied version")
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}
