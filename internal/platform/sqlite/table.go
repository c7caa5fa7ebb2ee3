package sqlite

import (
	"context"
	"sort"
	"strings"

	"litekit/internal/shared"
)

// Table предоставляет простые CRUD операции над одной таблицей.
// Все запросы идут через Querier(ctx): вызовы внутри WithinTx автоматически
// попадают в активную транзакцию, вызовы снаружи - в основное соединение.
type Table struct {
	db   *DB
	name string
}

// Table возвращает CRUD обёртку над таблицей с указанным именем.
func (db *DB) Table(name string) Table {
	return Table{db: db, name: name}
}

// Insert вставляет строку и возвращает её rowid.
// Колонки сортируются по имени для детерминированного SQL.
func (t Table) Insert(ctx context.Context, values map[string]any) (int64, error) {
	if len(values) == 0 {
		return 0, shared.Wrap(shared.ErrValidation, "insert requires at least one column")
	}

	cols := sortedKeys(values)
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		placeholders[i] = "?"
		args[i] = values[c]
	}

	query := "INSERT INTO " + quoteIdent(t.name) +
		" (" + strings.Join(quoteIdents(cols), ", ") + ") VALUES (" +
		strings.Join(placeholders, ", ") + ")"

	res, err := t.db.Querier(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, shared.MarkKind(err, shared.KindExecution)
	}
	return res.LastInsertId()
}

// Update обновляет строки, подходящие под условие where (пустое условие
// обновляет все строки). Возвращает число затронутых строк.
func (t Table) Update(ctx context.Context, set map[string]any, where string, whereArgs ...any) (int64, error) {
	if len(set) == 0 {
		return 0, shared.Wrap(shared.ErrValidation, "update requires at least one column")
	}

	cols := sortedKeys(set)
	assignments := make([]string, len(cols))
	args := make([]any, 0, len(cols)+len(whereArgs))
	for i, c := range cols {
		assignments[i] = quoteIdent(c) + " = ?"
		args = append(args, set[c])
	}

	query := "UPDATE " + quoteIdent(t.name) + " SET " + strings.Join(assignments, ", ")
	if where != "" {
		query += " WHERE " + where
		args = append(args, whereArgs...)
	}

	res, err := t.db.Querier(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, shared.MarkKind(err, shared.KindExecution)
	}
	return res.RowsAffected()
}

// Delete удаляет строки, подходящие под условие where (пустое условие
// удаляет все строки). Возвращает число удалённых строк.
func (t Table) Delete(ctx context.Context, where string, whereArgs ...any) (int64, error) {
	query := "DELETE FROM " + quoteIdent(t.name)
	if where != "" {
		query += " WHERE " + where
	}

	res, err := t.db.Querier(ctx).ExecContext(ctx, query, whereArgs...)
	if err != nil {
		return 0, shared.MarkKind(err, shared.KindExecution)
	}
	return res.RowsAffected()
}

// Select возвращает строки, подходящие под условие where, в виде
// срезов map колонка -> значение. Пустое условие возвращает все строки.
func (t Table) Select(ctx context.Context, where string, whereArgs ...any) ([]map[string]any, error) {
	query := "SELECT * FROM " + quoteIdent(t.name)
	if where != "" {
		query += " WHERE " + where
	}

	rows, err := t.db.Querier(ctx).QueryContext(ctx, query, whereArgs...)
	if err != nil {
		return nil, shared.MarkKind(err, shared.KindExecution)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, shared.Wrap(err, "read columns")
	}

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		scan := make([]any, len(cols))
		for i := range values {
			scan[i] = &values[i]
		}
		if err := rows.Scan(scan...); err != nil {
			return nil, shared.Wrap(err, "scan row")
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Count возвращает число строк в таблице.
func (t Table) Count(ctx context.Context) (int64, error) {
	var n int64
	row := t.db.Querier(ctx).QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(t.name))
	if err := row.Scan(&n); err != nil {
		return 0, shared.MarkKind(err, shared.KindExecution)
	}
	return n, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// quoteIdent экранирует идентификатор двойными кавычками.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteIdents(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = quoteIdent(n)
	}
	return out
}
