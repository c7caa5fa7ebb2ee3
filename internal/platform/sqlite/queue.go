package sqlite

import (
	"context"
	"fmt"

	"litekit/internal/shared"
)

// queueEntry представляет одну верхнеуровневую транзакцию в очереди.
type queueEntry struct {
	ctx    context.Context
	fn     func(ctx context.Context) error
	result chan error
}

// runQueue обрабатывает очередь верхнеуровневых транзакций в отдельной goroutine.
// Записи выполняются строго по одной в порядке допуска: следующая не начинается,
// пока предыдущая полностью не завершилась (включая COMMIT/ROLLBACK).
// Ошибка одной записи не блокирует и не отменяет последующие.
func (db *DB) runQueue() {
	defer close(db.queueDone)

	for e := range db.queue {
		e.result <- db.runTopLevel(e)
		close(e.result)
	}
}

// runTopLevel выполняет одну верхнеуровневую транзакцию: BEGIN, callback,
// затем COMMIT либо ROLLBACK. Отмена контекста учитывается только до BEGIN;
// после него callback всегда доводится до терминального исхода.
func (db *DB) runTopLevel(e queueEntry) error {
	if err := e.ctx.Err(); err != nil {
		return err
	}

	// Выделенное соединение гарантирует, что все statement'ы транзакции
	// (включая вложенные savepoint'ы) попадут на одно физическое соединение.
	conn, err := db.sql.Conn(e.ctx)
	if err != nil {
		return shared.Wrap(err, "acquire connection")
	}
	defer conn.Close()

	detached := context.WithoutCancel(e.ctx)

	if _, err := conn.ExecContext(e.ctx, "BEGIN"); err != nil {
		return shared.Wrap(shared.MarkKind(err, shared.KindExecution), "begin")
	}

	st := &txState{db: db, conn: conn, depth: 1}
	db.mu.Lock()
	db.cur = st
	db.mu.Unlock()

	// Состояние снимается до отправки результата: вызывающий, дождавшийся
	// завершения, уже не увидит InTransaction() == true
	settle := func() {
		db.mu.Lock()
		db.cur = nil
		db.mu.Unlock()
	}

	txCtx := context.WithValue(e.ctx, txKey{}, st)

	if cbErr := e.fn(txCtx); cbErr != nil {
		// Полный ROLLBACK снимает и все оставшиеся savepoint'ы
		if _, rbErr := conn.ExecContext(detached, "ROLLBACK"); rbErr != nil {
			settle()
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, cbErr)
		}
		settle()
		return cbErr
	}

	if _, err := conn.ExecContext(detached, "COMMIT"); err != nil {
		_, _ = conn.ExecContext(detached, "ROLLBACK")
		settle()
		return shared.Wrap(shared.MarkKind(err, shared.KindExecution), "commit")
	}
	settle()

	db.fireCommitHooks()
	return nil
}
