package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"litekit/internal/shared"
)

// ErrClosed возвращается при попытке начать транзакцию после закрытия БД.
var ErrClosed = errors.New("sqlite: database is closed")

// txKey используется как ключ для хранения состояния транзакции в context.Context
type txKey struct{}

// txState хранит состояние одной верхнеуровневой транзакции: глубину
// вложенности, стек имён savepoint'ов и монотонный счётчик для их генерации.
// Счётчик живёт ровно столько, сколько живёт верхнеуровневая транзакция,
// и сбрасывается вместе с ней когда глубина возвращается к нулю.
type txState struct {
	db        *DB
	conn      *sql.Conn // выделенное соединение на время транзакции
	depth     int       // 1 = верхний уровень, выше - вложенные savepoint'ы
	spCounter int       // монотонный счётчик имён sp_<n>
	spStack   []string  // стек открытых savepoint'ов (len == depth-1)
}

// Querier объединяет методы выполнения запросов, общие для БД и транзакции.
// Позволяет вызывающему коду работать с одним интерфейсом независимо от того,
// выполняется ли запрос в транзакции или через основное подключение.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Убедимся на этапе компиляции, что типы реализуют интерфейс
var (
	_ Querier = (*sql.DB)(nil)
	_ Querier = (*sql.Tx)(nil)
	_ Querier = (*sql.Conn)(nil)
)

// txStateFrom извлекает состояние транзакции из контекста.
func txStateFrom(ctx context.Context) (*txState, bool) {
	st, ok := ctx.Value(txKey{}).(*txState)
	return st, ok
}

// InTx сообщает, выполняется ли данный контекст внутри транзакции этой БД
// (на любой глубине вложенности).
func (db *DB) InTx(ctx context.Context) bool {
	st, ok := txStateFrom(ctx)
	return ok && st.db == db
}

// InTransaction сообщает, открыта ли сейчас транзакция на этой БД
// (на любой глубине вложенности). Значение только для чтения: false до
// входа и строго после завершения внешней транзакции, включая откат.
func (db *DB) InTransaction() bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.cur != nil && db.cur.depth > 0
}

// Querier возвращает объект для выполнения запросов.
// Если в контексте есть активная транзакция этой БД - возвращает её
// соединение, иначе возвращает основное подключение.
func (db *DB) Querier(ctx context.Context) Querier {
	if st, ok := txStateFrom(ctx); ok && st.db == db {
		return st.conn
	}
	return db.sql
}

// WithinTx выполняет функцию fn внутри транзакции.
// Если fn возвращает ошибку, транзакция откатывается, и ошибка возвращается
// вызывающему строго после того, как откат завершился.
// Если fn выполняется успешно (возвращает nil), транзакция коммитится.
//
// Верхнеуровневые вызовы (контекст без активной транзакции этой БД)
// сериализуются через FIFO очередь в порядке вызова: следующая транзакция
// не касается соединения, пока предыдущая полностью не завершилась.
// Вызов из контекста уже выполняющегося callback'а этой же БД очередь
// обходит и вкладывается через savepoint: ошибка вложенного уровня
// откатывает только его и видна только непосредственному вызывающему,
// внешняя транзакция продолжает работать.
//
// Ошибки statement'ов не ретраятся. После выполненного BEGIN/SAVEPOINT
// отмена контекста не прерывает callback - он всегда доходит до
// коммита или отката.
func (db *DB) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if st, ok := txStateFrom(ctx); ok && st.db == db {
		// Уже внутри транзакции этой БД - вкладываемся через savepoint
		return db.runNested(ctx, st, fn)
	}
	return <-db.Submit(ctx, fn)
}

// Submit ставит транзакцию в очередь и возвращает канал с будущим
// результатом, не дожидаясь выполнения. Порядок допуска равен порядку
// вызова Submit. Вызов из контекста активного callback'а этой БД очередь
// обходит и выполняется немедленно как вложенная транзакция.
func (db *DB) Submit(ctx context.Context, fn func(ctx context.Context) error) <-chan error {
	result := make(chan error, 1)

	if st, ok := txStateFrom(ctx); ok && st.db == db {
		// Постановка в очередь изнутри callback'а привела бы к deadlock:
		// очередь занята нашей же внешней транзакцией
		result <- db.runNested(ctx, st, fn)
		return result
	}

	db.admitMu.Lock()
	db.mu.Lock()
	closed := db.closed
	db.mu.Unlock()
	if closed {
		db.admitMu.Unlock()
		result <- ErrClosed
		return result
	}
	db.queue <- queueEntry{ctx: ctx, fn: fn, result: result}
	db.admitMu.Unlock()

	return result
}

// WithinTxValue выполняет fn внутри транзакции db и возвращает её результат.
// Обёртка над (*DB).WithinTx для callback'ов, возвращающих значение.
func WithinTxValue[T any](ctx context.Context, db *DB, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := db.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}

// OnCommit регистрирует hook, вызываемый после каждого успешного COMMIT
// верхнеуровневой транзакции. Hook выполняется на goroutine очереди и
// должен быть быстрым - тяжёлую работу переносите в собственную goroutine.
func (db *DB) OnCommit(fn func()) {
	db.hookMu.Lock()
	db.commitHooks = append(db.commitHooks, fn)
	db.hookMu.Unlock()
}

func (db *DB) fireCommitHooks() {
	db.hookMu.Lock()
	hooks := make([]func(), len(db.commitHooks))
	copy(hooks, db.commitHooks)
	db.hookMu.Unlock()

	for _, h := range hooks {
		h()
	}
}

// runNested выполняет fn внутри savepoint'а уже открытой транзакции.
// Имя генерируется из монотонного счётчика внешней транзакции: sp_1, sp_2, ...
func (db *DB) runNested(ctx context.Context, st *txState, fn func(ctx context.Context) error) error {
	db.mu.Lock()
	st.spCounter++
	name := fmt.Sprintf("sp_%d", st.spCounter)
	st.depth++
	st.spStack = append(st.spStack, name)
	db.mu.Unlock()

	pop := func() {
		db.mu.Lock()
		st.depth--
		st.spStack = st.spStack[:len(st.spStack)-1]
		db.mu.Unlock()
	}

	// После открытия savepoint'а отмена контекста не должна прерывать
	// управляющие statement'ы - иначе соединение останется в неопределённом
	// состоянии
	detached := context.WithoutCancel(ctx)

	if _, err := st.conn.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		pop()
		return shared.Wrapf(shared.MarkKind(err, shared.KindExecution), "savepoint %s", name)
	}

	if err := fn(ctx); err != nil {
		// Откат строго до возврата ошибки вызывающему
		if _, rbErr := st.conn.ExecContext(detached, "ROLLBACK TO "+name); rbErr != nil {
			pop()
			return fmt.Errorf("rollback to %s failed: %v (original error: %w)", name, rbErr, err)
		}
		// Освобождаем savepoint после отката, чтобы стек в движке
		// совпадал с нашим
		_, _ = st.conn.ExecContext(detached, "RELEASE "+name)
		pop()
		return err
	}

	if _, err := st.conn.ExecContext(detached, "RELEASE "+name); err != nil {
		pop()
		return shared.Wrapf(shared.MarkKind(err, shared.KindExecution), "release %s", name)
	}
	pop()
	return nil
}
