package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite драйвер
)

// AccessMode определяет режим доступа к SQLite базе данных
type AccessMode string

const (
	// AccessModeReadWrite - режим чтения и записи (по умолчанию)
	AccessModeReadWrite AccessMode = "rw"
	// AccessModeReadOnly - режим только для чтения
	AccessModeReadOnly AccessMode = "ro"
	// AccessModeReadWriteCreate - режим чтения/записи с созданием файла если не существует
	AccessModeReadWriteCreate AccessMode = "rwc"
)

// DBOptions содержит настройки для SQLite базы данных.
type DBOptions struct {
	// PingTimeout - таймаут для проверки соединения при создании БД
	PingTimeout time.Duration
	// WALMode - использовать ли WAL режим для лучшей производительности
	WALMode bool
	// ForeignKeys - включить ли проверку внешних ключей
	ForeignKeys bool
	// BusyTimeout - таймаут ожидания при SQLITE_BUSY
	BusyTimeout time.Duration
	// AccessMode - режим доступа к базе данных
	AccessMode AccessMode
	// QueueSize - размер буфера очереди транзакций (по умолчанию 64)
	QueueSize int
}

// DefaultDBOptions возвращает настройки по умолчанию, оптимизированные для embedded использования.
func DefaultDBOptions() DBOptions {
	return DBOptions{
		PingTimeout: 5 * time.Second,
		WALMode:     true,
		ForeignKeys: true,
		BusyTimeout: 5 * time.Second,
		AccessMode:  AccessModeReadWrite,
		QueueSize:   64,
	}
}

// DB представляет подключение к встроенному движку SQLite вместе с
// координатором транзакций. Движок не реентерабелен и выполняет один
// statement за раз, поэтому пул соединений жёстко ограничен одним
// соединением, а все верхнеуровневые транзакции проходят через FIFO
// очередь (см. queue.go и tx.go).
type DB struct {
	sql  *sql.DB
	opts DBOptions

	// очередь верхнеуровневых транзакций
	queue     chan queueEntry
	queueDone chan struct{}
	// admitMu фиксирует порядок допуска: отправка в канал под мьютексом
	// делает порядок постановки в очередь строго равным порядку вызова
	admitMu sync.Mutex

	// mu защищает closed и cur от конкурентных читателей (InTransaction)
	mu     sync.Mutex
	closed bool
	cur    *txState // nil вне транзакции

	hookMu      sync.Mutex
	commitHooks []func()
}

// Open создает новое подключение к SQLite базе данных с настройками по умолчанию.
func Open(ctx context.Context, dbPath string) (*DB, error) {
	return OpenWithOptions(ctx, dbPath, DefaultDBOptions())
}

// OpenInMemory создает in-memory SQLite базу данных.
// База живёт ровно столько, сколько живёт единственное соединение пула.
func OpenInMemory(ctx context.Context) (*DB, error) {
	opts := DefaultDBOptions()
	opts.WALMode = false // WAL не поддерживается для in-memory БД
	return OpenWithOptions(ctx, ":memory:", opts)
}

// OpenWithOptions создает новое подключение к SQLite с заданными параметрами.
func OpenWithOptions(ctx context.Context, dbPath string, opts DBOptions) (*DB, error) {
	// Создаем директорию для БД если её нет
	if dir := filepath.Dir(dbPath); dir != "." && dbPath != ":memory:" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}

	// Строим DSN с параметрами
	dsn := buildDSN(dbPath, opts)

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// Ровно одно соединение: движок однопоточный, а ручные
	// BEGIN/COMMIT/SAVEPOINT живут на уровне физического соединения.
	// Время жизни не ограничиваем - пул не имеет права закрыть соединение
	// с открытой транзакцией или с in-memory базой.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)
	sqlDB.SetConnMaxIdleTime(0)

	// Проверяем соединение с БД с настраиваемым таймаутом
	pingCtx, cancel := context.WithTimeout(ctx, opts.PingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	// Применяем PRAGMA настройки после открытия соединения
	if err := applyPragmaSettings(ctx, sqlDB, opts); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to apply PRAGMA settings: %w", err)
	}

	db := &DB{
		sql:       sqlDB,
		opts:      opts,
		queue:     make(chan queueEntry, opts.QueueSize),
		queueDone: make(chan struct{}),
	}
	go db.runQueue()

	return db, nil
}

// Close останавливает очередь транзакций и закрывает базу данных.
// Уже поставленные в очередь транзакции будут выполнены до конца.
func (db *DB) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	db.mu.Unlock()

	// Под admitMu никто не находится в середине отправки в канал,
	// поэтому закрытие канала безопасно.
	db.admitMu.Lock()
	close(db.queue)
	db.admitMu.Unlock()
	<-db.queueDone

	return db.sql.Close()
}

// buildDSN строит DSN строку для SQLite с минимальными параметрами.
// Большинство настроек применяется через PRAGMA после открытия.
func buildDSN(dbPath string, opts DBOptions) string {
	params := []string{}

	// Добавляем режим доступа только если он отличается от умолчания
	if opts.AccessMode != "" && opts.AccessMode != AccessModeReadWrite {
		params = append(params, fmt.Sprintf("mode=%s", opts.AccessMode))
	}

	if opts.BusyTimeout > 0 {
		timeoutMs := int(opts.BusyTimeout.Milliseconds())
		params = append(params, fmt.Sprintf("_busy_timeout=%d", timeoutMs))
	}

	// Если есть параметры - добавляем их к пути
	if len(params) > 0 {
		return dbPath + "?" + strings.Join(params, "&")
	}

	return dbPath
}

// applyPragmaSettings применяет PRAGMA настройки к открытому соединению.
// Это обеспечивает надёжность применения настроек независимо от драйвера.
func applyPragmaSettings(ctx context.Context, db *sql.DB, opts DBOptions) error {
	pragmas := make([]string, 0, 4)

	// Включаем проверку внешних ключей
	if opts.ForeignKeys {
		pragmas = append(pragmas, "PRAGMA foreign_keys = ON")
	}

	// Устанавливаем режим журнала
	if opts.WALMode {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}

	// Устанавливаем уровень синхронизации
	pragmas = append(pragmas, "PRAGMA synchronous = NORMAL")

	// Устанавливаем busy timeout если указан
	if opts.BusyTimeout > 0 {
		timeoutMs := int(opts.BusyTimeout.Milliseconds())
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA busy_timeout = %d", timeoutMs))
	}

	// Применяем все PRAGMA настройки
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Exec выполняет statement через активную транзакцию из контекста,
// либо напрямую через соединение если транзакции нет.
func (db *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.Querier(ctx).ExecContext(ctx, query, args...)
}

// Query выполняет запрос через активную транзакцию из контекста,
// либо напрямую через соединение если транзакции нет.
func (db *DB) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.Querier(ctx).QueryContext(ctx, query, args...)
}

// QueryRow выполняет запрос одной строки через активную транзакцию из контекста,
// либо напрямую через соединение если транзакции нет.
func (db *DB) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return db.Querier(ctx).QueryRowContext(ctx, query, args...)
}
