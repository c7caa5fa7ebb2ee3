// Package persist выгружает снапшоты SQLite базы во внешнее хранилище.
//
// Persister подписывается на commit hook координатора транзакций и
// откладывает выгрузку по debounce-таймеру: серия близких коммитов даёт
// один снапшот. Дополнительно можно задать cron-расписание принудительных
// выгрузок. Сами снапшоты снимаются через VACUUM INTO, поэтому выгружается
// консистентная копия базы без остановки записи.
package persist

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"litekit/internal/platform/sqlite"
	"litekit/pkg/retry"
)

// Options содержит настройки Persister'а.
type Options struct {
	// Name - имя снапшота в хранилище (по умолчанию "snapshot.db")
	Name string
	// Debounce - окно тишины после коммита перед выгрузкой (по умолчанию 1s)
	Debounce time.Duration
	// CronSpec - необязательное cron-расписание принудительных выгрузок
	CronSpec string
	// Retry - настройки повторов записи в хранилище.
	// Повторяется только IO хранилища, транзакции БД не ретраятся.
	Retry retry.Config
	// Logger - логгер (по умолчанию slog.Default())
	Logger *slog.Logger
}

// Persister выгружает снапшоты базы после коммитов и по расписанию.
type Persister struct {
	db      *sqlite.DB
	storage Storage
	opts    Options
	log     *slog.Logger

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool

	cron *cron.Cron
	wg   sync.WaitGroup
}

// New создает Persister для указанной базы и хранилища.
func New(db *sqlite.DB, storage Storage, opts Options) *Persister {
	if opts.Name == "" {
		opts.Name = "snapshot.db"
	}
	if opts.Debounce <= 0 {
		opts.Debounce = time.Second
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.DefaultConfig()
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Persister{
		db:      db,
		storage: storage,
		opts:    opts,
		log:     log.With(slog.String("component", "persist")),
	}
}

// Start подписывает Persister на коммиты и запускает cron-расписание
// если оно задано.
func (p *Persister) Start() error {
	p.db.OnCommit(p.schedule)

	if p.opts.CronSpec != "" {
		c := cron.New(cron.WithLogger(cronLogger{logger: p.log}))
		_, err := c.AddFunc(p.opts.CronSpec, func() {
			if err := p.Flush(context.Background()); err != nil {
				p.log.Error("scheduled snapshot failed", slog.Any("error", err))
			}
		})
		if err != nil {
			return fmt.Errorf("invalid cron spec %q: %w", p.opts.CronSpec, err)
		}
		c.Start()
		p.cron = c
	}

	p.log.Info("persister started",
		slog.Duration("debounce", p.opts.Debounce),
		slog.String("cron", p.opts.CronSpec))
	return nil
}

// Stop останавливает таймеры и выполняет финальную выгрузку.
func (p *Persister) Stop(ctx context.Context) error {
	p.mu.Lock()
	p.stopped = true
	hadPending := p.timer != nil && p.timer.Stop()
	p.timer = nil
	p.mu.Unlock()

	if p.cron != nil {
		<-p.cron.Stop().Done()
	}
	p.wg.Wait()

	// Незавершённый debounce выгружаем синхронно, чтобы не потерять коммиты
	if hadPending {
		return p.Flush(ctx)
	}
	return nil
}

// Flush немедленно снимает снапшот и сохраняет его в хранилище
// с повторами на сбоях IO.
func (p *Persister) Flush(ctx context.Context) error {
	data, err := p.snapshot(ctx)
	if err != nil {
		return err
	}

	err = retry.Do(ctx, p.opts.Retry, func(ctx context.Context) error {
		return p.storage.Store(ctx, p.opts.Name, data)
	})
	if err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}

	p.log.Debug("snapshot stored",
		slog.String("name", p.opts.Name),
		slog.Int("bytes", len(data)))
	return nil
}

// schedule вызывается из commit hook'а координатора. Должен быть быстрым:
// только взводит или сдвигает debounce-таймер.
func (p *Persister) schedule() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return
	}
	if p.timer != nil {
		p.timer.Reset(p.opts.Debounce)
		return
	}
	p.timer = time.AfterFunc(p.opts.Debounce, p.flushAsync)
}

func (p *Persister) flushAsync() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.timer = nil
	p.wg.Add(1)
	p.mu.Unlock()

	defer p.wg.Done()
	if err := p.Flush(context.Background()); err != nil {
		p.log.Error("debounced snapshot failed", slog.Any("error", err))
	}
}

// snapshot снимает консистентную копию базы через VACUUM INTO
// и возвращает её содержимое.
func (p *Persister) snapshot(ctx context.Context) ([]byte, error) {
	// VACUUM INTO требует несуществующий целевой файл
	tmp := filepath.Join(os.TempDir(), fmt.Sprintf("litekit-snap-%d.db", time.Now().UnixNano()))
	defer os.Remove(tmp)

	escaped := strings.ReplaceAll(tmp, "'", "''")
	if _, err := p.db.Exec(ctx, "VACUUM INTO '"+escaped+"'"); err != nil {
		return nil, fmt.Errorf("vacuum into: %w", err)
	}

	data, err := os.ReadFile(tmp)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return data, nil
}

// cronLogger адаптер для интеграции cron logger с slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.LogAttrs(context.Background(), slog.LevelDebug, msg, cronAttrs(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	attrs := append([]slog.Attr{slog.Any("error", err)}, cronAttrs(keysAndValues)...)
	l.logger.LogAttrs(context.Background(), slog.LevelError, msg, attrs...)
}

func cronAttrs(keysAndValues []interface{}) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		attrs = append(attrs, slog.Any(key, keysAndValues[i+1]))
	}
	return attrs
}
