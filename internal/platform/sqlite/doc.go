// Package sqlite предоставляет слой доступа к встроенному движку SQLite:
// координатор транзакций поверх единственного соединения, вложенные
// транзакции через savepoint'ы и движок версионных миграций.
//
// Движок не реентерабелен и выполняет один statement за раз, поэтому
// несвязанные транзакции сериализуются через FIFO очередь в порядке вызова,
// а вызовы изнутри уже выполняющегося callback'а вкладываются через
// savepoint'ы с именами sp_1, sp_2, ... (счётчик монотонный в пределах
// одной верхнеуровневой транзакции).
//
// # Быстрый старт
//
//	ctx := context.Background()
//	db, err := sqlite.Open(ctx, "app.db")
//	if err != nil {
//		return err
//	}
//	defer db.Close()
//
// # Транзакции
//
// Верхнеуровневая транзакция (BEGIN ... COMMIT/ROLLBACK):
//
//	err = db.WithinTx(ctx, func(ctx context.Context) error {
//		_, err := db.Exec(ctx, "INSERT INTO users (name) VALUES (?)", "John")
//		return err
//	})
//
// Вложенная транзакция (SAVEPOINT ... RELEASE/ROLLBACK TO): тот же WithinTx,
// вызванный с контекстом активного callback'а. Ошибка вложенного уровня
// откатывает только его:
//
//	err = db.WithinTx(ctx, func(outerCtx context.Context) error {
//		if err := db.WithinTx(outerCtx, func(innerCtx context.Context) error {
//			// операции в savepoint - могут быть отменены независимо
//			return doRiskyPart(innerCtx)
//		}); err != nil {
//			// внешняя транзакция продолжает работать
//		}
//		return nil
//	})
//
// Внутри callback'а все запросы должны идти через транзакционный контекст
// (db.Exec/db.Query/db.Querier с ctx транзакции) - запрос с посторонним
// контекстом будет ждать освобождения единственного соединения.
//
// # Миграции
//
//	applied, err := db.Migrate(ctx, []sqlite.Migration{
//		{Version: 1, Up: "CREATE TABLE users (id INTEGER PRIMARY KEY)", Down: "DROP TABLE users"},
//	})
//
// Каждая миграция выполняется в отдельной транзакции вместе с записью в
// таблицу учёта _migrations: схема и учёт не могут разойтись.
// Откат до версии: db.RollbackTo(ctx, 0, migrations).
//
// # Тестирование
//
//	func TestSomething(t *testing.T) {
//		tdb := sqlite.NewTestDBInMemory(t)
//		// tdb.DB доступна, автоматическая очистка после теста
//	}
package sqlite
