package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithinTx_Success(t *testing.T) {
	tdb := NewTestDBInMemory(t)
	ctx := context.Background()

	tdb.MustExec(t, "CREATE TABLE test (id INTEGER PRIMARY KEY, value TEXT)")

	// Выполняем операцию в транзакции
	err := tdb.WithinTx(ctx, func(ctx context.Context) error {
		// Проверяем что транзакция доступна в контексте
		assert.True(t, tdb.InTx(ctx))
		assert.True(t, tdb.InTransaction())

		_, err := tdb.Exec(ctx, "INSERT INTO test (value) VALUES (?)", "test_value")
		return err
	})
	require.NoError(t, err)

	// Проверяем что данные действительно сохранились (транзакция закоммичена)
	assert.EqualValues(t, 1, tdb.CountRows(t, "test"))
	assert.False(t, tdb.InTransaction())
}

func TestWithinTx_Rollback(t *testing.T) {
	tdb := NewTestDBInMemory(t)
	ctx := context.Background()

	tdb.MustExec(t, "CREATE TABLE test (id INTEGER PRIMARY KEY, value TEXT)")

	testError := errors.New("test error")

	// Выполняем операцию в транзакции, которая должна провалиться
	err := tdb.WithinTx(ctx, func(ctx context.Context) error {
		_, err := tdb.Exec(ctx, "INSERT INTO test (value) VALUES (?)", "test_value")
		if err != nil {
			return err
		}
		// Возвращаем ошибку для отката
		return testError
	})

	// Вызывающий видит исходную ошибку
	assert.ErrorIs(t, err, testError)

	// Проверяем что данные НЕ сохранились (транзакция откачена)
	assert.EqualValues(t, 0, tdb.CountRows(t, "test"))
	assert.False(t, tdb.InTransaction())
}

func TestWithinTx_NestedRollbackKeepsOuter(t *testing.T) {
	tdb := NewTestDBInMemory(t)
	ctx := context.Background()

	tdb.MustExec(t, "CREATE TABLE items (name TEXT)")

	innerErr := errors.New("inner failed")

	// Внешняя вставляет A; вложенная вставляет B и падает; внешняя
	// перехватывает ошибку, вставляет C и коммитится
	err := tdb.WithinTx(ctx, func(outerCtx context.Context) error {
		if _, err := tdb.Exec(outerCtx, "INSERT INTO items (name) VALUES ('A')"); err != nil {
			return err
		}

		err := tdb.WithinTx(outerCtx, func(innerCtx context.Context) error {
			if _, err := tdb.Exec(innerCtx, "INSERT INTO items (name) VALUES ('B')"); err != nil {
				return err
			}
			return innerErr
		})
		// Ошибка вложенного уровня видна только непосредственному вызывающему
		assert.ErrorIs(t, err, innerErr)
		// Внешняя транзакция не затронута
		assert.True(t, tdb.InTransaction())

		_, err = tdb.Exec(outerCtx, "INSERT INTO items (name) VALUES ('C')")
		return err
	})
	require.NoError(t, err)

	// Итоговая таблица = {A, C}
	rows, err := tdb.Table("items").Select(ctx, "")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "A", rows[0]["name"])
	assert.Equal(t, "C", rows[1]["name"])
}

func TestWithinTx_NestedErrorPropagatesThroughOuter(t *testing.T) {
	tdb := NewTestDBInMemory(t)
	ctx := context.Background()

	tdb.MustExec(t, "CREATE TABLE items (name TEXT)")

	innerErr := errors.New("inner failed")

	// Внешний callback не перехватывает ошибку вложенного - откатывается всё
	err := tdb.WithinTx(ctx, func(outerCtx context.Context) error {
		if _, err := tdb.Exec(outerCtx, "INSERT INTO items (name) VALUES ('A')"); err != nil {
			return err
		}
		return tdb.WithinTx(outerCtx, func(innerCtx context.Context) error {
			return innerErr
		})
	})
	assert.ErrorIs(t, err, innerErr)
	assert.EqualValues(t, 0, tdb.CountRows(t, "items"))
}

func TestWithinTx_SavepointNaming(t *testing.T) {
	tdb := NewTestDBInMemory(t)
	ctx := context.Background()

	err := tdb.WithinTx(ctx, func(outerCtx context.Context) error {
		st, ok := txStateFrom(outerCtx)
		require.True(t, ok)

		// Верхний уровень: BEGIN без savepoint'а
		assert.Equal(t, 1, st.depth)
		assert.Empty(t, st.spStack)

		err := tdb.WithinTx(outerCtx, func(inner1 context.Context) error {
			assert.Equal(t, 2, st.depth)
			assert.Equal(t, []string{"sp_1"}, st.spStack)

			return tdb.WithinTx(inner1, func(inner2 context.Context) error {
				assert.Equal(t, 3, st.depth)
				assert.Equal(t, []string{"sp_1", "sp_2"}, st.spStack)
				return nil
			})
		})
		require.NoError(t, err)

		// Счётчик монотонный в пределах внешней транзакции: после
		// release новый savepoint получает следующий номер
		err = tdb.WithinTx(outerCtx, func(inner context.Context) error {
			assert.Equal(t, []string{"sp_3"}, st.spStack)
			return nil
		})
		require.NoError(t, err)

		assert.Equal(t, 1, st.depth)
		assert.Empty(t, st.spStack)
		return nil
	})
	require.NoError(t, err)

	// Новая верхнеуровневая транзакция начинает счёт заново
	err = tdb.WithinTx(ctx, func(outerCtx context.Context) error {
		return tdb.WithinTx(outerCtx, func(inner context.Context) error {
			st, _ := txStateFrom(inner)
			assert.Equal(t, []string{"sp_1"}, st.spStack)
			return nil
		})
	})
	require.NoError(t, err)
}

func TestWithinTx_OtherInstanceIsTopLevel(t *testing.T) {
	tdb1 := NewTestDBInMemory(t)
	tdb2 := NewTestDBInMemory(t)
	ctx := context.Background()

	tdb2.MustExec(t, "CREATE TABLE other (id INTEGER PRIMARY KEY)")

	// Контекст транзакции одной БД не делает вызов вложенным для другой
	err := tdb1.WithinTx(ctx, func(outerCtx context.Context) error {
		return tdb2.WithinTx(outerCtx, func(innerCtx context.Context) error {
			st, ok := txStateFrom(innerCtx)
			require.True(t, ok)
			assert.Same(t, tdb2.DB, st.db)
			assert.Equal(t, 1, st.depth) // BEGIN, а не SAVEPOINT

			_, err := tdb2.Exec(innerCtx, "INSERT INTO other DEFAULT VALUES")
			return err
		})
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, tdb2.CountRows(t, "other"))
}

func TestWithinTxValue(t *testing.T) {
	tdb := NewTestDBInMemory(t)
	ctx := context.Background()

	tdb.MustExec(t, "CREATE TABLE test (id INTEGER PRIMARY KEY, value TEXT)")

	id, err := WithinTxValue(ctx, tdb.DB, func(ctx context.Context) (int64, error) {
		return tdb.Table("test").Insert(ctx, map[string]any{"value": "v"})
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, id)

	// Ошибка callback'а откатывает транзакцию и возвращает нулевое значение
	boom := errors.New("boom")
	id, err = WithinTxValue(ctx, tdb.DB, func(ctx context.Context) (int64, error) {
		if _, err := tdb.Table("test").Insert(ctx, map[string]any{"value": "lost"}); err != nil {
			return 0, err
		}
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, id)
	assert.EqualValues(t, 1, tdb.CountRows(t, "test"))
}

func TestInTransaction_FalseAfterRollback(t *testing.T) {
	tdb := NewTestDBInMemory(t)
	ctx := context.Background()

	assert.False(t, tdb.InTransaction())

	boom := errors.New("boom")
	err := tdb.WithinTx(ctx, func(ctx context.Context) error {
		assert.True(t, tdb.InTransaction())
		return boom
	})
	assert.ErrorIs(t, err, boom)

	// Строго после завершения внешней транзакции, включая откат
	assert.False(t, tdb.InTransaction())
}

func TestQuerier_OutsideTx(t *testing.T) {
	tdb := NewTestDBInMemory(t)
	ctx := context.Background()

	// Вне транзакции Querier возвращает основное подключение
	assert.Equal(t, Querier(tdb.sql), tdb.Querier(ctx))
	assert.False(t, tdb.InTx(ctx))
}
