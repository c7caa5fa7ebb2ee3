package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFOOrdering(t *testing.T) {
	tdb := NewTestDBInMemory(t)
	ctx := context.Background()

	// События пишутся только goroutine'ой очереди, синхронизация не нужна
	var events []string

	// Две транзакции отправлены без ожидания первой: вторая обязана
	// начаться строго после полного завершения первой, в порядке вызова
	res1 := tdb.Submit(ctx, func(ctx context.Context) error {
		events = append(events, "start1")
		time.Sleep(20 * time.Millisecond)
		events = append(events, "end1")
		return nil
	})
	res2 := tdb.Submit(ctx, func(ctx context.Context) error {
		events = append(events, "start2")
		return nil
	})

	require.NoError(t, <-res1)
	require.NoError(t, <-res2)

	assert.Equal(t, []string{"start1", "end1", "start2"}, events)
}

func TestQueue_FailureDoesNotBlockLaterEntries(t *testing.T) {
	tdb := NewTestDBInMemory(t)
	ctx := context.Background()

	tdb.MustExec(t, "CREATE TABLE test (id INTEGER PRIMARY KEY)")

	boom := errors.New("boom")

	res1 := tdb.Submit(ctx, func(ctx context.Context) error {
		return boom
	})
	res2 := tdb.Submit(ctx, func(ctx context.Context) error {
		_, err := tdb.Exec(ctx, "INSERT INTO test DEFAULT VALUES")
		return err
	})

	// Успех/неуспех каждой записи независим
	assert.ErrorIs(t, <-res1, boom)
	require.NoError(t, <-res2)
	assert.EqualValues(t, 1, tdb.CountRows(t, "test"))
}

func TestQueue_CanceledBeforeBegin(t *testing.T) {
	tdb := NewTestDBInMemory(t)

	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	// Отменённый до допуска контекст не открывает транзакцию
	err := tdb.WithinTx(canceled, func(ctx context.Context) error {
		t.Fatal("callback must not run")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, tdb.InTransaction())
}

func TestQueue_SubmitAfterClose(t *testing.T) {
	ctx := context.Background()
	db, err := OpenInMemory(ctx)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	err = db.WithinTx(ctx, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)

	// Повторное закрытие безопасно
	assert.NoError(t, db.Close())
}

func TestQueue_OnCommitHook(t *testing.T) {
	tdb := NewTestDBInMemory(t)
	ctx := context.Background()

	tdb.MustExec(t, "CREATE TABLE test (id INTEGER PRIMARY KEY)")

	var commits int
	tdb.OnCommit(func() { commits++ })

	require.NoError(t, tdb.WithinTx(ctx, func(ctx context.Context) error {
		_, err := tdb.Exec(ctx, "INSERT INTO test DEFAULT VALUES")
		return err
	}))
	require.NoError(t, tdb.WithinTx(ctx, func(ctx context.Context) error { return nil }))

	// Hook не вызывается при откате
	boom := errors.New("boom")
	err := tdb.WithinTx(ctx, func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, 2, commits)
}
