package persistence

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunInTx(t *testing.T) {
	t.Run("commits when fn succeeds", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBeginTx(recordTxOptions)
		mock.ExpectExec("UPDATE vcs_order_records").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectCommit()

		err = runInTx(context.Background(), mock, func(tx pgx.Tx) error {
			_, err := tx.Exec(context.Background(), "UPDATE vcs_order_records SET note = $1", "x")
			return err
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back when fn fails", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBeginTx(recordTxOptions)
		mock.ExpectRollback()

		cause := errors.New("version moved")
		err = runInTx(context.Background(), mock, func(pgx.Tx) error { return cause })
		assert.ErrorIs(t, err, cause)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("reports a failed rollback alongside the cause", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBeginTx(recordTxOptions)
		mock.ExpectRollback().WillReturnError(errors.New("connection reset"))

		cause := errors.New("version moved")
		err = runInTx(context.Background(), mock, func(pgx.Tx) error { return cause })
		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "connection reset")
	})

	t.Run("rolls back and re-panics", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBeginTx(recordTxOptions)
		mock.ExpectRollback()

		assert.PanicsWithValue(t, "boom", func() {
			_ = runInTx(context.Background(), mock, func(pgx.Tx) error { panic("boom") })
		})
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("begin failure", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBeginTx(recordTxOptions).WillReturnError(errors.New("too many clients"))

		called := false
		err = runInTx(context.Background(), mock, func(pgx.Tx) error { called = true; return nil })
		assert.ErrorContains(t, err, "failed to begin transaction")
		assert.False(t, called)
	})
}

func TestPostgresDB_ImplementsTxRunner(t *testing.T) {
	var runner TxRunner = &PostgresDB{}
	assert.NotNil(t, runner)
}
