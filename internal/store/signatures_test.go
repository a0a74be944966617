package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/solindexer/core/internal/ingesterr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignatureStore_GetReturnsErrNoCursorWhenMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT signature, last_slot FROM last_signatures").
		WithArgs("poolA", "raydium").
		WillReturnError(sql.ErrNoRows)

	s := NewSignatureStore(db)
	_, _, err = s.Get(context.Background(), "raydium", "poolA")
	assert.ErrorIs(t, err, ingesterr.ErrNoCursor)
}

func TestSignatureStore_GetReturnsStoredCursor(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"signature", "last_slot"}).AddRow("sig1", int64(42))
	mock.ExpectQuery("SELECT signature, last_slot FROM last_signatures").
		WithArgs("poolA", "raydium").
		WillReturnRows(rows)

	s := NewSignatureStore(db)
	sig, slot, err := s.Get(context.Background(), "raydium", "poolA")
	require.NoError(t, err)
	assert.Equal(t, "sig1", sig)
	assert.Equal(t, uint64(42), slot)
}

func TestSignatureStore_SetUpserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO last_signatures").
		WithArgs("poolA", "raydium", "sig1", int64(10)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	s := NewSignatureStore(db)
	err = s.Set(context.Background(), "raydium", "poolA", "sig1", 10)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
