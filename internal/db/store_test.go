package db

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })
	return NewStoreWithDB(sqlx.NewDb(raw, "postgres"), zap.NewNop()), mock
}

func TestSaveRun(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO research_runs").
		WithArgs("run-1", "ghgi_data", "Kenya", "energy", 2, "accept",
			sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.SaveRun(context.Background(), RunRow{
		RunID:         "run-1",
		Mode:          "ghgi_data",
		Geography:     "Kenya",
		Sector:        "energy",
		Iterations:    2,
		FinalDecision: "accept",
		Artifact:      json.RawMessage(`{"structured_data":[]}`),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRunPropagatesError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO research_runs").
		WillReturnError(assert.AnError)

	err := store.SaveRun(context.Background(), RunRow{RunID: "run-2"})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
