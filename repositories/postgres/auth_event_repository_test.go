package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/windfire/security-auth/models"
)

func newMockRepo(t *testing.T) (*AuthEventRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := NewAuthEventRepository(Wrap(db, nil), nil).(*AuthEventRepository)
	return repo, mock
}

func TestAuthEventRepository_InitSchema(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS auth_events").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.InitSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuthEventRepository_Insert(t *testing.T) {
	t.Run("stores every column", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		event := models.NewAuthEvent(models.AuthActionPasswordGrant, "calendar-srv").
			WithSubject("alice").
			WithRequest("req-1")

		mock.ExpectExec("INSERT INTO auth_events").
			WithArgs(event.ID, event.Action, "calendar-srv", "alice", models.AuthOutcomeSuccess, "", "req-1", event.Timestamp).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.Insert(context.Background(), event))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("wraps driver errors", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec("INSERT INTO auth_events").WillReturnError(errors.New("connection reset"))

		err := repo.Insert(context.Background(), models.NewAuthEvent(models.AuthActionLogout, "calendar-srv"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to insert auth event")
	})
}

func TestAuthEventRepository_ListRecent(t *testing.T) {
	columns := []string{"id", "action", "service", "subject", "outcome", "reason", "request_id", "timestamp"}

	t.Run("filters by service", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		id := uuid.New()
		ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

		mock.ExpectQuery("SELECT (.+) FROM auth_events").
			WithArgs("calendar-srv", 10).
			WillReturnRows(sqlmock.NewRows(columns).
				AddRow(id.String(), "verify_local", "calendar-srv", "alice", "failure", "token_expired", "req-9", ts))

		events, err := repo.ListRecent(context.Background(), "calendar-srv", 10)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, id, events[0].ID)
		assert.Equal(t, models.AuthActionVerifyLocal, events[0].Action)
		assert.Equal(t, models.AuthOutcomeFailure, events[0].Outcome)
		assert.Equal(t, "token_expired", events[0].Reason)
		assert.Equal(t, ts, events[0].Timestamp)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("clamps the limit", func(t *testing.T) {
		repo, mock := newMockRepo(t)

		mock.ExpectQuery("SELECT (.+) FROM auth_events").
			WithArgs("", defaultListLimit).
			WillReturnRows(sqlmock.NewRows(columns))
		mock.ExpectQuery("SELECT (.+) FROM auth_events").
			WithArgs("", maxListLimit).
			WillReturnRows(sqlmock.NewRows(columns))

		events, err := repo.ListRecent(context.Background(), "", 0)
		require.NoError(t, err)
		assert.Empty(t, events)

		_, err = repo.ListRecent(context.Background(), "", 10000)
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query failure", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectQuery("SELECT (.+) FROM auth_events").WillReturnError(errors.New("timeout"))

		_, err := repo.ListRecent(context.Background(), "", 5)
		assert.Error(t, err)
	})
}

func TestDB_HealthCheck(t *testing.T) {
	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer sqlDB.Close()
	db := Wrap(sqlDB, nil)

	t.Run("healthy", func(t *testing.T) {
		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

		assert.NoError(t, db.HealthCheck(context.Background()))
	})

	t.Run("ping fails", func(t *testing.T) {
		mock.ExpectPing().WillReturnError(errors.New("down"))

		err := db.HealthCheck(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database health check failed")
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
