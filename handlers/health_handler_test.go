package handlers

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/windfire/security-auth/registry"
	"github.com/windfire/security-auth/services/audit"
	"go.uber.org/zap"
)

type stubAuditStats struct {
	stats audit.Stats
}

func (s stubAuditStats) Stats() audit.Stats {
	return s.stats
}

var testRegistry = registry.NewStatic(registry.ServiceConfig{Name: "calendar-srv", Realm: "acme", ClientID: "calendar-client"})

func decodeReadiness(t *testing.T, w *httptest.ResponseRecorder) (string, map[string]interface{}) {
	t.Helper()
	var response map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))

	data := response["data"].(map[string]interface{})
	return data["status"].(string), data["checks"].(map[string]interface{})
}

func TestHandleHealth(t *testing.T) {
	handler := NewHealthHandler("Calendar Auth", testRegistry, nil, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/v1/monitor/health", nil)
	w := httptest.NewRecorder()

	handler.HandleHealth(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"Calendar Auth"}`, w.Body.String())
}

func TestHandleReadiness(t *testing.T) {
	logger := zap.NewNop()

	t.Run("ready when the audit database is available", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

		handler := NewHealthHandler("auth", testRegistry, db, nil, logger)

		w := httptest.NewRecorder()
		handler.HandleReadiness(w, httptest.NewRequest(http.MethodGet, "/v1/monitor/ready", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		status, checks := decodeReadiness(t, w)
		assert.Equal(t, "ready", status)
		assert.Equal(t, "healthy", checks["audit_database"])
		assert.Equal(t, "1 services", checks["registry"])

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not ready when the ping fails", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectPing().WillReturnError(sql.ErrConnDone)

		handler := NewHealthHandler("auth", testRegistry, db, nil, logger)

		w := httptest.NewRecorder()
		handler.HandleReadiness(w, httptest.NewRequest(http.MethodGet, "/v1/monitor/ready", nil))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		status, checks := decodeReadiness(t, w)
		assert.Equal(t, "not_ready", status)
		assert.Equal(t, "unhealthy", checks["audit_database"])

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not ready when the query fails", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnError(sql.ErrConnDone)

		handler := NewHealthHandler("auth", testRegistry, db, nil, logger)

		w := httptest.NewRecorder()
		handler.HandleReadiness(w, httptest.NewRequest(http.MethodGet, "/v1/monitor/ready", nil))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		_, checks := decodeReadiness(t, w)
		assert.Equal(t, "unhealthy", checks["audit_database"])

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ready without an audit database", func(t *testing.T) {
		handler := NewHealthHandler("auth", testRegistry, nil, nil, logger)

		w := httptest.NewRecorder()
		handler.HandleReadiness(w, httptest.NewRequest(http.MethodGet, "/v1/monitor/ready", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		status, checks := decodeReadiness(t, w)
		assert.Equal(t, "ready", status)
		assert.Equal(t, "disabled", checks["audit_database"])
		assert.NotContains(t, w.Body.String(), `"audit"`)
	})

	t.Run("reports recorder and pool statistics", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()
		db.SetMaxOpenConns(7)

		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

		recorder := stubAuditStats{stats: audit.Stats{Enabled: true, Started: true, BufferSize: 1000, WorkerCount: 2, PendingEvents: 3, DroppedEvents: 4}}
		handler := NewHealthHandler("auth", testRegistry, db, recorder, logger)

		w := httptest.NewRecorder()
		handler.HandleReadiness(w, httptest.NewRequest(http.MethodGet, "/v1/monitor/ready", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var response struct {
			Data ReadinessResponse `json:"data"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		require.NotNil(t, response.Data.Audit)
		assert.Equal(t, recorder.stats, response.Data.Audit.Recorder)
		require.NotNil(t, response.Data.Audit.Pool)
		assert.Equal(t, 7, response.Data.Audit.Pool.MaxOpenConnections)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not ready without services", func(t *testing.T) {
		handler := NewHealthHandler("auth", registry.NewStatic(), nil, nil, logger)

		w := httptest.NewRecorder()
		handler.HandleReadiness(w, httptest.NewRequest(http.MethodGet, "/v1/monitor/ready", nil))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		_, checks := decodeReadiness(t, w)
		assert.Equal(t, "no services configured", checks["registry"])
	})
}
