package admin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/sodav/monitor-core/internal/models"
	"github.com/sodav/monitor-core/internal/notify"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.Exec(`
		CREATE TABLE stations (
			id TEXT PRIMARY KEY, name TEXT NOT NULL, stream_url TEXT NOT NULL UNIQUE,
			status TEXT NOT NULL DEFAULT 'active', failure_count INTEGER DEFAULT 0,
			last_check_at DATETIME, last_detection_at DATETIME, total_play_time_s REAL DEFAULT 0,
			created_at DATETIME, updated_at DATETIME, deleted_at DATETIME
		)
	`).Error)
	return db
}

func TestHealthzReturnsOKWhenDBReachable(t *testing.T) {
	srv := NewServer(newTestDB(t), zap.NewNop(), nil)
	router := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestDebugStationsListsSeededStations(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Exec(
		`INSERT INTO stations (id, name, stream_url, status) VALUES (?, ?, ?, ?)`,
		"11111111-1111-1111-1111-111111111111", "Test FM", "http://example.com/s", "active",
	).Error)

	srv := NewServer(db, zap.NewNop(), nil)
	router := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/debug/stations", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Test FM")
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	srv := NewServer(newTestDB(t), zap.NewNop(), nil)
	router := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWSEventsReturns503WithoutNotifier(t *testing.T) {
	srv := NewServer(newTestDB(t), zap.NewNop(), nil)
	router := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/ws/events", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestWSEventsUpgradesAndForwardsEvents(t *testing.T) {
	sink := notify.NewSink(8, zap.NewNop())
	srv := NewServer(newTestDB(t), zap.NewNop(), sink)

	httpSrv := httptest.NewServer(srv.Router())
	defer httpSrv.Close()

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws/events"
	conn, _, err := websocket.Dial(context.Background(), wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	stationID := uuid.New()
	sink.PublishStationHealthChanged(stationID, models.StationInactive, 750*time.Millisecond)

	readCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(readCtx)
	require.NoError(t, err)
	assert.Contains(t, string(data), "station_health_changed")
	assert.Contains(t, string(data), stationID.String())
}
