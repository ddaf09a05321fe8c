// Package admin exposes the detection core's ops HTTP surface:
// /healthz for liveness, /metrics for Prometheus scraping,
// /debug/stations for a point-in-time view of what the Supervisor is
// running, and /ws/events for a live dashboard feed of the Notification
// Sink. Deliberately thin compared to a client-facing public API
// surface, but an ops dashboard served from its own origin still needs
// CORS, so the router carries the same cors/gzip stack as a
// client-facing one, scaled down to this surface's three plain routes.
package admin

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/sodav/monitor-core/internal/models"
	"github.com/sodav/monitor-core/internal/notify"
)

// Server is the admin HTTP surface. It holds no lifecycle state of its
// own beyond the *http.Server main.go wraps it in.
type Server struct {
	db       *gorm.DB
	log      *zap.Logger
	notifier *notify.Sink
}

// NewServer builds the admin surface. notifier may be nil, in which
// case /ws/events responds 503 rather than accepting a connection it
// can never feed.
func NewServer(db *gorm.DB, log *zap.Logger, notifier *notify.Sink) *Server {
	return &Server{db: db, log: log, notifier: notifier}
}

// Router builds the gin engine. Exported separately from an
// http.Server so cmd/server can attach it to a *http.Server with its
// own timeouts and so tests can exercise routes with httptest without
// binding a port.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{
		"/ws/events", // don't buffer a websocket upgrade behind gzip
		"/metrics",   // Prometheus text format, not worth compressing
	})))

	r.GET("/healthz", s.healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/debug/stations", s.debugStations)
	r.GET("/ws/events", s.wsEvents)

	return r
}

// corsMiddleware allows an ops dashboard served from its own origin to
// call this surface. ADMIN_ALLOWED_ORIGINS is a comma-separated list;
// unset falls back to localhost dev ports only, never a wildcard, since
// AllowCredentials is on.
func corsMiddleware() gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	if raw := os.Getenv("ADMIN_ALLOWED_ORIGINS"); raw != "" {
		origins := strings.Split(raw, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.AllowOrigins = origins
	} else {
		cfg.AllowOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	cfg.AllowMethods = []string{"GET", "OPTIONS"}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	cfg.AllowCredentials = true
	cfg.MaxAge = 24 * time.Hour
	return cors.New(cfg)
}

func (s *Server) healthz(c *gin.Context) {
	sqlDB, err := s.db.DB()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "error": err.Error()})
		return
	}
	if err := sqlDB.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
		"service":   "monitor-core",
	})
}

type stationDebugView struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Status          string     `json:"status"`
	FailureCount    int        `json:"failure_count"`
	LastCheckAt     *time.Time `json:"last_check_at,omitempty"`
	LastDetectionAt *time.Time `json:"last_detection_at,omitempty"`
}

// debugStations lists every station and its supervisor-owned health
// state, for operators diagnosing a stuck or flapping stream without
// going through the external reporting API.
func (s *Server) debugStations(c *gin.Context) {
	var stations []models.Station
	if err := s.db.WithContext(c.Request.Context()).Find(&stations).Error; err != nil {
		s.log.Error("debug/stations query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	views := make([]stationDebugView, 0, len(stations))
	for _, st := range stations {
		views = append(views, stationDebugView{
			ID:              st.ID.String(),
			Name:            st.Name,
			Status:          string(st.Status),
			FailureCount:    st.FailureCount,
			LastCheckAt:     st.LastCheckAt,
			LastDetectionAt: st.LastDetectionAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"stations": views})
}

// wsEvents upgrades to a websocket and streams DetectionFinalized,
// StationHealthChanged, and ErrorRaised events to a dashboard client
// until it disconnects or the subscription drops.
func (s *Server) wsEvents(c *gin.Context) {
	if s.notifier == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event stream not configured"})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "server closing")

	subID := uuid.New().String()
	events := s.notifier.Subscribe(subID)
	defer s.notifier.Unsubscribe(subID)

	forwarder := notify.NewWebSocketForwarder(conn, events, s.log)
	forwarder.Run(c.Request.Context())
	conn.Close(websocket.StatusNormalClosure, "")
}
