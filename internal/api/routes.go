// Package api exposes publishing, sync and ad escalation over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"amplify/internal/ads"
	"amplify/internal/engagement"
	"amplify/internal/logging"
	"amplify/internal/model"
	"amplify/internal/resilience"
	"amplify/internal/scheduler"
	"amplify/internal/store/sqlitestore"
)

// Publisher is the scheduler surface used by the handlers.
type Publisher interface {
	Schedule(ctx context.Context, postID, ownerID string, platforms []string, dueAt time.Time) (scheduler.Scheduled, error)
	PublishNow(ctx context.Context, postID, ownerID string, platforms []string) (string, error)
	QueueStats(ctx context.Context) (sqlitestore.QueueStats, error)
	JobStatus(ctx context.Context, id string) (scheduler.JobStatus, error)
}

// Syncer refreshes engagement for one post.
type Syncer interface {
	SyncPost(ctx context.Context, postID string) (engagement.SyncResult, error)
}

// Advertiser is the ads engine surface used by the handlers.
type Advertiser interface {
	AnalyzePost(ctx context.Context, postID string) (ads.Decision, error)
	CreateCampaign(ctx context.Context, postID string, d ads.Decision) (model.CampaignRef, error)
	PostROI(ctx context.Context, postID string) (ads.ROIReport, error)
}

// Posts stores content units.
type Posts interface {
	SavePost(ctx context.Context, p model.Post) error
	GetPost(ctx context.Context, id string) (model.Post, error)
}

// Circuits reports breaker state.
type Circuits interface {
	Snapshots() []resilience.CircuitState
}

type Handler struct {
	Posts     Posts
	Publisher Publisher
	Syncer    Syncer
	Ads       Advertiser
	Breakers  Circuits
}

// SetupRoutes registers the v1 API on r.
func SetupRoutes(r *gin.RouterGroup, h *Handler) {
	r.PUT("/posts/:id", h.SavePost)
	r.GET("/posts/:id", h.GetPost)
	r.POST("/publish", h.SchedulePublish)
	r.POST("/publish/now", h.PublishNow)
	r.GET("/queue/stats", h.QueueStats)
	r.GET("/jobs/:id", h.JobStatus)
	r.POST("/posts/:id/sync", h.SyncMetrics)
	r.GET("/posts/:id/ads/analysis", h.AnalyzeForAds)
	r.POST("/posts/:id/ads/campaign", h.CreateAdCampaign)
	r.GET("/posts/:id/roi", h.ROI)
	r.GET("/breakers", h.Circuits)
	logging.Info("api_routes_registered", map[string]any{"prefix": r.BasePath()})
}

// NewRouter builds the engine with the v1 group and the health probe.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLog())
	SetupRoutes(r.Group("/v1"), h)
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return r
}

func requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.Debug("http_request", map[string]any{
			"method":      c.Request.Method,
			"path":        c.FullPath(),
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
	}
}
