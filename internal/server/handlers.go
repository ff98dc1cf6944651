package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"defitrack/internal/config"
	"defitrack/internal/persistence"
	"defitrack/internal/queue"
)

// SyncHandler serves the sync trigger and status endpoints. Triggering is
// rate-limited per wallet and deduplicated over a short window, which is
// the cooperative guard against enqueuing a second sync while one is
// already running.
type SyncHandler struct {
	queues *queue.Manager
	jobs   *persistence.JobStatusStore
	logger zerolog.Logger

	ratePerMin float64
	burst      int
	dedup      *gocache.Cache
	limiters   *gocache.Cache
}

// limiterTTL bounds the per-wallet limiter cache. An expired entry just
// means a long-quiet wallet starts over with a fresh burst.
const limiterTTL = 15 * time.Minute

func NewSyncHandler(cfg config.SyncConfig, queues *queue.Manager, jobs *persistence.JobStatusStore, logger zerolog.Logger) *SyncHandler {
	dedupTTL := time.Duration(cfg.DedupTTLSeconds) * time.Second
	return &SyncHandler{
		queues:     queues,
		jobs:       jobs,
		logger:     logger,
		ratePerMin: cfg.TriggerRatePerMin,
		burst:      cfg.TriggerBurst,
		dedup:      gocache.New(dedupTTL, 2*dedupTTL),
		limiters:   gocache.New(limiterTTL, 2*limiterTTL),
	}
}

type triggerRequest struct {
	Address   string   `json:"address" binding:"required"`
	FullSync  bool     `json:"fullSync"`
	SyncTypes []string `json:"syncTypes"`
}

type triggerResponse struct {
	JobID    string `json:"jobId,omitempty"`
	Queued   bool   `json:"queued"`
	Degraded bool   `json:"degraded,omitempty"`
}

// TriggerSync enqueues a wallet sync. Responses: 202 queued, 202 degraded
// (broker down, nothing enqueued), 409 duplicate, 429 rate-limited.
func (h *SyncHandler) TriggerSync(c *gin.Context) {
	walletParam := c.Param("walletId")
	walletID, err := uuid.Parse(walletParam)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid wallet id"})
		return
	}
	userID := c.GetHeader("X-User-ID")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing X-User-ID header"})
		return
	}

	var req triggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	if !h.limiterFor(walletParam).Allow() {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "sync rate limit exceeded for this wallet"})
		return
	}
	if _, dup := h.dedup.Get(walletParam); dup {
		c.JSON(http.StatusConflict, gin.H{"error": "a sync for this wallet was triggered moments ago"})
		return
	}

	jobType := queue.JobSyncWallet
	if req.FullSync {
		jobType = queue.JobFullSync
	}

	handle, err := h.queues.AddJob(c.Request.Context(), jobType, map[string]interface{}{
		"userId":    userID,
		"walletId":  walletID.String(),
		"address":   req.Address,
		"fullSync":  req.FullSync,
		"syncTypes": req.SyncTypes,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue failed"})
		return
	}
	if handle == nil {
		// Broker down: queueing is best-effort, tell the client honestly.
		c.JSON(http.StatusAccepted, triggerResponse{Queued: false, Degraded: true})
		return
	}

	h.dedup.SetDefault(walletParam, struct{}{})
	if h.jobs != nil {
		if err := h.jobs.MarkWaiting(c.Request.Context(), handle.ID, walletID, userID, jobType); err != nil {
			h.logger.Warn().Err(err).Str("job_id", handle.ID).Msg("job status write failed")
		}
	}
	c.JSON(http.StatusAccepted, triggerResponse{JobID: handle.ID, Queued: true})
}

// BatchStatus returns the latest job per requested wallet. This is the
// authoritative fallback clients poll when the live stream was silent.
func (h *SyncHandler) BatchStatus(c *gin.Context) {
	raw := c.Query("walletIds")
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "walletIds query parameter is required"})
		return
	}

	var ids []uuid.UUID
	for _, part := range strings.Split(raw, ",") {
		id, err := uuid.Parse(strings.TrimSpace(part))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid wallet id: " + part})
			return
		}
		ids = append(ids, id)
	}

	statuses, err := h.jobs.ListByWallets(c.Request.Context(), ids)
	if err != nil {
		h.logger.Error().Err(err).Msg("batch status query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status lookup failed"})
		return
	}
	if statuses == nil {
		statuses = []*persistence.JobStatus{}
	}
	c.JSON(http.StatusOK, gin.H{"jobs": statuses})
}

// QueueHealth exposes the advisory per-queue health report.
func (h *SyncHandler) QueueHealth(c *gin.Context) {
	report := h.queues.QueueHealthReport(c.Request.Context())
	status := http.StatusOK
	for _, q := range report {
		if !q.Healthy {
			status = http.StatusServiceUnavailable
			break
		}
	}
	c.JSON(status, gin.H{"queues": report})
}

func (h *SyncHandler) limiterFor(walletID string) *rate.Limiter {
	if v, ok := h.limiters.Get(walletID); ok {
		return v.(*rate.Limiter)
	}
	l := rate.NewLimiter(rate.Limit(h.ratePerMin/60), h.burst)
	// Add loses to a concurrent writer; re-read so both callers share
	// whichever limiter landed.
	_ = h.limiters.Add(walletID, l, gocache.DefaultExpiration)
	if v, ok := h.limiters.Get(walletID); ok {
		return v.(*rate.Limiter)
	}
	return l
}
