package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sertika/cbt-backend/internal/config"
	"github.com/sertika/cbt-backend/internal/monitor"
	"github.com/sertika/cbt-backend/internal/repository"
	"github.com/sertika/cbt-backend/internal/response"
	"github.com/sertika/cbt-backend/internal/service"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

// MonitorHandler serves the assessor's live dashboard: the snapshot
// endpoint, the SSE stream and submission timelines.
type MonitorHandler struct {
	rdb            *redis.Client
	monitorService *service.MonitorService
	log            zerolog.Logger
}

// NewMonitorHandler creates a new MonitorHandler.
func NewMonitorHandler(rdb *redis.Client, monitorService *service.MonitorService, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		rdb:            rdb,
		monitorService: monitorService,
		log:            log.With().Str("component", "monitor_handler").Logger(),
	}
}

// Dashboard godoc
// GET /api/v1/assessor/monitor?exam_id=<uuid|ALL>&date=YYYY-MM-DD
// Returns a materialized dashboard snapshot for the given criteria.
func (h *MonitorHandler) Dashboard(c *gin.Context) {
	snapshot, err := h.monitorService.Snapshot(c.Request.Context(), filterFromQuery(c))
	if err != nil {
		h.log.Error().Err(err).Msg("Dashboard snapshot error")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, snapshot)
}

// Timeline godoc
// GET /api/v1/assessor/submissions/:submission_id/timeline
// Returns one submission's full event history.
func (h *MonitorHandler) Timeline(c *gin.Context) {
	submissionID, err := uuid.Parse(c.Param("submission_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrValidation)
		return
	}

	events, err := h.monitorService.Timeline(c.Request.Context(), submissionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
			return
		}
		h.log.Error().Err(err).Msg("Timeline error")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, events)
}

// MonitorSSE godoc
// GET /api/v1/assessor/monitor/stream?exam_id=<uuid|ALL>&date=YYYY-MM-DD
// Streams live submission updates plus periodic full refreshes.
func (h *MonitorHandler) MonitorSSE(c *gin.Context) {
	criteria := filterFromQuery(c)
	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("Access-Control-Allow-Origin", "*")

	// Each SSE session gets its own monitor so criteria edits and refreshes
	// stay scoped to this viewer.
	mon := monitor.New(h.monitorService.Source())
	mon.SetExamID(criteria.ExamID)
	mon.SetDate(criteria.Date)

	h.sendView(c, reqCtx, mon, "snapshot")

	// Per-exam channels; ALL listens across every exam.
	pubsub := h.subscribe(reqCtx, criteria.ExamID)
	defer pubsub.Close()
	ch := pubsub.Channel()

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	refreshTicker := time.NewTicker(refreshInterval)
	defer refreshTicker.Stop()

	h.log.Info().Str("exam_id", criteria.ExamID).Msg("Assessor attached to monitor SSE")

	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("exam_id", criteria.ExamID).Msg("Assessor detached from monitor SSE")
			return

		case msg := <-ch:
			// Forward the published submission snapshot as-is.
			c.Writer.Write([]byte("data: "))
			c.Writer.Write([]byte(msg.Payload))
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()

		case <-refreshTicker.C:
			h.sendView(c, reqCtx, mon, "refresh")

		case <-keepAliveTicker.C:
			c.Writer.Write([]byte("data: "))
			c.Writer.Write(pingPayload)
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
		}
	}
}

func (h *MonitorHandler) subscribe(ctx context.Context, examID string) *redis.PubSub {
	if examID == monitor.FilterAllExams {
		return h.rdb.PSubscribe(ctx, config.CacheKey.ExamMonitorChannel("*"))
	}
	return h.rdb.Subscribe(ctx, config.CacheKey.ExamMonitorChannel(examID))
}

// sendView re-materializes the monitor view and writes it as one SSE event.
func (h *MonitorHandler) sendView(c *gin.Context, parentCtx context.Context, mon *monitor.Monitor, eventType string) {
	ctx, cancel := context.WithTimeout(parentCtx, refreshTimeout)
	defer cancel()

	view, stats, err := mon.Apply(ctx)
	if err != nil {
		h.log.Warn().Err(err).Msg("Monitor view refresh failed")
		return
	}

	c.SSEvent("message", gin.H{
		"type": eventType,
		"data": gin.H{
			"submissions": view,
			"stats":       stats,
		},
	})
	c.Writer.Flush()
}

func filterFromQuery(c *gin.Context) monitor.Filter {
	f := monitor.NewFilter()
	if examID := c.Query("exam_id"); examID != "" {
		f.ExamID = examID
	}
	f.Date = c.Query("date")
	return f
}
