package httpapi

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"chamada/internal/calls"
	"chamada/internal/dispatch"
	"chamada/internal/reporting"
	"chamada/pkg/logger"
)

// CallStarter creates the room and dispatch for a validated request.
type CallStarter interface {
	StartCall(ctx context.Context, req calls.CallRequest) (dispatch.Result, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Validator *calls.Validator
	Calls     CallStarter
	Reports   *reporting.Service
}

type startCallResponse struct {
	Message  string `json:"message"`
	RoomName string `json:"room_name"`
	JobID    string `json:"job_id"`
}

// StartCall handles POST /api/start_call.
func (h Handlers) StartCall(c *gin.Context) {
	if h.Validator == nil || h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call service not configured"})
		return
	}
	var in calls.StartCallInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	req, err := h.Validator.Validate(in)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	log := logger.FromGin(c)
	res, err := h.Calls.StartCall(c.Request.Context(), req)
	switch {
	case err == nil:
	case errors.Is(err, dispatch.ErrAtCapacity), errors.Is(err, dispatch.ErrShuttingDown), errors.Is(err, dispatch.ErrThrottled):
		log.Warn("call rejected", "err", err)
		c.Header("Retry-After", "5")
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "Call capacity reached. Please try again later."})
		return
	default:
		log.Error("call could not be started", "persona", req.Persona, "err", err)
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "An unexpected error occurred"})
		return
	}

	c.JSON(http.StatusOK, startCallResponse{
		Message:  "Call initiated successfully.",
		RoomName: res.RoomName,
		JobID:    res.JobID,
	})
}

// CallsSummary handles GET /api/calls/summary?from=<RFC3339>&to=<RFC3339>.
// The range defaults to the last 24 hours.
func (h Handlers) CallsSummary(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	to := time.Now().UTC()
	from := to.Add(-24 * time.Hour)
	var err error
	if v := c.Query("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be an RFC3339 timestamp"})
			return
		}
	}
	if v := c.Query("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be an RFC3339 timestamp"})
			return
		}
	}

	out, err := h.Reports.CallsSummary(c.Request.Context(), reporting.TimeRange{From: from, To: to})
	switch {
	case errors.Is(err, reporting.ErrInvalidRequest):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be before to"})
		return
	case err != nil:
		logger.FromGin(c).Error("calls summary failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "summary unavailable"})
		return
	}
	c.JSON(http.StatusOK, out)
}

// Health handles GET /healthz.
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ReadyCheck checks one backing store.
type ReadyCheck func(ctx context.Context) error

// Ready handles GET /readyz. Checks run in name order and the first failure
// is answered with 503 naming it.
func Ready(checks map[string]ReadyCheck) gin.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(c *gin.Context) {
		for _, name := range names {
			if err := checks[name](c.Request.Context()); err != nil {
				logger.FromGin(c).Warn("readiness check failed", "check", name, "err", err)
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "check": name})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}
