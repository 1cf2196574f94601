package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/timmy/batchmigrate/internal/console"
	"github.com/timmy/batchmigrate/internal/domain"
	"github.com/timmy/batchmigrate/internal/orchestrator"
)

// JobHandler handles migration job endpoints.
type JobHandler struct {
	console *console.Console
}

// NewJobHandler creates a new job handler.
// Parameters:
//   - c: console facade.
// Returns:
//   - *JobHandler: initialized handler.
func NewJobHandler(c *console.Console) *JobHandler {
	return &JobHandler{console: c}
}

// CreateJobRequest is the body of POST /api/v1/jobs.
type CreateJobRequest struct {
	Name             string   `json:"name"`
	AssetID          string   `json:"asset_id" binding:"required"`
	Schema           string   `json:"schema" binding:"required"`
	FailureThreshold *float64 `json:"failure_threshold"`
}

// StartJobRequest is the optional body of POST /api/v1/jobs/:id/start.
type StartJobRequest struct {
	AcknowledgeWarnings bool `json:"acknowledge_warnings"`
}

// ListJobs handles GET /api/v1/jobs.
func (h *JobHandler) ListJobs(c *gin.Context) {
	filter := domain.JobFilter{AssetID: c.Query("asset_id")}
	if s := c.Query("status"); s != "" {
		status, ok := domain.ParseJobStatus(s)
		if !ok {
			badRequest(c, "unknown status "+strconv.Quote(s))
			return
		}
		filter.Status = status
	}
	filter.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	filter.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))

	jobs, err := h.console.ListJobs(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// CreateJob handles POST /api/v1/jobs.
// Parameters:
//   - c: Gin request context with a CreateJobRequest body.
// Returns: none (writes the pending job, 201).
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return
	}

	job, err := h.console.CreateJob(c.Request.Context(), orchestrator.JobSpec{
		Name:             req.Name,
		AssetID:          req.AssetID,
		SchemaName:       req.Schema,
		FailureThreshold: req.FailureThreshold,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, job)
}

// GetJob handles GET /api/v1/jobs/:id.
func (h *JobHandler) GetJob(c *gin.Context) {
	job, err := h.console.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// GetReport handles GET /api/v1/jobs/:id/report.
func (h *JobHandler) GetReport(c *gin.Context) {
	report, err := h.console.GetValidationReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// GetMetrics handles GET /api/v1/jobs/:id/metrics.
func (h *JobHandler) GetMetrics(c *gin.Context) {
	m, err := h.console.JobMetrics(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// StartJob handles POST /api/v1/jobs/:id/start. An empty body is allowed.
func (h *JobHandler) StartJob(c *gin.Context) {
	var req StartJobRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request: "+err.Error())
			return
		}
	}
	if ack, err := strconv.ParseBool(c.Query("acknowledge_warnings")); err == nil {
		req.AcknowledgeWarnings = req.AcknowledgeWarnings || ack
	}

	out, err := h.console.StartJob(c.Request.Context(), c.Param("id"), req.AcknowledgeWarnings)
	h.respondOutcome(c, out, err)
}

// PauseJob handles POST /api/v1/jobs/:id/pause.
func (h *JobHandler) PauseJob(c *gin.Context) {
	out, err := h.console.PauseJob(c.Request.Context(), c.Param("id"))
	h.respondOutcome(c, out, err)
}

// RetryJob handles POST /api/v1/jobs/:id/retry.
func (h *JobHandler) RetryJob(c *gin.Context) {
	out, err := h.console.RetryJob(c.Request.Context(), c.Param("id"))
	h.respondOutcome(c, out, err)
}

// RevalidateJob handles POST /api/v1/jobs/:id/revalidate.
func (h *JobHandler) RevalidateJob(c *gin.Context) {
	report, err := h.console.RevalidateJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *JobHandler) respondOutcome(c *gin.Context, out console.JobOutcome, err error) {
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
