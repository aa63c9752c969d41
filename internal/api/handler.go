package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"herald/internal/constants"
	"herald/internal/delivery"
	"herald/internal/logger"
	"herald/internal/rules"
	"herald/pkg/errors"
	"herald/pkg/models"
)

// Sweeper runs one rule sweep on demand.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (rules.SweepResult, error)
}

type SubmitResponse struct {
	Accepted         bool          `json:"accepted"`
	MessageID        string        `json:"message_id"`
	Status           models.Status `json:"status,omitempty"`
	Reason           string        `json:"reason,omitempty"`
	Message          string        `json:"message,omitempty"`
	EstimatedDelayMs int64         `json:"estimated_delay_ms"`
}

type BulkSubmitRequest struct {
	Messages []models.SubmitRequest `json:"messages" binding:"required,min=1,dive"`
}

type BulkSubmitResponse struct {
	Accepted int              `json:"accepted"`
	Rejected int              `json:"rejected"`
	Results  []SubmitResponse `json:"results"`
}

type BaseHandler struct {
	Logger logger.Logger
}

func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	h.Logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)

	status := errors.ToHTTPStatus(err)
	response := errors.ToErrorResponse(err)

	c.JSON(status, response)
}

type Handler struct {
	BaseHandler
	Service delivery.Service
	Sweeper Sweeper
	now     func() time.Time
}

// NewHandler builds the admin API. sweeper may be nil when rules are disabled.
func NewHandler(service delivery.Service, sweeper Sweeper, log logger.Logger) *Handler {
	return &Handler{
		BaseHandler: BaseHandler{Logger: log},
		Service:     service,
		Sweeper:     sweeper,
		now:         time.Now,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		tenant := v1.Group("/tenants/:tenant")
		{
			tenant.POST("/messages", h.SubmitMessage)
			tenant.POST("/messages/bulk", h.SubmitBulk)
			tenant.GET("/messages/:id", h.GetMessage)
			tenant.DELETE("/messages/:id", h.CancelMessage)
			tenant.POST("/messages/:id/retry", h.RetryMessage)

			tenant.GET("/queue", h.QueueStatus)
			tenant.DELETE("/queue", h.ClearQueue)
			tenant.POST("/queue/pause", h.PauseQueue)
			tenant.POST("/queue/resume", h.ResumeQueue)
		}

		v1.POST("/rules/sweep", h.RunSweep)
	}
}

// SubmitMessage godoc
// @Summary      Queue a message for delivery
// @Tags         messages
// @Accept       json
// @Produce      json
// @Param        tenant   path      string                true  "Tenant ID"
// @Param        message  body      models.SubmitRequest  true  "Message"
// @Success      202      {object}  SubmitResponse
// @Failure      400      {object}  errors.ErrorResponse
// @Failure      409      {object}  errors.ErrorResponse
// @Failure      429      {object}  errors.ErrorResponse
// @Router       /tenants/{tenant}/messages [post]
func (h *Handler) SubmitMessage(c *gin.Context) {
	var req models.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.HandleError(c, errors.ErrValidation.WithCause(err).WithDetail("message", err.Error()))
		return
	}
	req.TenantID = c.Param("tenant")

	res, err := h.Service.Enqueue(c.Request.Context(), req.ToEnvelope(constants.SourceAPI))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if !res.Accepted {
		h.HandleError(c, errors.Rejection(res.Reason, res.Message).WithDetail("message_id", res.MessageID))
		return
	}

	c.JSON(http.StatusAccepted, toSubmitResponse(res))
}

// SubmitBulk queues a batch in anti-burst order. Per-message rejections are
// reported in the results rather than failing the request.
func (h *Handler) SubmitBulk(c *gin.Context) {
	var req BulkSubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.HandleError(c, errors.ErrValidation.WithCause(err).WithDetail("message", err.Error()))
		return
	}
	tenantID := c.Param("tenant")

	envs := make([]*models.Envelope, 0, len(req.Messages))
	for _, m := range req.Messages {
		m.TenantID = tenantID
		envs = append(envs, m.ToEnvelope(constants.SourceAPI))
	}

	results, err := h.Service.EnqueueBulk(c.Request.Context(), tenantID, envs)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	resp := BulkSubmitResponse{Results: make([]SubmitResponse, 0, len(results))}
	for _, r := range results {
		if r.Accepted {
			resp.Accepted++
		} else {
			resp.Rejected++
		}
		resp.Results = append(resp.Results, toSubmitResponse(r))
	}

	c.JSON(http.StatusAccepted, resp)
}

// GetMessage godoc
// @Summary      Latest delivery status of a message
// @Tags         messages
// @Produce      json
// @Param        tenant  path      string  true  "Tenant ID"
// @Param        id      path      string  true  "Message ID"
// @Success      200     {object}  models.StatusRecord
// @Failure      404     {object}  errors.ErrorResponse
// @Router       /tenants/{tenant}/messages/{id} [get]
func (h *Handler) GetMessage(c *gin.Context) {
	rec, err := h.Service.MessageStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if rec.TenantID != c.Param("tenant") {
		h.HandleError(c, errors.ErrNotFound.WithDetail("message", "message not found"))
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) CancelMessage(c *gin.Context) {
	if err := h.Service.Cancel(c.Request.Context(), c.Param("tenant"), c.Param("id")); err != nil {
		h.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) RetryMessage(c *gin.Context) {
	res, err := h.Service.Retry(c.Request.Context(), c.Param("tenant"), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, toSubmitResponse(res))
}

// QueueStatus godoc
// @Summary      Queue and worker state for a tenant
// @Tags         queue
// @Produce      json
// @Param        tenant  path      string  true  "Tenant ID"
// @Success      200     {object}  delivery.TenantStatus
// @Router       /tenants/{tenant}/queue [get]
func (h *Handler) QueueStatus(c *gin.Context) {
	status, err := h.Service.Status(c.Request.Context(), c.Param("tenant"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *Handler) ClearQueue(c *gin.Context) {
	removed, err := h.Service.Clear(c.Request.Context(), c.Param("tenant"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (h *Handler) PauseQueue(c *gin.Context) {
	h.Service.Pause(c.Param("tenant"))
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

func (h *Handler) ResumeQueue(c *gin.Context) {
	h.Service.Resume(c.Param("tenant"))
	c.JSON(http.StatusOK, gin.H{"paused": false})
}

func (h *Handler) RunSweep(c *gin.Context) {
	if h.Sweeper == nil {
		h.HandleError(c, errors.ErrServiceUnavailable.WithDetail("message", "rule evaluation is disabled"))
		return
	}
	res, err := h.Sweeper.Sweep(c.Request.Context(), h.now())
	if err != nil {
		h.HandleError(c, errors.ErrServiceUnavailable.WithCause(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func toSubmitResponse(r delivery.EnqueueResult) SubmitResponse {
	return SubmitResponse{
		Accepted:         r.Accepted,
		MessageID:        r.MessageID,
		Status:           r.Status,
		Reason:           r.Reason,
		Message:          r.Message,
		EstimatedDelayMs: r.EstimatedDelay.Milliseconds(),
	}
}
