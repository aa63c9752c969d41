package management

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"herald/internal/logger"
	"herald/pkg/cel"
	"herald/pkg/errors"
)

// ActorHeader names the operator making a change.
const ActorHeader = "X-Actor"

type BaseHandler struct {
	Service Service
	Logger  logger.Logger
}

func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	h.Logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)

	status := errors.ToHTTPStatus(err)
	response := errors.ToErrorResponse(err)

	c.JSON(status, response)
}

type Handler struct {
	BaseHandler
}

func NewHandler(service Service, log logger.Logger) *Handler {
	return &Handler{
		BaseHandler: BaseHandler{
			Service: service,
			Logger:  log,
		},
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/api/v1/conditions/examples", h.ConditionExamples)

	tenant := router.Group("/api/v1/tenants/:tenant")
	tenant.Use(actorMiddleware())
	{
		rules := tenant.Group("/rules")
		{
			rules.GET("", h.ListRules)
			rules.POST("", h.CreateRule)
			rules.GET("/:id", h.GetRule)
			rules.PUT("/:id", h.UpdateRule)
			rules.DELETE("/:id", h.DeleteRule)
		}

		templates := tenant.Group("/templates")
		{
			templates.GET("", h.ListTemplates)
			templates.GET("/:ref", h.GetTemplate)
			templates.PUT("/:ref", h.PutTemplate)
			templates.DELETE("/:ref", h.DeleteTemplate)
		}

		entities := tenant.Group("/entities/:type")
		{
			entities.PUT("/:id", h.PutEntity)
			entities.DELETE("/:id", h.DeleteEntity)
		}
	}
}

func actorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if actor := c.GetHeader(ActorHeader); actor != "" {
			c.Request = c.Request.WithContext(WithActor(c.Request.Context(), actor))
		}
		c.Next()
	}
}

func bindError(err error) error {
	return errors.ErrValidation.WithCause(err).WithDetail("message", err.Error())
}

// ListRules godoc
// @Summary      List a tenant's automation rules
// @Tags         rules
// @Produce      json
// @Param        tenant  path      string  true  "Tenant ID"
// @Success      200     {array}   rules.Rule
// @Failure      500     {object}  errors.ErrorResponse
// @Router       /tenants/{tenant}/rules [get]
func (h *Handler) ListRules(c *gin.Context) {
	list, err := h.Service.ListRules(c.Request.Context(), c.Param("tenant"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// CreateRule godoc
// @Summary      Create an automation rule
// @Tags         rules
// @Accept       json
// @Produce      json
// @Param        tenant  path      string             true  "Tenant ID"
// @Param        rule    body      CreateRuleRequest  true  "Rule"
// @Success      201     {object}  rules.Rule
// @Failure      400     {object}  errors.ErrorResponse
// @Failure      409     {object}  errors.ErrorResponse
// @Router       /tenants/{tenant}/rules [post]
func (h *Handler) CreateRule(c *gin.Context) {
	var req CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.HandleError(c, bindError(err))
		return
	}

	rule, err := h.Service.CreateRule(c.Request.Context(), c.Param("tenant"), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

func (h *Handler) GetRule(c *gin.Context) {
	rule, err := h.Service.GetRule(c.Request.Context(), c.Param("tenant"), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// UpdateRule godoc
// @Summary      Update an automation rule
// @Description  Only the fields present in the body change.
// @Tags         rules
// @Accept       json
// @Produce      json
// @Param        tenant  path      string             true  "Tenant ID"
// @Param        id      path      string             true  "Rule ID"
// @Param        rule    body      UpdateRuleRequest  true  "Changes"
// @Success      200     {object}  rules.Rule
// @Failure      400     {object}  errors.ErrorResponse
// @Failure      404     {object}  errors.ErrorResponse
// @Router       /tenants/{tenant}/rules/{id} [put]
func (h *Handler) UpdateRule(c *gin.Context) {
	var req UpdateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.HandleError(c, bindError(err))
		return
	}

	rule, err := h.Service.UpdateRule(c.Request.Context(), c.Param("tenant"), c.Param("id"), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (h *Handler) DeleteRule(c *gin.Context) {
	if err := h.Service.DeleteRule(c.Request.Context(), c.Param("tenant"), c.Param("id")); err != nil {
		h.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ConditionExamples returns sample rule condition expressions keyed by name.
func (h *Handler) ConditionExamples(c *gin.Context) {
	c.JSON(http.StatusOK, cel.ConditionExamples)
}

func (h *Handler) ListTemplates(c *gin.Context) {
	list, err := h.Service.ListTemplates(c.Request.Context(), c.Param("tenant"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) GetTemplate(c *gin.Context) {
	tmpl, err := h.Service.GetTemplate(c.Request.Context(), c.Param("tenant"), c.Param("ref"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, tmpl)
}

// PutTemplate godoc
// @Summary      Create or replace a message template
// @Tags         templates
// @Accept       json
// @Produce      json
// @Param        tenant    path      string           true  "Tenant ID"
// @Param        ref       path      string           true  "Template reference"
// @Param        template  body      TemplateRequest  true  "Template"
// @Success      200       {object}  rules.Template
// @Failure      400       {object}  errors.ErrorResponse
// @Router       /tenants/{tenant}/templates/{ref} [put]
func (h *Handler) PutTemplate(c *gin.Context) {
	var req TemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.HandleError(c, bindError(err))
		return
	}

	tmpl, err := h.Service.PutTemplate(c.Request.Context(), c.Param("tenant"), c.Param("ref"), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, tmpl)
}

func (h *Handler) DeleteTemplate(c *gin.Context) {
	if err := h.Service.DeleteTemplate(c.Request.Context(), c.Param("tenant"), c.Param("ref")); err != nil {
		h.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// PutEntity godoc
// @Summary      Create or replace an entity rules are evaluated against
// @Tags         entities
// @Accept       json
// @Produce      json
// @Param        tenant  path      string         true  "Tenant ID"
// @Param        type    path      string         true  "Entity type"
// @Param        id      path      string         true  "Entity ID"
// @Param        entity  body      EntityRequest  true  "Attributes"
// @Success      200     {object}  rules.Entity
// @Failure      400     {object}  errors.ErrorResponse
// @Router       /tenants/{tenant}/entities/{type}/{id} [put]
func (h *Handler) PutEntity(c *gin.Context) {
	var req EntityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.HandleError(c, bindError(err))
		return
	}

	entity, err := h.Service.PutEntity(c.Request.Context(), c.Param("tenant"), c.Param("type"), c.Param("id"), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, entity)
}

func (h *Handler) DeleteEntity(c *gin.Context) {
	if err := h.Service.DeleteEntity(c.Request.Context(), c.Param("tenant"), c.Param("type"), c.Param("id")); err != nil {
		h.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
