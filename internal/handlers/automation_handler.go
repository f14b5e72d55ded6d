package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"checkops/internal/services"

	"github.com/gin-gonic/gin"
)

// AutomationHandler 管理自动化规则并接收提交/审核工作流的触发调用
type AutomationHandler struct {
	rules      *services.RuleService
	dispatcher *services.DispatchService
	scheduler  *services.SchedulerService
	audit      *services.AuditService
}

func NewAutomationHandler(rules *services.RuleService, dispatcher *services.DispatchService, scheduler *services.SchedulerService, audit *services.AuditService) *AutomationHandler {
	return &AutomationHandler{rules: rules, dispatcher: dispatcher, scheduler: scheduler, audit: audit}
}

// ListRules 获取规则列表
func (h *AutomationHandler) ListRules(c *gin.Context) {
	rules, err := h.rules.ListRules(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list rules", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, rules)
}

// CreateRule 创建规则
func (h *AutomationHandler) CreateRule(c *gin.Context) {
	var req services.AutomationRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	rule, err := h.rules.CreateRule(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to create rule", Message: err.Error()})
		return
	}

	h.reloadScheduledJobs(c)
	c.JSON(http.StatusCreated, rule)
}

// UpdateRule 更新规则
func (h *AutomationHandler) UpdateRule(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: err.Error()})
		return
	}

	var req services.AutomationRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	rule, err := h.rules.UpdateRule(c.Request.Context(), id, &req)
	if err != nil {
		status := http.StatusBadRequest
		if err.Error() == "rule not found" {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "Failed to update rule", Message: err.Error()})
		return
	}

	h.reloadScheduledJobs(c)
	c.JSON(http.StatusOK, rule)
}

// SetRuleActive 启用/停用规则
func (h *AutomationHandler) SetRuleActive(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: err.Error()})
		return
	}

	var req struct {
		Active *bool `json:"active" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	if err := h.rules.SetActive(c.Request.Context(), id, *req.Active); err != nil {
		status := http.StatusInternalServerError
		if err.Error() == "rule not found" {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "Failed to update rule", Message: err.Error()})
		return
	}

	h.reloadScheduledJobs(c)
	c.JSON(http.StatusOK, SuccessResponse{Message: "updated"})
}

// DeleteRule 删除规则
func (h *AutomationHandler) DeleteRule(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: err.Error()})
		return
	}

	if err := h.rules.DeleteRule(c.Request.Context(), id); err != nil {
		status := http.StatusInternalServerError
		if err.Error() == "rule not found" {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "Failed to delete rule", Message: err.Error()})
		return
	}

	h.reloadScheduledJobs(c)
	c.JSON(http.StatusOK, SuccessResponse{Message: "deleted"})
}

// Dispatch 供提交/审核工作流在提交落库后调用
func (h *AutomationHandler) Dispatch(c *gin.Context) {
	var req services.DispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	if err := h.dispatcher.Dispatch(req); err != nil {
		if errors.Is(err, services.ErrQueueFull) {
			c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "Dispatch queue full", Message: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Dispatch failed", Message: err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, SuccessResponse{Message: "queued"})
}

// ListAuditEvents 查询审计日志
func (h *AutomationHandler) ListAuditEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	events, err := h.audit.List(c.Request.Context(), c.Query("category"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list audit events", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, events)
}

// reloadScheduledJobs keeps dynamic cron jobs in sync after rule changes.
func (h *AutomationHandler) reloadScheduledJobs(c *gin.Context) {
	if h.scheduler == nil {
		return
	}
	if err := h.scheduler.ReloadRules(c.Request.Context()); err != nil {
		// The rule change itself succeeded; job sync issues are logged by
		// the scheduler and retried on the next change.
		_ = err
	}
}

func parseID(c *gin.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	return uint(id), err
}

// RegisterAutomationRoutes 注册路由
func RegisterAutomationRoutes(r *gin.RouterGroup, handler *AutomationHandler) {
	rules := r.Group("/rules")
	{
		rules.GET("", handler.ListRules)
		rules.POST("", handler.CreateRule)
		rules.PUT(":id", handler.UpdateRule)
		rules.PATCH(":id/active", handler.SetRuleActive)
		rules.DELETE(":id", handler.DeleteRule)
	}
	r.POST("/dispatch", handler.Dispatch)
	r.GET("/audit-events", handler.ListAuditEvents)
}
