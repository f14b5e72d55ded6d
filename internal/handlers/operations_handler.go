package handlers

import (
	"net/http"
	"strconv"
	"time"

	"checkops/internal/services"

	"github.com/gin-gonic/gin"
)

// OperationsHandler 调度器与工作流分发器的运维接口
type OperationsHandler struct {
	scheduler *services.SchedulerService
	workflows *services.WorkflowService
}

func NewOperationsHandler(scheduler *services.SchedulerService, workflows *services.WorkflowService) *OperationsHandler {
	return &OperationsHandler{scheduler: scheduler, workflows: workflows}
}

// GetJobStatus 返回所有定时任务及其上次/下次触发时间
func (h *OperationsHandler) GetJobStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.scheduler.JobStatus())
}

// StopAllJobs 停止调度器
func (h *OperationsHandler) StopAllJobs(c *gin.Context) {
	h.scheduler.StopAll()
	c.JSON(http.StatusOK, SuccessResponse{Message: "scheduler stopped"})
}

// GetWorkflowStatus 返回工作流注册表与执行计数
func (h *OperationsHandler) GetWorkflowStatus(c *gin.Context) {
	statuses, err := h.workflows.GetWorkflowStatus(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to load workflow status", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, statuses)
}

// ListWorkflowExecutions 返回最近的执行记录
func (h *OperationsHandler) ListWorkflowExecutions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	executions, err := h.workflows.ListExecutions(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list executions", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, executions)
}

// Health 健康检查
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// RegisterOperationsRoutes 注册路由
func RegisterOperationsRoutes(r *gin.RouterGroup, handler *OperationsHandler) {
	scheduler := r.Group("/scheduler")
	{
		scheduler.GET("/jobs", handler.GetJobStatus)
		scheduler.POST("/stop", handler.StopAllJobs)
	}
	workflows := r.Group("/workflows")
	{
		workflows.GET("", handler.GetWorkflowStatus)
		workflows.GET("/executions", handler.ListWorkflowExecutions)
	}
}
