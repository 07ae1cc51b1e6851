// Package handler HTTP 处理器
package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pu-ac-cn/uac-ticket/internal/service"
	"github.com/pu-ac-cn/uac-ticket/pkg/response"
)

// CleanupTrigger 清理调度入口
type CleanupTrigger interface {
	Trigger(ctx context.Context) (*service.PassResult, bool)
	LastResult() *service.PassResult
	Interval() time.Duration
}

// CleanerHandler 票据清理运维接口
type CleanerHandler struct {
	cleaner   service.TicketRegistryCleaner
	scheduler CleanupTrigger
	enabled   bool
}

// NewCleanerHandler 创建清理运维处理器
func NewCleanerHandler(cleaner service.TicketRegistryCleaner, scheduler CleanupTrigger, enabled bool) *CleanerHandler {
	return &CleanerHandler{
		cleaner:   cleaner,
		scheduler: scheduler,
		enabled:   enabled,
	}
}

// PassResponse 清理结果
type PassResponse struct {
	Scanned    int       `json:"scanned"`
	Reaped     int       `json:"reaped"`
	Skipped    bool      `json:"skipped"`
	Errors     []string  `json:"errors"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMS int64     `json:"duration_ms"`
}

// Status 查询清理器状态
// GET /api/v1/cleaner
func (h *CleanerHandler) Status(c *gin.Context) {
	resp := gin.H{
		"enabled":         h.enabled,
		"state":           h.cleaner.State().String(),
		"repeat_interval": h.scheduler.Interval().String(),
		"last_pass":       nil,
	}
	if last := h.scheduler.LastResult(); last != nil {
		resp["last_pass"] = passToResponse(last)
	}
	response.Success(c, resp)
}

// Run 立即执行一次清理
// POST /api/v1/cleaner/run
func (h *CleanerHandler) Run(c *gin.Context) {
	result, ok := h.scheduler.Trigger(c.Request.Context())
	if !ok {
		response.Error(c, response.CodeCleanerBusy)
		return
	}
	response.Success(c, passToResponse(result))
}

func passToResponse(result *service.PassResult) *PassResponse {
	errs := make([]string, 0, len(result.Errors))
	for _, err := range result.Errors {
		errs = append(errs, err.Error())
	}
	return &PassResponse{
		Scanned:    result.Scanned,
		Reaped:     result.Reaped,
		Skipped:    result.Skipped,
		Errors:     errs,
		StartedAt:  result.StartedAt,
		FinishedAt: result.FinishedAt,
		DurationMS: result.Duration().Milliseconds(),
	}
}
