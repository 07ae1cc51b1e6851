package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pu-ac-cn/uac-ticket/pkg/response"
)

// HealthCheck 依赖组件的连通性检查
type HealthCheck func(ctx context.Context) error

// HealthHandler 健康检查
type HealthHandler struct {
	checks map[string]HealthCheck
}

// NewHealthHandler 创建健康检查处理器，checks 的键为组件名，如 database、redis
func NewHealthHandler(checks map[string]HealthCheck) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// Health 健康检查
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := "ok"
	resp := gin.H{"time": time.Now().Format(time.RFC3339)}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			resp[name] = "error"
			status = "degraded"
			continue
		}
		resp[name] = "ok"
	}
	resp["status"] = status

	response.Success(c, resp)
}
