package handler

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pu-ac-cn/uac-ticket/internal/logger"
	"github.com/pu-ac-cn/uac-ticket/internal/model"
	"github.com/pu-ac-cn/uac-ticket/internal/repository"
	"github.com/pu-ac-cn/uac-ticket/internal/service"
	"github.com/pu-ac-cn/uac-ticket/pkg/response"
	"go.uber.org/zap"
)

// SessionHandler 会话运维接口，会话即 TGT
type SessionHandler struct {
	tickets service.TicketService
}

// NewSessionHandler 创建会话处理器
func NewSessionHandler(tickets service.TicketService) *SessionHandler {
	return &SessionHandler{tickets: tickets}
}

// SessionResponse 会话信息
type SessionResponse struct {
	ID         string            `json:"id"`
	Principal  string            `json:"principal"`
	ParentID   string            `json:"parent_id,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	LastUsedAt time.Time         `json:"last_used_at"`
	UsageCount int               `json:"usage_count"`
	Expiration string            `json:"expiration"`
	Services   map[string]string `json:"services"`
}

// GetSession 查询会话
// GET /api/v1/sessions/:id
func (h *SessionHandler) GetSession(c *gin.Context) {
	tgt, err := h.tickets.GetTicketGrantingTicket(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.ticketError(c, err)
		return
	}

	response.Success(c, &SessionResponse{
		ID:         tgt.TicketID(),
		Principal:  tgt.Principal,
		ParentID:   tgt.ParentID,
		CreatedAt:  tgt.CreationTime(),
		LastUsedAt: tgt.LastTimeUsed(),
		UsageCount: tgt.UsageCount(),
		Expiration: tgt.Expiration().String(),
		Services:   tgt.ServiceMap(),
	})
}

// DestroySession 强制登出会话，通知已登录的服务并删除全部子票据
// DELETE /api/v1/sessions/:id
func (h *SessionHandler) DestroySession(c *gin.Context) {
	id := c.Param("id")
	if err := h.tickets.DestroyTicketGrantingTicket(c.Request.Context(), id); err != nil {
		h.ticketError(c, err)
		return
	}

	logger.Get().Info("会话已被强制登出",
		zap.String("tgt_id", id),
		zap.String("operator", c.GetString("operator")),
	)
	response.SuccessWithMsg(c, "会话已注销", nil)
}

func (h *SessionHandler) ticketError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrTicketNotFound):
		response.Error(c, response.CodeTicketNotFound)
	case errors.Is(err, model.ErrTicketExpired):
		response.Error(c, response.CodeTicketExpired)
	case errors.Is(err, service.ErrWrongTicketType):
		response.ErrorWithMsg(c, response.CodeInvalidRequest, "票据不是会话票据")
	default:
		logger.Get().Error("处理会话请求失败", zap.String("path", c.Request.URL.Path), zap.Error(err))
		response.Error(c, response.CodeServerError)
	}
}
