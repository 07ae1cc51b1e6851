package repository

import (
	"context"
	"errors"

	"github.com/pu-ac-cn/uac-ticket/internal/model"
)

// 错误定义
var (
	ErrTicketNotFound    = errors.New("票据不存在")
	ErrTicketExists      = errors.New("票据已存在")
	ErrTicketDecode      = errors.New("票据解码失败")
	ErrUnsupportedTicket = errors.New("不支持的票据类型")
	ErrTicketConflict    = errors.New("票据并发修改冲突")
)

// 并发修改冲突时的最大重试次数
const maxModifyAttempts = 32

// ModifyFunc 修改票据，返回错误时放弃本次修改
type ModifyFunc func(ticket model.Ticket) error

// TicketRegistry 票据注册表，集群内票据状态的唯一存储
// 单个键的读写删除是原子的，不提供多键事务
type TicketRegistry interface {
	// AddTicket 添加票据
	AddTicket(ctx context.Context, ticket model.Ticket) error
	// GetTicket 获取票据，不存在时返回 ErrTicketNotFound
	GetTicket(ctx context.Context, id string) (model.Ticket, error)
	// UpdateTicket 写回票据的最新状态，不存在时返回 ErrTicketNotFound
	UpdateTicket(ctx context.Context, ticket model.Ticket) error
	// ModifyTicket 读取票据、调用 fn 修改并原子写回
	// 写回前票据被其他调用方修改时重新读取并再次调用 fn，fn 的错误原样返回
	ModifyTicket(ctx context.Context, id string, fn ModifyFunc) (model.Ticket, error)
	// DeleteTicket 删除票据，票据不存在时返回 false 而不是错误
	DeleteTicket(ctx context.Context, id string) (bool, error)
	// GetTickets 全量枚举票据，仅供清理器使用
	// 个别票据解码失败时返回其余票据以及包含 ErrTicketDecode 的错误
	GetTickets(ctx context.Context) ([]model.Ticket, error)
}

// parentID 返回票据的父票据 ID，根 TGT 返回空串
func parentID(ticket model.Ticket) string {
	switch t := ticket.(type) {
	case *model.TicketGrantingTicket:
		return t.ParentID
	case *model.ServiceTicket:
		return t.TicketGrantingTicketID
	default:
		return ""
	}
}
