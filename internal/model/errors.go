package model

import "errors"

// 票据相关错误
var (
	ErrTicketExpired         = errors.New("票据已过期")
	ErrTicketAlreadyConsumed = errors.New("票据已被使用")
	ErrServiceMismatch       = errors.New("票据与服务不匹配")
	ErrInvalidTicketState    = errors.New("票据状态无效")
)
