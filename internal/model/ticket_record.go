package model

import "time"

// TicketRecord 数据库注册表中的票据行，Body 为编码后的票据
type TicketRecord struct {
	ID        string    `json:"id" gorm:"type:varchar(255);primaryKey"`
	Kind      string    `json:"kind" gorm:"type:varchar(16);index;not null"`
	ParentID  string    `json:"parent_id" gorm:"type:varchar(255);index"`
	Body      []byte    `json:"-" gorm:"not null"`
	Version   int64     `json:"version" gorm:"not null;default:0"` // 每次写回加一，用于乐观锁
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 表名
func (TicketRecord) TableName() string {
	return "tickets"
}
