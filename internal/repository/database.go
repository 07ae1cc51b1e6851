package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/pu-ac-cn/uac-ticket/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// 每批从数据库读取的票据行数
const databaseScanBatch = 500

// databaseTicketRegistry 基于关系数据库的注册表
type databaseTicketRegistry struct {
	db    *gorm.DB
	codec TicketCodec
}

// NewDatabaseTicketRegistry 创建数据库注册表，codec 为 nil 时使用 JSON
func NewDatabaseTicketRegistry(db *gorm.DB, codec TicketCodec) TicketRegistry {
	if codec == nil {
		codec = jsonCodec{}
	}
	return &databaseTicketRegistry{db: db, codec: codec}
}

func (r *databaseTicketRegistry) toRecord(ticket model.Ticket) (*model.TicketRecord, error) {
	env, err := wrap(ticket)
	if err != nil {
		return nil, err
	}
	body, err := r.codec.Encode(ticket)
	if err != nil {
		return nil, fmt.Errorf("序列化票据失败: %w", err)
	}
	return &model.TicketRecord{
		ID:       ticket.TicketID(),
		Kind:     env.Kind,
		ParentID: parentID(ticket),
		Body:     body,
	}, nil
}

func (r *databaseTicketRegistry) AddTicket(ctx context.Context, ticket model.Ticket) error {
	record, err := r.toRecord(ticket)
	if err != nil {
		return err
	}

	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(record)
	if result.Error != nil {
		return fmt.Errorf("存储票据失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrTicketExists
	}
	return nil
}

func (r *databaseTicketRegistry) GetTicket(ctx context.Context, id string) (model.Ticket, error) {
	var record model.TicketRecord
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTicketNotFound
		}
		return nil, fmt.Errorf("获取票据失败: %w", err)
	}
	return r.codec.Decode(record.Body)
}

func (r *databaseTicketRegistry) UpdateTicket(ctx context.Context, ticket model.Ticket) error {
	record, err := r.toRecord(ticket)
	if err != nil {
		return err
	}

	result := r.db.WithContext(ctx).Model(&model.TicketRecord{}).
		Where("id = ?", record.ID).
		Updates(map[string]any{
			"body":    record.Body,
			"version": gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return fmt.Errorf("更新票据失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrTicketNotFound
	}
	return nil
}

// ModifyTicket 按 version 乐观锁写回，version 变化说明期间被修改过
func (r *databaseTicketRegistry) ModifyTicket(ctx context.Context, id string, fn ModifyFunc) (model.Ticket, error) {
	db := r.db.WithContext(ctx)

	for attempt := 0; attempt < maxModifyAttempts; attempt++ {
		var record model.TicketRecord
		if err := db.Where("id = ?", id).First(&record).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrTicketNotFound
			}
			return nil, fmt.Errorf("获取票据失败: %w", err)
		}
		ticket, err := r.codec.Decode(record.Body)
		if err != nil {
			return nil, err
		}
		if err := fn(ticket); err != nil {
			return nil, err
		}
		body, err := r.codec.Encode(ticket)
		if err != nil {
			return nil, fmt.Errorf("序列化票据失败: %w", err)
		}

		result := db.Model(&model.TicketRecord{}).
			Where("id = ? AND version = ?", id, record.Version).
			Updates(map[string]any{
				"body":    body,
				"version": gorm.Expr("version + 1"),
			})
		if result.Error != nil {
			return nil, fmt.Errorf("更新票据失败: %w", result.Error)
		}
		if result.RowsAffected == 1 {
			return ticket, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", id, ErrTicketConflict)
}

func (r *databaseTicketRegistry) DeleteTicket(ctx context.Context, id string) (bool, error) {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.TicketRecord{})
	if result.Error != nil {
		return false, fmt.Errorf("删除票据失败: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *databaseTicketRegistry) GetTickets(ctx context.Context) ([]model.Ticket, error) {
	var (
		tickets    []model.Ticket
		decodeErrs []error
		batch      []model.TicketRecord
	)
	result := r.db.WithContext(ctx).FindInBatches(&batch, databaseScanBatch, func(tx *gorm.DB, _ int) error {
		for _, record := range batch {
			ticket, err := r.codec.Decode(record.Body)
			if err != nil {
				decodeErrs = append(decodeErrs, fmt.Errorf("%s: %w", record.ID, err))
				continue
			}
			tickets = append(tickets, ticket)
		}
		return nil
	})
	if result.Error != nil {
		return nil, fmt.Errorf("扫描票据失败: %w", result.Error)
	}

	return tickets, errors.Join(decodeErrs...)
}
