package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/pu-ac-cn/uac-ticket/internal/model"
	"github.com/redis/go-redis/v9"
)

// Redis key 前缀
const ticketKeyPrefix = "cas:ticket:"

// 每批 SCAN / MGET 的数量
const redisScanBatch = 200

// redisTicketRegistry 基于 Redis 的注册表
// 票据不设置 Redis 过期时间，由清理器负责回收，保证单点登出通知不会丢失
type redisTicketRegistry struct {
	redis *redis.Client
	codec TicketCodec
}

// NewRedisTicketRegistry 创建 Redis 注册表，codec 为 nil 时使用 JSON
func NewRedisTicketRegistry(redisClient *redis.Client, codec TicketCodec) TicketRegistry {
	if codec == nil {
		codec = jsonCodec{}
	}
	return &redisTicketRegistry{redis: redisClient, codec: codec}
}

func (r *redisTicketRegistry) AddTicket(ctx context.Context, ticket model.Ticket) error {
	data, err := r.codec.Encode(ticket)
	if err != nil {
		return fmt.Errorf("序列化票据失败: %w", err)
	}

	ok, err := r.redis.SetNX(ctx, ticketKeyPrefix+ticket.TicketID(), data, 0).Result()
	if err != nil {
		return fmt.Errorf("存储票据失败: %w", err)
	}
	if !ok {
		return ErrTicketExists
	}
	return nil
}

func (r *redisTicketRegistry) GetTicket(ctx context.Context, id string) (model.Ticket, error) {
	data, err := r.redis.Get(ctx, ticketKeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTicketNotFound
		}
		return nil, fmt.Errorf("获取票据失败: %w", err)
	}
	return r.codec.Decode(data)
}

func (r *redisTicketRegistry) UpdateTicket(ctx context.Context, ticket model.Ticket) error {
	data, err := r.codec.Encode(ticket)
	if err != nil {
		return fmt.Errorf("序列化票据失败: %w", err)
	}

	// XX：只覆盖已存在的票据，避免复活已被清理的票据
	err = r.redis.SetArgs(ctx, ticketKeyPrefix+ticket.TicketID(), data, redis.SetArgs{Mode: "XX"}).Err()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrTicketNotFound
		}
		return fmt.Errorf("更新票据失败: %w", err)
	}
	return nil
}

// ModifyTicket WATCH 票据 key，MULTI/EXEC 写回，期间 key 被改动则重试
func (r *redisTicketRegistry) ModifyTicket(ctx context.Context, id string, fn ModifyFunc) (model.Ticket, error) {
	key := ticketKeyPrefix + id

	for attempt := 0; attempt < maxModifyAttempts; attempt++ {
		var modified model.Ticket
		err := r.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return ErrTicketNotFound
				}
				return fmt.Errorf("获取票据失败: %w", err)
			}
			ticket, err := r.codec.Decode(data)
			if err != nil {
				return err
			}
			if err := fn(ticket); err != nil {
				return err
			}
			updated, err := r.codec.Encode(ticket)
			if err != nil {
				return fmt.Errorf("序列化票据失败: %w", err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, 0)
				return nil
			})
			if err != nil {
				return err
			}
			modified = ticket
			return nil
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return modified, nil
	}
	return nil, fmt.Errorf("%s: %w", id, ErrTicketConflict)
}

func (r *redisTicketRegistry) DeleteTicket(ctx context.Context, id string) (bool, error) {
	n, err := r.redis.Del(ctx, ticketKeyPrefix+id).Result()
	if err != nil {
		return false, fmt.Errorf("删除票据失败: %w", err)
	}
	return n > 0, nil
}

func (r *redisTicketRegistry) GetTickets(ctx context.Context) ([]model.Ticket, error) {
	var keys []string
	iter := r.redis.Scan(ctx, 0, ticketKeyPrefix+"*", redisScanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("扫描票据失败: %w", err)
	}

	var (
		tickets    = make([]model.Ticket, 0, len(keys))
		decodeErrs []error
	)
	for start := 0; start < len(keys); start += redisScanBatch {
		end := min(start+redisScanBatch, len(keys))
		values, err := r.redis.MGet(ctx, keys[start:end]...).Result()
		if err != nil {
			return nil, fmt.Errorf("批量获取票据失败: %w", err)
		}
		for i, value := range values {
			// 扫描与读取之间被删除的票据
			if value == nil {
				continue
			}
			s, ok := value.(string)
			if !ok {
				continue
			}
			ticket, err := r.codec.Decode([]byte(s))
			if err != nil {
				decodeErrs = append(decodeErrs, fmt.Errorf("%s: %w", keys[start+i], err))
				continue
			}
			tickets = append(tickets, ticket)
		}
	}

	return tickets, errors.Join(decodeErrs...)
}
