package repository

import (
	"context"
	"sync"

	"github.com/pu-ac-cn/uac-ticket/internal/model"
)

// memoryTicketRegistry 单节点内存注册表，保存票据指针本身
type memoryTicketRegistry struct {
	mu      sync.RWMutex
	tickets map[string]model.Ticket
}

// NewMemoryTicketRegistry 创建内存注册表
func NewMemoryTicketRegistry() TicketRegistry {
	return &memoryTicketRegistry{tickets: make(map[string]model.Ticket)}
}

func (r *memoryTicketRegistry) AddTicket(ctx context.Context, ticket model.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tickets[ticket.TicketID()]; ok {
		return ErrTicketExists
	}
	r.tickets[ticket.TicketID()] = ticket
	return nil
}

func (r *memoryTicketRegistry) GetTicket(ctx context.Context, id string) (model.Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ticket, ok := r.tickets[id]
	if !ok {
		return nil, ErrTicketNotFound
	}
	return ticket, nil
}

func (r *memoryTicketRegistry) UpdateTicket(ctx context.Context, ticket model.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tickets[ticket.TicketID()]; !ok {
		return ErrTicketNotFound
	}
	r.tickets[ticket.TicketID()] = ticket
	return nil
}

// ModifyTicket 持有写锁直接修改票据本身
func (r *memoryTicketRegistry) ModifyTicket(ctx context.Context, id string, fn ModifyFunc) (model.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ticket, ok := r.tickets[id]
	if !ok {
		return nil, ErrTicketNotFound
	}
	if err := fn(ticket); err != nil {
		return nil, err
	}
	return ticket, nil
}

func (r *memoryTicketRegistry) DeleteTicket(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tickets[id]; !ok {
		return false, nil
	}
	delete(r.tickets, id)
	return true, nil
}

func (r *memoryTicketRegistry) GetTickets(ctx context.Context) ([]model.Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tickets := make([]model.Ticket, 0, len(r.tickets))
	for _, ticket := range r.tickets {
		tickets = append(tickets, ticket)
	}
	return tickets, nil
}
