package service

import (
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// TicketIDGenerator 票据 ID 生成器
type TicketIDGenerator interface {
	NewTicketID(prefix string) string
}

// uniqueTicketIDGenerator 生成形如 TGT-12-<随机串>-<节点后缀> 的 ID
// 随机部分为 crypto/rand 生成的 UUIDv4，不可猜测
type uniqueTicketIDGenerator struct {
	counter atomic.Uint64
	suffix  string
}

// NewTicketIDGenerator 创建票据 ID 生成器，suffix 用于区分集群节点，可为空
func NewTicketIDGenerator(suffix string) TicketIDGenerator {
	return &uniqueTicketIDGenerator{suffix: suffix}
}

func (g *uniqueTicketIDGenerator) NewTicketID(prefix string) string {
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteByte('-')
	b.WriteString(strconv.FormatUint(g.counter.Add(1), 10))
	b.WriteByte('-')
	b.WriteString(strings.ReplaceAll(uuid.New().String(), "-", ""))
	if g.suffix != "" {
		b.WriteByte('-')
		b.WriteString(g.suffix)
	}
	return b.String()
}
