package infrastructure

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

const idWidth = 4

// SequenceGenerator 生成 "<prefix><序号>" 形式的订单号，例如 CS0001。
// 序号随快照一起持久化，重启后从快照恢复，因此删除过的订单号不会再出现。
type SequenceGenerator struct {
	prefix string

	mu  sync.Mutex
	seq uint64
}

func NewSequenceGenerator(prefix string) *SequenceGenerator {
	return &SequenceGenerator{prefix: prefix}
}

func (g *SequenceGenerator) Next(context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return formatID(g.prefix, g.seq), nil
}

func (g *SequenceGenerator) Sequence() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seq
}

func (g *SequenceGenerator) Restore(_ context.Context, seq uint64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if seq > g.seq {
		g.seq = seq
	}
	return nil
}

func formatID(prefix string, seq uint64) string {
	return fmt.Sprintf("%s%0*d", prefix, idWidth, seq)
}

// trailingSequence extracts the counter at the end of an issued id.
func trailingSequence(id string) (uint64, bool) {
	i := len(id)
	for i > 0 && id[i-1] >= '0' && id[i-1] <= '9' {
		i--
	}
	if i == len(id) {
		return 0, false
	}
	n, err := strconv.ParseUint(id[i:], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
