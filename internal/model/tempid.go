package model

import (
	"math/rand"
	"sync"
)

// IDGenerator 生成临时 ID，结果必须严格为负数。
type IDGenerator interface {
	NextTempID() int64
}

// RandomIDGenerator 在 [-1000000, -1] 中随机取值，不保证唯一，只是冲突概率低。
type RandomIDGenerator struct{}

// NextTempID implements IDGenerator.
func (RandomIDGenerator) NextTempID() int64 {
	return -(rand.Int63n(1000000) + 1)
}

// SequenceIDGenerator 依次返回 -1, -2, -3 ...，测试中使用以获得确定的结果。
type SequenceIDGenerator struct {
	mu   sync.Mutex
	next int64
}

// NextTempID implements IDGenerator.
func (g *SequenceIDGenerator) NextTempID() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next--
	return g.next
}
