package game

import (
	"sync"

	"go.uber.org/zap"
)

// PresenceGate 在线观众闸门
// 调度器在做任何工作前先询问是否有观众；无观众时不开新回合
type PresenceGate struct {
	mu      sync.RWMutex
	viewers map[string]struct{}
	logger  *zap.Logger

	// onFirstViewer 从空到非空时触发（用于唤醒调度器）
	onFirstViewer func()
}

// NewPresenceGate 创建在线观众闸门
func NewPresenceGate(logger *zap.Logger) *PresenceGate {
	return &PresenceGate{
		viewers: make(map[string]struct{}),
		logger:  logger,
	}
}

// OnFirstViewer 设置首位观众回调
func (g *PresenceGate) OnFirstViewer(fn func()) {
	g.mu.Lock()
	g.onFirstViewer = fn
	g.mu.Unlock()
}

// Add 观众上线
func (g *PresenceGate) Add(sessionID string) {
	g.mu.Lock()
	wasEmpty := len(g.viewers) == 0
	g.viewers[sessionID] = struct{}{}
	fn := g.onFirstViewer
	g.mu.Unlock()

	g.logger.Debug("观众上线", zap.String("session_id", sessionID))

	if wasEmpty && fn != nil {
		fn()
	}
}

// Remove 观众下线
func (g *PresenceGate) Remove(sessionID string) {
	g.mu.Lock()
	delete(g.viewers, sessionID)
	remaining := len(g.viewers)
	g.mu.Unlock()

	g.logger.Debug("观众下线",
		zap.String("session_id", sessionID),
		zap.Int("remaining", remaining))
}

// HasViewers 是否至少有一名观众
func (g *PresenceGate) HasViewers() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.viewers) > 0
}

// Count 当前观众数
func (g *PresenceGate) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.viewers)
}
