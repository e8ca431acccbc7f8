package ssh

import (
	"sync"
	"time"
)

// Tracker 记录当前打开的会话，供关机或中断时统一关闭
type Tracker struct {
	sessions map[*Session]time.Time
	mutex    sync.RWMutex
}

// NewTracker 创建会话跟踪器
func NewTracker() *Tracker {
	return &Tracker{sessions: make(map[*Session]time.Time)}
}

// Track 登记会话
func (t *Tracker) Track(s *Session) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.sessions[s] = time.Now()
}

// Release 关闭并注销会话
func (t *Tracker) Release(s *Session) error {
	t.mutex.Lock()
	_, ok := t.sessions[s]
	delete(t.sessions, s)
	t.mutex.Unlock()

	if !ok {
		return nil
	}
	return s.Close()
}

// CloseAll 关闭所有已登记会话，返回最后一个错误
func (t *Tracker) CloseAll() error {
	t.mutex.Lock()
	sessions := t.sessions
	t.sessions = make(map[*Session]time.Time)
	t.mutex.Unlock()

	var lastErr error
	for s := range sessions {
		if err := s.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Active 当前登记的会话数
func (t *Tracker) Active() int {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return len(t.sessions)
}

// Stats 跟踪器统计
func (t *Tracker) Stats() map[string]interface{} {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	targets := make([]string, 0, len(t.sessions))
	var oldest time.Time
	for s, opened := range t.sessions {
		targets = append(targets, s.Target())
		if oldest.IsZero() || opened.Before(oldest) {
			oldest = opened
		}
	}
	stats := map[string]interface{}{
		"active_sessions": len(t.sessions),
		"targets":         targets,
	}
	if !oldest.IsZero() {
		stats["oldest_age"] = time.Since(oldest).Round(time.Second).String()
	}
	return stats
}
