//internal/session/registry.go
package session

import (
	"crypto/rand"
	"errors"
	"sync"
)

// ==================== 会话标识 ====================

const (
	idLen      = 24
	idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
)

var ErrIDCollision = errors.New("session id collision")

// GenerateID 生成 24 位小写字母数字会话标识
func GenerateID() string {
	buf := make([]byte, idLen)
	if _, err := rand.Read(buf); err != nil {
		panic("session: rand.Read failed: " + err.Error())
	}
	for i, b := range buf {
		buf[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return string(buf)
}

// ==================== 注册表 ====================

// Registry 进程内会话注册表，id 到会话的唯一映射
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Insert 登记会话，id 已存在时返回 ErrIDCollision
func (r *Registry) Insert(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.id]; ok {
		return ErrIDCollision
	}
	r.sessions[s.id] = s
	return nil
}

// Get 查找会话，不存在返回 nil
func (r *Registry) Get(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// Remove 摘除会话
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Len 当前会话数
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot 返回当前全部会话的副本切片
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// CloseAll 清理全部会话，进程退出时调用
func (r *Registry) CloseAll() {
	for _, s := range r.Snapshot() {
		s.Cleanup("server shutdown")
	}
}
