package ws

import (
	"sync"

	"github.com/MarvelCollin/MisVord-sub009/internal/models"
)

// Session 抽象一条可收发事件的连接。真人连接由 Client 实现，
// bot 的虚拟在场由 VirtualSession 实现，房间与语音层不区分两者。
type Session interface {
	ID() string
	Identity() (models.Identity, bool)
	Bind(ident models.Identity)
	Emit(event string, data any)
	Set(key string, value any)
	Get(key string) (any, bool)
	Delete(key string)
}

// VirtualSession 是没有真实传输层的会话，Emit 为空操作。
// bot 借助它加入房间而无需 WebSocket 连接。
type VirtualSession struct {
	id    string
	mu    sync.RWMutex
	ident models.Identity
	bound bool
	state map[string]any
}

func NewVirtualSession(id string, ident models.Identity) *VirtualSession {
	return &VirtualSession{id: id, ident: ident, bound: true, state: make(map[string]any)}
}

func (v *VirtualSession) ID() string { return v.id }

func (v *VirtualSession) Identity() (models.Identity, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.ident, v.bound
}

func (v *VirtualSession) Bind(ident models.Identity) {
	v.mu.Lock()
	v.ident = ident
	v.bound = true
	v.mu.Unlock()
}

func (v *VirtualSession) Emit(event string, data any) {}

func (v *VirtualSession) Set(key string, value any) {
	v.mu.Lock()
	v.state[key] = value
	v.mu.Unlock()
}

func (v *VirtualSession) Get(key string) (any, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	val, ok := v.state[key]
	return val, ok
}

func (v *VirtualSession) Delete(key string) {
	v.mu.Lock()
	delete(v.state, key)
	v.mu.Unlock()
}
