package ws

import (
	"sync"

	"github.com/MarvelCollin/MisVord-sub009/internal/metrics"
	"github.com/MarvelCollin/MisVord-sub009/internal/models"
)

const userRoomKey = "user_room"

// Hub 是进程内唯一的房间注册表：维护房间成员集合、用户到连接的索引，
// 以及断连时供其它组件挂接的清理钩子。所有广播原语都在这里。
type Hub struct {
	mu        sync.RWMutex
	rooms     map[string]map[string]Session // room -> session id -> session
	sessions  map[string]Session
	userConns map[string]map[string]struct{} // user id -> session ids

	hookMu       sync.RWMutex
	onDisconnect []func(Session)
}

func NewHub() *Hub {
	return &Hub{
		rooms:     make(map[string]map[string]Session),
		sessions:  make(map[string]Session),
		userConns: make(map[string]map[string]struct{}),
	}
}

// OnDisconnect 注册断连清理钩子，启动期调用一次，不支持注销。
func (h *Hub) OnDisconnect(fn func(Session)) {
	h.hookMu.Lock()
	h.onDisconnect = append(h.onDisconnect, fn)
	h.hookMu.Unlock()
}

func (h *Hub) Register(s Session) {
	h.mu.Lock()
	h.sessions[s.ID()] = s
	h.mu.Unlock()
}

// Unregister 把连接从全部房间和用户索引中移除，然后触发清理钩子。
// 这是其它组件间接依赖的唯一清理入口。
func (h *Hub) Unregister(s Session) {
	h.mu.Lock()
	if _, ok := h.sessions[s.ID()]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, s.ID())
	for room, members := range h.rooms {
		if _, ok := members[s.ID()]; ok {
			delete(members, s.ID())
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	if ident, ok := s.Identity(); ok {
		if conns, ok := h.userConns[ident.UserID]; ok {
			delete(conns, s.ID())
			if len(conns) == 0 {
				delete(h.userConns, ident.UserID)
			}
		}
	}
	h.mu.Unlock()

	h.hookMu.RLock()
	hooks := h.onDisconnect
	h.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(s)
	}
}

// Join 是幂等的集合操作：重复加入同一房间不是错误。
func (h *Hub) Join(s Session, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]Session)
		h.rooms[room] = members
	}
	members[s.ID()] = s
}

func (h *Hub) Leave(s Session, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[room]; ok {
		delete(members, s.ID())
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// BindUser 在认证成功后调用：加入专属用户房间并登记用户索引。
// 一条连接最多属于一个用户房间，重新绑定会先退出旧房间。
func (h *Hub) BindUser(s Session) {
	ident, ok := s.Identity()
	if !ok {
		return
	}
	if prev, ok := s.Get(userRoomKey); ok {
		if room, ok := prev.(string); ok && room != UserRoom(ident.UserID) {
			h.Leave(s, room)
		}
	}
	h.Join(s, UserRoom(ident.UserID))
	s.Set(userRoomKey, UserRoom(ident.UserID))

	h.mu.Lock()
	conns, ok := h.userConns[ident.UserID]
	if !ok {
		conns = make(map[string]struct{})
		h.userConns[ident.UserID] = conns
	}
	conns[s.ID()] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) snapshot(room string) []Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	members := h.rooms[room]
	out := make([]Session, 0, len(members))
	for _, s := range members {
		out = append(out, s)
	}
	return out
}

// Broadcast 发给房间全部成员，包含发送者本人。
func (h *Hub) Broadcast(room, event string, data any) {
	metrics.BroadcastsTotal.WithLabelValues(event).Inc()
	for _, s := range h.snapshot(room) {
		s.Emit(event, data)
	}
}

// BroadcastExcept 发给房间内除 exceptID 以外的成员，
// 用于发送者本地已应用变更的事件（reaction、pin、typing）。
func (h *Hub) BroadcastExcept(room, exceptID, event string, data any) {
	metrics.BroadcastsTotal.WithLabelValues(event).Inc()
	for _, s := range h.snapshot(room) {
		if s.ID() == exceptID {
			continue
		}
		s.Emit(event, data)
	}
}

// EmitAll 全站广播，用于 voice-meeting-update 与 presence 这类系统级事件。
func (h *Hub) EmitAll(event string, data any) {
	metrics.BroadcastsTotal.WithLabelValues(event).Inc()
	h.mu.RLock()
	sessions := make([]Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()
	for _, s := range sessions {
		s.Emit(event, data)
	}
}

// EmitUser 发给某个用户的全部连接。
func (h *Hub) EmitUser(userID, event string, data any) {
	h.Broadcast(UserRoom(userID), event, data)
}

func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) InRoom(s Session, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	members, ok := h.rooms[room]
	if !ok {
		return false
	}
	_, ok = members[s.ID()]
	return ok
}

// UserConnections 返回某用户当前的连接数，presence 用它判断是否彻底离线。
func (h *Hub) UserConnections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.userConns[userID])
}

// RoomIdentities 返回房间成员的已认证身份快照。
func (h *Hub) RoomIdentities(room string) []models.Identity {
	out := make([]models.Identity, 0)
	for _, s := range h.snapshot(room) {
		if ident, ok := s.Identity(); ok {
			out = append(out, ident)
		}
	}
	return out
}

// Sessions 返回房间成员快照，调用方不得跨越阻塞点持有该切片。
func (h *Hub) Sessions(room string) []Session { return h.snapshot(room) }
