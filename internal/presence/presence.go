package presence

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/MarvelCollin/MisVord-sub009/internal/models"
	"github.com/MarvelCollin/MisVord-sub009/internal/ws"
)

const (
	StatusOnline  = "online"
	StatusIdle    = "idle"
	StatusOffline = "offline"
)

// Tracker 维护每个用户的在线状态，状态变化时全站广播 user-presence-update。
type Tracker struct {
	mu    sync.Mutex
	hub   *ws.Hub
	users map[string]models.Presence
}

func NewTracker(hub *ws.Hub) *Tracker {
	return &Tracker{hub: hub, users: make(map[string]models.Presence)}
}

// Set 更新用户状态；状态与活动文本都没变时不重复广播。
func (t *Tracker) Set(ident models.Identity, status, activity string) {
	t.mu.Lock()
	prev, ok := t.users[ident.UserID]
	if ok && prev.Status == status && prev.Activity == activity {
		t.mu.Unlock()
		return
	}
	p := models.Presence{
		UserID:    ident.UserID,
		Username:  ident.Username,
		Status:    status,
		Activity:  activity,
		UpdatedAt: time.Now(),
	}
	t.users[ident.UserID] = p
	t.mu.Unlock()

	t.hub.EmitAll("user-presence-update", p)
}

// Get 返回用户当前状态；未知用户视为离线。
func (t *Tracker) Get(userID string) models.Presence {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.users[userID]; ok {
		return p
	}
	return models.Presence{UserID: userID, Status: StatusOffline}
}

// HandleDisconnect 是挂到 Hub 上的断连钩子：最后一条连接断开才广播离线。
func (t *Tracker) HandleDisconnect(s ws.Session) {
	ident, ok := s.Identity()
	if !ok {
		return
	}
	if t.hub.UserConnections(ident.UserID) > 0 {
		return
	}
	log.Debug().Str("user_id", ident.UserID).Msg("last connection closed, marking offline")
	t.Set(ident, StatusOffline, "")
}
