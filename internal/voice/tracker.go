package voice

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/MarvelCollin/MisVord-sub009/internal/models"
	"github.com/MarvelCollin/MisVord-sub009/internal/ws"
)

// Tracker 是语音频道名册的唯一权威：谁（含 bot）在哪个频道。
// 每次进出都发两类事件：全站的 voice-meeting-update（人数 + 触发者），
// 以及面向语音房间与父频道房间的完整成员对象。
type Tracker struct {
	mu       sync.Mutex
	hub      *ws.Hub
	policy   Policy
	channels map[string]map[string]*models.VoiceParticipant // channel id -> user id -> participant
}

func NewTracker(hub *ws.Hub, policy Policy) *Tracker {
	if policy == nil {
		policy = StayPolicy{}
	}
	return &Tracker{hub: hub, policy: policy, channels: make(map[string]map[string]*models.VoiceParticipant)}
}

// Join 插入或覆盖 (user, channel) 对应的成员记录。重复加入是幂等的，
// 名册里永远至多一条记录。
func (t *Tracker) Join(p models.VoiceParticipant) {
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now()
	}
	t.mu.Lock()
	ch, ok := t.channels[p.ChannelID]
	if !ok {
		ch = make(map[string]*models.VoiceParticipant)
		t.channels[p.ChannelID] = ch
	}
	if prev, ok := ch[p.UserID]; ok {
		// 保留首次加入时间，其余字段覆盖
		p.JoinedAt = prev.JoinedAt
	}
	cp := p
	ch[p.UserID] = &cp
	count := len(ch)
	t.mu.Unlock()

	log.Info().Str("user_id", p.UserID).Str("channel_id", p.ChannelID).Bool("is_bot", p.IsBot).Msg("voice participant joined")
	t.emitMeetingUpdate(p, count, "joined")
	t.broadcastDual(p.ChannelID, "bot-voice-participant-joined", payload{"participant": p})
}

// Leave 移除成员记录，记录不存在时是空操作。真人离开后按策略决定
// bot 去留，策略判定离场的 bot 也会走完整的 leave 事件。
func (t *Tracker) Leave(userID, channelID string) bool {
	t.mu.Lock()
	ch, ok := t.channels[channelID]
	if !ok {
		t.mu.Unlock()
		return false
	}
	p, ok := ch[userID]
	if !ok {
		t.mu.Unlock()
		return false
	}
	delete(ch, userID)
	left := *p
	count := len(ch)
	humans := 0
	var bots []models.VoiceParticipant
	for _, rest := range ch {
		if rest.IsBot {
			bots = append(bots, *rest)
		} else {
			humans++
		}
	}
	if count == 0 {
		delete(t.channels, channelID)
	}
	t.mu.Unlock()

	log.Info().Str("user_id", userID).Str("channel_id", channelID).Msg("voice participant left")
	t.emitMeetingUpdate(left, count, "left")
	t.broadcastDual(channelID, "bot-voice-participant-left", payload{"participant": left})

	if !left.IsBot && len(bots) > 0 && !t.policy.ShouldBotRemain(channelID, humans) {
		for _, b := range bots {
			t.Leave(b.UserID, channelID)
		}
	}
	return true
}

// Channel 返回调用时刻的成员快照，调用方不得跨阻塞点假设其仍有效。
func (t *Tracker) Channel(channelID string) []models.VoiceParticipant {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := t.channels[channelID]
	out := make([]models.VoiceParticipant, 0, len(ch))
	for _, p := range ch {
		out = append(out, *p)
	}
	return out
}

// HumanCount 返回频道内真人数量。
func (t *Tracker) HumanCount(channelID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, p := range t.channels[channelID] {
		if !p.IsBot {
			n++
		}
	}
	return n
}

// UserChannel 返回某用户当前所在的频道。
func (t *Tracker) UserChannel(userID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for chID, ch := range t.channels {
		if _, ok := ch[userID]; ok {
			return chID, true
		}
	}
	return "", false
}

// HandleDisconnect 是挂到 Hub 上的断连钩子：清掉该用户全部语音在场。
func (t *Tracker) HandleDisconnect(s ws.Session) {
	ident, ok := s.Identity()
	if !ok {
		return
	}
	// 多端登录时仍有存活连接则保留在场
	if t.hub.UserConnections(ident.UserID) > 0 {
		return
	}
	for {
		chID, ok := t.UserChannel(ident.UserID)
		if !ok {
			return
		}
		t.Leave(ident.UserID, chID)
	}
}

func (t *Tracker) emitMeetingUpdate(p models.VoiceParticipant, count int, action string) {
	t.hub.EmitAll("voice-meeting-update", payload{
		"channel_id": p.ChannelID,
		"meeting_id": p.MeetingID,
		"count":      count,
		"user_id":    p.UserID,
		"username":   p.Username,
		"is_bot":     p.IsBot,
		"action":     action,
	})
}

// broadcastDual 同时覆盖语音房间和父频道房间两类受众，
// 同时身处两个房间的连接只收到一次。
func (t *Tracker) broadcastDual(channelID, event string, data any) {
	seen := make(map[string]struct{})
	for _, s := range t.hub.Sessions(ws.VoiceRoom(channelID)) {
		seen[s.ID()] = struct{}{}
		s.Emit(event, data)
	}
	for _, s := range t.hub.Sessions(ws.ChannelRoom(channelID)) {
		if _, ok := seen[s.ID()]; ok {
			continue
		}
		s.Emit(event, data)
	}
}

// payload 是事件载荷的简写别名。
type payload = map[string]any
