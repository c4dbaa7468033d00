package server

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/MarvelCollin/MisVord-sub009/internal/auth"
	"github.com/MarvelCollin/MisVord-sub009/internal/bot"
	"github.com/MarvelCollin/MisVord-sub009/internal/chat"
	"github.com/MarvelCollin/MisVord-sub009/internal/game"
	"github.com/MarvelCollin/MisVord-sub009/internal/models"
	"github.com/MarvelCollin/MisVord-sub009/internal/presence"
	"github.com/MarvelCollin/MisVord-sub009/internal/voice"
	"github.com/MarvelCollin/MisVord-sub009/internal/ws"
)

// SocketServer 把各协调器绑到事件分发表上，并充当认证门：
// authenticate 之前，除认证外的所有事件都被拒绝且只通知调用者本人。
type SocketServer struct {
	hub        *ws.Hub
	dispatcher *ws.Dispatcher
	chat       *chat.Router
	presence   *presence.Tracker
	voice      *voice.Tracker
	game       *game.Coordinator
	bot        *bot.Orchestrator
	jwtSecret  string
}

func NewSocketServer(hub *ws.Hub, chatRouter *chat.Router, pres *presence.Tracker,
	voiceTracker *voice.Tracker, coordinator *game.Coordinator, orchestrator *bot.Orchestrator,
	jwtSecret string) *SocketServer {
	s := &SocketServer{
		hub:        hub,
		dispatcher: ws.NewDispatcher(),
		chat:       chatRouter,
		presence:   pres,
		voice:      voiceTracker,
		game:       coordinator,
		bot:        orchestrator,
		jwtSecret:  jwtSecret,
	}
	s.registerHandlers()
	return s
}

func (s *SocketServer) Dispatcher() *ws.Dispatcher { return s.dispatcher }

// OnConnect 在握手期携带合法 JWT 的连接上预绑定身份，免去 authenticate 往返。
func (s *SocketServer) OnConnect(sess ws.Session, claims *auth.Claims) {
	if claims == nil {
		return
	}
	s.bind(sess, models.Identity{UserID: claims.UserID, Username: claims.Username})
}

type authPayload struct {
	Token    string `json:"token"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

type roomPayload struct {
	ChannelID string `json:"channel_id"`
	RoomID    string `json:"room_id"`
}

type voicePayload struct {
	ChannelID string `json:"channel_id"`
	MeetingID string `json:"meeting_id"`
	AvatarURL string `json:"avatar_url"`
}

type savedPayload struct {
	TempMessageID string `json:"temp_message_id"`
	MessageID     string `json:"message_id"`
}

type presencePayload struct {
	Status   string `json:"status"`
	Activity string `json:"activity"`
}

type gamePayload struct {
	ServerID string `json:"server_id"`
	Position int    `json:"position"`
	Accept   bool   `json:"accept"`
}

func (s *SocketServer) registerHandlers() {
	d := s.dispatcher
	d.Handle("authenticate", s.handleAuthenticate)

	d.Handle("join-channel", s.requireAuth(func(sess ws.Session, ident models.Identity, data json.RawMessage) {
		var p roomPayload
		if json.Unmarshal(data, &p) != nil || p.ChannelID == "" {
			return
		}
		s.hub.Join(sess, ws.ChannelRoom(p.ChannelID))
	}))
	d.Handle("leave-channel", s.requireAuth(func(sess ws.Session, ident models.Identity, data json.RawMessage) {
		var p roomPayload
		if json.Unmarshal(data, &p) != nil || p.ChannelID == "" {
			return
		}
		s.hub.Leave(sess, ws.ChannelRoom(p.ChannelID))
	}))
	d.Handle("join-dm-room", s.requireAuth(func(sess ws.Session, ident models.Identity, data json.RawMessage) {
		var p roomPayload
		if json.Unmarshal(data, &p) != nil || p.RoomID == "" {
			return
		}
		s.hub.Join(sess, ws.DMRoom(p.RoomID))
	}))
	d.Handle("leave-dm-room", s.requireAuth(func(sess ws.Session, ident models.Identity, data json.RawMessage) {
		var p roomPayload
		if json.Unmarshal(data, &p) != nil || p.RoomID == "" {
			return
		}
		s.hub.Leave(sess, ws.DMRoom(p.RoomID))
	}))

	d.Handle("new-channel-message", s.requireAuth(func(sess ws.Session, ident models.Identity, data json.RawMessage) {
		env, ok := s.decodeEnvelope(sess, ident, data)
		if !ok {
			return
		}
		_ = s.chat.ChannelMessage(sess, env)
	}))
	d.Handle("user-message-dm", s.requireAuth(func(sess ws.Session, ident models.Identity, data json.RawMessage) {
		env, ok := s.decodeEnvelope(sess, ident, data)
		if !ok {
			return
		}
		_ = s.chat.DMMessage(sess, env)
	}))
	d.Handle("message-update", s.requireAuth(func(sess ws.Session, ident models.Identity, data json.RawMessage) {
		var ref chat.MessageRef
		if json.Unmarshal(data, &ref) != nil {
			return
		}
		ref.UserID, ref.Username = ident.UserID, ident.Username
		_ = s.chat.UpdateMessage(sess, ref)
	}))
	d.Handle("message-delete", s.requireAuth(func(sess ws.Session, ident models.Identity, data json.RawMessage) {
		var ref chat.MessageRef
		if json.Unmarshal(data, &ref) != nil {
			return
		}
		ref.UserID, ref.Username = ident.UserID, ident.Username
		_ = s.chat.DeleteMessage(sess, ref)
	}))
	d.Handle("reaction-add", s.requireAuth(func(sess ws.Session, ident models.Identity, data json.RawMessage) {
		var re chat.Reaction
		if json.Unmarshal(data, &re) != nil {
			return
		}
		re.UserID, re.Username = ident.UserID, ident.Username
		_ = s.chat.ReactionAdd(sess, re)
	}))
	d.Handle("reaction-remove", s.requireAuth(func(sess ws.Session, ident models.Identity, data json.RawMessage) {
		var re chat.Reaction
		if json.Unmarshal(data, &re) != nil {
			return
		}
		re.UserID, re.Username = ident.UserID, ident.Username
		_ = s.chat.ReactionRemove(sess, re)
	}))
	d.Handle("pin-toggle", s.requireAuth(func(sess ws.Session, ident models.Identity, data json.RawMessage) {
		var p chat.Pin
		if json.Unmarshal(data, &p) != nil {
			return
		}
		p.UserID, p.Username = ident.UserID, ident.Username
		_ = s.chat.PinToggle(sess, p)
	}))
	d.Handle("typing-start", s.requireAuth(func(sess ws.Session, ident models.Identity, data json.RawMessage) {
		var ty chat.Typing
		if json.Unmarshal(data, &ty) != nil {
			return
		}
		ty.UserID, ty.Username = ident.UserID, ident.Username
		_ = s.chat.TypingStart(sess, ty)
	}))
	d.Handle("typing-stop", s.requireAuth(func(sess ws.Session, ident models.Identity, data json.RawMessage) {
		var ty chat.Typing
		if json.Unmarshal(data, &ty) != nil {
			return
		}
		ty.UserID, ty.Username = ident.UserID, ident.Username
		_ = s.chat.TypingStop(sess, ty)
	}))
	// DM 客户端发的是独立事件名，目标类型在这里钉死
	d.Handle("typing-start-dm", s.requireAuth(func(sess ws.Session, ident models.Identity, data json.RawMessage) {
		var ty chat.Typing
		if json.Unmarshal(data, &ty) != nil {
			return
		}
		ty.UserID, ty.Username = ident.UserID, ident.Username
		ty.TargetType = models.TargetDM
		_ = s.chat.TypingStart(sess, ty)
	}))
	d.Handle("typing-stop-dm", s.requireAuth(func(sess ws.Session, ident models.Identity, data json.RawMessage) {
		var ty chat.Typing
		if json.Unmarshal(data, &ty) != nil {
			return
		}
		ty.UserID, ty.Username = ident.UserID, ident.Username
		ty.TargetType = models.TargetDM
		_ = s.chat.TypingStop(sess, ty)
	}))

	// 外部持久化服务保存完消息后回推的确认，喂给 bot 的确认门
	d.Handle("message-saved", s.requireAuth(func(sess ws.Session, ident models.Identity, data json.RawMessage) {
		var p savedPayload
		if json.Unmarshal(data, &p) != nil || p.TempMessageID == "" || p.MessageID == "" {
			return
		}
		s.bot.ResolveSave(p.TempMessageID, p.MessageID)
	}))

	d.Handle("presence-update", s.requireAuth(func(sess ws.Session, ident models.Identity, data json.RawMessage) {
		var p presencePayload
		if json.Unmarshal(data, &p) != nil {
			return
		}
		status := p.Status
		switch status {
		case presence.StatusOnline, presence.StatusIdle, presence.StatusOffline:
		default:
			status = presence.StatusOnline
		}
		s.presence.Set(ident, status, p.Activity)
	}))

	d.Handle("voice-join", s.requireAuth(func(sess ws.Session, ident models.Identity, data json.RawMessage) {
		var p voicePayload
		if json.Unmarshal(data, &p) != nil || p.ChannelID == "" {
			return
		}
		s.hub.Join(sess, ws.VoiceRoom(p.ChannelID))
		s.voice.Join(models.VoiceParticipant{
			UserID:    ident.UserID,
			Username:  ident.Username,
			AvatarURL: p.AvatarURL,
			ChannelID: p.ChannelID,
			MeetingID: p.MeetingID,
		})
	}))
	d.Handle("voice-leave", s.requireAuth(func(sess ws.Session, ident models.Identity, data json.RawMessage) {
		var p voicePayload
		if json.Unmarshal(data, &p) != nil || p.ChannelID == "" {
			return
		}
		s.voice.Leave(ident.UserID, p.ChannelID)
		s.hub.Leave(sess, ws.VoiceRoom(p.ChannelID))
	}))

	d.Handle("tictactoe-join", s.requireAuth(func(sess ws.Session, ident models.Identity, data json.RawMessage) {
		var p gamePayload
		if json.Unmarshal(data, &p) != nil || p.ServerID == "" {
			return
		}
		s.game.Join(sess, p.ServerID)
	}))
	d.Handle("tictactoe-ready", s.requireAuth(func(sess ws.Session, ident models.Identity, data json.RawMessage) {
		var p gamePayload
		if json.Unmarshal(data, &p) != nil || p.ServerID == "" {
			return
		}
		_ = s.game.Ready(sess, p.ServerID)
	}))
	d.Handle("tictactoe-move", s.requireAuth(func(sess ws.Session, ident models.Identity, data json.RawMessage) {
		var p gamePayload
		if json.Unmarshal(data, &p) != nil || p.ServerID == "" {
			return
		}
		_ = s.game.Move(sess, p.ServerID, p.Position)
	}))
	d.Handle("tictactoe-leave", s.requireAuth(func(sess ws.Session, ident models.Identity, data json.RawMessage) {
		var p gamePayload
		if json.Unmarshal(data, &p) != nil || p.ServerID == "" {
			return
		}
		s.game.Leave(sess, p.ServerID)
	}))
	d.Handle("tictactoe-play-again", s.requireAuth(func(sess ws.Session, ident models.Identity, data json.RawMessage) {
		var p gamePayload
		if json.Unmarshal(data, &p) != nil || p.ServerID == "" {
			return
		}
		_ = s.game.PlayAgainRequest(sess, p.ServerID)
	}))
	d.Handle("tictactoe-play-again-response", s.requireAuth(func(sess ws.Session, ident models.Identity, data json.RawMessage) {
		var p gamePayload
		if json.Unmarshal(data, &p) != nil || p.ServerID == "" {
			return
		}
		_ = s.game.PlayAgainResponse(sess, p.ServerID, p.Accept)
	}))
}

// handleAuthenticate 接受 JWT 或显式身份载荷；失败只通知调用者本人。
func (s *SocketServer) handleAuthenticate(sess ws.Session, data json.RawMessage) {
	var p authPayload
	if err := json.Unmarshal(data, &p); err != nil {
		sess.Emit("auth-error", map[string]any{"message": "malformed auth payload"})
		return
	}

	var ident models.Identity
	switch {
	case p.Token != "":
		claims, err := auth.ParseSocketToken(p.Token, s.jwtSecret)
		if err != nil {
			log.Warn().Err(err).Str("conn_id", sess.ID()).Msg("socket auth rejected")
			sess.Emit("auth-error", map[string]any{"message": "invalid token"})
			return
		}
		ident = models.Identity{UserID: claims.UserID, Username: claims.Username}
	case p.UserID != "":
		ident = models.Identity{UserID: p.UserID, Username: p.Username}
	default:
		sess.Emit("auth-error", map[string]any{"message": "missing credentials"})
		return
	}
	s.bind(sess, ident)
}

func (s *SocketServer) bind(sess ws.Session, ident models.Identity) {
	sess.Bind(ident)
	s.hub.BindUser(sess)
	s.presence.Set(ident, presence.StatusOnline, "")
	sess.Emit("auth-success", map[string]any{
		"socket_id": sess.ID(),
		"user_id":   ident.UserID,
		"username":  ident.Username,
	})
	log.Info().Str("conn_id", sess.ID()).Str("user_id", ident.UserID).Msg("socket authenticated")
}

type authedHandler func(sess ws.Session, ident models.Identity, data json.RawMessage)

// requireAuth 把未认证连接挡在所有业务事件之外。
func (s *SocketServer) requireAuth(h authedHandler) ws.HandlerFunc {
	return func(sess ws.Session, data json.RawMessage) {
		ident, ok := sess.Identity()
		if !ok {
			sess.Emit("auth-error", map[string]any{"message": "authenticate first"})
			return
		}
		h(sess, ident, data)
	}
}

// decodeEnvelope 解析消息载荷并用连接身份覆盖声称的发送者。
func (s *SocketServer) decodeEnvelope(sess ws.Session, ident models.Identity, data json.RawMessage) (models.MessageEnvelope, bool) {
	var env models.MessageEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("conn_id", sess.ID()).Msg("malformed message payload")
		return env, false
	}
	env.UserID = ident.UserID
	env.Username = ident.Username
	env.Source = models.SourceClient
	return env, true
}
