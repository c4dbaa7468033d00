package chat

import (
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/MarvelCollin/MisVord-sub009/internal/models"
	"github.com/MarvelCollin/MisVord-sub009/internal/ws"
)

// 校验失败的事件直接丢弃并记日志，绝不部分广播。
var (
	ErrMissingTarget  = errors.New("missing target")
	ErrMissingContent = errors.New("missing content")
	ErrMissingUser    = errors.New("missing user")
	ErrMissingMessage = errors.New("missing message id")
	ErrMissingEmoji   = errors.New("missing emoji")
	ErrUnknownTarget  = errors.New("unknown target type")
)

// Router 校验入站聊天事件并按回声规则转发规范化信封：
// 消息类事件广播给整个房间（含发送者，作为权威确认）；
// reaction/pin/typing 只发给发送者以外的成员（发送者本地已应用）。
type Router struct {
	hub          *ws.Hub
	interceptors []func(models.MessageEnvelope)
}

func NewRouter(hub *ws.Hub) *Router {
	return &Router{hub: hub}
}

// Intercept 注册消息拦截器（bot 管道），启动期调用一次。
func (r *Router) Intercept(fn func(models.MessageEnvelope)) {
	r.interceptors = append(r.interceptors, fn)
}

// Reaction 是 reaction-add / reaction-remove 的载荷。
type Reaction struct {
	MessageID  string `json:"message_id"`
	Emoji      string `json:"emoji"`
	TargetType string `json:"target_type"`
	TargetID   string `json:"target_id"`
	UserID     string `json:"user_id"`
	Username   string `json:"username"`
}

// Pin 是 pin-toggle 的载荷。
type Pin struct {
	MessageID  string `json:"message_id"`
	TargetType string `json:"target_type"`
	TargetID   string `json:"target_id"`
	Pinned     bool   `json:"pinned"`
	UserID     string `json:"user_id"`
	Username   string `json:"username"`
}

// Typing 指示器即发即弃：无确认、无持久化，stop 也只是一次普通广播。
type Typing struct {
	TargetType string `json:"target_type"`
	TargetID   string `json:"target_id"`
	UserID     string `json:"user_id"`
	Username   string `json:"username"`
}

// MessageRef 是 message-update / message-delete 的载荷。
type MessageRef struct {
	MessageID  string `json:"message_id"`
	TargetType string `json:"target_type"`
	TargetID   string `json:"target_id"`
	Content    string `json:"content,omitempty"`
	UserID     string `json:"user_id"`
	Username   string `json:"username"`
}

func targetRoom(targetType, targetID string) (string, error) {
	switch targetType {
	case models.TargetChannel:
		return ws.ChannelRoom(targetID), nil
	case models.TargetDM:
		return ws.DMRoom(targetID), nil
	default:
		return "", ErrUnknownTarget
	}
}

func (r *Router) validateEnvelope(env models.MessageEnvelope) error {
	if env.TargetID == "" {
		return ErrMissingTarget
	}
	if env.Content == "" {
		return ErrMissingContent
	}
	if env.UserID == "" {
		return ErrMissingUser
	}
	return nil
}

// normalize 产出固定字段集的信封，不透传任意客户端字段。
func normalize(env models.MessageEnvelope, targetType string) models.MessageEnvelope {
	out := models.MessageEnvelope{
		ID:             env.ID,
		TempID:         env.TempID,
		UserID:         env.UserID,
		Username:       env.Username,
		TargetType:     targetType,
		TargetID:       env.TargetID,
		Content:        env.Content,
		MessageType:    env.MessageType,
		Attachments:    env.Attachments,
		Mentions:       env.Mentions,
		ReplyMessageID: env.ReplyMessageID,
		SentAt:         env.SentAt,
		Source:         env.Source,
		IsTemporary:    env.IsTemporary,
		MusicData:      env.MusicData,
		VoiceContext:   env.VoiceContext,
	}
	if out.MessageType == "" {
		out.MessageType = "text"
	}
	if out.Source == "" {
		out.Source = models.SourceClient
	}
	if out.SentAt.IsZero() {
		out.SentAt = time.Now()
	}
	if out.ID == "" {
		out.ID = out.TempID
	}
	return out
}

// ChannelMessage 广播频道消息（含发送者）并交给拦截器。
func (r *Router) ChannelMessage(s ws.Session, env models.MessageEnvelope) error {
	if err := r.validateEnvelope(env); err != nil {
		log.Warn().Err(err).Str("conn_id", s.ID()).Msg("drop invalid channel message")
		return err
	}
	out := normalize(env, models.TargetChannel)
	r.hub.Broadcast(ws.ChannelRoom(out.TargetID), "new-channel-message", out)
	r.runInterceptors(out)
	return nil
}

// DMMessage 广播私聊消息（含发送者）并交给拦截器。
func (r *Router) DMMessage(s ws.Session, env models.MessageEnvelope) error {
	if err := r.validateEnvelope(env); err != nil {
		log.Warn().Err(err).Str("conn_id", s.ID()).Msg("drop invalid dm message")
		return err
	}
	out := normalize(env, models.TargetDM)
	r.hub.Broadcast(ws.DMRoom(out.TargetID), "user-message-dm", out)
	r.runInterceptors(out)
	return nil
}

// UpdateMessage 广播消息编辑，含发送者，让乐观 UI 收到权威版本。
func (r *Router) UpdateMessage(s ws.Session, ref MessageRef) error {
	if err := validateRef(ref); err != nil {
		log.Warn().Err(err).Str("conn_id", s.ID()).Msg("drop invalid message update")
		return err
	}
	room, err := targetRoom(ref.TargetType, ref.TargetID)
	if err != nil {
		return err
	}
	r.hub.Broadcast(room, "message-updated", ref)
	return nil
}

// DeleteMessage 广播消息删除，含发送者。
func (r *Router) DeleteMessage(s ws.Session, ref MessageRef) error {
	if err := validateRef(ref); err != nil {
		log.Warn().Err(err).Str("conn_id", s.ID()).Msg("drop invalid message delete")
		return err
	}
	room, err := targetRoom(ref.TargetType, ref.TargetID)
	if err != nil {
		return err
	}
	r.hub.Broadcast(room, "message-deleted", ref)
	return nil
}

// ReactionAdd / ReactionRemove 只发给发送者以外的成员。
func (r *Router) ReactionAdd(s ws.Session, re Reaction) error {
	return r.reaction(s, re, "reaction-added")
}

func (r *Router) ReactionRemove(s ws.Session, re Reaction) error {
	return r.reaction(s, re, "reaction-removed")
}

func (r *Router) reaction(s ws.Session, re Reaction, event string) error {
	if re.MessageID == "" {
		return ErrMissingMessage
	}
	if re.Emoji == "" {
		return ErrMissingEmoji
	}
	room, err := targetRoom(re.TargetType, re.TargetID)
	if err != nil {
		log.Warn().Err(err).Str("conn_id", s.ID()).Msg("drop invalid reaction")
		return err
	}
	r.hub.BroadcastExcept(room, s.ID(), event, re)
	return nil
}

// PinToggle 只发给发送者以外的成员。
func (r *Router) PinToggle(s ws.Session, p Pin) error {
	if p.MessageID == "" {
		return ErrMissingMessage
	}
	room, err := targetRoom(p.TargetType, p.TargetID)
	if err != nil {
		log.Warn().Err(err).Str("conn_id", s.ID()).Msg("drop invalid pin toggle")
		return err
	}
	r.hub.BroadcastExcept(room, s.ID(), "pin-updated", p)
	return nil
}

// TypingStart / TypingStop 即发即弃，不发给发送者本人。
func (r *Router) TypingStart(s ws.Session, ty Typing) error {
	return r.typing(s, ty, "user-typing", "user-typing-dm")
}

func (r *Router) TypingStop(s ws.Session, ty Typing) error {
	return r.typing(s, ty, "user-stop-typing", "user-stop-typing-dm")
}

func (r *Router) typing(s ws.Session, ty Typing, channelEvent, dmEvent string) error {
	if ty.UserID == "" {
		return ErrMissingUser
	}
	room, err := targetRoom(ty.TargetType, ty.TargetID)
	if err != nil {
		return err
	}
	event := channelEvent
	if ty.TargetType == models.TargetDM {
		event = dmEvent
	}
	r.hub.BroadcastExcept(room, s.ID(), event, ty)
	return nil
}

func validateRef(ref MessageRef) error {
	if ref.MessageID == "" {
		return ErrMissingMessage
	}
	if ref.UserID == "" {
		return ErrMissingUser
	}
	if ref.TargetID == "" {
		return ErrMissingTarget
	}
	return nil
}

func (r *Router) runInterceptors(env models.MessageEnvelope) {
	for _, fn := range r.interceptors {
		fn(env)
	}
}
