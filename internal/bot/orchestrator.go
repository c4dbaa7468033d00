package bot

import (
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/MarvelCollin/MisVord-sub009/internal/metrics"
	"github.com/MarvelCollin/MisVord-sub009/internal/models"
	"github.com/MarvelCollin/MisVord-sub009/internal/music"
	"github.com/MarvelCollin/MisVord-sub009/internal/voice"
	"github.com/MarvelCollin/MisVord-sub009/internal/ws"
)

// Searcher 查曲目元数据，生产实现是 music.Client。
type Searcher interface {
	Search(query string) (*models.Track, error)
}

// Saver 持久化 bot 消息，生产实现是 ChatAPI。
type Saver interface {
	SaveBotMessage(env models.MessageEnvelope) (*SavedMessage, error)
}

// Orchestrator 把聊天消息流变成 bot 行为：识别命令、去重、
// 等触发消息的持久化确认，然后执行音乐/问答动作并走两阶段回复。
// 每条识别出的命令恰好产生一条可见回复，bot 绝不沉默。
type Orchestrator struct {
	hub     *ws.Hub
	tracker *voice.Tracker
	queues  *QueueStore
	recent  *RecentSet
	waiters *SaveWaiters
	search  Searcher
	saver   Saver

	identity       models.Identity
	avatarURL      string
	prefix         string
	confirmTimeout time.Duration
	session        *ws.VirtualSession
}

func NewOrchestrator(hub *ws.Hub, tracker *voice.Tracker, search Searcher, saver Saver,
	identity models.Identity, avatarURL, prefix string, confirmTimeout time.Duration) *Orchestrator {
	return &Orchestrator{
		hub:            hub,
		tracker:        tracker,
		queues:         NewQueueStore(),
		recent:         NewRecentSet(200),
		waiters:        NewSaveWaiters(),
		search:         search,
		saver:          saver,
		identity:       identity,
		avatarURL:      avatarURL,
		prefix:         prefix,
		confirmTimeout: confirmTimeout,
		session:        ws.NewVirtualSession("bot-"+identity.UserID, identity),
	}
}

// Intercept 挂在消息路由之后：广播先行，bot 处理不阻塞投递。
// 去重在入口同步完成，重复投递不会起第二个处理协程。
func (o *Orchestrator) Intercept(env models.MessageEnvelope) {
	if env.UserID == o.identity.UserID || env.Source == models.SourceBot {
		return
	}
	cmd, ok := ParseCommand(o.prefix, env.Content)
	if !ok {
		return
	}
	if o.recent.Seen(dedupKey(env)) {
		log.Debug().Str("user_id", env.UserID).Str("verb", cmd.Verb).Msg("duplicate bot command dropped")
		return
	}
	metrics.BotCommandsTotal.WithLabelValues(cmd.Verb).Inc()
	go o.process(env, cmd)
}

// ResolveSave 由 message-saved 入站事件调用，叫醒等确认的回复协程。
func (o *Orchestrator) ResolveSave(tempID, durableID string) {
	o.waiters.Resolve(tempID, durableID)
}

func (o *Orchestrator) process(env models.MessageEnvelope, cmd Command) {
	replyTo := o.resolveReplyTo(env)

	var vc models.VoiceContext
	if needsVoice(cmd.Verb) {
		ctx, ok := o.voiceChannel(env, cmd.Verb)
		if !ok {
			o.reply(env, replyTo, "You need to be in a voice channel to control music.", nil, "")
			return
		}
		vc = ctx
	}

	switch cmd.Verb {
	case "ping":
		o.reply(env, replyTo, "Pong! 🏓", nil, "")
	case "help":
		o.reply(env, replyTo, helpText(o.prefix), nil, "")
	case "play":
		o.handlePlay(env, cmd, replyTo, vc)
	case "stop":
		o.handleStop(env, replyTo, vc)
	case "next":
		o.handleStep(env, replyTo, vc, "next")
	case "prev":
		o.handleStep(env, replyTo, vc, "prev")
	case "queue":
		o.handleQueue(env, cmd, replyTo, vc)
	case "list":
		o.handleList(env, replyTo, vc)
	}
}

// resolveReplyTo 实现持久化确认门：触发消息还只有临时 id 时，
// 等它的持久 id 一小段时间，超时就拿手头最好的标识继续。
func (o *Orchestrator) resolveReplyTo(env models.MessageEnvelope) string {
	if env.TempID == "" || (env.ID != "" && env.ID != env.TempID) {
		return env.ID
	}
	if durable, ok := o.waiters.Wait(env.TempID, o.confirmTimeout); ok {
		return durable
	}
	log.Debug().Str("temp_message_id", env.TempID).Msg("save confirmation timed out, replying with temp id")
	return env.ID
}

// voiceChannel 取消息附带的语音上下文；stop 额外允许退回 bot 当前停靠的频道。
func (o *Orchestrator) voiceChannel(env models.MessageEnvelope, verb string) (models.VoiceContext, bool) {
	if env.VoiceContext != nil && env.VoiceContext.ChannelID != "" {
		return *env.VoiceContext, true
	}
	if verb == "stop" {
		if ch, ok := o.tracker.UserChannel(o.identity.UserID); ok {
			return models.VoiceContext{ChannelID: ch}, true
		}
	}
	return models.VoiceContext{}, false
}

func (o *Orchestrator) handlePlay(env models.MessageEnvelope, cmd Command, replyTo string, vc models.VoiceContext) {
	if cmd.Arg == "" {
		o.reply(env, replyTo, "Tell me what to play: "+o.prefix+" play <song>", nil, "")
		return
	}
	o.ensureVoicePresence(vc)
	track, err := o.search.Search(cmd.Arg)
	if err != nil {
		if !errors.Is(err, music.ErrNoResult) {
			log.Warn().Err(err).Str("query", cmd.Arg).Msg("music search failed")
		}
		o.reply(env, replyTo, "Couldn't find anything for \""+cmd.Arg+"\".", nil, "")
		return
	}
	o.queues.PlayNow(vc.ChannelID, *track)
	o.reply(env, replyTo, "🎵 Now playing: "+track.Title+" — "+track.Artist,
		&models.MusicCommand{Action: "play", Query: cmd.Arg, Track: track}, vc.ChannelID)
}

func (o *Orchestrator) handleStop(env models.MessageEnvelope, replyTo string, vc models.VoiceContext) {
	o.queues.Clear(vc.ChannelID)
	o.reply(env, replyTo, "⏹️ Stopped the music and cleared the queue.",
		&models.MusicCommand{Action: "stop"}, vc.ChannelID)
	o.leaveVoice(vc.ChannelID)
}

func (o *Orchestrator) handleStep(env models.MessageEnvelope, replyTo string, vc models.VoiceContext, action string) {
	var track models.Track
	var err error
	if action == "next" {
		track, err = o.queues.Next(vc.ChannelID)
	} else {
		track, err = o.queues.Prev(vc.ChannelID)
	}
	switch {
	case errors.Is(err, ErrQueueEmpty):
		o.reply(env, replyTo, "The queue is empty. Try "+o.prefix+" play <song> first.", nil, "")
	case errors.Is(err, ErrQueueEdge):
		if action == "next" {
			o.reply(env, replyTo, "Already at the end of the queue.", nil, "")
		} else {
			o.reply(env, replyTo, "Already at the start of the queue.", nil, "")
		}
	default:
		o.reply(env, replyTo, "🎵 Now playing: "+track.Title+" — "+track.Artist,
			&models.MusicCommand{Action: action, Track: &track}, vc.ChannelID)
	}
}

func (o *Orchestrator) handleQueue(env models.MessageEnvelope, cmd Command, replyTo string, vc models.VoiceContext) {
	if cmd.Arg == "" {
		o.reply(env, replyTo, "Tell me what to queue: "+o.prefix+" queue <song>", nil, "")
		return
	}
	track, err := o.search.Search(cmd.Arg)
	if err != nil {
		o.reply(env, replyTo, "Couldn't find anything for \""+cmd.Arg+"\".", nil, "")
		return
	}
	o.queues.Append(vc.ChannelID, *track)
	o.reply(env, replyTo, "➕ Queued: "+track.Title+" — "+track.Artist, nil, "")
}

func (o *Orchestrator) handleList(env models.MessageEnvelope, replyTo string, vc models.VoiceContext) {
	tracks := o.queues.List(vc.ChannelID)
	if len(tracks) == 0 {
		o.reply(env, replyTo, "The queue is empty. Use "+o.prefix+" play <song> or "+o.prefix+" queue <song>.", nil, "")
		return
	}
	body := "🎶 Queue:"
	for i, t := range tracks {
		marker := "  "
		if t.Playing {
			marker = "▶ "
		}
		body += "\n" + marker + strconv.Itoa(i+1) + ". " + t.Title + " — " + t.Artist
	}
	o.reply(env, replyTo, body, nil, "")
}

// ensureVoicePresence 让 bot 在目标频道有名册记录：已在则幂等跳过，
// 停靠在别的频道则先走完整离开流程再加入。
func (o *Orchestrator) ensureVoicePresence(vc models.VoiceContext) {
	current, ok := o.tracker.UserChannel(o.identity.UserID)
	if ok && current == vc.ChannelID {
		return
	}
	if ok {
		o.leaveVoice(current)
	}
	o.hub.Join(o.session, ws.VoiceRoom(vc.ChannelID))
	o.tracker.Join(models.VoiceParticipant{
		UserID:    o.identity.UserID,
		Username:  o.identity.Username,
		AvatarURL: o.avatarURL,
		IsBot:     true,
		ChannelID: vc.ChannelID,
		MeetingID: vc.MeetingID,
	})
}

func (o *Orchestrator) leaveVoice(channelID string) {
	o.tracker.Leave(o.identity.UserID, channelID)
	o.hub.Leave(o.session, ws.VoiceRoom(channelID))
}

// reply 是两阶段回复：先广播临时消息让所有端立即看到，再持久化；
// 成功补发 message_id_updated 纠正 id，失败补发 message_save_failed。
// 音乐动作同时向语音房间广播播放指令。
func (o *Orchestrator) reply(orig models.MessageEnvelope, replyTo, content string, cmd *models.MusicCommand, voiceChannelID string) {
	tempID := "temp-bot-" + uuid.NewString()
	msg := models.MessageEnvelope{
		ID:             tempID,
		TempID:         tempID,
		UserID:         o.identity.UserID,
		Username:       o.identity.Username,
		TargetType:     orig.TargetType,
		TargetID:       orig.TargetID,
		Content:        content,
		MessageType:    "bot",
		ReplyMessageID: replyTo,
		SentAt:         time.Now(),
		Source:         models.SourceBot,
		IsTemporary:    true,
		MusicData:      cmd,
	}

	room, event := replyRoute(orig)
	o.hub.Broadcast(room, event, msg)

	if cmd != nil && voiceChannelID != "" {
		o.hub.Broadcast(ws.VoiceRoom(voiceChannelID), "bot-music-command", map[string]any{
			"channel_id": voiceChannelID,
			"room_id":    orig.TargetID,
			"music_data": cmd,
		})
	}

	saved, err := o.saver.SaveBotMessage(msg)
	if err != nil {
		log.Error().Err(err).Str("temp_message_id", tempID).Msg("bot message persistence failed")
		o.hub.Broadcast(room, "message_save_failed", map[string]any{"temp_message_id": tempID})
		return
	}

	confirmed := msg
	confirmed.ID = saved.ID
	confirmed.IsTemporary = false
	if !saved.SentAt.IsZero() {
		confirmed.SentAt = saved.SentAt
	}
	o.hub.Broadcast(room, "message_id_updated", map[string]any{
		"temp_message_id": tempID,
		"message_id":      saved.ID,
		"message":         confirmed,
		"music_data":      cmd,
	})
}

func replyRoute(orig models.MessageEnvelope) (room, event string) {
	if orig.TargetType == models.TargetDM {
		return ws.DMRoom(orig.TargetID), "user-message-dm"
	}
	return ws.ChannelRoom(orig.TargetID), "new-channel-message"
}

func helpText(prefix string) string {
	return "🤖 Commands:\n" +
		prefix + " ping — check that I'm alive\n" +
		prefix + " play <song> — play a song in your voice channel\n" +
		prefix + " queue <song> — add a song to the queue\n" +
		prefix + " next / " + prefix + " prev — move through the queue\n" +
		prefix + " list — show the queue\n" +
		prefix + " stop — stop music and clear the queue"
}
