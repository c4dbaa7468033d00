package models

import "time"

// Identity 表示绑定到一条 socket 连接上的用户身份。
type Identity struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// MessageEnvelope 是在途消息的规范化信封。本进程只持有消息的在途形态，
// 长期存储由外部 HTTP API 负责。
type MessageEnvelope struct {
	ID             string        `json:"id"`
	TempID         string        `json:"temp_message_id,omitempty"`
	UserID         string        `json:"user_id"`
	Username       string        `json:"username"`
	TargetType     string        `json:"target_type"` // "channel" 或 "dm"
	TargetID       string        `json:"target_id"`
	Content        string        `json:"content"`
	MessageType    string        `json:"message_type"`
	Attachments    []string      `json:"attachments,omitempty"`
	Mentions       []string      `json:"mentions,omitempty"`
	ReplyMessageID string        `json:"reply_message_id,omitempty"`
	SentAt         time.Time     `json:"sent_at"`
	Source         string        `json:"source"` // "client" 或 "bot"，用于防回声
	IsTemporary    bool          `json:"is_temporary,omitempty"`
	MusicData      *MusicCommand `json:"music_data,omitempty"`
	VoiceContext   *VoiceContext `json:"voice_context,omitempty"`
}

const (
	TargetChannel = "channel"
	TargetDM      = "dm"

	SourceClient = "client"
	SourceBot    = "bot"
)

// VoiceContext 表示消息发送者当前所处的语音频道，由客户端附带。
type VoiceContext struct {
	ChannelID string `json:"channel_id"`
	MeetingID string `json:"meeting_id"`
}

// VoiceParticipant 是语音频道实时名册里的一个成员（真人或 bot）。
type VoiceParticipant struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	AvatarURL string    `json:"avatar_url"`
	IsBot     bool      `json:"is_bot"`
	ChannelID string    `json:"channel_id"`
	MeetingID string    `json:"meeting_id"`
	JoinedAt  time.Time `json:"joined_at"`
	Status    string    `json:"status,omitempty"`
}

// Track 是音乐队列中的一条曲目。
type Track struct {
	Title      string    `json:"title"`
	Artist     string    `json:"artist"`
	PreviewURL string    `json:"preview_url"`
	AddedAt    time.Time `json:"added_at"`
	Playing    bool      `json:"playing"`
}

// MusicCommand 随 bot-music-command 事件广播给语音房间的全部成员。
type MusicCommand struct {
	Action string `json:"action"` // play / stop / next / prev
	Query  string `json:"query,omitempty"`
	Track  *Track `json:"track,omitempty"`
}

// Presence 是用户的在线状态，变化时全站广播。
type Presence struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Status    string    `json:"status"` // online / idle / offline
	Activity  string    `json:"activity,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
