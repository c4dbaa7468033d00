package bot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/MarvelCollin/MisVord-sub009/internal/models"
)

// DefaultAvatarURL 是身份端点不可用时 bot 使用的兜底头像。
const DefaultAvatarURL = "/assets/bot-default.png"

// SavedMessage 是持久化 API 返回的持久消息标识。
type SavedMessage struct {
	ID     string    `json:"id"`
	SentAt time.Time `json:"sent_at"`
}

// ChatAPI 调用外部持久化服务。保存失败是硬失败，由调用方广播
// message_save_failed；身份查询失败只降级为默认头像。
type ChatAPI struct {
	httpClient *http.Client
	baseURL    string
}

func NewChatAPI(baseURL string, timeout time.Duration) *ChatAPI {
	return &ChatAPI{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
	}
}

type saveRequest struct {
	UserID         string   `json:"user_id"`
	TargetType     string   `json:"target_type"`
	TargetID       string   `json:"target_id"`
	Content        string   `json:"content"`
	MessageType    string   `json:"message_type"`
	Attachments    []string `json:"attachments,omitempty"`
	Mentions       []string `json:"mentions,omitempty"`
	ReplyMessageID string   `json:"reply_message_id,omitempty"`
	TempMessageID  string   `json:"temp_message_id"`
}

// SaveBotMessage 持久化一条 bot 消息，返回持久 id 与权威时间戳。
func (c *ChatAPI) SaveBotMessage(env models.MessageEnvelope) (*SavedMessage, error) {
	body, err := json.Marshal(saveRequest{
		UserID:         env.UserID,
		TargetType:     env.TargetType,
		TargetID:       env.TargetID,
		Content:        env.Content,
		MessageType:    env.MessageType,
		Attachments:    env.Attachments,
		Mentions:       env.Mentions,
		ReplyMessageID: env.ReplyMessageID,
		TempMessageID:  env.TempID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal save request: %w", err)
	}

	resp, err := c.httpClient.Post(c.baseURL+"/chat/save-bot-message", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("save bot message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("save bot message: status %d", resp.StatusCode)
	}

	var out struct {
		SavedMessage
		Message *SavedMessage `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode save response: %w", err)
	}
	saved := out.SavedMessage
	if saved.ID == "" && out.Message != nil {
		saved = *out.Message
	}
	if saved.ID == "" {
		return nil, fmt.Errorf("save bot message: response missing id")
	}
	return &saved, nil
}

// BotAvatar 查询 bot 的展示头像，任何失败都退回默认头像。
func (c *ChatAPI) BotAvatar(username string) string {
	resp, err := c.httpClient.Get(c.baseURL + "/bot/user/" + username)
	if err != nil {
		log.Warn().Err(err).Msg("bot avatar lookup failed, using default")
		return DefaultAvatarURL
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return DefaultAvatarURL
	}
	var out struct {
		Bot struct {
			AvatarURL string `json:"avatar_url"`
		} `json:"bot"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.Bot.AvatarURL == "" {
		return DefaultAvatarURL
	}
	return out.Bot.AvatarURL
}
