package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/MarvelCollin/MisVord-sub009/internal/auth"
	"github.com/MarvelCollin/MisVord-sub009/internal/metrics"
	"github.com/MarvelCollin/MisVord-sub009/internal/models"
	"github.com/MarvelCollin/MisVord-sub009/internal/mw"
)

// Client 是一条真实的 WebSocket 连接。send 永不 close：关闭流程只
// close(done)，让 writePump 自行退出，这样广播协程在任何交错下
// 都不会往已关闭的 channel 写。
type Client struct {
	id         string
	conn       *websocket.Conn
	send       chan []byte
	done       chan struct{}
	hub        *Hub
	dispatcher *Dispatcher
	events     *mw.RL
	limiter    *rate.Limiter

	mu     sync.RWMutex
	ident  models.Identity
	authed bool
	state  map[string]any

	closeOnce sync.Once
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type inboundEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type outboundEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func newClient(conn *websocket.Conn, hub *Hub, d *Dispatcher, events *mw.RL) *Client {
	id := uuid.NewString()
	return &Client{
		id:         id,
		conn:       conn,
		send:       make(chan []byte, 256),
		done:       make(chan struct{}),
		hub:        hub,
		dispatcher: d,
		events:     events,
		limiter:    events.Get(id),
		state:      make(map[string]any),
	}
}

func (c *Client) ID() string { return c.id }

func (c *Client) Identity() (models.Identity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ident, c.authed
}

func (c *Client) Bind(ident models.Identity) {
	c.mu.Lock()
	c.ident = ident
	c.authed = true
	c.mu.Unlock()
}

// Emit 序列化事件并写入发送缓冲；缓冲满说明客户端消费过慢，丢弃该帧。
// 连接已进入关闭流程时同样丢弃：广播方拿到的成员快照可能晚于断连。
func (c *Client) Emit(event string, data any) {
	b, err := json.Marshal(outboundEvent{Event: event, Data: data})
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("marshal outbound event")
		return
	}
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- b:
	default:
		log.Warn().Str("conn_id", c.id).Str("event", event).Msg("send buffer full, dropping frame")
	}
}

func (c *Client) Set(key string, value any) {
	c.mu.Lock()
	c.state[key] = value
	c.mu.Unlock()
}

func (c *Client) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.state[key]
	return v, ok
}

func (c *Client) Delete(key string) {
	c.mu.Lock()
	delete(c.state, key)
	c.mu.Unlock()
}

// Serve 升级 HTTP 连接为 WebSocket 并启动读写循环。
// 握手时携带合法 JWT 的连接在注册后立即走 onConnect 预绑定身份。
// events 按连接 ID 限制入站帧速，连接断开时释放对应条目。
func Serve(h *Hub, d *Dispatcher, secret string, events *mw.RL, onConnect func(Session, *auth.Claims)) gin.HandlerFunc {
	return func(c *gin.Context) {
		var claims *auth.Claims
		if token := auth.BearerToken(c.GetHeader("Authorization"), c.Query("token")); token != "" {
			parsed, err := auth.ParseSocketToken(token, secret)
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				return
			}
			claims = parsed
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		client := newClient(conn, h, d, events)
		h.Register(client)
		metrics.WsConnections.Inc()

		if onConnect != nil {
			onConnect(client, claims)
		}

		go client.writePump()
		client.readPump()
	}
}

// shutdown 把连接摘出 Hub 并通知 writePump 退出。幂等。
func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		c.hub.Unregister(c)
		c.events.Forget(c.id)
		metrics.WsConnections.Dec()
		close(c.done)
	})
}

func (c *Client) readPump() {
	defer func() {
		c.shutdown()
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(1 << 20) // 1MB
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		if !c.limiter.Allow() {
			log.Warn().Str("conn_id", c.id).Msg("inbound event rate limited")
			continue
		}
		var in inboundEvent
		if err := json.Unmarshal(data, &in); err != nil || in.Event == "" {
			continue
		}
		c.dispatcher.Dispatch(c, in.Event, in.Data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			_ = w.Close()
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
