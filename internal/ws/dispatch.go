package ws

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/MarvelCollin/MisVord-sub009/internal/metrics"
)

// HandlerFunc 处理一个入站 socket 事件，data 为原始 JSON 载荷。
type HandlerFunc func(s Session, data json.RawMessage)

// Dispatcher 是按事件名索引的分发表。处理器在启动期注册一次，
// 之后只读，因此分发路径无需加锁。
type Dispatcher struct {
	handlers map[string]HandlerFunc
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]HandlerFunc)}
}

// Handle 注册事件处理器；重复注册同名事件视为编程错误。
func (d *Dispatcher) Handle(event string, h HandlerFunc) {
	if _, ok := d.handlers[event]; ok {
		panic("ws: duplicate handler for event " + event)
	}
	d.handlers[event] = h
}

func (d *Dispatcher) Dispatch(s Session, event string, data json.RawMessage) {
	h, ok := d.handlers[event]
	if !ok {
		log.Debug().Str("event", event).Str("conn_id", s.ID()).Msg("unknown socket event")
		return
	}
	metrics.SocketEventsTotal.WithLabelValues(event).Inc()
	h(s, data)
}
