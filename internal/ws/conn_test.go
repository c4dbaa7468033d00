package ws

import (
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/MarvelCollin/MisVord-sub009/internal/mw"
)

func testEventLimiter() *mw.RL {
	return mw.NewRateLimiter(rate.Every(time.Second/25), 50, time.Minute)
}

// 广播方持有的成员快照可能晚于断连完成，此时 Emit 必须静默丢帧。
func TestEmit_AfterDisconnectDropsFrame(t *testing.T) {
	h := NewHub()
	c := newClient(nil, h, NewDispatcher(), testEventLimiter())
	h.Register(c)
	h.Join(c, ChannelRoom("c1"))

	// 先取快照，再走完整关闭流程，最后才投递
	sessions := h.Sessions(ChannelRoom("c1"))
	c.shutdown()

	for _, s := range sessions {
		s.Emit("new-channel-message", map[string]any{"content": "late"})
	}

	if n := len(c.send); n != 0 {
		t.Errorf("%d frames buffered after shutdown, want 0", n)
	}
	if h.InRoom(c, ChannelRoom("c1")) {
		t.Error("client still in room after shutdown")
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	h := NewHub()
	c := newClient(nil, h, NewDispatcher(), testEventLimiter())
	h.Register(c)

	c.shutdown()
	c.shutdown() // 读写泵和 Hub 钩子可能各触发一次
}

func TestEmit_BeforeShutdownStillBuffers(t *testing.T) {
	h := NewHub()
	c := newClient(nil, h, NewDispatcher(), testEventLimiter())
	h.Register(c)

	c.Emit("auth-success", map[string]any{"socket_id": c.ID()})
	if n := len(c.send); n != 1 {
		t.Errorf("%d frames buffered, want 1", n)
	}
}
