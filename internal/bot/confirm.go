package bot

import (
	"sync"
	"time"
)

// SaveWaiters 把“等持久化确认”做成一次性信道：bot 想回复某条触发消息时
// 先等它的持久 id 落地，message-saved 事件到达时由 Resolve 叫醒。
// 超时后等待方拿手头最好的标识继续，迟到的确认直接丢弃。
type SaveWaiters struct {
	mu      sync.Mutex
	waiters map[string]chan string
}

func NewSaveWaiters() *SaveWaiters {
	return &SaveWaiters{waiters: make(map[string]chan string)}
}

// Wait 阻塞直到 tempID 对应的持久 id 到达或超时。
// 第二个返回值指示确认是否在期限内到达。
func (w *SaveWaiters) Wait(tempID string, timeout time.Duration) (string, bool) {
	ch := make(chan string, 1)
	w.mu.Lock()
	w.waiters[tempID] = ch
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		delete(w.waiters, tempID)
		w.mu.Unlock()
	}()

	select {
	case durable := <-ch:
		return durable, true
	case <-time.After(timeout):
		return "", false
	}
}

// Resolve 投递持久 id，没有等待方时是空操作。
func (w *SaveWaiters) Resolve(tempID, durableID string) {
	w.mu.Lock()
	ch, ok := w.waiters[tempID]
	w.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- durableID:
	default:
	}
}
