package bot

import (
	"sync"

	"github.com/MarvelCollin/MisVord-sub009/internal/models"
)

// RecentSet 是有界的已处理消息集合：容量固定，先进先出淘汰。
// 重试或重复投递的同一条消息只会触发一次 bot 回复。
type RecentSet struct {
	mu    sync.Mutex
	cap   int
	order []string
	seen  map[string]struct{}
}

func NewRecentSet(capacity int) *RecentSet {
	if capacity <= 0 {
		capacity = 200
	}
	return &RecentSet{cap: capacity, seen: make(map[string]struct{})}
}

// Seen 检查并登记：已见过返回 true，未见过则记录并返回 false。
func (r *RecentSet) Seen(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seen[key]; ok {
		return true
	}
	r.seen[key] = struct{}{}
	r.order = append(r.order, key)
	if len(r.order) > r.cap {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.seen, oldest)
	}
	return false
}

// Len 返回当前集合大小。
func (r *RecentSet) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// dedupKey 优先用持久 id，缺失时退化为作者+目标+内容的组合键。
func dedupKey(env models.MessageEnvelope) string {
	if env.ID != "" && env.ID != env.TempID {
		return env.ID
	}
	if env.TempID != "" {
		return env.TempID
	}
	return env.UserID + "|" + env.TargetType + "|" + env.TargetID + "|" + env.Content
}
