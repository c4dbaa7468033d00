package bot

import (
	"errors"
	"sync"

	"github.com/MarvelCollin/MisVord-sub009/internal/models"
)

var (
	ErrQueueEmpty = errors.New("queue is empty")
	ErrQueueEdge  = errors.New("already at the edge of the queue")
)

type queue struct {
	tracks  []models.Track
	current int // -1 表示没有曲目在播
}

// QueueStore 按语音频道维护音乐队列，首次 play/queue 时惰性创建，
// stop 时整体清空。任何时刻至多一条曲目处于“在播”状态。
type QueueStore struct {
	mu    sync.Mutex
	rooms map[string]*queue
}

func NewQueueStore() *QueueStore {
	return &QueueStore{rooms: make(map[string]*queue)}
}

func (qs *QueueStore) room(id string) *queue {
	q, ok := qs.rooms[id]
	if !ok {
		q = &queue{current: -1}
		qs.rooms[id] = q
	}
	return q
}

// PlayNow 把曲目插到队首并标记在播，旧的在播标记随之失效。
func (qs *QueueStore) PlayNow(roomID string, t models.Track) {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	q := qs.room(roomID)
	q.tracks = append([]models.Track{t}, q.tracks...)
	q.current = 0
}

// Append 追加到队尾，不改变在播指针。
func (qs *QueueStore) Append(roomID string, t models.Track) {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	q := qs.room(roomID)
	q.tracks = append(q.tracks, t)
}

// Next 将在播指针前移一位，到队尾则夹住不回绕。
func (qs *QueueStore) Next(roomID string) (models.Track, error) {
	return qs.step(roomID, +1)
}

// Prev 将在播指针后退一位，到队首则夹住不回绕。
func (qs *QueueStore) Prev(roomID string) (models.Track, error) {
	return qs.step(roomID, -1)
}

func (qs *QueueStore) step(roomID string, delta int) (models.Track, error) {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	q, ok := qs.rooms[roomID]
	if !ok || len(q.tracks) == 0 {
		return models.Track{}, ErrQueueEmpty
	}
	next := q.current + delta
	if next < 0 || next >= len(q.tracks) {
		return models.Track{}, ErrQueueEdge
	}
	q.current = next
	return q.tracks[next], nil
}

// Current 返回在播曲目。
func (qs *QueueStore) Current(roomID string) (models.Track, bool) {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	q, ok := qs.rooms[roomID]
	if !ok || q.current < 0 || q.current >= len(q.tracks) {
		return models.Track{}, false
	}
	return q.tracks[q.current], true
}

// Clear 丢弃整个队列。
func (qs *QueueStore) Clear(roomID string) {
	qs.mu.Lock()
	delete(qs.rooms, roomID)
	qs.mu.Unlock()
}

// List 返回队列快照，在播曲目带 Playing 标记。
func (qs *QueueStore) List(roomID string) []models.Track {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	q, ok := qs.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]models.Track, len(q.tracks))
	copy(out, q.tracks)
	for i := range out {
		out[i].Playing = i == q.current
	}
	return out
}
