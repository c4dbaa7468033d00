package bot

import (
	"errors"
	"testing"

	"github.com/MarvelCollin/MisVord-sub009/internal/models"
)

func track(title string) models.Track { return models.Track{Title: title, Artist: "a"} }

func TestQueue_PlayNowTakesOverPlaying(t *testing.T) {
	qs := NewQueueStore()
	qs.PlayNow("vc1", track("first"))
	qs.PlayNow("vc1", track("second"))

	cur, ok := qs.Current("vc1")
	if !ok || cur.Title != "second" {
		t.Fatalf("Current = %+v %v, want second", cur, ok)
	}
	list := qs.List("vc1")
	playing := 0
	for _, tr := range list {
		if tr.Playing {
			playing++
		}
	}
	if playing != 1 {
		t.Errorf("playing markers = %d, want exactly 1", playing)
	}
}

func TestQueue_AppendDoesNotChangePlaying(t *testing.T) {
	qs := NewQueueStore()
	qs.PlayNow("vc1", track("now"))
	qs.Append("vc1", track("later"))

	cur, _ := qs.Current("vc1")
	if cur.Title != "now" {
		t.Errorf("Current = %v, want now", cur.Title)
	}
}

func TestQueue_NextPrevClampedAtEnds(t *testing.T) {
	qs := NewQueueStore()
	qs.PlayNow("vc1", track("a"))
	qs.Append("vc1", track("b"))

	if _, err := qs.Prev("vc1"); !errors.Is(err, ErrQueueEdge) {
		t.Errorf("Prev at start: err = %v, want ErrQueueEdge", err)
	}
	got, err := qs.Next("vc1")
	if err != nil || got.Title != "b" {
		t.Fatalf("Next = %v %v, want b", got.Title, err)
	}
	if _, err := qs.Next("vc1"); !errors.Is(err, ErrQueueEdge) {
		t.Errorf("Next at end: err = %v, want ErrQueueEdge", err)
	}
	back, err := qs.Prev("vc1")
	if err != nil || back.Title != "a" {
		t.Errorf("Prev = %v %v, want a", back.Title, err)
	}
}

func TestQueue_EmptyAndCleared(t *testing.T) {
	qs := NewQueueStore()
	if _, err := qs.Next("vc1"); !errors.Is(err, ErrQueueEmpty) {
		t.Errorf("Next on absent queue: err = %v, want ErrQueueEmpty", err)
	}
	qs.PlayNow("vc1", track("a"))
	qs.Clear("vc1")
	if _, err := qs.Next("vc1"); !errors.Is(err, ErrQueueEmpty) {
		t.Errorf("Next after Clear: err = %v, want ErrQueueEmpty", err)
	}
	if got := qs.List("vc1"); len(got) != 0 {
		t.Errorf("List after Clear = %v, want empty", got)
	}
}
