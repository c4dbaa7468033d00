package server

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/MarvelCollin/MisVord-sub009/internal/auth"
	"github.com/MarvelCollin/MisVord-sub009/internal/bot"
	"github.com/MarvelCollin/MisVord-sub009/internal/chat"
	"github.com/MarvelCollin/MisVord-sub009/internal/game"
	"github.com/MarvelCollin/MisVord-sub009/internal/models"
	"github.com/MarvelCollin/MisVord-sub009/internal/presence"
	"github.com/MarvelCollin/MisVord-sub009/internal/voice"
	"github.com/MarvelCollin/MisVord-sub009/internal/ws"
)

const testSecret = "test-secret"

type emitted struct {
	event string
	data  any
}

type fakeSession struct {
	mu     sync.Mutex
	id     string
	ident  models.Identity
	authed bool
	state  map[string]any
	events []emitted
}

func newFakeSession(id string) *fakeSession {
	return &fakeSession{id: id, state: make(map[string]any)}
}

func (f *fakeSession) ID() string { return f.id }

func (f *fakeSession) Identity() (models.Identity, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ident, f.authed
}

func (f *fakeSession) Bind(ident models.Identity) {
	f.mu.Lock()
	f.ident = ident
	f.authed = true
	f.mu.Unlock()
}

func (f *fakeSession) Emit(event string, data any) {
	f.mu.Lock()
	f.events = append(f.events, emitted{event, data})
	f.mu.Unlock()
}

func (f *fakeSession) Set(key string, value any)  { f.state[key] = value }
func (f *fakeSession) Get(key string) (any, bool) { v, ok := f.state[key]; return v, ok }
func (f *fakeSession) Delete(key string)          { delete(f.state, key) }

func (f *fakeSession) byEvent(event string) []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []emitted
	for _, e := range f.events {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

type stubSearcher struct{}

func (stubSearcher) Search(query string) (*models.Track, error) {
	return &models.Track{Title: query}, nil
}

type stubSaver struct{}

func (stubSaver) SaveBotMessage(env models.MessageEnvelope) (*bot.SavedMessage, error) {
	return &bot.SavedMessage{ID: "db-1"}, nil
}

func newTestServer() (*SocketServer, *ws.Hub) {
	hub := ws.NewHub()
	chatRouter := chat.NewRouter(hub)
	pres := presence.NewTracker(hub)
	voiceTracker := voice.NewTracker(hub, nil)
	coordinator := game.NewCoordinator(hub, 10*time.Millisecond)
	orchestrator := bot.NewOrchestrator(hub, voiceTracker, stubSearcher{}, stubSaver{},
		models.Identity{UserID: "bot-1", Username: "titibot"}, "/a.png", "/titibot", 10*time.Millisecond)
	chatRouter.Intercept(orchestrator.Intercept)
	return NewSocketServer(hub, chatRouter, pres, voiceTracker, coordinator, orchestrator, testSecret), hub
}

func dispatch(s *SocketServer, sess ws.Session, event string, payload any) {
	b, _ := json.Marshal(payload)
	s.Dispatcher().Dispatch(sess, event, b)
}

func TestAuthGate_RejectsUnauthenticated(t *testing.T) {
	s, hub := newTestServer()
	sess := newFakeSession("s1")
	hub.Register(sess)

	dispatch(s, sess, "join-channel", map[string]string{"channel_id": "c1"})

	if got := sess.byEvent("auth-error"); len(got) != 1 {
		t.Fatalf("got %d auth errors, want 1", len(got))
	}
	if hub.InRoom(sess, ws.ChannelRoom("c1")) {
		t.Error("unauthenticated session must not join rooms")
	}
}

func TestAuthenticate_DirectIdentity(t *testing.T) {
	s, hub := newTestServer()
	sess := newFakeSession("s1")
	hub.Register(sess)

	dispatch(s, sess, "authenticate", map[string]string{"user_id": "u1", "username": "alice"})

	ok := sess.byEvent("auth-success")
	if len(ok) != 1 {
		t.Fatalf("got %d auth-success, want 1", len(ok))
	}
	data := ok[0].data.(map[string]any)
	if data["socket_id"] != "s1" || data["user_id"] != "u1" {
		t.Errorf("auth-success = %v, want socket s1 user u1", data)
	}
	if !hub.InRoom(sess, ws.UserRoom("u1")) {
		t.Error("authenticated session should be in its user room")
	}
	// 上线即广播 presence
	if got := sess.byEvent("user-presence-update"); len(got) != 1 {
		t.Errorf("got %d presence updates, want 1", len(got))
	}
}

func TestAuthenticate_WithToken(t *testing.T) {
	s, hub := newTestServer()
	sess := newFakeSession("s1")
	hub.Register(sess)

	token, err := auth.GenerateSocketToken("u2", "bob", testSecret, time.Minute)
	if err != nil {
		t.Fatalf("GenerateSocketToken: %v", err)
	}
	dispatch(s, sess, "authenticate", map[string]string{"token": token})

	if got := sess.byEvent("auth-success"); len(got) != 1 {
		t.Fatalf("got %d auth-success, want 1", len(got))
	}
	if ident, ok := sess.Identity(); !ok || ident.UserID != "u2" {
		t.Errorf("identity = %v %v, want u2 bound", ident, ok)
	}
}

func TestAuthenticate_BadToken(t *testing.T) {
	s, hub := newTestServer()
	sess := newFakeSession("s1")
	hub.Register(sess)

	dispatch(s, sess, "authenticate", map[string]string{"token": "garbage"})

	if got := sess.byEvent("auth-error"); len(got) != 1 {
		t.Fatalf("got %d auth errors, want 1", len(got))
	}
	if _, ok := sess.Identity(); ok {
		t.Error("bad token must not bind an identity")
	}
}

func TestChannelMessage_FlowsThroughRouter(t *testing.T) {
	s, hub := newTestServer()
	alice := newFakeSession("s1")
	bobby := newFakeSession("s2")
	hub.Register(alice)
	hub.Register(bobby)
	dispatch(s, alice, "authenticate", map[string]string{"user_id": "u1", "username": "alice"})
	dispatch(s, bobby, "authenticate", map[string]string{"user_id": "u2", "username": "bobby"})
	dispatch(s, alice, "join-channel", map[string]string{"channel_id": "c1"})
	dispatch(s, bobby, "join-channel", map[string]string{"channel_id": "c1"})

	dispatch(s, alice, "new-channel-message", map[string]string{
		"target_id": "c1", "content": "hello", "temp_message_id": "t1",
	})

	for _, sess := range []*fakeSession{alice, bobby} {
		got := sess.byEvent("new-channel-message")
		if len(got) != 1 {
			t.Fatalf("%s got %d messages, want 1 (sender included)", sess.id, len(got))
		}
		env := got[0].data.(models.MessageEnvelope)
		if env.UserID != "u1" || env.Content != "hello" {
			t.Errorf("envelope = %+v, want from u1", env)
		}
	}
}

func TestMessage_SenderIdentityOverridesClaims(t *testing.T) {
	s, hub := newTestServer()
	alice := newFakeSession("s1")
	hub.Register(alice)
	dispatch(s, alice, "authenticate", map[string]string{"user_id": "u1", "username": "alice"})
	dispatch(s, alice, "join-channel", map[string]string{"channel_id": "c1"})

	// 伪造的 user_id 和 source 被连接身份覆盖
	dispatch(s, alice, "new-channel-message", map[string]string{
		"target_id": "c1", "content": "spoof", "user_id": "u999", "source": "bot",
	})

	env := alice.byEvent("new-channel-message")[0].data.(models.MessageEnvelope)
	if env.UserID != "u1" || env.Source != models.SourceClient {
		t.Errorf("envelope = %+v, want connection identity u1/client", env)
	}
}

func TestVoiceJoinLeave_UpdatesRoster(t *testing.T) {
	s, hub := newTestServer()
	sess := newFakeSession("s1")
	hub.Register(sess)
	dispatch(s, sess, "authenticate", map[string]string{"user_id": "u1", "username": "alice"})

	dispatch(s, sess, "voice-join", map[string]string{"channel_id": "vc1", "meeting_id": "m1"})
	if !hub.InRoom(sess, ws.VoiceRoom("vc1")) {
		t.Error("voice-join should put the session in the voice room")
	}
	if got := sess.byEvent("voice-meeting-update"); len(got) != 1 {
		t.Errorf("got %d meeting updates, want 1", len(got))
	}

	dispatch(s, sess, "voice-leave", map[string]string{"channel_id": "vc1"})
	if hub.InRoom(sess, ws.VoiceRoom("vc1")) {
		t.Error("voice-leave should remove the session from the voice room")
	}
}

func TestGameEvents_RouteToCoordinator(t *testing.T) {
	s, hub := newTestServer()
	sess := newFakeSession("s1")
	hub.Register(sess)
	dispatch(s, sess, "authenticate", map[string]string{"user_id": "u1", "username": "alice"})

	dispatch(s, sess, "tictactoe-join", map[string]any{"server_id": "srv1"})

	if got := sess.byEvent("tictactoe-joined"); len(got) != 1 {
		t.Fatalf("got %d joined acks, want 1", len(got))
	}
	if !hub.InRoom(sess, ws.GameRoom("srv1")) {
		t.Error("session should be in the game room")
	}
}
