package game

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/MarvelCollin/MisVord-sub009/internal/ws"
)

// 领域冲突只发给调用者本人，绝不广播。
var (
	ErrNoMatch      = errors.New("no active match")
	ErrNotYourTurn  = errors.New("not your turn")
	ErrOutOfRange   = errors.New("position out of range")
	ErrCellOccupied = errors.New("cell occupied")
	ErrNotPlayer    = errors.New("not a player in this match")
	ErrLobbyFull    = errors.New("lobby already has two players")
)

const readyFlagKey = "tictactoe_ready"

// 八条固定的取胜连线。
var winningLines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8},
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8},
	{0, 4, 8}, {2, 4, 6},
}

// Player 是大厅名单里的一名玩家，按加入顺序排列。
type Player struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Ready    bool   `json:"ready"`
	Symbol   string `json:"symbol,omitempty"`

	playAgain bool
	sess      ws.Session
}

// Match 是一局进行中的对战。棋盘格只会从空变为占用，永不回退。
type Match struct {
	ServerID    string    `json:"server_id"`
	Players     []*Player `json:"players"`
	Board       [9]string `json:"board"`
	CurrentTurn string    `json:"current_turn"`
	StartedAt   time.Time `json:"started_at"`
	Finished    bool      `json:"finished"`
	Winner      string    `json:"winner,omitempty"`
	IsDraw      bool      `json:"is_draw"`
	WinningLine []int     `json:"winning_line,omitempty"`
}

type lobby struct {
	players []*Player
	match   *Match
}

// Coordinator 管理每个父房间（服务器）至多一局的回合制小游戏。
// 落子处理全程同步、不跨任何阻塞点，回合完整性依赖这一点。
type Coordinator struct {
	mu          sync.Mutex
	hub         *ws.Hub
	lobbies     map[string]*lobby
	finishDelay time.Duration
	firstTurn   func(n int) int // play-again 场次用它随机先手，可注入便于测试
}

func NewCoordinator(hub *ws.Hub, finishDelay time.Duration) *Coordinator {
	return &Coordinator{
		hub:         hub,
		lobbies:     make(map[string]*lobby),
		finishDelay: finishDelay,
		firstTurn:   rand.Intn,
	}
}

func (c *Coordinator) emitError(s ws.Session, err error) error {
	s.Emit("tictactoe-error", payload{"message": err.Error()})
	return err
}

// Join 把连接加入游戏房间并返回当前名单，不改动其他人的状态。
// 前两名加入者是对局玩家，之后的加入者只旁观。
func (c *Coordinator) Join(s ws.Session, serverID string) {
	ident, ok := s.Identity()
	if !ok {
		return
	}
	c.hub.Join(s, ws.GameRoom(serverID))

	c.mu.Lock()
	lb := c.lobby(serverID)
	var me *Player
	for _, p := range lb.players {
		if p.UserID == ident.UserID {
			me = p
			break
		}
	}
	joined := false
	if me == nil && len(lb.players) < 2 {
		me = &Player{UserID: ident.UserID, Username: ident.Username, sess: s}
		lb.players = append(lb.players, me)
		joined = true
	}
	roster := lb.roster()
	c.mu.Unlock()

	s.Emit("tictactoe-joined", payload{"players": roster})
	if joined {
		c.hub.BroadcastExcept(ws.GameRoom(serverID), s.ID(), "tictactoe-player-joined", payload{
			"user_id":  ident.UserID,
			"username": ident.Username,
		})
	}
}

// Ready 翻转调用者的就绪标记并重播名单；两名玩家同时就绪则开局，
// 先手是先加入的玩家（play-again 路径才随机先手）。
func (c *Coordinator) Ready(s ws.Session, serverID string) error {
	ident, ok := s.Identity()
	if !ok {
		return ErrNotPlayer
	}

	c.mu.Lock()
	lb := c.lobby(serverID)
	me := lb.find(ident.UserID)
	if me == nil {
		c.mu.Unlock()
		return c.emitError(s, ErrNotPlayer)
	}
	me.Ready = !me.Ready
	if me.Ready {
		s.Set(readyFlagKey, true)
	} else {
		s.Delete(readyFlagKey)
	}
	roster := lb.roster()
	start := lb.match == nil && len(lb.players) == 2 && lb.players[0].Ready && lb.players[1].Ready
	var match *Match
	if start {
		match = c.startMatch(lb, serverID, 0)
	}
	c.mu.Unlock()

	c.hub.Broadcast(ws.GameRoom(serverID), "tictactoe-ready-update", payload{"players": roster})
	if match != nil {
		c.hub.Broadcast(ws.GameRoom(serverID), "tictactoe-game-start", match)
	}
	return nil
}

// startMatch 由持锁的调用方执行。firstIdx 为先手玩家下标。
func (c *Coordinator) startMatch(lb *lobby, serverID string, firstIdx int) *Match {
	lb.players[0].Symbol = "X"
	lb.players[1].Symbol = "O"
	for _, p := range lb.players {
		p.playAgain = false
	}
	m := &Match{
		ServerID:    serverID,
		Players:     lb.players,
		CurrentTurn: lb.players[firstIdx].UserID,
		StartedAt:   time.Now(),
	}
	lb.match = m
	log.Info().Str("server_id", serverID).Str("first_turn", m.CurrentTurn).Msg("tictactoe match started")
	return m
}

// Move 处理一步落子。非法落子只回给调用者，棋盘保持不变。
func (c *Coordinator) Move(s ws.Session, serverID string, position int) error {
	ident, ok := s.Identity()
	if !ok {
		return ErrNotPlayer
	}

	c.mu.Lock()
	lb := c.lobby(serverID)
	m := lb.match
	if m == nil || m.Finished {
		c.mu.Unlock()
		return c.emitError(s, ErrNoMatch)
	}
	me := lb.find(ident.UserID)
	if me == nil {
		c.mu.Unlock()
		return c.emitError(s, ErrNotPlayer)
	}
	if m.CurrentTurn != ident.UserID {
		c.mu.Unlock()
		return c.emitError(s, ErrNotYourTurn)
	}
	if position < 0 || position > 8 {
		c.mu.Unlock()
		return c.emitError(s, ErrOutOfRange)
	}
	if m.Board[position] != "" {
		c.mu.Unlock()
		return c.emitError(s, ErrCellOccupied)
	}

	m.Board[position] = me.Symbol
	for _, p := range lb.players {
		if p.UserID != ident.UserID {
			m.CurrentTurn = p.UserID
		}
	}

	winnerSymbol, line := checkWin(m.Board)
	draw := winnerSymbol == "" && boardFull(m.Board)
	if winnerSymbol != "" || draw {
		m.Finished = true
		m.IsDraw = draw
		if winnerSymbol != "" {
			for _, p := range lb.players {
				if p.Symbol == winnerSymbol {
					m.Winner = p.UserID
				}
			}
			m.WinningLine = line
		}
	}
	board := m.Board
	turn := m.CurrentTurn
	finished := m.Finished
	result := payload{
		"winner":       m.Winner,
		"is_draw":      m.IsDraw,
		"winning_line": m.WinningLine,
		"board":        board,
	}
	c.mu.Unlock()

	c.hub.Broadcast(ws.GameRoom(serverID), "tictactoe-move-made", payload{
		"board":        board,
		"current_turn": turn,
		"position":     position,
		"symbol":       me.Symbol,
		"user_id":      ident.UserID,
	})

	if finished {
		// 结算广播延后一小段，给客户端的落子动画留时间
		time.AfterFunc(c.finishDelay, func() { c.finishMatch(serverID, result) })
	}
	return nil
}

func (c *Coordinator) finishMatch(serverID string, result payload) {
	c.mu.Lock()
	lb, ok := c.lobbies[serverID]
	if !ok || lb.match == nil {
		// Leave 已经清场并广播过 reset，结算事件不能再跟在它后面
		c.mu.Unlock()
		return
	}
	lb.match = nil
	for _, p := range lb.players {
		p.Ready = false
		if p.sess != nil {
			p.sess.Delete(readyFlagKey)
		}
	}
	c.mu.Unlock()

	c.hub.Broadcast(ws.GameRoom(serverID), "tictactoe-game-end", result)
}

// Leave 通知剩余玩家、清空对局并强制回到大厅，避免客户端卡在旧棋盘。
func (c *Coordinator) Leave(s ws.Session, serverID string) {
	ident, ok := s.Identity()
	if !ok {
		return
	}

	c.mu.Lock()
	lb := c.lobby(serverID)
	removed := false
	for i, p := range lb.players {
		if p.UserID == ident.UserID {
			lb.players = append(lb.players[:i], lb.players[i+1:]...)
			removed = true
			break
		}
	}
	lb.match = nil
	for _, p := range lb.players {
		p.Ready = false
		p.playAgain = false
		if p.sess != nil {
			p.sess.Delete(readyFlagKey)
		}
	}
	if len(lb.players) == 0 {
		delete(c.lobbies, serverID)
	}
	c.mu.Unlock()

	s.Delete(readyFlagKey)
	c.hub.Leave(s, ws.GameRoom(serverID))
	if removed {
		c.hub.Broadcast(ws.GameRoom(serverID), "tictactoe-player-left", payload{
			"user_id":  ident.UserID,
			"username": ident.Username,
		})
		c.hub.Broadcast(ws.GameRoom(serverID), "tictactoe-game-reset", payload{"server_id": serverID})
	}
}

// PlayAgainRequest 记下调用者的再来一局意愿；双方都请求过才真正开局，
// 新开局随机先手。单方请求只是提醒对方。
func (c *Coordinator) PlayAgainRequest(s ws.Session, serverID string) error {
	ident, ok := s.Identity()
	if !ok {
		return ErrNotPlayer
	}

	c.mu.Lock()
	lb := c.lobby(serverID)
	me := lb.find(ident.UserID)
	if me == nil {
		c.mu.Unlock()
		return c.emitError(s, ErrNotPlayer)
	}
	me.playAgain = true
	both := len(lb.players) == 2 && lb.players[0].playAgain && lb.players[1].playAgain
	var match *Match
	if both && lb.match == nil {
		for _, p := range lb.players {
			p.Ready = true
		}
		match = c.startMatch(lb, serverID, c.firstTurn(2))
	}
	c.mu.Unlock()

	if match != nil {
		c.hub.Broadcast(ws.GameRoom(serverID), "tictactoe-play-again-accepted", payload{"server_id": serverID})
		c.hub.Broadcast(ws.GameRoom(serverID), "tictactoe-game-start", match)
		return nil
	}
	c.hub.BroadcastExcept(ws.GameRoom(serverID), s.ID(), "tictactoe-play-again-request", payload{
		"user_id":  ident.UserID,
		"username": ident.Username,
	})
	return nil
}

// PlayAgainResponse 接受等价于发起请求；任一方拒绝则清掉双方标记。
func (c *Coordinator) PlayAgainResponse(s ws.Session, serverID string, accept bool) error {
	if accept {
		return c.PlayAgainRequest(s, serverID)
	}
	ident, ok := s.Identity()
	if !ok {
		return ErrNotPlayer
	}

	c.mu.Lock()
	lb := c.lobby(serverID)
	if lb.find(ident.UserID) == nil {
		c.mu.Unlock()
		return c.emitError(s, ErrNotPlayer)
	}
	for _, p := range lb.players {
		p.playAgain = false
	}
	c.mu.Unlock()

	c.hub.Broadcast(ws.GameRoom(serverID), "tictactoe-play-again-declined", payload{
		"user_id":  ident.UserID,
		"username": ident.Username,
	})
	return nil
}

// Roster 返回当前名单快照。
func (c *Coordinator) Roster(serverID string) []Player {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lobby(serverID).roster()
}

// ActiveMatch 返回进行中的对局快照。
func (c *Coordinator) ActiveMatch(serverID string) (Match, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.lobby(serverID).match
	if m == nil {
		return Match{}, false
	}
	return *m, true
}

// HandleDisconnect 是挂到 Hub 上的断连钩子。
func (c *Coordinator) HandleDisconnect(s ws.Session) {
	ident, ok := s.Identity()
	if !ok {
		return
	}
	c.mu.Lock()
	var affected []string
	for serverID, lb := range c.lobbies {
		if lb.find(ident.UserID) != nil {
			affected = append(affected, serverID)
		}
	}
	c.mu.Unlock()
	for _, serverID := range affected {
		c.Leave(s, serverID)
	}
}

func (c *Coordinator) lobby(serverID string) *lobby {
	lb, ok := c.lobbies[serverID]
	if !ok {
		lb = &lobby{}
		c.lobbies[serverID] = lb
	}
	return lb
}

func (lb *lobby) find(userID string) *Player {
	for _, p := range lb.players {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

func (lb *lobby) roster() []Player {
	out := make([]Player, 0, len(lb.players))
	for _, p := range lb.players {
		out = append(out, *p)
	}
	return out
}

func checkWin(board [9]string) (string, []int) {
	for _, line := range winningLines {
		a, b, d := board[line[0]], board[line[1]], board[line[2]]
		if a != "" && a == b && b == d {
			return a, []int{line[0], line[1], line[2]}
		}
	}
	return "", nil
}

func boardFull(board [9]string) bool {
	for _, cell := range board {
		if cell == "" {
			return false
		}
	}
	return true
}

type payload = map[string]any
