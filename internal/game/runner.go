// Package game implements the per-game runner (C6): one single-consumer
// actor per live game id, owning its board, turn order, scoring, hints and
// broadcast fan-out.
package game

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"net"
	"time"

	"github.com/tornado80/sosgame/internal/cipher"
	"github.com/tornado80/sosgame/internal/protocol"
)

// idleCheckInterval is how often the event loop wakes on its own when the
// task channel is empty, to evaluate idle reclamation. Everything else
// blocks on the channel; only the reclamation check needs a periodic wake
// because lastActivity moves.
const idleCheckInterval = 200 * time.Millisecond

// Info is the static shape of a game a Runner is told about once, at
// construction.
type Info struct {
	GameID          int64
	BoardSize       int
	PlayerCount     int
	CreatorID       int64
	CreatorUsername string
	MaxHint         int
}

// Runner owns all of a single game's live state. Every field below is read
// and written only from the goroutine running Run — the task channel is
// the sole synchronization point with the outside world.
type Runner struct {
	info  Info
	store Store
	table *cipher.Table

	board [][]cell

	playersConn  map[int64]net.Conn
	playersScore map[int64]int
	playersHints map[int64]int
	playersColor map[int64]string
	rosterOrder  []int64 // stable account order colors were assigned in

	turnOrder []int64
	turnIndex int // -1 before the game starts
	colorPool []int

	occupiedCells int
	onlinePlayers int
	lastActivity  time.Time
	hasWinner     bool

	idleReclaim time.Duration
	tasks       chan Task
	onExit      func(gameID int64)
}

// New constructs a Runner for a freshly opened game. Call Run in its own
// goroutine to start the event loop.
func New(info Info, store Store, table *cipher.Table, idleReclaim time.Duration, onExit func(int64)) *Runner {
	return &Runner{
		info:         info,
		store:        store,
		table:        table,
		board:        newBoard(info.BoardSize),
		playersConn:  make(map[int64]net.Conn),
		playersScore: make(map[int64]int),
		playersHints: make(map[int64]int),
		playersColor: make(map[int64]string),
		turnIndex:    -1,
		colorPool:    generateColors(info.PlayerCount),
		lastActivity: time.Now(),
		idleReclaim:  idleReclaim,
		tasks:        make(chan Task, 64),
		onExit:       onExit,
	}
}

// Enqueue adds a task to the runner's mailbox. Safe to call from any
// goroutine — the dispatcher and every per-connection listener do.
func (r *Runner) Enqueue(t Task) {
	r.tasks <- t
}

// Run is the runner's single-consumer event loop. It returns once the game
// has a winner and empties out, or after IdleReclaimSeconds of no online
// players with no winner.
func (r *Runner) Run(ctx context.Context) {
	defer func() {
		if r.onExit != nil {
			r.onExit(r.info.GameID)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case task := <-r.tasks:
			r.handle(ctx, task)
		case <-time.After(idleCheckInterval):
			if r.onlinePlayers > 0 {
				continue
			}
			if r.hasWinner {
				return
			}
			if time.Since(r.lastActivity) > r.idleReclaim {
				if err := r.store.SetGameEnded(ctx, r.info.GameID, nil); err != nil {
					slog.Error("ending idle game", "game_id", r.info.GameID, "err", err)
				}
				return
			}
		}
	}
}

func (r *Runner) handle(ctx context.Context, t Task) {
	switch task := t.(type) {
	case NewPlayerConnectionTask:
		r.handleNewPlayerConnection(ctx, task)
	case DisconnectPlayerTask:
		r.handleDisconnectPlayer(ctx, task)
	case PlayerTurnDoneTask:
		r.handlePlayerTurnDone(ctx, task)
	case PleaseHelpTask:
		r.handlePleaseHelp(ctx, task)
	}
}

func (r *Runner) send(conn net.Conn, p protocol.Packet) {
	if conn == nil {
		return
	}
	if err := protocol.WritePacket(conn, r.table, p); err != nil {
		slog.Warn("writing packet to player", "game_id", r.info.GameID, "err", err)
	}
}

func (r *Runner) handleNewPlayerConnection(ctx context.Context, t NewPlayerConnectionTask) {
	if r.hasWinner {
		r.send(t.Conn, protocol.NewError("game_runner_new_player_banned", "Game has been finished."))
		t.Conn.Close()
		return
	}
	if existing, ok := r.playersConn[t.AccountID]; ok && existing != nil {
		r.send(t.Conn, protocol.NewError("game_runner_new_player_banned", "You have joined the game with another session."))
		t.Conn.Close()
		return
	}

	r.onlinePlayers++
	r.playersConn[t.AccountID] = t.Conn

	newToRoster := false
	if _, ok := r.playersScore[t.AccountID]; !ok {
		r.playersScore[t.AccountID] = 0
		r.playersHints[t.AccountID] = 0
		newToRoster = true
	}
	if _, ok := r.playersColor[t.AccountID]; !ok {
		idx := len(r.rosterOrder)
		hue := 0
		if idx < len(r.colorPool) {
			hue = r.colorPool[idx]
		}
		r.playersColor[t.AccountID] = hslString(hue)
	}
	if newToRoster {
		r.rosterOrder = append(r.rosterOrder, t.AccountID)
	}

	go listen(t.Conn, t.AccountID, r.tasks, r.table)

	r.send(t.Conn, protocol.NewPacket("game_runner_game_details", map[string]any{
		"game_id":          r.info.GameID,
		"board_size":       r.info.BoardSize,
		"player_count":     r.info.PlayerCount,
		"creator_username": r.info.CreatorUsername,
		"color":            r.playersColor[t.AccountID],
		"max_hint":         r.info.MaxHint,
	}))

	r.broadcastPlayersStatus(ctx)
	r.broadcastBoardStatus()

	if r.turnIndex >= 0 {
		if r.turnOrder[r.turnIndex] == t.AccountID {
			r.sendYourTurn()
		}
		return
	}
	if len(r.playersConn) == r.info.PlayerCount {
		r.startGame()
	}
}

func (r *Runner) startGame() {
	r.turnOrder = make([]int64, 0, len(r.playersConn))
	for id := range r.playersConn {
		r.turnOrder = append(r.turnOrder, id)
	}
	rand.Shuffle(len(r.turnOrder), func(i, j int) {
		r.turnOrder[i], r.turnOrder[j] = r.turnOrder[j], r.turnOrder[i]
	})
	r.turnIndex = 0
	r.sendYourTurn()
}

func (r *Runner) sendYourTurn() {
	accountID := r.turnOrder[r.turnIndex]
	conn := r.playersConn[accountID]
	if conn == nil {
		return
	}
	r.send(conn, protocol.NewPacket("game_runner_your_turn", nil))
}

func (r *Runner) handleDisconnectPlayer(ctx context.Context, t DisconnectPlayerTask) {
	conn := r.playersConn[t.AccountID]
	if conn == nil {
		return
	}
	r.send(conn, protocol.NewPacket("game_runner_abort", nil))
	conn.Close()
	r.playersConn[t.AccountID] = nil
	r.broadcastPlayersStatus(ctx)
	r.onlinePlayers--
	if r.onlinePlayers == 0 {
		r.lastActivity = time.Now()
	}
}

func (r *Runner) handlePlayerTurnDone(ctx context.Context, t PlayerTurnDoneTask) {
	if r.turnIndex < 0 || r.turnOrder[r.turnIndex] != t.AccountID {
		return
	}
	if t.Row < 0 || t.Row >= r.info.BoardSize || t.Column < 0 || t.Column >= r.info.BoardSize {
		return
	}
	if r.board[t.Row][t.Column].Filled {
		return
	}

	r.board[t.Row][t.Column] = cell{Owner: t.AccountID, Filled: true, Letter: t.Letter}
	if err := r.store.AddGameLog(ctx, r.info.GameID, t.AccountID, t.Letter, t.Row, t.Column); err != nil {
		slog.Error("logging move", "game_id", r.info.GameID, "err", err)
	}
	r.occupiedCells++

	_, count := checkSOSTriple(r.board, r.info.BoardSize, t.AccountID, t.Row, t.Column, t.Letter, false)
	if count > 0 {
		r.playersScore[t.AccountID] += count
	} else {
		r.turnIndex = (r.turnIndex + 1) % len(r.turnOrder)
	}

	r.broadcastPlayersStatus(ctx)
	r.broadcastBoardStatus()

	if r.occupiedCells == r.info.BoardSize*r.info.BoardSize {
		r.announceWinner(ctx)
		return
	}
	r.sendYourTurn()
}

func (r *Runner) handlePleaseHelp(ctx context.Context, t PleaseHelpTask) {
	conn := r.playersConn[t.AccountID]
	resp := protocol.NewPacket("game_runner_hint_result", map[string]any{})

	if r.turnIndex < 0 || r.turnOrder[r.turnIndex] != t.AccountID {
		resp["data"] = map[string]any{"error": "It is not your turn."}
		r.send(conn, resp)
		return
	}
	if r.playersHints[t.AccountID] >= r.info.MaxHint {
		resp["data"] = map[string]any{"error": "You have used all your hints."}
		r.send(conn, resp)
		return
	}

	r.playersHints[t.AccountID]++
	finished := r.playersHints[t.AccountID] == r.info.MaxHint

	place, ok := findGoodPlace(r.board, r.info.BoardSize)
	if r.playersScore[t.AccountID] > 0 {
		r.playersScore[t.AccountID]--
	} else {
		r.playersScore[t.AccountID] = 0
	}

	data := map[string]any{}
	if !ok {
		if err := r.store.AddGameHint(ctx, r.info.GameID, t.AccountID, "", 0, 0); err != nil {
			slog.Error("logging hint", "game_id", r.info.GameID, "err", err)
		}
		data["result"] = "Unfortunately no hint is available."
	} else {
		if err := r.store.AddGameHint(ctx, r.info.GameID, t.AccountID, place.Letter, place.Row+1, place.Column+1); err != nil {
			slog.Error("logging hint", "game_id", r.info.GameID, "err", err)
		}
		data["result"] = hintMessage(place)
	}
	if finished {
		data["finished"] = true
	}
	resp["data"] = data
	r.send(conn, resp)
	r.broadcastPlayersStatus(ctx)
}
