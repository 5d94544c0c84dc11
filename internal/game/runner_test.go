package game

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tornado80/sosgame/internal/cipher"
	"github.com/tornado80/sosgame/internal/protocol"
)

type endedCall struct {
	gameID int64
	winner *int64
}

type tallyCall struct {
	accountID  int64
	deltaGames int
	deltaWins  int
}

type hintCall struct {
	accountID   int64
	letter      string
	row, column int
}

// fakeStore records every persistence call the runner makes. Methods are
// safe to call from any goroutine since broadcasts resolve usernames while
// a test may be inspecting earlier calls.
type fakeStore struct {
	mu        sync.Mutex
	usernames map[int64]string
	logCount  int
	hints     []hintCall
	ended     []endedCall
	tallies   []tallyCall
}

func newFakeStore(usernames map[int64]string) *fakeStore {
	return &fakeStore{usernames: usernames}
}

func (f *fakeStore) AddGameLog(ctx context.Context, gameID, accountID int64, letter string, row, column int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logCount++
	return nil
}

func (f *fakeStore) AddGameHint(ctx context.Context, gameID, accountID int64, letter string, row, column int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hints = append(f.hints, hintCall{accountID: accountID, letter: letter, row: row, column: column})
	return nil
}

func (f *fakeStore) UpdateAccountGamesAndWins(ctx context.Context, accountID int64, deltaGames, deltaWins int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tallies = append(f.tallies, tallyCall{accountID: accountID, deltaGames: deltaGames, deltaWins: deltaWins})
	return nil
}

func (f *fakeStore) SetGameEnded(ctx context.Context, gameID int64, winner *int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, endedCall{gameID: gameID, winner: winner})
	return nil
}

func (f *fakeStore) GetUsernameFromAccountID(ctx context.Context, accountID int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.usernames[accountID], nil
}

func (f *fakeStore) endedCalls() []endedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]endedCall(nil), f.ended...)
}

func (f *fakeStore) tallyCalls() []tallyCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tallyCall(nil), f.tallies...)
}

func (f *fakeStore) hintCalls() []hintCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]hintCall(nil), f.hints...)
}

// drainPackets reads frames off the client end of a pipe until it closes,
// so runner-side writes never block the test.
func drainPackets(conn net.Conn) <-chan protocol.Packet {
	ch := make(chan protocol.Packet, 64)
	go func() {
		defer close(ch)
		for {
			p, err := protocol.ReadPacket(conn, cipher.Default)
			if err != nil {
				return
			}
			ch <- p
		}
	}()
	return ch
}

// waitForCommand discards frames until one with the wanted command arrives.
func waitForCommand(t *testing.T, ch <-chan protocol.Packet, command string) protocol.Packet {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case p, ok := <-ch:
			require.True(t, ok, "connection closed before %q arrived", command)
			if p.Command() == command {
				return p
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", command)
		}
	}
}

func testInfo(boardSize, playerCount, maxHint int) Info {
	return Info{
		GameID:          1,
		BoardSize:       boardSize,
		PlayerCount:     playerCount,
		CreatorID:       1,
		CreatorUsername: "owner",
		MaxHint:         maxHint,
	}
}

func TestNewPlayerGetsGameDetails(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore(map[int64]string{1: "owner"})
	r := New(testInfo(3, 2, 1), store, cipher.Default, time.Second, nil)

	server, client := net.Pipe()
	defer client.Close()
	ch := drainPackets(client)

	r.handleNewPlayerConnection(ctx, NewPlayerConnectionTask{AccountID: 1, Conn: server, Addr: "test"})

	details := waitForCommand(t, ch, "game_runner_game_details")
	assert.Equal(t, 3, details.Int("board_size"))
	assert.Equal(t, 2, details.Int("player_count"))
	assert.Equal(t, 1, details.Int("max_hint"))
	assert.Equal(t, "owner", details.String("creator_username"))
	assert.NotEmpty(t, details.String("color"))

	waitForCommand(t, ch, "game_runner_players_status")
	waitForCommand(t, ch, "game_runner_board_status")

	// One player of two: the game must not have started.
	assert.Equal(t, -1, r.turnIndex)
	assert.Equal(t, 1, r.onlinePlayers)
}

func TestGameStartsWhenRosterFull(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore(map[int64]string{1: "owner", 2: "guest"})
	r := New(testInfo(3, 2, 0), store, cipher.Default, time.Second, nil)

	server1, client1 := net.Pipe()
	server2, client2 := net.Pipe()
	defer client1.Close()
	defer client2.Close()
	ch1 := drainPackets(client1)
	ch2 := drainPackets(client2)

	r.handleNewPlayerConnection(ctx, NewPlayerConnectionTask{AccountID: 1, Conn: server1, Addr: "a"})
	r.handleNewPlayerConnection(ctx, NewPlayerConnectionTask{AccountID: 2, Conn: server2, Addr: "b"})

	require.GreaterOrEqual(t, r.turnIndex, 0)
	require.Len(t, r.turnOrder, 2)

	current := r.turnOrder[r.turnIndex]
	if current == 1 {
		waitForCommand(t, ch1, "game_runner_your_turn")
	} else {
		waitForCommand(t, ch2, "game_runner_your_turn")
	}
}

func TestSecondSocketForSameAccountIsBanned(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore(map[int64]string{1: "owner"})
	r := New(testInfo(3, 2, 0), store, cipher.Default, time.Second, nil)

	server1, client1 := net.Pipe()
	defer client1.Close()
	drainPackets(client1)
	r.handleNewPlayerConnection(ctx, NewPlayerConnectionTask{AccountID: 1, Conn: server1, Addr: "a"})

	server2, client2 := net.Pipe()
	defer client2.Close()
	ch2 := drainPackets(client2)
	r.handleNewPlayerConnection(ctx, NewPlayerConnectionTask{AccountID: 1, Conn: server2, Addr: "b"})

	banned := waitForCommand(t, ch2, "game_runner_new_player_banned")
	assert.Contains(t, banned.String("error"), "another session")
	assert.Equal(t, 1, r.onlinePlayers)
}

func TestConnectionAfterWinnerIsBanned(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore(map[int64]string{1: "owner"})
	r := New(testInfo(3, 2, 0), store, cipher.Default, time.Second, nil)
	r.hasWinner = true

	server, client := net.Pipe()
	defer client.Close()
	ch := drainPackets(client)
	r.handleNewPlayerConnection(ctx, NewPlayerConnectionTask{AccountID: 1, Conn: server, Addr: "a"})

	waitForCommand(t, ch, "game_runner_new_player_banned")
	assert.Zero(t, r.onlinePlayers)
}

// seedRoster installs two offline roster members with a fixed turn order so
// move-handling tests are deterministic. A nil connection makes every
// outgoing write a no-op.
func seedRoster(r *Runner, x, y int64) {
	r.playersConn[x] = nil
	r.playersConn[y] = nil
	r.playersScore[x] = 0
	r.playersScore[y] = 0
	r.playersHints[x] = 0
	r.playersHints[y] = 0
	r.playersColor[x] = hslString(0)
	r.playersColor[y] = hslString(180)
	r.rosterOrder = []int64{x, y}
	r.turnOrder = []int64{x, y}
	r.turnIndex = 0
}

func TestScoringMoveRetainsTurn(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore(map[int64]string{1: "x", 2: "y"})
	r := New(testInfo(3, 2, 0), store, cipher.Default, time.Second, nil)
	seedRoster(r, 1, 2)

	r.handlePlayerTurnDone(ctx, PlayerTurnDoneTask{AccountID: 1, Row: 0, Column: 0, Letter: "S"})
	assert.Equal(t, 1, r.turnIndex, "no score, turn passes")

	r.handlePlayerTurnDone(ctx, PlayerTurnDoneTask{AccountID: 2, Row: 0, Column: 1, Letter: "O"})
	assert.Equal(t, 0, r.turnIndex)

	r.handlePlayerTurnDone(ctx, PlayerTurnDoneTask{AccountID: 1, Row: 0, Column: 2, Letter: "S"})
	assert.Equal(t, 0, r.turnIndex, "scoring move retains the turn")
	assert.Equal(t, 1, r.playersScore[1])
	assert.Equal(t, 3, r.occupiedCells)

	store.mu.Lock()
	assert.Equal(t, 3, store.logCount)
	store.mu.Unlock()
}

func TestMoveRejectedWhenNotYourTurn(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore(map[int64]string{1: "x", 2: "y"})
	r := New(testInfo(3, 2, 0), store, cipher.Default, time.Second, nil)
	seedRoster(r, 1, 2)

	r.handlePlayerTurnDone(ctx, PlayerTurnDoneTask{AccountID: 2, Row: 0, Column: 0, Letter: "S"})
	assert.Zero(t, r.occupiedCells)
	assert.False(t, r.board[0][0].Filled)
}

func TestMoveRejectedOnFilledCell(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore(map[int64]string{1: "x", 2: "y"})
	r := New(testInfo(3, 2, 0), store, cipher.Default, time.Second, nil)
	seedRoster(r, 1, 2)

	r.handlePlayerTurnDone(ctx, PlayerTurnDoneTask{AccountID: 1, Row: 0, Column: 0, Letter: "S"})
	require.Equal(t, 1, r.occupiedCells)

	r.handlePlayerTurnDone(ctx, PlayerTurnDoneTask{AccountID: 2, Row: 0, Column: 0, Letter: "O"})
	assert.Equal(t, 1, r.occupiedCells)
	assert.Equal(t, "S", r.board[0][0].Letter)
}

func TestMoveRejectedOutOfBounds(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore(map[int64]string{1: "x", 2: "y"})
	r := New(testInfo(3, 2, 0), store, cipher.Default, time.Second, nil)
	seedRoster(r, 1, 2)

	r.handlePlayerTurnDone(ctx, PlayerTurnDoneTask{AccountID: 1, Row: 3, Column: 0, Letter: "S"})
	r.handlePlayerTurnDone(ctx, PlayerTurnDoneTask{AccountID: 1, Row: -1, Column: 0, Letter: "S"})
	assert.Zero(t, r.occupiedCells)
}

func TestFullBoardAnnouncesWinner(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore(map[int64]string{1: "x", 2: "y"})
	r := New(testInfo(3, 2, 0), store, cipher.Default, time.Second, nil)
	seedRoster(r, 1, 2)

	server, client := net.Pipe()
	defer client.Close()
	ch := drainPackets(client)
	r.playersConn[1] = server
	r.onlinePlayers = 1

	// Fill all but one cell off to the side, give X the higher score, then
	// let X play the last cell.
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if i == 2 && j == 2 {
				continue
			}
			r.board[i][j] = cell{Owner: 2, Filled: true, Letter: "O"}
		}
	}
	r.occupiedCells = 8
	r.playersScore[1] = 2
	r.playersScore[2] = 0

	r.handlePlayerTurnDone(ctx, PlayerTurnDoneTask{AccountID: 1, Row: 2, Column: 2, Letter: "S"})

	announced := waitForCommand(t, ch, "game_runner_winner_announced")
	assert.Equal(t, "x", announced["winner"])
	assert.True(t, r.hasWinner)

	ended := store.endedCalls()
	require.Len(t, ended, 1)
	require.NotNil(t, ended[0].winner)
	assert.Equal(t, int64(1), *ended[0].winner)

	tallies := store.tallyCalls()
	require.Len(t, tallies, 2)
	for _, call := range tallies {
		assert.Equal(t, 1, call.deltaGames)
		if call.accountID == 1 {
			assert.Equal(t, 1, call.deltaWins)
		} else {
			assert.Zero(t, call.deltaWins)
		}
	}
}

func TestFullBoardWithTiedScoresIsDraw(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore(map[int64]string{1: "x", 2: "y"})
	r := New(testInfo(3, 2, 0), store, cipher.Default, time.Second, nil)
	seedRoster(r, 1, 2)

	server, client := net.Pipe()
	defer client.Close()
	ch := drainPackets(client)
	r.playersConn[1] = server
	r.onlinePlayers = 1

	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if i == 2 && j == 2 {
				continue
			}
			r.board[i][j] = cell{Owner: 2, Filled: true, Letter: "O"}
		}
	}
	r.occupiedCells = 8
	r.playersScore[1] = 2
	r.playersScore[2] = 2

	r.handlePlayerTurnDone(ctx, PlayerTurnDoneTask{AccountID: 1, Row: 2, Column: 2, Letter: "S"})

	announced := waitForCommand(t, ch, "game_runner_winner_announced")
	assert.Equal(t, true, announced["draw"])
	assert.Nil(t, announced["winner"])

	ended := store.endedCalls()
	require.Len(t, ended, 1)
	assert.Nil(t, ended[0].winner)

	for _, call := range store.tallyCalls() {
		assert.Equal(t, 1, call.deltaGames)
		assert.Zero(t, call.deltaWins, "no wins on a draw")
	}
}

func TestHintDeductsScoreAndReportsPlace(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore(map[int64]string{1: "x", 2: "y"})
	r := New(testInfo(3, 2, 1), store, cipher.Default, time.Second, nil)
	seedRoster(r, 1, 2)

	server, client := net.Pipe()
	defer client.Close()
	ch := drainPackets(client)
	r.playersConn[1] = server
	r.onlinePlayers = 1

	place(r.board, 0, 0, "S", 2)
	place(r.board, 0, 1, "O", 2)
	r.playersScore[1] = 3

	r.handlePleaseHelp(ctx, PleaseHelpTask{AccountID: 1})

	result := waitForCommand(t, ch, "game_runner_hint_result")
	assert.Contains(t, result.String("result"), "S")
	assert.Contains(t, result.String("result"), "row 1")
	assert.Contains(t, result.String("result"), "column 3")
	assert.Equal(t, true, result.Data()["finished"], "last allowed hint sets finished")

	assert.Equal(t, 2, r.playersScore[1])
	assert.Equal(t, 1, r.playersHints[1])

	hints := store.hintCalls()
	require.Len(t, hints, 1)
	assert.Equal(t, "S", hints[0].letter)
	assert.Equal(t, 1, hints[0].row)
	assert.Equal(t, 3, hints[0].column)
}

func TestHintScoreClampsAtZero(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore(map[int64]string{1: "x", 2: "y"})
	r := New(testInfo(3, 2, 2), store, cipher.Default, time.Second, nil)
	seedRoster(r, 1, 2)

	r.handlePleaseHelp(ctx, PleaseHelpTask{AccountID: 1})
	assert.Zero(t, r.playersScore[1])
}

func TestHintUnavailableIsRecordedEmpty(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore(map[int64]string{1: "x", 2: "y"})
	r := New(testInfo(3, 2, 1), store, cipher.Default, time.Second, nil)
	seedRoster(r, 1, 2)

	server, client := net.Pipe()
	defer client.Close()
	ch := drainPackets(client)
	r.playersConn[1] = server
	r.onlinePlayers = 1

	r.handlePleaseHelp(ctx, PleaseHelpTask{AccountID: 1})

	result := waitForCommand(t, ch, "game_runner_hint_result")
	assert.Contains(t, result.String("result"), "no hint")

	hints := store.hintCalls()
	require.Len(t, hints, 1)
	assert.Empty(t, hints[0].letter)
	assert.Zero(t, hints[0].row)
	assert.Zero(t, hints[0].column)
}

func TestHintRejectedWhenExhausted(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore(map[int64]string{1: "x", 2: "y"})
	r := New(testInfo(3, 2, 1), store, cipher.Default, time.Second, nil)
	seedRoster(r, 1, 2)
	r.playersHints[1] = 1

	server, client := net.Pipe()
	defer client.Close()
	ch := drainPackets(client)
	r.playersConn[1] = server
	r.onlinePlayers = 1

	r.handlePleaseHelp(ctx, PleaseHelpTask{AccountID: 1})

	result := waitForCommand(t, ch, "game_runner_hint_result")
	assert.Contains(t, result.String("error"), "hints")
	assert.Empty(t, store.hintCalls())
}

func TestHintRejectedWhenNotYourTurn(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore(map[int64]string{1: "x", 2: "y"})
	r := New(testInfo(3, 2, 1), store, cipher.Default, time.Second, nil)
	seedRoster(r, 1, 2)

	server, client := net.Pipe()
	defer client.Close()
	ch := drainPackets(client)
	r.playersConn[2] = server
	r.onlinePlayers = 1

	r.handlePleaseHelp(ctx, PleaseHelpTask{AccountID: 2})

	result := waitForCommand(t, ch, "game_runner_hint_result")
	assert.Contains(t, result.String("error"), "not your turn")
	assert.Zero(t, r.playersHints[2])
}

func TestDisconnectSendsAbortAndFreesSlot(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore(map[int64]string{1: "owner"})
	r := New(testInfo(3, 2, 0), store, cipher.Default, time.Second, nil)

	server, client := net.Pipe()
	defer client.Close()
	ch := drainPackets(client)
	r.handleNewPlayerConnection(ctx, NewPlayerConnectionTask{AccountID: 1, Conn: server, Addr: "a"})
	require.Equal(t, 1, r.onlinePlayers)

	r.handleDisconnectPlayer(ctx, DisconnectPlayerTask{AccountID: 1})

	waitForCommand(t, ch, "game_runner_abort")
	assert.Zero(t, r.onlinePlayers)
	assert.Nil(t, r.playersConn[1])
}

func TestIdleRunnerEndsGameAsDraw(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore(map[int64]string{1: "owner"})

	exited := make(chan int64, 1)
	r := New(testInfo(3, 2, 0), store, cipher.Default, 50*time.Millisecond, func(id int64) {
		exited <- id
	})
	r.lastActivity = time.Now().Add(-time.Second)

	go r.Run(ctx)

	select {
	case id := <-exited:
		assert.Equal(t, int64(1), id)
	case <-time.After(3 * time.Second):
		t.Fatal("runner did not exit after idle reclamation window")
	}

	ended := store.endedCalls()
	require.Len(t, ended, 1)
	assert.Nil(t, ended[0].winner)
}

func TestFinishedRunnerExitsWithoutEndingTwice(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore(map[int64]string{1: "owner"})

	exited := make(chan int64, 1)
	r := New(testInfo(3, 2, 0), store, cipher.Default, time.Minute, func(id int64) {
		exited <- id
	})
	r.hasWinner = true

	go r.Run(ctx)

	select {
	case <-exited:
	case <-time.After(3 * time.Second):
		t.Fatal("finished runner did not exit")
	}
	assert.Empty(t, store.endedCalls(), "outcome was already persisted when the winner was announced")
}
