package game

import (
	"context"
	"log/slog"
	"sort"

	"github.com/tornado80/sosgame/internal/protocol"
)

// announceWinner runs once the board is full: ranks players by score,
// persists the outcome, increments games-played (and wins, for the top
// scorer when there is no tie) and tells every connected player who won.
// A tie at the top score ends the game as a draw, same as running out the
// idle timer.
func (r *Runner) announceWinner(ctx context.Context) {
	r.hasWinner = true

	type ranked struct {
		accountID int64
		score     int
	}
	standings := make([]ranked, 0, len(r.rosterOrder))
	for _, id := range r.rosterOrder {
		standings = append(standings, ranked{accountID: id, score: r.playersScore[id]})
	}
	sort.Slice(standings, func(i, j int) bool { return standings[i].score > standings[j].score })

	var winner *int64
	if len(standings) > 0 && (len(standings) == 1 || standings[0].score > standings[1].score) {
		id := standings[0].accountID
		winner = &id
	}

	if err := r.store.SetGameEnded(ctx, r.info.GameID, winner); err != nil {
		slog.Error("recording game outcome", "game_id", r.info.GameID, "err", err)
	}
	for _, id := range r.rosterOrder {
		delta := 0
		if winner != nil && *winner == id {
			delta = 1
		}
		if err := r.store.UpdateAccountGamesAndWins(ctx, id, 1, delta); err != nil {
			slog.Error("updating account tally", "account_id", id, "err", err)
		}
	}

	p := protocol.NewPacket("game_runner_winner_announced", nil)
	if winner != nil {
		username, err := r.store.GetUsernameFromAccountID(ctx, *winner)
		if err != nil {
			slog.Warn("resolving winner username", "account_id", *winner, "err", err)
		}
		p["winner"] = username
	} else {
		p["draw"] = true
	}
	for _, conn := range r.playersConn {
		r.send(conn, p)
	}
}
