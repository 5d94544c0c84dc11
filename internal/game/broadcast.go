package game

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/tornado80/sosgame/internal/protocol"
)

// broadcastPlayersStatus sends every connected player the current roster:
// online/offline, score and remaining hints for each account that has ever
// joined this game.
func (r *Runner) broadcastPlayersStatus(ctx context.Context) {
	players := make([]map[string]any, 0, len(r.rosterOrder))
	for _, accountID := range r.rosterOrder {
		username, err := r.store.GetUsernameFromAccountID(ctx, accountID)
		if err != nil {
			slog.Warn("resolving username for broadcast", "account_id", accountID, "err", err)
			continue
		}
		players = append(players, map[string]any{
			"account_id": accountID,
			"username":   username,
			"online":     r.playersConn[accountID] != nil,
			"score":      r.playersScore[accountID],
			"hints_left": r.info.MaxHint - r.playersHints[accountID],
			"color":      r.playersColor[accountID],
		})
	}
	p := protocol.NewPacket("game_runner_players_status", map[string]any{"players": players})
	for _, conn := range r.playersConn {
		r.send(conn, p)
	}
}

// broadcastBoardStatus sends every connected player the full board: each
// cell's letter (empty string if unfilled) and the color of whichever
// player currently owns it.
func (r *Runner) broadcastBoardStatus() {
	rows := make([][]map[string]any, len(r.board))
	for i, row := range r.board {
		rows[i] = make([]map[string]any, len(row))
		for j, c := range row {
			color := emptyCellColor
			if c.Filled {
				color = r.playersColor[c.Owner]
			}
			rows[i][j] = map[string]any{"letter": c.Letter, "color": color}
		}
	}
	p := protocol.NewPacket("game_runner_board_status", map[string]any{"board": rows})
	for _, conn := range r.playersConn {
		r.send(conn, p)
	}
}

func hintMessage(p goodPlace) string {
	return "Try placing " + p.Letter + " at row " + strconv.Itoa(p.Row+1) + ", column " + strconv.Itoa(p.Column+1) + "."
}
