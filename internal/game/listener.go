package game

import (
	"errors"
	"log/slog"
	"net"

	"github.com/tornado80/sosgame/internal/cipher"
	"github.com/tornado80/sosgame/internal/protocol"
)

// listen is the read loop started for every accepted player connection.
// It only ever reads from conn and enqueues tasks — writes to conn happen
// exclusively from the runner goroutine, so a connection has exactly one
// writer at all times. The loop ends, and a DisconnectPlayerTask is
// enqueued, when the socket closes or sends something it can't parse.
func listen(conn net.Conn, accountID int64, tasks chan<- Task, table *cipher.Table) {
	defer func() {
		tasks <- DisconnectPlayerTask{AccountID: accountID}
	}()

	for {
		p, err := protocol.ReadPacket(conn, table)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				slog.Debug("player connection closed", "account_id", accountID, "err", err)
			}
			return
		}

		switch p.Command() {
		case "game_runner_my_turn":
			tasks <- PlayerTurnDoneTask{
				AccountID: accountID,
				Row:       p.Int("row"),
				Column:    p.Int("column"),
				Letter:    p.String("letter"),
			}
		case "game_runner_hint":
			tasks <- PleaseHelpTask{AccountID: accountID}
		case "game_runner_disconnect":
			return
		}
	}
}
