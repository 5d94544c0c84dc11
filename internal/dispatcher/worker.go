package dispatcher

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"

	"github.com/tornado80/sosgame/internal/db"
	"github.com/tornado80/sosgame/internal/game"
	"github.com/tornado80/sosgame/internal/protocol"
)

// handle reads exactly one request packet off conn and branches on its
// command. Short RPCs answer and close; the two long upgrades transfer
// conn to a game runner on success instead of closing it.
func (s *Server) handle(ctx context.Context, conn net.Conn) {
	req, err := protocol.ReadPacket(conn, s.table)
	if err != nil {
		conn.Close()
		return
	}

	if s.paused.Load() || s.stopped.Load() {
		reason := "Server is paused."
		if s.stopped.Load() {
			reason = "Server is stopped."
		}
		resp := protocol.NewError(responseCommand(req.Command()), reason)
		if err := protocol.WritePacket(conn, s.table, resp); err != nil {
			slog.Debug("writing paused response", "err", err)
		}
		conn.Close()
		return
	}

	switch req.Command() {
	case "new_game_request":
		s.handleNewGame(ctx, conn, req)
	case "join_game_request":
		s.handleJoinGame(ctx, conn, req)
	default:
		s.handleShortRPC(ctx, conn, req)
	}
}

// responseCommand turns a "..._request" command into its "..._response"
// counterpart, the shape every short RPC error uses.
func responseCommand(command string) string {
	return strings.Replace(command, "request", "response", 1)
}

func (s *Server) handleShortRPC(ctx context.Context, conn net.Conn, req protocol.Packet) {
	defer conn.Close()

	command := req.Command()
	resp := responseCommand(command)
	data := req.Data()

	var result protocol.Packet
	switch command {
	case "login_request":
		token, err := s.auth.Authenticate(ctx, str(data, "username"), str(data, "password"))
		if err != nil {
			result = errorPacket(resp, err)
		} else {
			result = protocol.NewPacket(resp, map[string]any{"session_id": token})
		}
	case "signup_request":
		firstName, _ := data["first_name"].(string)
		lastName, _ := data["last_name"].(string)
		err := s.store.Register(ctx, str(data, "username"), str(data, "password"), firstName, lastName, false)
		result = okOrError(resp, err, nil)
	case "signout_request":
		err := s.auth.Invalidate(ctx, str(data, "session_id"))
		result = okOrError(resp, err, nil)
	case "get_account_request":
		acc, err := s.store.GetAccount(ctx, str(data, "session_id"))
		if err != nil {
			result = errorPacket(resp, err)
		} else {
			result = protocol.NewPacket(resp, map[string]any{
				"username":     acc.Username,
				"first_name":   acc.FirstName,
				"last_name":    acc.LastName,
				"rating":       acc.Rating,
				"wins":         acc.Wins,
				"games_played": acc.GamesPlayed,
				"is_admin":     acc.IsAdmin,
			})
		}
	case "edit_account_request":
		firstName, _ := data["first_name"].(string)
		lastName, _ := data["last_name"].(string)
		isAdmin, _ := data["is_admin"].(bool)
		err := s.store.EditAccount(ctx, str(data, "session_id"), str(data, "current_password"),
			str(data, "username"), str(data, "password"), firstName, lastName, isAdmin)
		result = okOrError(resp, err, nil)
	case "edit_profile_request":
		firstName, _ := data["first_name"].(string)
		lastName, _ := data["last_name"].(string)
		err := s.store.EditProfile(ctx, str(data, "session_id"), str(data, "current_password"), firstName, lastName)
		result = okOrError(resp, err, nil)
	case "edit_username_request":
		err := s.store.ChangeUsername(ctx, str(data, "session_id"), str(data, "current_password"), str(data, "username"))
		result = okOrError(resp, err, nil)
	case "edit_password_request":
		err := s.store.ChangePassword(ctx, str(data, "session_id"), str(data, "current_password"), str(data, "password"))
		result = okOrError(resp, err, nil)
	case "remove_account_request":
		err := s.store.RemoveAccount(ctx, str(data, "session_id"), str(data, "current_password"))
		result = okOrError(resp, err, nil)
	default:
		result = protocol.NewError(resp, "Unknown command.")
	}

	if err := protocol.WritePacket(conn, s.table, result); err != nil {
		slog.Debug("writing response", "command", command, "err", err)
	}
}

func (s *Server) handleNewGame(ctx context.Context, conn net.Conn, req protocol.Packet) {
	data := req.Data()
	boardSize := req.Int("board_size")
	playerCount := req.Int("player_count")
	maxHint := req.Int("max_hint")
	public, _ := data["is_public"].(bool)

	if boardSize < 1 || playerCount < 1 {
		protocol.WritePacket(conn, s.table, protocol.NewError("new_game_response", "Game parameters are not valid."))
		conn.Close()
		return
	}

	gameID, accountID, err := s.store.NewGame(ctx, str(data, "session_id"), boardSize, playerCount, public, maxHint)
	if err != nil {
		resp := errorPacket("new_game_response", err)
		protocol.WritePacket(conn, s.table, resp)
		conn.Close()
		return
	}

	info, ierr := s.store.GetGameInformation(ctx, gameID)
	if ierr != nil {
		protocol.WritePacket(conn, s.table, protocol.NewError("new_game_response", "Could not start game."))
		conn.Close()
		return
	}

	runner := game.New(game.Info{
		GameID:          gameID,
		BoardSize:       info.BoardSize,
		PlayerCount:     info.PlayerCount,
		CreatorID:       info.CreatorID,
		CreatorUsername: info.CreatorUsername,
		MaxHint:         info.MaxHint,
	}, s.store, s.table, s.idleReclaim, s.onRunnerExit)
	s.RegisterRunner(gameID, runner)
	go runner.Run(ctx)

	runner.Enqueue(game.NewPlayerConnectionTask{AccountID: accountID, Conn: conn, Addr: conn.RemoteAddr().String()})
}

func (s *Server) handleJoinGame(ctx context.Context, conn net.Conn, req protocol.Packet) {
	data := req.Data()
	gameID := int64(req.Int("game_id"))
	creatorUsername := str(data, "creator_username")

	accountID, err := s.store.JoinGame(ctx, str(data, "session_id"), gameID, creatorUsername)
	if err != nil {
		resp := errorPacket("join_game_response", err)
		protocol.WritePacket(conn, s.table, resp)
		conn.Close()
		return
	}

	runner, ok := s.registry.get(gameID)
	if !ok {
		protocol.WritePacket(conn, s.table, protocol.NewError("join_game_response", "Game ID or username is not valid."))
		conn.Close()
		return
	}

	runner.Enqueue(game.NewPlayerConnectionTask{AccountID: accountID, Conn: conn, Addr: conn.RemoteAddr().String()})
}

func str(data map[string]any, key string) string {
	v, _ := data[key].(string)
	return v
}

func errorPacket(command string, err error) protocol.Packet {
	var domainErr *db.Error
	if errors.As(err, &domainErr) && domainErr.Kind != db.KindStorage {
		return protocol.NewError(command, domainErr.Error())
	}
	return protocol.NewError(command, "Internal error.")
}

func okOrError(command string, err error, data map[string]any) protocol.Packet {
	if err != nil {
		return errorPacket(command, err)
	}
	return protocol.NewPacket(command, data)
}
