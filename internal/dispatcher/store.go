package dispatcher

import (
	"context"

	"github.com/tornado80/sosgame/internal/db"
	"github.com/tornado80/sosgame/internal/game"
	"github.com/tornado80/sosgame/internal/model"
	"github.com/tornado80/sosgame/internal/session"
)

// Store is the persistence surface the dispatcher needs — satisfied by
// *db.Persistence. It embeds session.Store (the authenticator's slice of
// it) and game.Store so a single store value can be handed to the
// dispatcher's own workers, the session authenticator, and every
// game.Runner they spin up, with no runtime type assertion needed.
type Store interface {
	session.Store
	game.Store

	Register(ctx context.Context, username, password, firstName, lastName string, isAdmin bool) error
	ChangePassword(ctx context.Context, token, currentPassword, newPassword string) error
	ChangeUsername(ctx context.Context, token, currentPassword, newUsername string) error
	EditProfile(ctx context.Context, token, currentPassword, firstName, lastName string) error
	EditAccount(ctx context.Context, token, currentPassword, username, password, firstName, lastName string, isAdmin bool) error
	RemoveAccount(ctx context.Context, token, currentPassword string) error
	GetAccount(ctx context.Context, token string) (model.Account, error)
	NewGame(ctx context.Context, token string, boardSize, playerCount int, public bool, maxHint int) (gameID, accountID int64, err error)
	JoinGame(ctx context.Context, token string, gameID int64, creatorUsername string) (int64, error)
	GetGameInformation(ctx context.Context, gameID int64) (db.GameInformation, error)
}
