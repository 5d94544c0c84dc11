package game

import "context"

// Store is the persistence surface a Runner needs — satisfied by
// *db.Persistence. Narrowed to an interface, same reasoning as
// internal/session.Store, so board/scoring logic can be tested against a
// fake without a database.
type Store interface {
	AddGameLog(ctx context.Context, gameID, accountID int64, letter string, row, column int) error
	AddGameHint(ctx context.Context, gameID, accountID int64, letter string, row, column int) error
	UpdateAccountGamesAndWins(ctx context.Context, accountID int64, deltaGames, deltaWins int) error
	SetGameEnded(ctx context.Context, gameID int64, winner *int64) error
	GetUsernameFromAccountID(ctx context.Context, accountID int64) (string, error)
}
