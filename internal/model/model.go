// Package model holds the persisted shapes shared by internal/db and the
// callers that consume it (internal/dispatcher, internal/game). Nothing in
// this package talks to a database or a socket.
package model

import "time"

// Account is a registered player. Username is unique across live and
// soft-deleted rows alike: a deleted account's username is
// rewritten to a DELETED_ACCOUNT_<id> sentinel rather than freed for reuse.
type Account struct {
	ID           int64
	Username     string
	PasswordHash string // hex-encoded SHA-512 of the UTF-8 password bytes
	FirstName    string
	LastName     string
	Rating       int
	Wins         int
	GamesPlayed  int
	CreatedAt    time.Time
	DeletedAt    *time.Time
	LastLogin    *time.Time
	IsAdmin      bool
	IsDisabled   bool
}

// Session is an opaque bearer token tying a live connection to an Account.
// There is no expiry; a session only dies by explicit invalidation or by a
// password/username change or account deletion invalidating all of an
// account's sessions at once.
type Session struct {
	ID        int64
	Token     string
	AccountID int64
	CreatedAt time.Time
}

// Game is one board-game instance. Winner is nil until the game ends, and
// stays nil on a draw even after Running flips to false.
type Game struct {
	ID        int64
	BoardSize int
	PlayerCap int
	IsPublic  bool
	Running   bool
	MaxHint   int
	CreatedBy int64
	Winner    *int64
	CreatedAt time.Time
}

// Player records an account's membership in a game. Rows are never deleted.
// LeftAt maps the left_at column, which no operation in internal/db writes:
// it stays nil whether a player's socket drops or the player disconnects.
type Player struct {
	ID        int64
	GameID    int64
	AccountID int64
	JoinedAt  time.Time
	LeftAt    *time.Time
}

// GameLog is one accepted move. LogNumber is dense and starts at 1 per game.
type GameLog struct {
	ID        int64
	GameID    int64
	LogNumber int
	Row       int
	Column    int
	Letter    string
	AccountID int64
	LoggedAt  time.Time
}

// GameHint is one served hint request. An unavailable hint is recorded with
// Row=0, Column=0 and an empty Letter.
type GameHint struct {
	ID        int64
	GameID    int64
	Row       int
	Column    int
	Letter    string
	AccountID int64
	LoggedAt  time.Time
}

// Action is the reserved audit trail: the core writes none
// today, but the table and the model exist for a future caller.
type Action struct {
	ID         int64
	AccountID  *int64
	Report     string
	OccurredAt time.Time
}
