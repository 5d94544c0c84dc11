package db

import (
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tornado80/sosgame/internal/model"
	"github.com/tornado80/sosgame/internal/session"
)

// Persistence is the database-backed collaborator every account and game
// operation goes through: every mutating operation acquires a single
// process-wide mutex, runs its statements (each one committed on its own;
// NewGame alone groups its two inserts in one transaction), and returns the
// raised error as a value rather than propagating it. Non-mutating probes
// (Resolve, GetGameInformation, GetUsernameFromAccountID) skip the mutex —
// they're cheap and Postgres's own MVCC handles their consistency.
type Persistence struct {
	db *DB
	mu sync.Mutex
}

// NewPersistence wraps a DB handle as the persistence layer.
func NewPersistence(database *DB) *Persistence {
	return &Persistence{db: database}
}

func hashPassword(password string) string {
	sum := sha512.Sum512([]byte(password))
	return hex.EncodeToString(sum[:])
}

func passwordsEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// acquire runs fn under the persistence-wide mutex and normalizes its
// error into the *Error sum type: acquire the lock, run the operation,
// release, and hand the caller back an error value instead of a panic or
// a raw driver error.
func (p *Persistence) acquire(fn func() error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := fn(); err != nil {
		var domainErr *Error
		if errors.As(err, &domainErr) {
			return domainErr
		}
		return storageErr("persistence", err)
	}
	return nil
}

// Authenticate validates credentials and returns a session token. Unknown
// username, wrong password, and a disabled account all collapse to the
// same WrongUsernamePassword message.
func (p *Persistence) Authenticate(ctx context.Context, username, password string) (string, error) {
	var token string
	err := p.acquire(func() error {
		var accountID int64
		var storedHash string
		var disabled bool
		err := p.db.pool.QueryRow(ctx,
			`SELECT account_id, password_hash, is_disabled FROM accounts WHERE username = $1`,
			username,
		).Scan(&accountID, &storedHash, &disabled)
		if errors.Is(err, pgx.ErrNoRows) {
			return newErr(KindWrongUsernamePassword, errWrongUsernamePassword)
		}
		if err != nil {
			return fmt.Errorf("querying account %q: %w", username, err)
		}
		if disabled || !passwordsEqual(storedHash, hashPassword(password)) {
			return newErr(KindWrongUsernamePassword, errWrongUsernamePassword)
		}

		if _, err := p.db.pool.Exec(ctx,
			`UPDATE accounts SET last_login = $1 WHERE account_id = $2`,
			time.Now(), accountID,
		); err != nil {
			return fmt.Errorf("recording last login: %w", err)
		}

		tok, err := session.GenerateToken()
		if err != nil {
			return err
		}
		if _, err := p.db.pool.Exec(ctx,
			`INSERT INTO sessions (token, account_id) VALUES ($1, $2)`,
			tok, accountID,
		); err != nil {
			return fmt.Errorf("inserting session: %w", err)
		}
		token = tok
		return nil
	})
	return token, err
}

// Invalidate deletes a session row. Deleting zero rows means the token was
// already invalid.
func (p *Persistence) Invalidate(ctx context.Context, token string) error {
	return p.acquire(func() error {
		tag, err := p.db.pool.Exec(ctx, `DELETE FROM sessions WHERE token = $1`, token)
		if err != nil {
			return fmt.Errorf("deleting session: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return newErr(KindInvalidSessionToken, "Session token is not valid.")
		}
		return nil
	})
}

// Resolve maps a token to an account id, or -1 on absence or ambiguity. It
// is read-only and does not take the persistence mutex.
func (p *Persistence) Resolve(ctx context.Context, token string) int64 {
	rows, err := p.db.pool.Query(ctx, `SELECT account_id FROM sessions WHERE token = $1`, token)
	if err != nil {
		return -1
	}
	defer rows.Close()

	var id int64
	count := 0
	for rows.Next() {
		count++
		if count > 1 {
			return -1
		}
		if err := rows.Scan(&id); err != nil {
			return -1
		}
	}
	if count != 1 {
		return -1
	}
	return id
}

// invalidateAllSessions drops every session belonging to accountID. Called
// whenever username/password changes or the account is removed.
func (p *Persistence) invalidateAllSessions(ctx context.Context, accountID int64) error {
	if _, err := p.db.pool.Exec(ctx, `DELETE FROM sessions WHERE account_id = $1`, accountID); err != nil {
		return fmt.Errorf("invalidating sessions: %w", err)
	}
	return nil
}

func (p *Persistence) resolveTx(ctx context.Context, token string) (int64, error) {
	rows, err := p.db.pool.Query(ctx, `SELECT account_id FROM sessions WHERE token = $1`, token)
	if err != nil {
		return 0, fmt.Errorf("resolving token: %w", err)
	}
	defer rows.Close()

	var id int64
	count := 0
	for rows.Next() {
		count++
		if err := rows.Scan(&id); err != nil {
			return 0, fmt.Errorf("scanning session: %w", err)
		}
	}
	if count != 1 {
		return 0, newErr(KindInvalidSessionToken, "Session token is not valid.")
	}
	return id, nil
}

// Register creates a new account. Username uniqueness spans live and
// soft-deleted rows alike.
func (p *Persistence) Register(ctx context.Context, username, password, firstName, lastName string, isAdmin bool) error {
	return p.acquire(func() error {
		var exists bool
		if err := p.db.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM accounts WHERE username = $1)`, username,
		).Scan(&exists); err != nil {
			return fmt.Errorf("checking username %q: %w", username, err)
		}
		if exists {
			return newErr(KindExistingUsername, "This username exists already.")
		}
		if _, err := p.db.pool.Exec(ctx,
			`INSERT INTO accounts (username, password_hash, first_name, last_name, is_admin)
			 VALUES ($1, $2, $3, $4, $5)`,
			username, hashPassword(password), firstName, lastName, isAdmin,
		); err != nil {
			return fmt.Errorf("inserting account %q: %w", username, err)
		}
		return nil
	})
}

// ChangePassword updates an account's password and invalidates every
// session on that account.
func (p *Persistence) ChangePassword(ctx context.Context, token, currentPassword, newPassword string) error {
	return p.acquire(func() error {
		accountID, err := p.resolveTx(ctx, token)
		if err != nil {
			return err
		}
		var storedHash string
		if err := p.db.pool.QueryRow(ctx,
			`SELECT password_hash FROM accounts WHERE account_id = $1`, accountID,
		).Scan(&storedHash); err != nil {
			return fmt.Errorf("loading password hash: %w", err)
		}
		if !passwordsEqual(storedHash, hashPassword(currentPassword)) {
			return newErr(KindWrongPassword, "Current password is wrong.")
		}
		if passwordsEqual(storedHash, hashPassword(newPassword)) {
			return newErr(KindRepeatedPassword, "New password must differ from the current one.")
		}
		if _, err := p.db.pool.Exec(ctx,
			`UPDATE accounts SET password_hash = $1 WHERE account_id = $2`,
			hashPassword(newPassword), accountID,
		); err != nil {
			return fmt.Errorf("updating password: %w", err)
		}
		return p.invalidateAllSessions(ctx, accountID)
	})
}

// ChangeUsername updates an account's username and invalidates every
// session on that account. Renaming to the same username is tolerated as
// success.
func (p *Persistence) ChangeUsername(ctx context.Context, token, currentPassword, newUsername string) error {
	return p.acquire(func() error {
		accountID, err := p.resolveTx(ctx, token)
		if err != nil {
			return err
		}
		var storedHash, currentUsername string
		if err := p.db.pool.QueryRow(ctx,
			`SELECT password_hash, username FROM accounts WHERE account_id = $1`, accountID,
		).Scan(&storedHash, &currentUsername); err != nil {
			return fmt.Errorf("loading account: %w", err)
		}
		if !passwordsEqual(storedHash, hashPassword(currentPassword)) {
			return newErr(KindWrongPassword, "Current password is wrong.")
		}
		if newUsername == currentUsername {
			return nil
		}
		var exists bool
		if err := p.db.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM accounts WHERE username = $1)`, newUsername,
		).Scan(&exists); err != nil {
			return fmt.Errorf("checking username %q: %w", newUsername, err)
		}
		if exists {
			return newErr(KindExistingUsername, "This username exists already.")
		}
		if _, err := p.db.pool.Exec(ctx,
			`UPDATE accounts SET username = $1 WHERE account_id = $2`, newUsername, accountID,
		); err != nil {
			return fmt.Errorf("updating username: %w", err)
		}
		return p.invalidateAllSessions(ctx, accountID)
	})
}

// EditProfile updates first/last name only; it does not touch credentials
// and so does not invalidate sessions.
func (p *Persistence) EditProfile(ctx context.Context, token, currentPassword, firstName, lastName string) error {
	return p.acquire(func() error {
		accountID, err := p.resolveTx(ctx, token)
		if err != nil {
			return err
		}
		var storedHash string
		if err := p.db.pool.QueryRow(ctx,
			`SELECT password_hash FROM accounts WHERE account_id = $1`, accountID,
		).Scan(&storedHash); err != nil {
			return fmt.Errorf("loading password hash: %w", err)
		}
		if !passwordsEqual(storedHash, hashPassword(currentPassword)) {
			return newErr(KindWrongPassword, "Current password is wrong.")
		}
		if _, err := p.db.pool.Exec(ctx,
			`UPDATE accounts SET first_name = $1, last_name = $2 WHERE account_id = $3`,
			firstName, lastName, accountID,
		); err != nil {
			return fmt.Errorf("updating profile: %w", err)
		}
		return nil
	})
}

// EditAccount is the admin-capable full edit: username, password, name and
// admin flag in one call. It invalidates sessions since it can change
// credentials.
func (p *Persistence) EditAccount(ctx context.Context, token, currentPassword, username, password, firstName, lastName string, isAdmin bool) error {
	return p.acquire(func() error {
		accountID, err := p.resolveTx(ctx, token)
		if err != nil {
			return err
		}
		var storedHash string
		if err := p.db.pool.QueryRow(ctx,
			`SELECT password_hash FROM accounts WHERE account_id = $1`, accountID,
		).Scan(&storedHash); err != nil {
			return fmt.Errorf("loading account: %w", err)
		}
		if !passwordsEqual(storedHash, hashPassword(currentPassword)) {
			return newErr(KindWrongPassword, "Current password is wrong.")
		}
		var conflictID int64
		err = p.db.pool.QueryRow(ctx,
			`SELECT account_id FROM accounts WHERE username = $1`, username,
		).Scan(&conflictID)
		if err == nil && conflictID != accountID {
			return newErr(KindExistingUsername, "This username exists already.")
		}
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("checking username %q: %w", username, err)
		}
		if _, err := p.db.pool.Exec(ctx,
			`UPDATE accounts SET username = $1, password_hash = $2, first_name = $3, last_name = $4, is_admin = $5
			 WHERE account_id = $6`,
			username, hashPassword(password), firstName, lastName, isAdmin, accountID,
		); err != nil {
			return fmt.Errorf("updating account: %w", err)
		}
		return p.invalidateAllSessions(ctx, accountID)
	})
}

// RemoveAccount soft-deletes an account: its username is rewritten to a
// DELETED_ACCOUNT_<id> sentinel, it is disabled, and every session on it is
// invalidated.
func (p *Persistence) RemoveAccount(ctx context.Context, token, currentPassword string) error {
	return p.acquire(func() error {
		accountID, err := p.resolveTx(ctx, token)
		if err != nil {
			return err
		}
		var storedHash string
		if err := p.db.pool.QueryRow(ctx,
			`SELECT password_hash FROM accounts WHERE account_id = $1`, accountID,
		).Scan(&storedHash); err != nil {
			return fmt.Errorf("loading account: %w", err)
		}
		if !passwordsEqual(storedHash, hashPassword(currentPassword)) {
			return newErr(KindWrongPassword, "Current password is wrong.")
		}
		sentinel := fmt.Sprintf("DELETED_ACCOUNT_%d", accountID)
		if _, err := p.db.pool.Exec(ctx,
			`UPDATE accounts SET username = $1, is_disabled = true, deleted_at = $2 WHERE account_id = $3`,
			sentinel, time.Now(), accountID,
		); err != nil {
			return fmt.Errorf("soft-deleting account: %w", err)
		}
		return p.invalidateAllSessions(ctx, accountID)
	})
}

// GetAccount returns the profile of the account owning token.
func (p *Persistence) GetAccount(ctx context.Context, token string) (model.Account, error) {
	var acc model.Account
	err := p.acquire(func() error {
		accountID, err := p.resolveTx(ctx, token)
		if err != nil {
			return err
		}
		acc.ID = accountID
		return p.db.pool.QueryRow(ctx,
			`SELECT username, first_name, last_name, rating, wins, games_played, is_admin, created_at, last_login
			 FROM accounts WHERE account_id = $1`, accountID,
		).Scan(&acc.Username, &acc.FirstName, &acc.LastName,
			&acc.Rating, &acc.Wins, &acc.GamesPlayed, &acc.IsAdmin, &acc.CreatedAt, &acc.LastLogin)
	})
	return acc, err
}

// NewGame atomically creates a game row and the creator's Players row.
// max_hint = 0 means hints are disabled.
func (p *Persistence) NewGame(ctx context.Context, token string, boardSize, playerCount int, public bool, maxHint int) (gameID, accountID int64, err error) {
	err = p.acquire(func() error {
		id, rerr := p.resolveTx(ctx, token)
		if rerr != nil {
			return rerr
		}
		accountID = id

		tx, terr := p.db.pool.Begin(ctx)
		if terr != nil {
			return fmt.Errorf("beginning transaction: %w", terr)
		}
		defer tx.Rollback(ctx)

		if qerr := tx.QueryRow(ctx,
			`INSERT INTO games (board_size, player_cap, is_public, max_hint, created_by)
			 VALUES ($1, $2, $3, $4, $5) RETURNING game_id`,
			boardSize, playerCount, public, maxHint, accountID,
		).Scan(&gameID); qerr != nil {
			return fmt.Errorf("inserting game: %w", qerr)
		}
		if _, qerr := tx.Exec(ctx,
			`INSERT INTO players (game_id, account_id) VALUES ($1, $2)`,
			gameID, accountID,
		); qerr != nil {
			return fmt.Errorf("inserting creator player row: %w", qerr)
		}
		return tx.Commit(ctx)
	})
	return gameID, accountID, err
}

// JoinGame adds an account to a game's roster. Idempotent for an account
// already on the roster; rejects once the roster is full; the creator
// username is a weak access check against the stored creator username.
func (p *Persistence) JoinGame(ctx context.Context, token string, gameID int64, creatorUsername string) (int64, error) {
	var accountID int64
	err := p.acquire(func() error {
		id, rerr := p.resolveTx(ctx, token)
		if rerr != nil {
			return rerr
		}
		accountID = id

		var playerCap int
		var createdBy int64
		err := p.db.pool.QueryRow(ctx,
			`SELECT player_cap, created_by FROM games WHERE game_id = $1`, gameID,
		).Scan(&playerCap, &createdBy)
		if errors.Is(err, pgx.ErrNoRows) {
			return newErr(KindWrongGameID, "Game ID or username is not valid.")
		}
		if err != nil {
			return fmt.Errorf("loading game %d: %w", gameID, err)
		}

		var actualCreatorUsername string
		if err := p.db.pool.QueryRow(ctx,
			`SELECT username FROM accounts WHERE account_id = $1`, createdBy,
		).Scan(&actualCreatorUsername); err != nil {
			return fmt.Errorf("loading creator username: %w", err)
		}
		if actualCreatorUsername != creatorUsername {
			return newErr(KindWrongGameID, "Game ID or username is not valid.")
		}

		var alreadyJoined bool
		if err := p.db.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM players WHERE game_id = $1 AND account_id = $2)`,
			gameID, accountID,
		).Scan(&alreadyJoined); err != nil {
			return fmt.Errorf("checking membership: %w", err)
		}
		if alreadyJoined {
			return nil
		}

		var rosterSize int
		if err := p.db.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM players WHERE game_id = $1`, gameID,
		).Scan(&rosterSize); err != nil {
			return fmt.Errorf("counting roster: %w", err)
		}
		if rosterSize >= playerCap {
			return newErr(KindGameNewPlayerBanned, "Game has reached its player limit.")
		}

		if _, err := p.db.pool.Exec(ctx,
			`INSERT INTO players (game_id, account_id) VALUES ($1, $2)`, gameID, accountID,
		); err != nil {
			return fmt.Errorf("inserting player row: %w", err)
		}
		return nil
	})
	return accountID, err
}

// GameInformation is what a freshly started runner needs to know about its
// game.
type GameInformation struct {
	PlayerCount     int
	BoardSize       int
	CreatorID       int64
	CreatorUsername string
	MaxHint         int
}

// GetGameInformation is a non-mutating probe; it does not take the
// persistence mutex.
func (p *Persistence) GetGameInformation(ctx context.Context, gameID int64) (GameInformation, error) {
	var info GameInformation
	err := p.db.pool.QueryRow(ctx,
		`SELECT g.player_cap, g.board_size, g.created_by, a.username, g.max_hint
		 FROM games g JOIN accounts a ON a.account_id = g.created_by
		 WHERE g.game_id = $1`, gameID,
	).Scan(&info.PlayerCount, &info.BoardSize, &info.CreatorID, &info.CreatorUsername, &info.MaxHint)
	if err != nil {
		return info, fmt.Errorf("loading game %d: %w", gameID, err)
	}
	return info, nil
}

// AddGameLog appends one accepted move to the per-game log. LogNumber is
// computed as the next dense number for the game.
func (p *Persistence) AddGameLog(ctx context.Context, gameID, accountID int64, letter string, row, column int) error {
	return p.acquire(func() error {
		var nextNumber int
		if err := p.db.pool.QueryRow(ctx,
			`SELECT COALESCE(MAX(log_number), 0) + 1 FROM game_logs WHERE game_id = $1`, gameID,
		).Scan(&nextNumber); err != nil {
			return fmt.Errorf("computing next log number: %w", err)
		}
		if _, err := p.db.pool.Exec(ctx,
			`INSERT INTO game_logs (game_id, log_number, row_number, column_number, letter, account_id)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			gameID, nextNumber, row, column, letter, accountID,
		); err != nil {
			return fmt.Errorf("inserting game log: %w", err)
		}
		return nil
	})
}

// AddGameHint appends one served hint request. An unavailable hint is
// recorded with row=column=0 and an empty letter.
func (p *Persistence) AddGameHint(ctx context.Context, gameID, accountID int64, letter string, row, column int) error {
	return p.acquire(func() error {
		if _, err := p.db.pool.Exec(ctx,
			`INSERT INTO game_hints (game_id, row_number, column_number, letter, account_id)
			 VALUES ($1, $2, $3, $4, $5)`,
			gameID, row, column, letter, accountID,
		); err != nil {
			return fmt.Errorf("inserting game hint: %w", err)
		}
		return nil
	})
}

// UpdateAccountGamesAndWins increments games_played and wins by the given
// deltas.
func (p *Persistence) UpdateAccountGamesAndWins(ctx context.Context, accountID int64, deltaGames, deltaWins int) error {
	return p.acquire(func() error {
		if _, err := p.db.pool.Exec(ctx,
			`UPDATE accounts SET games_played = games_played + $1, wins = wins + $2 WHERE account_id = $3`,
			deltaGames, deltaWins, accountID,
		); err != nil {
			return fmt.Errorf("updating games/wins for account %d: %w", accountID, err)
		}
		return nil
	})
}

// SetGameEnded marks a game as finished. winner is nil on a draw. A
// failure here is benign — the game is effectively over
// either way — so callers in internal/game log it and move on rather than
// retrying.
func (p *Persistence) SetGameEnded(ctx context.Context, gameID int64, winner *int64) error {
	return p.acquire(func() error {
		if _, err := p.db.pool.Exec(ctx,
			`UPDATE games SET running = false, winner = $1 WHERE game_id = $2`,
			winner, gameID,
		); err != nil {
			return fmt.Errorf("ending game %d: %w", gameID, err)
		}
		return nil
	})
}

// GetUsernameFromAccountID is a non-mutating probe used heavily by the
// game runner when composing broadcasts.
func (p *Persistence) GetUsernameFromAccountID(ctx context.Context, accountID int64) (string, error) {
	var username string
	if err := p.db.pool.QueryRow(ctx,
		`SELECT username FROM accounts WHERE account_id = $1`, accountID,
	).Scan(&username); err != nil {
		return "", fmt.Errorf("loading username for account %d: %w", accountID, err)
	}
	return username, nil
}
