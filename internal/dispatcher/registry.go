package dispatcher

import (
	"sync"

	"github.com/tornado80/sosgame/internal/game"
)

// registry is the dispatcher's live-runner map: every game id with an
// active Runner goroutine. Entries are added when a game is created and
// removed when the runner's event loop returns, so a reclaimed or
// finished game stops being routable.
type registry struct {
	mu      sync.Mutex
	runners map[int64]*game.Runner
}

func newRegistry() *registry {
	return &registry{runners: make(map[int64]*game.Runner)}
}

func (r *registry) put(gameID int64, runner *game.Runner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runners[gameID] = runner
}

func (r *registry) get(gameID int64) (*game.Runner, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	runner, ok := r.runners[gameID]
	return runner, ok
}

func (r *registry) remove(gameID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runners, gameID)
}
