// Package dispatcher implements the connection dispatcher and server
// lifecycle: an accept loop that hands every connection to a worker, a
// paused/stopped lifecycle with a loopback-dial trick to unblock a
// pending Accept, and the live-runner registry new games are born into.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tornado80/sosgame/internal/cipher"
	"github.com/tornado80/sosgame/internal/game"
	"github.com/tornado80/sosgame/internal/session"
)

// Server owns the listening socket, the pause/stop lifecycle flags, and
// the map of live game runners.
type Server struct {
	store Store
	auth  *session.Authenticator
	table *cipher.Table

	idleReclaim time.Duration

	listener net.Listener
	mu       sync.Mutex

	paused  atomic.Bool
	stopped atomic.Bool

	registry *registry
}

// New builds a dispatcher ready to Run once a listener is attached.
func New(store Store, table *cipher.Table, idleReclaim time.Duration) *Server {
	return &Server{
		store:       store,
		auth:        session.New(store),
		table:       table,
		idleReclaim: idleReclaim,
		registry:    newRegistry(),
	}
}

// Run opens addr and accepts connections until the listener closes or ctx
// is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	slog.Info("dispatcher listening", "address", ln.Addr())
	return s.acceptLoop(ctx, ln)
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.Error("accepting connection", "err", err)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

// Pause marks the server paused: every subsequently read request gets an
// error response instead of being serviced, but the listener stays open.
func (s *Server) Pause() {
	s.paused.Store(true)
	s.wake()
}

// Resume clears a prior Pause.
func (s *Server) Resume() {
	s.paused.Store(false)
}

// Stop marks the server stopped, wakes a pending Accept and closes the
// listener. It does not wait for in-flight workers; a worker that reads its
// request after this point answers it with a "Server is stopped." error.
func (s *Server) Stop() {
	s.stopped.Store(true)
	s.wake()
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln != nil {
		ln.Close()
	}
}

// wake dials the server's own listening address to unblock a pending
// Accept() — the idiomatic stand-in here since net.Listener has no native
// cancellation. The dummy connection carries no data and is closed
// immediately, so the worker that receives it sees EOF on its first read
// and exits without answering anything.
func (s *Server) wake() {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return
	}
	conn, err := net.DialTimeout("tcp", ln.Addr().String(), time.Second)
	if err != nil {
		return
	}
	conn.Close()
}

// RegisterRunner adds a freshly started runner to the live registry.
func (s *Server) RegisterRunner(gameID int64, runner *game.Runner) {
	s.registry.put(gameID, runner)
}

func (s *Server) onRunnerExit(gameID int64) {
	s.registry.remove(gameID)
}
