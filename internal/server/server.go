package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/valenfontana7/burako-online/internal/burako"
	"github.com/valenfontana7/burako-online/internal/database"
)

const saveResultTimeout = 5 * time.Second

type Server struct {
	cfg Config
	log logrus.FieldLogger
	db  database.Service // nil when no DATABASE_URL is set

	engine      *burako.Engine
	lobby       *Lobby
	connections *ConnectionManager
	sessions    *SessionManager
	rateLimiter *RateLimiter
	results     ResultStore

	startedAt time.Time
}

// NewServer wires every collaborator and starts the background cleanup,
// which stops when ctx is cancelled.
func NewServer(ctx context.Context, cfg Config, log logrus.FieldLogger) (*Server, *http.Server, error) {
	var db database.Service
	var results ResultStore = NopResultStore{}

	if cfg.DatabaseURL != "" {
		var err error
		db, err = database.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open results database: %w", err)
		}
		results = NewSQLResultStore(db.DB())
		log.WithField("dialect", db.Dialect()).Info("results database ready")
	} else {
		log.Warn("DATABASE_URL not set, finished games will not be archived")
	}

	s := newServer(cfg, log, burako.NewEngine(burako.WithLogger(log)), results)
	s.db = db

	go s.cleanupTask(ctx)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s, httpServer, nil
}

func newServer(cfg Config, log logrus.FieldLogger, engine *burako.Engine, results ResultStore) *Server {
	s := &Server{
		cfg:         cfg,
		log:         log,
		engine:      engine,
		connections: NewConnectionManager(),
		sessions:    NewSessionManager(),
		rateLimiter: NewRateLimiter(cfg.RateLimit, time.Second),
		results:     results,
		startedAt:   time.Now(),
	}
	s.lobby = NewLobby(engine, log, WithResultHandler(s.saveResult))
	return s
}

// saveResult archives a finished game. It runs on the goroutine that
// finished the game, after the table lock is released.
func (s *Server) saveResult(result GameResult) {
	ctx, cancel := context.WithTimeout(context.Background(), saveResultTimeout)
	defer cancel()

	log := s.log.WithFields(logrus.Fields{
		"table":  result.TableID,
		"game":   result.GameID,
		"winner": result.WinnerName,
	})
	if err := s.results.SaveResult(ctx, result); err != nil {
		log.WithError(err).Error("failed to archive game result")
		return
	}
	log.Info("game result archived")
}

// cleanupTask drops idle tables and stale rate limit entries every
// CLEANUP_INTERVAL.
func (s *Server) cleanupTask(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *Server) cleanup() {
	removed := s.lobby.RemoveIdle(s.cfg.TableIdleTTL)
	for _, id := range removed {
		s.sessions.RemoveTable(id)
		s.broadcastLobby(LobbyEvent{Type: LobbyTableRemoved, TableID: id})
	}

	stale := s.rateLimiter.Cleanup()
	if len(removed) > 0 || stale > 0 {
		s.log.WithFields(logrus.Fields{
			"tables":      len(removed),
			"rate_limits": stale,
		}).Info("cleanup finished")
	}
}

// Shutdown tells every client the server is going away, closes their
// sockets and releases the database.
func (s *Server) Shutdown(ctx context.Context) error {
	conns := s.connections.All()
	s.log.WithField("connections", len(conns)).Info("notifying clients of shutdown")

	for id, conn := range conns {
		if err := s.sendMessage(conn, ctx, ServerMessage{
			Type:    "server_shutdown",
			Payload: DisconnectedNotification{Message: "Server is restarting, reconnect in a moment"},
		}); err != nil {
			s.log.WithField("conn", id).WithError(err).Debug("failed to send shutdown notice")
		}
		conn.Close(websocket.StatusGoingAway, "Server shutting down")
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return fmt.Errorf("failed to close database: %w", err)
		}
	}
	return nil
}
