package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/valenfontana7/burako-online/internal/burako"
)

const (
	writeTimeout = 5 * time.Second

	defaultResultsLimit = 20
	maxResultsLimit     = 100
)

func (s *Server) RegisterRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.livenessHandler)
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("GET /tables", s.tablesHandler)
	mux.HandleFunc("GET /results", s.resultsHandler)

	mux.HandleFunc("/websocket", s.websocketHandler)

	return s.corsMiddleware(mux)
}

// corsMiddleware only answers origins listed in CLIENT_ORIGINS.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.ToLower(r.Header.Get("Origin"))
		if origin != "" && slices.Contains(s.cfg.ClientOrigins, origin) {
			w.Header().Set("Access-Control-Allow-Origin", r.Header.Get("Origin"))
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type")
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// originPatterns turns the configured origins into the host patterns the
// websocket handshake checks against.
func (s *Server) originPatterns() []string {
	patterns := make([]string, 0, len(s.cfg.ClientOrigins))
	for _, origin := range s.cfg.ClientOrigins {
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
		}
	}
	return patterns
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		s.log.WithError(err).Warn("failed to write response")
	}
}

func (s *Server) livenessHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"uptime":      time.Since(s.startedAt).Round(time.Second).String(),
		"tables":      s.lobby.Count(),
		"connections": s.connections.Count(),
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		s.writeJSON(w, http.StatusOK, map[string]string{
			"status":  "disabled",
			"message": "No results database configured",
		})
		return
	}

	health := s.db.Health(r.Context())
	status := http.StatusOK
	if health["status"] != "up" {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, health)
}

func (s *Server) tablesHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, LobbySnapshot{Tables: s.lobby.Snapshot()})
}

func (s *Server) resultsHandler(w http.ResponseWriter, r *http.Request) {
	limit := defaultResultsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeJSON(w, http.StatusBadRequest, ErrorMessage{
				Code:    "INVALID_LIMIT",
				Message: "limit must be a positive integer",
			})
			return
		}
		limit = min(n, maxResultsLimit)
	}

	results, err := s.results.RecentResults(r.Context(), limit)
	if err != nil {
		s.log.WithError(err).Error("failed to load results")
		s.writeJSON(w, http.StatusInternalServerError, ErrorMessage{
			Code:    "INTERNAL_ERROR",
			Message: "Failed to load results",
		})
		return
	}
	s.writeJSON(w, http.StatusOK, results)
}

func (s *Server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	socket, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns(),
	})
	if err != nil {
		s.log.WithError(err).Warn("websocket handshake failed")
		return
	}
	defer socket.Close(websocket.StatusGoingAway, "Server closing")

	ctx := r.Context()

	connectionID := uuid.NewString()
	log := s.log.WithField("conn", connectionID)
	log.Info("connection opened")
	s.connections.AddConnection(connectionID, socket)
	defer s.handleDisconnect(connectionID)

	for {
		msgType, data, err := socket.Read(ctx)
		if err != nil {
			log.WithError(err).Debug("read ended")
			return
		}

		if msgType != websocket.MessageText {
			log.Debug("ignoring non-text frame")
			continue
		}

		if !s.rateLimiter.Allow(connectionID) {
			s.sendError(socket, ctx, errors.New("RATE_LIMIT_EXCEEDED: Too many messages, slow down"))
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.WithError(err).Debug("invalid JSON")
			s.sendError(socket, ctx, errors.New("INVALID_JSON: Message is not valid JSON"))
			continue
		}

		if err := ValidateMessageType(msg.Type); err != nil {
			s.sendError(socket, ctx, err)
			continue
		}

		log.WithField("type", msg.Type).Debug("message received")

		switch msg.Type {
		case "ping":
			s.handlePing(socket, ctx, connectionID)
		case "subscribe_lobby":
			s.handleSubscribeLobby(socket, ctx, connectionID)
		case "unsubscribe_lobby":
			s.handleUnsubscribeLobby(socket, ctx, connectionID)
		case "create_table":
			s.handleCreateTable(socket, ctx, connectionID, msg.Payload)
		case "join_table":
			s.handleJoinTable(socket, ctx, connectionID, msg.Payload)
		case "leave_table":
			s.handleLeaveTable(socket, ctx, connectionID, msg.Payload)
		case "reconnect":
			s.handleReconnect(socket, ctx, connectionID, msg.Payload)
		case "start_game":
			s.handleStartGame(socket, ctx, connectionID, msg.Payload)
		case "execute_move":
			s.handleExecuteMove(socket, ctx, connectionID, msg.Payload)
		case "request_state":
			s.handleRequestState(socket, ctx, connectionID, msg.Payload)
		}
	}
}

// handleDisconnect runs once the read loop of a connection ends.
func (s *Server) handleDisconnect(connectionID string) {
	s.connections.RemoveConnection(connectionID)
	s.rateLimiter.RemoveConnection(connectionID)

	for _, change := range s.lobby.MarkDisconnected(connectionID) {
		if change.Removed {
			s.sessions.RemoveTable(change.TableID)
			s.broadcastLobby(LobbyEvent{Type: LobbyTableRemoved, TableID: change.TableID})
			continue
		}
		s.publishTable(change.TableID)
	}

	s.log.WithField("conn", connectionID).Info("connection closed")
}

func (s *Server) handlePing(socket *websocket.Conn, ctx context.Context, connectionID string) {
	if err := s.sendMessage(socket, ctx, ServerMessage{Type: "pong", Payload: struct{}{}}); err != nil {
		s.log.WithField("conn", connectionID).WithError(err).Debug("failed to send pong")
	}
}

func (s *Server) handleSubscribeLobby(socket *websocket.Conn, ctx context.Context, connectionID string) {
	s.connections.Subscribe(connectionID)
	s.sendAck(socket, ctx, Ack{Type: "subscribe_lobby"})
	s.sendMessage(socket, ctx, ServerMessage{
		Type:    "lobby_snapshot",
		Payload: LobbySnapshot{Tables: s.lobby.Snapshot()},
	})
}

func (s *Server) handleUnsubscribeLobby(socket *websocket.Conn, ctx context.Context, connectionID string) {
	s.connections.Unsubscribe(connectionID)
	s.sendAck(socket, ctx, Ack{Type: "unsubscribe_lobby"})
}

func (s *Server) handleCreateTable(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	var req CreateTableRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(socket, ctx, errors.New("INVALID_PAYLOAD: Invalid create_table payload"))
		return
	}

	view, err := s.lobby.CreateTable(connectionID, req.Name)
	if err != nil {
		s.sendError(socket, ctx, err)
		return
	}

	token := s.openSession(view.ID, connectionID, view.Players[0].Name)
	s.sendAck(socket, ctx, Ack{
		Type:     "create_table",
		TableID:  view.ID,
		PlayerID: connectionID,
		Token:    token,
	})

	s.publishTable(view.ID, LobbyTableCreated)
}

func (s *Server) handleJoinTable(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	var req JoinTableRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(socket, ctx, errors.New("INVALID_PAYLOAD: Invalid join_table payload"))
		return
	}

	tableID := NormalizeRoomCode(req.TableID)
	if err := ValidateRoomCode(tableID); err != nil {
		s.sendError(socket, ctx, err)
		return
	}

	result, err := s.lobby.JoinTable(tableID, connectionID, req.Name)
	if err != nil {
		s.sendError(socket, ctx, err)
		return
	}

	// A reclaimed seat invalidates the sessions handed to the old connection.
	if result.PreviousID != "" {
		s.sessions.RemovePlayer(tableID, result.PreviousID)
	}

	var name string
	if p := slices.IndexFunc(result.Table.Players, func(p burako.Player) bool { return p.ID == connectionID }); p != -1 {
		name = result.Table.Players[p].Name
	}
	token := s.openSession(tableID, connectionID, name)
	s.sendAck(socket, ctx, Ack{
		Type:     "join_table",
		TableID:  tableID,
		PlayerID: connectionID,
		Token:    token,
	})

	s.publishTable(tableID)
}

func (s *Server) handleLeaveTable(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	var req TableRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(socket, ctx, errors.New("INVALID_PAYLOAD: Invalid leave_table payload"))
		return
	}

	tableID := NormalizeRoomCode(req.TableID)
	_, removed, err := s.lobby.LeaveTable(tableID, connectionID)
	if err != nil {
		s.sendError(socket, ctx, err)
		return
	}
	s.sessions.RemovePlayer(tableID, connectionID)
	s.sendAck(socket, ctx, Ack{Type: "leave_table", TableID: tableID})

	if removed {
		s.sessions.RemoveTable(tableID)
		s.broadcastLobby(LobbyEvent{Type: LobbyTableRemoved, TableID: tableID})
		return
	}
	s.publishTable(tableID)
}

// handleReconnect moves the seat a session token was issued for to this
// connection. If the old connection is still open it is told why and closed.
func (s *Server) handleReconnect(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	var req ReconnectRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(socket, ctx, errors.New("INVALID_PAYLOAD: Invalid reconnect payload"))
		return
	}

	session, err := s.sessions.GetSession(req.Token)
	if err != nil {
		s.sendError(socket, ctx, err)
		return
	}

	if session.PlayerID != connectionID {
		if _, err := s.lobby.Reconnect(session.TableID, session.PlayerID, connectionID); err != nil {
			if errors.Is(err, ErrTableNotFound) || errors.Is(err, ErrNotSeated) {
				s.sessions.RemoveSession(req.Token)
			}
			s.sendError(socket, ctx, err)
			return
		}
		s.sessions.Rebind(req.Token, connectionID)

		// The seat already belongs to this connection, so the old one's
		// disconnect finds nothing to release.
		if old := s.connections.GetConnection(session.PlayerID); old != nil {
			s.sendMessage(old, context.Background(), ServerMessage{
				Type:    "disconnected_elsewhere",
				Payload: DisconnectedNotification{Message: "You connected on another device"},
			})
			go old.Close(websocket.StatusNormalClosure, "Connected from another device")
		}

		s.log.WithFields(logrus.Fields{
			"table": session.TableID,
			"from":  session.PlayerID,
			"to":    connectionID,
		}).Info("session reconnected")
	}

	s.sendAck(socket, ctx, Ack{
		Type:     "reconnect",
		TableID:  session.TableID,
		PlayerID: connectionID,
		Token:    req.Token,
	})
	s.publishTable(session.TableID)
}

func (s *Server) handleStartGame(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	var req TableRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(socket, ctx, errors.New("INVALID_PAYLOAD: Invalid start_game payload"))
		return
	}

	view, err := s.lobby.StartGame(req.TableID, connectionID)
	if err != nil {
		s.sendError(socket, ctx, err)
		return
	}

	s.sendAck(socket, ctx, Ack{Type: "start_game", TableID: view.ID})
	s.publishTable(view.ID)
}

func (s *Server) handleExecuteMove(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	var req MoveRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(socket, ctx, errors.New("INVALID_PAYLOAD: Invalid move request"))
		return
	}

	move := req.Move
	move.PlayerID = connectionID

	tableID := NormalizeRoomCode(req.TableID)
	if err := s.lobby.ExecuteMove(tableID, move); err != nil {
		s.log.WithFields(logrus.Fields{
			"conn":  connectionID,
			"table": tableID,
			"move":  move.Type,
		}).WithError(err).Debug("move rejected")
		s.sendError(socket, ctx, err)
		return
	}

	s.sendAck(socket, ctx, Ack{Type: "execute_move", TableID: tableID})
	s.publishTable(tableID)
}

// handleRequestState resends the table and, during a game, the requester's
// projection. Nothing changes so nobody else is notified.
func (s *Server) handleRequestState(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	var req TableRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(socket, ctx, errors.New("INVALID_PAYLOAD: Invalid request_state payload"))
		return
	}

	view, states, err := s.lobby.Audience(req.TableID)
	if err != nil {
		s.sendError(socket, ctx, err)
		return
	}
	if !slices.ContainsFunc(view.Players, func(p burako.Player) bool { return p.ID == connectionID }) {
		s.sendError(socket, ctx, ErrNotSeated)
		return
	}

	s.sendAck(socket, ctx, Ack{Type: "request_state", TableID: view.ID})
	s.sendMessage(socket, ctx, ServerMessage{Type: "table_update", Payload: view})
	if state, ok := states[connectionID]; ok {
		s.sendMessage(socket, ctx, ServerMessage{Type: "game_state", Payload: state})
	}
}

func (s *Server) openSession(tableID, playerID, name string) string {
	token := uuid.NewString()
	s.sessions.StoreSession(SessionInfo{
		Token:    token,
		TableID:  tableID,
		PlayerID: playerID,
		Name:     name,
	})
	return token
}

// publishTable sends table_update and a personal game_state to everyone
// connected at the table, then tells lobby subscribers. The lobby event
// defaults to table_updated.
func (s *Server) publishTable(tableID string, event ...string) {
	view, states, err := s.lobby.Audience(tableID)
	if errors.Is(err, ErrTableNotFound) {
		s.broadcastLobby(LobbyEvent{Type: LobbyTableRemoved, TableID: NormalizeRoomCode(tableID)})
		return
	}
	if err != nil {
		s.log.WithField("table", tableID).WithError(err).Error("failed to build table state")
		return
	}

	for _, p := range view.Players {
		if !p.IsConnected {
			continue
		}
		conn := s.connections.GetConnection(p.ID)
		if conn == nil {
			continue
		}

		if err := s.sendMessage(conn, context.Background(), ServerMessage{Type: "table_update", Payload: view}); err != nil {
			s.log.WithField("conn", p.ID).WithError(err).Debug("failed to send table update")
			continue
		}
		if state, ok := states[p.ID]; ok {
			if err := s.sendMessage(conn, context.Background(), ServerMessage{Type: "game_state", Payload: state}); err != nil {
				s.log.WithField("conn", p.ID).WithError(err).Debug("failed to send game state")
			}
		}
	}

	eventType := LobbyTableUpdated
	if len(event) > 0 {
		eventType = event[0]
	}
	summary := view.Summary()
	s.broadcastLobby(LobbyEvent{Type: eventType, TableID: view.ID, Table: &summary})
}

func (s *Server) broadcastLobby(event LobbyEvent) {
	msg := ServerMessage{Type: "lobby_event", Payload: event}
	for id, conn := range s.connections.Subscribers() {
		if err := s.sendMessage(conn, context.Background(), msg); err != nil {
			s.log.WithField("conn", id).WithError(err).Debug("failed to send lobby event")
		}
	}
}

func (s *Server) sendAck(socket *websocket.Conn, ctx context.Context, ack Ack) {
	ack.OK = true
	if err := s.sendMessage(socket, ctx, ServerMessage{Type: "ack", Payload: ack}); err != nil {
		s.log.WithError(err).Debug("failed to send ack")
	}
}

func (s *Server) sendMessage(socket *websocket.Conn, ctx context.Context, msg ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return socket.Write(ctx, websocket.MessageText, data)
}

func (s *Server) sendError(socket *websocket.Conn, ctx context.Context, err error) {
	response := ServerMessage{
		Type:    "error",
		Payload: errorPayload(err),
	}
	if err := s.sendMessage(socket, ctx, response); err != nil {
		s.log.WithError(err).Debug("failed to send error message")
	}
}

// errorPayload splits an error into its code and message. Engine errors
// carry both; server errors follow the "CODE: message" convention.
func errorPayload(err error) ErrorMessage {
	var gameErr *burako.GameError
	if errors.As(err, &gameErr) {
		return ErrorMessage{Code: gameErr.Code, Message: gameErr.Message}
	}

	code, message, found := strings.Cut(err.Error(), ": ")
	if found && isErrorCode(code) {
		return ErrorMessage{Code: code, Message: message}
	}
	return ErrorMessage{Code: "INTERNAL_ERROR", Message: err.Error()}
}

func isErrorCode(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && r != '_' {
			return false
		}
	}
	return true
}
