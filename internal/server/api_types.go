package server

import (
	"github.com/valenfontana7/burako-online/internal/burako"
)

// ============================================================================
// RESPONSES (sent only to the requester)
// ============================================================================

type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Ack confirms a request. Token is only set by create_table and join_table;
// a client keeps it to reclaim its seat with reconnect.
type Ack struct {
	OK       bool   `json:"ok"`
	Type     string `json:"type"`
	TableID  string `json:"tableId,omitempty"`
	PlayerID string `json:"playerId,omitempty"`
	Token    string `json:"token,omitempty"`
}

// ============================================================================
// REQUESTS
// ============================================================================

// create_table
type CreateTableRequest struct {
	Name string `json:"name"`
}

// join_table
type JoinTableRequest struct {
	TableID string `json:"tableId"`
	Name    string `json:"name"`
}

// leave_table, start_game, request_state
type TableRequest struct {
	TableID string `json:"tableId"`
}

// reconnect
type ReconnectRequest struct {
	Token string `json:"token"`
}

// execute_move. The move fields sit next to tableId:
// {"tableId":"ABCD","type":"discard","cardId":"..."}
type MoveRequest struct {
	TableID string `json:"tableId"`
	burako.Move
}

// ============================================================================
// BROADCASTS
// ============================================================================

const (
	LobbyTableCreated = "table_created"
	LobbyTableUpdated = "table_updated"
	LobbyTableRemoved = "table_removed"
)

// LobbyEvent goes to lobby subscribers. Table is nil for table_removed.
type LobbyEvent struct {
	Type    string        `json:"type"`
	TableID string        `json:"tableId"`
	Table   *TableSummary `json:"table,omitempty"`
}

// LobbySnapshot is sent on subscribe_lobby and served on GET /tables.
type LobbySnapshot struct {
	Tables []TableSummary `json:"tables"`
}

type DisconnectedNotification struct {
	Message string `json:"message"`
}
