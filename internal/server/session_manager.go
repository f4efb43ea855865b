package server

import (
	"errors"
	"sync"
)

// SessionInfo lets a player who lost their connection claim their seat
// again from a new one.
type SessionInfo struct {
	Token    string
	TableID  string
	PlayerID string
	Name     string
}

// SessionManager maps reconnect tokens to seats.
// Why tokens and not player IDs: a player ID is the connection ID, which is
// gone once the socket drops
type SessionManager struct {
	sessions map[string]SessionInfo // token -> session
	mu       sync.RWMutex
}

func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[string]SessionInfo),
	}
}

func (sm *SessionManager) StoreSession(info SessionInfo) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.sessions[info.Token] = info
}

func (sm *SessionManager) GetSession(token string) (SessionInfo, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	session, exists := sm.sessions[token]
	if !exists {
		return SessionInfo{}, errors.New("TOKEN_NOT_FOUND: Invalid session token")
	}
	return session, nil
}

// Rebind points a session at the connection that just reclaimed it.
// Why keep the token: the client can reconnect again with the one it holds
func (sm *SessionManager) Rebind(token, playerID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if session, ok := sm.sessions[token]; ok {
		session.PlayerID = playerID
		sm.sessions[token] = session
	}
}

func (sm *SessionManager) RemoveSession(token string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.sessions, token)
}

// RemovePlayer drops playerID's session for tableID. Used when a player
// leaves on purpose.
func (sm *SessionManager) RemovePlayer(tableID, playerID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for token, session := range sm.sessions {
		if session.TableID == tableID && session.PlayerID == playerID {
			delete(sm.sessions, token)
		}
	}
}

// RemoveTable drops every session for a table that no longer exists.
func (sm *SessionManager) RemoveTable(tableID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for token, session := range sm.sessions {
		if session.TableID == tableID {
			delete(sm.sessions, token)
		}
	}
}

func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}
