package server

import (
	"sync"

	"github.com/coder/websocket"
)

// ConnectionManager tracks open sockets by connection id. The connection id
// doubles as the player id for everything the connection does.
type ConnectionManager struct {
	connections map[string]*websocket.Conn // connectionID -> socket
	subscribers map[string]bool            // connectionIDs watching the lobby
	mu          sync.RWMutex
}

func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]*websocket.Conn),
		subscribers: make(map[string]bool),
	}
}

func (cm *ConnectionManager) AddConnection(id string, conn *websocket.Conn) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.connections[id] = conn
}

func (cm *ConnectionManager) RemoveConnection(id string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	delete(cm.connections, id)
	delete(cm.subscribers, id)
}

// GetConnection returns nil for connections that have closed.
func (cm *ConnectionManager) GetConnection(id string) *websocket.Conn {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.connections[id]
}

func (cm *ConnectionManager) Subscribe(id string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if _, open := cm.connections[id]; open {
		cm.subscribers[id] = true
	}
}

func (cm *ConnectionManager) Unsubscribe(id string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	delete(cm.subscribers, id)
}

func (cm *ConnectionManager) Subscribers() map[string]*websocket.Conn {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	conns := make(map[string]*websocket.Conn, len(cm.subscribers))
	for id := range cm.subscribers {
		if conn := cm.connections[id]; conn != nil {
			conns[id] = conn
		}
	}
	return conns
}

func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.connections)
}

// All returns every open socket, for the shutdown notice.
func (cm *ConnectionManager) All() map[string]*websocket.Conn {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	conns := make(map[string]*websocket.Conn, len(cm.connections))
	for id, conn := range cm.connections {
		conns[id] = conn
	}
	return conns
}
