package server

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionManager_StoreAndRetrieve(t *testing.T) {
	sm := NewSessionManager()

	session := SessionInfo{Token: "token-1", TableID: "ABCD", PlayerID: "conn-1", Name: "Alice"}
	sm.StoreSession(session)

	retrieved, err := sm.GetSession("token-1")
	assert.NoError(t, err)
	assert.Equal(t, session, retrieved)
}

func TestSessionManager_UnknownToken(t *testing.T) {
	sm := NewSessionManager()

	_, err := sm.GetSession("missing")
	assert.ErrorContains(t, err, "TOKEN_NOT_FOUND")
}

func TestSessionManager_Rebind(t *testing.T) {
	sm := NewSessionManager()
	sm.StoreSession(SessionInfo{Token: "token-1", TableID: "ABCD", PlayerID: "conn-1", Name: "Alice"})

	sm.Rebind("token-1", "conn-2")
	sm.Rebind("missing", "conn-3")

	session, err := sm.GetSession("token-1")
	assert.NoError(t, err)
	assert.Equal(t, "conn-2", session.PlayerID)
	assert.Equal(t, 1, sm.Count())
}

func TestSessionManager_RemovePlayerAndTable(t *testing.T) {
	assert := assert.New(t)
	sm := NewSessionManager()
	sm.StoreSession(SessionInfo{Token: "a", TableID: "ABCD", PlayerID: "alice"})
	sm.StoreSession(SessionInfo{Token: "b", TableID: "ABCD", PlayerID: "bob"})
	sm.StoreSession(SessionInfo{Token: "c", TableID: "WXYZ", PlayerID: "alice"})

	sm.RemovePlayer("ABCD", "alice")

	_, err := sm.GetSession("a")
	assert.Error(err)
	_, err = sm.GetSession("c")
	assert.NoError(err, "alice's other table keeps its session")

	sm.RemoveTable("ABCD")
	_, err = sm.GetSession("b")
	assert.Error(err)
	assert.Equal(1, sm.Count())

	sm.RemoveSession("c")
	assert.Zero(sm.Count())
}

func TestSessionManager_ConcurrentAccess(t *testing.T) {
	sm := NewSessionManager()
	var wg sync.WaitGroup

	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token := fmt.Sprintf("token-%d", i)
			sm.StoreSession(SessionInfo{Token: token, TableID: "ABCD", PlayerID: token})
			sm.Rebind(token, "re-"+token)
			_, _ = sm.GetSession(token)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, sm.Count())
}
