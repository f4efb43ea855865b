package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valenfontana7/burako-online/internal/burako"
)

func testConfig() Config {
	return Config{
		Port:            4000,
		ClientOrigins:   []string{"http://localhost:5173"},
		LogLevel:        "info",
		LogFormat:       "text",
		RateLimit:       100,
		TableIdleTTL:    time.Minute,
		CleanupInterval: time.Minute,
	}
}

func setupTestServer(t *testing.T, cfg Config) (*Server, *httptest.Server) {
	t.Helper()
	db := setupTestDB(t)
	s := newServer(cfg, quietLogger(), newTestEngine(), NewSQLResultStore(db.DB()))
	s.db = db

	ts := httptest.NewServer(s.RegisterRoutes())
	t.Cleanup(ts.Close)
	return s, ts
}

type received struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type testClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, ts *httptest.Server) *testClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/websocket"
	conn, _, err := websocket.Dial(context.Background(), url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return &testClient{t: t, conn: conn}
}

func (c *testClient) send(msgType string, payload any) {
	c.t.Helper()
	msg := map[string]any{"type": msgType}
	if payload != nil {
		msg["payload"] = payload
	}
	data, err := json.Marshal(msg)
	require.NoError(c.t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(c.t, c.conn.Write(ctx, websocket.MessageText, data))
}

func (c *testClient) read() received {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, data, err := c.conn.Read(ctx)
	require.NoError(c.t, err)

	var msg received
	require.NoError(c.t, json.Unmarshal(data, &msg))
	return msg
}

// expect skips frames until one of msgType arrives and decodes its payload
// into v. An unexpected error frame fails the test.
func (c *testClient) expect(msgType string, v any) {
	c.t.Helper()
	for {
		msg := c.read()
		if msg.Type == "error" && msgType != "error" {
			c.t.Fatalf("expected %s, got error %s", msgType, msg.Payload)
		}
		if msg.Type != msgType {
			continue
		}
		if v != nil {
			require.NoError(c.t, json.Unmarshal(msg.Payload, v))
		}
		return
	}
}

func (c *testClient) expectError(code string) ErrorMessage {
	c.t.Helper()
	var e ErrorMessage
	c.expect("error", &e)
	assert.Equal(c.t, code, e.Code, e.Message)
	return e
}

// createTable opens a table and drains the creator's first table update.
func (c *testClient) createTable(name string) Ack {
	c.t.Helper()
	c.send("create_table", CreateTableRequest{Name: name})
	var ack Ack
	c.expect("ack", &ack)
	c.expect("table_update", nil)
	return ack
}

func (c *testClient) joinTable(tableID, name string) Ack {
	c.t.Helper()
	c.send("join_table", JoinTableRequest{TableID: tableID, Name: name})
	var ack Ack
	c.expect("ack", &ack)
	c.expect("table_update", nil)
	return ack
}

func TestWebSocketPing(t *testing.T) {
	_, ts := setupTestServer(t, testConfig())
	client := dial(t, ts)

	client.send("ping", nil)
	assert.Equal(t, "pong", client.read().Type)
}

func TestWebSocketInvalidMessages(t *testing.T) {
	_, ts := setupTestServer(t, testConfig())
	client := dial(t, ts)

	ctx := context.Background()
	require.NoError(t, client.conn.Write(ctx, websocket.MessageText, []byte("{invalid json")))
	client.expectError("INVALID_JSON")

	client.send("create_game", nil)
	client.expectError("INVALID_MESSAGE_TYPE")

	client.send("create_table", nil)
	client.expectError("INVALID_PAYLOAD")

	client.send("join_table", JoinTableRequest{TableID: "AB1", Name: "Bob"})
	client.expectError("INVALID_TABLE_ID")

	client.send("join_table", JoinTableRequest{TableID: "ZZZZ", Name: "Bob"})
	client.expectError("TABLE_NOT_FOUND")

	// The connection survives all of the above.
	client.send("ping", nil)
	assert.Equal(t, "pong", client.read().Type)
}

func TestWebSocketRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = 3
	_, ts := setupTestServer(t, cfg)
	client := dial(t, ts)

	for range 4 {
		client.send("ping", nil)
	}
	for range 3 {
		assert.Equal(t, "pong", client.read().Type)
	}
	client.expectError("RATE_LIMIT_EXCEEDED")
}

func TestWebSocketGameRoundTrip(t *testing.T) {
	assert := assert.New(t)
	_, ts := setupTestServer(t, testConfig())
	alice := dial(t, ts)
	bob := dial(t, ts)

	created := alice.createTable("Alice")
	assert.True(created.OK)
	assert.NoError(ValidateRoomCode(created.TableID))
	assert.NotEmpty(created.Token)
	tableID := created.TableID

	// Codes are accepted in any case.
	joined := bob.joinTable(strings.ToLower(tableID), "Bob")
	assert.Equal(tableID, joined.TableID)

	var view TableView
	alice.expect("table_update", &view)
	require.Len(t, view.Players, 2)
	assert.Equal(created.PlayerID, view.HostID)

	bob.send("start_game", TableRequest{TableID: tableID})
	bob.expectError("NOT_HOST")

	alice.send("start_game", TableRequest{TableID: tableID})
	alice.expect("ack", nil)

	var aliceState, bobState burako.PublicGameState
	alice.expect("game_state", &aliceState)
	bob.expect("game_state", &bobState)

	// Each player sees only their own hand.
	require.Len(t, aliceState.Players, 2)
	assert.Len(aliceState.Players[0].Hand, burako.HandSize)
	assert.Nil(aliceState.Players[1].Hand)
	assert.Equal(burako.HandSize, aliceState.Players[1].HandCount)
	assert.Nil(bobState.Players[0].Hand)
	assert.Len(bobState.Players[1].Hand, burako.HandSize)
	assert.Equal(created.PlayerID, aliceState.CurrentTurn.PlayerID)

	bob.send("execute_move", map[string]any{"tableId": tableID, "type": "draw_stock"})
	bob.expectError("NOT_YOUR_TURN")

	alice.send("execute_move", map[string]any{"tableId": tableID, "type": "draw_stock"})
	alice.expect("ack", nil)
	alice.expect("game_state", &aliceState)
	assert.Equal(burako.StepDiscard, aliceState.CurrentTurn.Step)
	require.Len(t, aliceState.Players[0].Hand, burako.HandSize+1)

	discard := aliceState.Players[0].Hand[0]
	alice.send("execute_move", map[string]any{"tableId": tableID, "type": "discard", "cardId": discard.ID})
	alice.expect("ack", nil)

	bob.expect("game_state", &bobState)
	for bobState.CurrentTurn.PlayerID != joined.PlayerID {
		bob.expect("game_state", &bobState)
	}
	require.NotNil(t, bobState.DiscardTop)
	assert.Equal(discard.ID, bobState.DiscardTop.ID)

	bob.send("request_state", TableRequest{TableID: tableID})
	bob.expect("ack", nil)
	bob.expect("game_state", &bobState)
	assert.Equal(burako.StepDraw, bobState.CurrentTurn.Step)
}

func TestWebSocketLeaveEndsGame(t *testing.T) {
	assert := assert.New(t)
	s, ts := setupTestServer(t, testConfig())
	alice := dial(t, ts)
	bob := dial(t, ts)

	tableID := alice.createTable("Alice").TableID
	bobID := bob.joinTable(tableID, "Bob").PlayerID
	alice.send("start_game", TableRequest{TableID: tableID})
	alice.expect("ack", nil)

	alice.send("leave_table", TableRequest{TableID: tableID})
	alice.expect("ack", nil)

	var view TableView
	bob.expect("table_update", &view)
	for view.Status != burako.TableFinished {
		bob.expect("table_update", &view)
	}
	assert.Equal(bobID, view.HostID)
	require.NotNil(t, view.Game)
	assert.Equal(bobID, view.Game.WinnerID)

	results, err := s.results.RecentResults(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal("Bob", results[0].WinnerName)

	// Alice is no longer seated.
	alice.send("request_state", TableRequest{TableID: tableID})
	alice.expectError("NOT_IN_TABLE")
}

func TestWebSocketLobbySubscription(t *testing.T) {
	assert := assert.New(t)
	_, ts := setupTestServer(t, testConfig())
	watcher := dial(t, ts)
	alice := dial(t, ts)

	watcher.send("subscribe_lobby", nil)
	watcher.expect("ack", nil)
	var snapshot LobbySnapshot
	watcher.expect("lobby_snapshot", &snapshot)
	assert.Empty(snapshot.Tables)

	tableID := alice.createTable("Alice").TableID

	var event LobbyEvent
	watcher.expect("lobby_event", &event)
	assert.Equal(LobbyTableCreated, event.Type)
	require.NotNil(t, event.Table)
	assert.Equal(tableID, event.Table.ID)
	assert.Equal(1, event.Table.PlayerCount)

	alice.send("leave_table", TableRequest{TableID: tableID})
	alice.expect("ack", nil)

	var removed LobbyEvent
	watcher.expect("lobby_event", &removed)
	assert.Equal(LobbyTableRemoved, removed.Type)
	assert.Equal(tableID, removed.TableID)
	assert.Nil(removed.Table)

	watcher.send("unsubscribe_lobby", nil)
	watcher.expect("ack", nil)
}

func TestWebSocketReconnect(t *testing.T) {
	assert := assert.New(t)
	s, ts := setupTestServer(t, testConfig())
	alice := dial(t, ts)
	bob := dial(t, ts)

	tableID := alice.createTable("Alice").TableID
	bobAck := bob.joinTable(tableID, "Bob")
	alice.send("start_game", TableRequest{TableID: tableID})
	alice.expect("ack", nil)
	var before burako.PublicGameState
	bob.expect("game_state", &before)

	// A second device takes over the seat; the first is told and closed.
	phone := dial(t, ts)
	phone.send("reconnect", ReconnectRequest{Token: bobAck.Token})
	var ack Ack
	phone.expect("ack", &ack)
	assert.Equal(tableID, ack.TableID)
	assert.NotEqual(bobAck.PlayerID, ack.PlayerID)

	bob.expect("disconnected_elsewhere", nil)
	_, _, err := bob.conn.Read(context.Background())
	assert.Equal(websocket.StatusNormalClosure, websocket.CloseStatus(err))

	var after burako.PublicGameState
	phone.expect("game_state", &after)
	assert.Equal(before.Players[1].Hand, after.Players[1].Hand)
	assert.Equal(ack.PlayerID, after.Players[1].ID)

	session, err := s.sessions.GetSession(bobAck.Token)
	require.NoError(t, err)
	assert.Equal(ack.PlayerID, session.PlayerID)

	phone.send("reconnect", ReconnectRequest{Token: "not-a-token"})
	phone.expectError("TOKEN_NOT_FOUND")
}

func TestWebSocketDisconnectKeepsSeat(t *testing.T) {
	assert := assert.New(t)
	_, ts := setupTestServer(t, testConfig())
	alice := dial(t, ts)
	bob := dial(t, ts)

	tableID := alice.createTable("Alice").TableID
	bob.joinTable(tableID, "Bob")
	alice.send("start_game", TableRequest{TableID: tableID})
	alice.expect("ack", nil)

	bob.conn.Close(websocket.StatusNormalClosure, "")

	var view TableView
	alice.expect("table_update", &view)
	for len(view.Players) == 2 && view.Players[1].IsConnected {
		alice.expect("table_update", &view)
	}
	require.Len(t, view.Players, 2)
	assert.Equal(burako.TablePlaying, view.Status)

	// Bob comes back under a new connection and reclaims the seat by name.
	bob2 := dial(t, ts)
	bob2.send("join_table", JoinTableRequest{TableID: tableID, Name: "bob"})
	var ack Ack
	bob2.expect("ack", &ack)

	var state burako.PublicGameState
	bob2.expect("game_state", &state)
	assert.Equal(ack.PlayerID, state.Players[1].ID)
	assert.Len(state.Players[1].Hand, burako.HandSize)
}

func TestHTTPEndpoints(t *testing.T) {
	assert := assert.New(t)
	s, ts := setupTestServer(t, testConfig())

	getJSON := func(path string, v any) int {
		t.Helper()
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		if v != nil {
			require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
		}
		return resp.StatusCode
	}

	var live map[string]any
	assert.Equal(http.StatusOK, getJSON("/healthz", &live))
	assert.Equal("ok", live["status"])

	var health map[string]string
	assert.Equal(http.StatusOK, getJSON("/health", &health))
	assert.Equal("up", health["status"])

	_, err := s.lobby.CreateTable("host-1", "Alice")
	require.NoError(t, err)
	var snapshot LobbySnapshot
	assert.Equal(http.StatusOK, getJSON("/tables", &snapshot))
	require.Len(t, snapshot.Tables, 1)
	assert.Equal("host-1", snapshot.Tables[0].HostID)

	for i := range 3 {
		s.saveResult(GameResult{
			GameID:     fmt.Sprintf("game-%d", i),
			TableID:    "ABCD",
			Scores:     map[string]int{"Alice": i},
			Rounds:     1,
			FinishedAt: time.Now().Add(time.Duration(i) * time.Second),
		})
	}
	var results []GameResult
	assert.Equal(http.StatusOK, getJSON("/results?limit=2", &results))
	require.Len(t, results, 2)
	assert.Equal("game-2", results[0].GameID)

	var e ErrorMessage
	assert.Equal(http.StatusBadRequest, getJSON("/results?limit=abc", &e))
	assert.Equal("INVALID_LIMIT", e.Code)

	assert.Equal(http.StatusMethodNotAllowed, func() int {
		resp, err := http.Post(ts.URL+"/tables", "application/json", nil)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}())
}

func TestHealthWithoutDatabase(t *testing.T) {
	s := newServer(testConfig(), quietLogger(), newTestEngine(), NopResultStore{})
	rec := httptest.NewRecorder()
	s.RegisterRoutes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"disabled"`)
}

func TestCORS(t *testing.T) {
	s := newServer(testConfig(), quietLogger(), newTestEngine(), NopResultStore{})
	handler := s.RegisterRoutes()

	tests := []struct {
		origin  string
		allowed bool
	}{
		{"http://localhost:5173", true},
		{"HTTP://LOCALHOST:5173", true},
		{"https://evil.example", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, "/tables", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusNoContent, rec.Code)
			if tt.allowed {
				assert.Equal(t, tt.origin, rec.Header().Get("Access-Control-Allow-Origin"))
			} else {
				assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
			}
		})
	}

	assert.Equal(t, []string{"localhost:5173"}, s.originPatterns())
}

func TestErrorPayload(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorMessage
	}{
		{
			name: "engine error",
			err:  burako.ErrNotYourTurn,
			want: ErrorMessage{Code: "NOT_YOUR_TURN", Message: "It is not your turn"},
		},
		{
			name: "wrapped engine error",
			err:  fmt.Errorf("move: %w", burako.ErrEmptyDiscard),
			want: ErrorMessage{Code: "EMPTY_DISCARD", Message: "The discard pile is empty"},
		},
		{
			name: "server error",
			err:  ErrTableFull,
			want: ErrorMessage{Code: "TABLE_FULL", Message: "Table is full (4/4 players)"},
		},
		{
			name: "uncoded error",
			err:  errors.New("connection reset: broken pipe"),
			want: ErrorMessage{Code: "INTERNAL_ERROR", Message: "connection reset: broken pipe"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorPayload(tt.err))
		})
	}
}

func TestCleanupRemovesIdleTables(t *testing.T) {
	cfg := testConfig()
	cfg.TableIdleTTL = time.Nanosecond
	s := newServer(cfg, quietLogger(), newTestEngine(), NopResultStore{})

	view, err := s.lobby.CreateTable("host-1", "Alice")
	require.NoError(t, err)
	s.sessions.StoreSession(SessionInfo{Token: "t", TableID: view.ID, PlayerID: "host-1"})
	s.lobby.MarkDisconnected("host-1")
	// A waiting table is left, and removed, as soon as its last player goes.
	assert.Zero(t, s.lobby.Count())

	view, err = s.lobby.CreateTable("host-2", "Bob")
	require.NoError(t, err)
	_, err = s.lobby.JoinTable(view.ID, "guest", "Carol")
	require.NoError(t, err)
	_, err = s.lobby.StartGame(view.ID, "host-2")
	require.NoError(t, err)
	s.lobby.MarkDisconnected("host-2")
	s.lobby.MarkDisconnected("guest")
	s.sessions.StoreSession(SessionInfo{Token: "t2", TableID: view.ID, PlayerID: "guest"})

	time.Sleep(time.Millisecond)
	s.cleanup()

	assert.Zero(t, s.lobby.Count())
	_, err = s.sessions.GetSession("t2")
	assert.Error(t, err)
}
