package server

import (
	"errors"
	"math/rand"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/valenfontana7/burako-online/internal/burako"
)

var (
	ErrTableNotFound      = errors.New("TABLE_NOT_FOUND: Table not found")
	ErrTableFull          = errors.New("TABLE_FULL: Table is full (4/4 players)")
	ErrGameAlreadyStarted = errors.New("GAME_ALREADY_STARTED: Cannot join a game in progress")
	ErrNameTaken          = errors.New("NAME_TAKEN: Name already taken at this table")
	ErrNotHost            = errors.New("NOT_HOST: Only the host can start the game")
	ErrNotSeated          = errors.New("NOT_IN_TABLE: Player not part of this table")
)

// TableSummary is the lobby listing entry for a table.
type TableSummary struct {
	ID          string              `json:"id"`
	Status      burako.TableStatus  `json:"status"`
	HostID      string              `json:"hostId"`
	PlayerCount int                 `json:"playerCount"`
	Game        *burako.GameSummary `json:"game,omitempty"`
}

// TableView is what seated players see of their table.
type TableView struct {
	ID        string              `json:"id"`
	HostID    string              `json:"hostId"`
	Status    burako.TableStatus  `json:"status"`
	CreatedAt time.Time           `json:"createdAt"`
	Players   []burako.Player     `json:"players"`
	Game      *burako.GameSummary `json:"game,omitempty"`
}

func (v TableView) Summary() TableSummary {
	return TableSummary{
		ID:          v.ID,
		Status:      v.Status,
		HostID:      v.HostID,
		PlayerCount: len(v.Players),
		Game:        v.Game,
	}
}

// JoinResult reports which seat a join ended up in. PreviousID is set when
// the join reclaimed a disconnected player's seat.
type JoinResult struct {
	Table      TableView
	PreviousID string
}

type TableChange struct {
	TableID string
	Removed bool
}

type tableEntry struct {
	mu         sync.Mutex
	table      *burako.Table
	lastActive time.Time
	removed    bool
}

// Lobby owns every table roster. Each table is guarded by its own mutex so
// moves at different tables never wait on each other.
type Lobby struct {
	mu     sync.RWMutex
	tables map[string]*tableEntry
	codes  *rand.Rand // guarded by mu

	engine   *burako.Engine
	log      logrus.FieldLogger
	now      func() time.Time
	onResult func(GameResult)
}

type LobbyOption func(*Lobby)

func WithClock(now func() time.Time) LobbyOption {
	return func(l *Lobby) { l.now = now }
}

func WithCodeSource(r *rand.Rand) LobbyOption {
	return func(l *Lobby) { l.codes = r }
}

// WithResultHandler is called once for every game that finishes, after the
// table has been released.
func WithResultHandler(fn func(GameResult)) LobbyOption {
	return func(l *Lobby) { l.onResult = fn }
}

func NewLobby(engine *burako.Engine, log logrus.FieldLogger, opts ...LobbyOption) *Lobby {
	l := &Lobby{
		tables: make(map[string]*tableEntry),
		codes:  rand.New(rand.NewSource(time.Now().UnixNano())),
		engine: engine,
		log:    log,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// WithTable runs fn with exclusive access to a table. Every read or write of
// a table's roster or game goes through here.
func (l *Lobby) WithTable(id string, fn func(table *burako.Table) error) error {
	id = NormalizeRoomCode(id)

	l.mu.RLock()
	entry, ok := l.tables[id]
	l.mu.RUnlock()
	if !ok {
		return ErrTableNotFound
	}

	entry.mu.Lock()
	if entry.removed {
		entry.mu.Unlock()
		return ErrTableNotFound
	}

	table := entry.table
	wasPlaying := table.Game != nil && table.Game.Phase == burako.PhasePlaying

	err := fn(table)
	entry.lastActive = l.now()

	var result *GameResult
	if wasPlaying && table.Game != nil && table.Game.Phase == burako.PhaseFinished {
		r := resultOf(table, l.now())
		result = &r
	}

	empty := len(table.Players) == 0
	if empty {
		entry.removed = true
	}
	entry.mu.Unlock()

	if empty {
		l.mu.Lock()
		delete(l.tables, id)
		l.mu.Unlock()
		l.log.WithField("table", id).Info("table removed")
	}
	if result != nil && l.onResult != nil {
		l.onResult(*result)
	}
	return err
}

func (l *Lobby) CreateTable(hostID, name string) (TableView, error) {
	name, err := ValidateName(name)
	if err != nil {
		return TableView{}, err
	}

	now := l.now()
	table := &burako.Table{
		HostID:    hostID,
		Status:    burako.TableWaiting,
		CreatedAt: now,
		Players: []*burako.Player{{
			ID:          hostID,
			Name:        name,
			Seat:        0,
			IsHost:      true,
			JoinedAt:    now,
			IsConnected: true,
		}},
	}

	l.mu.Lock()
	table.ID = GenerateRoomCode(l.codes, func(code string) bool {
		_, taken := l.tables[code]
		return taken
	})
	l.tables[table.ID] = &tableEntry{table: table, lastActive: now}
	view := l.viewOf(table)
	l.mu.Unlock()

	l.log.WithFields(logrus.Fields{"table": table.ID, "host": hostID}).Info("table created")
	return view, nil
}

// JoinTable seats playerID at the lowest free seat. A disconnected player
// with the same name at a table that has had a game gets their seat back
// instead, with their hand, melds, score and win moved to playerID. While a
// game is running that is the only way in.
func (l *Lobby) JoinTable(tableID, playerID, name string) (JoinResult, error) {
	name, err := ValidateName(name)
	if err != nil {
		return JoinResult{}, err
	}

	var result JoinResult
	err = l.WithTable(tableID, func(table *burako.Table) error {
		if p := table.Player(playerID); p != nil {
			p.IsConnected = true
			result.Table = l.viewOf(table)
			return nil
		}

		if table.Game != nil {
			i := slices.IndexFunc(table.Players, func(p *burako.Player) bool {
				return !p.IsConnected && strings.EqualFold(p.Name, name)
			})
			if i != -1 {
				previousID := table.Players[i].ID
				if err := l.rebindSeat(table, previousID, playerID); err != nil {
					return err
				}
				result.PreviousID = previousID
				result.Table = l.viewOf(table)
				return nil
			}
		}
		if table.Status == burako.TablePlaying {
			return ErrGameAlreadyStarted
		}

		if len(table.Players) >= burako.MaxPlayers {
			return ErrTableFull
		}
		if slices.ContainsFunc(table.Players, func(p *burako.Player) bool { return strings.EqualFold(p.Name, name) }) {
			return ErrNameTaken
		}

		newcomer := &burako.Player{
			ID:          playerID,
			Name:        name,
			Seat:        nextSeat(table),
			JoinedAt:    l.now(),
			IsConnected: true,
		}
		// A host who dropped during the last game cannot start the next one.
		if host := table.Player(table.HostID); host == nil || !host.IsConnected {
			if host != nil {
				host.IsHost = false
			}
			newcomer.IsHost = true
			table.HostID = playerID
		}
		table.Players = append(table.Players, newcomer)
		result.Table = l.viewOf(table)
		return nil
	})
	return result, err
}

// Reconnect moves previousID's seat to nextID, for clients that kept a
// session token across a dropped connection.
func (l *Lobby) Reconnect(tableID, previousID, nextID string) (TableView, error) {
	var view TableView
	err := l.WithTable(tableID, func(table *burako.Table) error {
		if table.Player(previousID) == nil {
			return ErrNotSeated
		}
		if previousID != nextID && table.Player(nextID) != nil {
			return burako.ErrPlayerExists
		}
		if err := l.rebindSeat(table, previousID, nextID); err != nil {
			return err
		}
		view = l.viewOf(table)
		return nil
	})
	return view, err
}

// rebindSeat updates the game first: if the engine refuses, the roster is
// left as it was. Players seated after the last game ended have no game
// state to move.
func (l *Lobby) rebindSeat(table *burako.Table, previousID, nextID string) error {
	if table.Game != nil {
		if _, inGame := table.Game.Players[previousID]; inGame {
			if err := l.engine.RebindPlayer(table, previousID, nextID); err != nil {
				return err
			}
		}
	}

	p := table.Player(previousID)
	p.ID = nextID
	p.IsConnected = true
	if table.HostID == previousID {
		table.HostID = nextID
	}

	l.log.WithFields(logrus.Fields{
		"table": table.ID,
		"from":  previousID,
		"to":    nextID,
	}).Info("player reclaimed seat")
	return nil
}

// LeaveTable removes playerID from the roster and from any game in progress.
// removed reports that the table was deleted because nobody is left.
func (l *Lobby) LeaveTable(tableID, playerID string) (view TableView, removed bool, err error) {
	err = l.WithTable(tableID, func(table *burako.Table) error {
		if table.Player(playerID) == nil {
			return ErrNotSeated
		}
		removed = l.leave(table, playerID)
		if !removed {
			view = l.viewOf(table)
		}
		return nil
	})
	return view, removed, err
}

func (l *Lobby) leave(table *burako.Table, playerID string) (empty bool) {
	table.Players = slices.DeleteFunc(table.Players, func(p *burako.Player) bool {
		return p.ID == playerID
	})
	l.engine.HandlePlayerLeave(table, playerID)

	if len(table.Players) == 0 {
		return true
	}

	if !slices.ContainsFunc(table.Players, func(p *burako.Player) bool { return p.IsHost }) {
		next := table.Players[0]
		next.IsHost = true
		table.HostID = next.ID
	}
	return false
}

// StartGame deals a new game. Only the host may start one.
func (l *Lobby) StartGame(tableID, playerID string) (TableView, error) {
	var view TableView
	err := l.WithTable(tableID, func(table *burako.Table) error {
		if table.Player(playerID) == nil {
			return ErrNotSeated
		}
		if table.HostID != playerID {
			return ErrNotHost
		}
		// Players who dropped during the last game and never came back
		// are not dealt in.
		for _, p := range slices.Clone(table.Players) {
			if !p.IsConnected {
				l.leave(table, p.ID)
			}
		}
		if _, err := l.engine.StartGame(table); err != nil {
			return err
		}
		view = l.viewOf(table)
		return nil
	})
	return view, err
}

func (l *Lobby) ExecuteMove(tableID string, move burako.Move) error {
	return l.WithTable(tableID, func(table *burako.Table) error {
		if table.Player(move.PlayerID) == nil {
			return ErrNotSeated
		}
		return l.engine.Execute(table, move)
	})
}

func (l *Lobby) PublicState(tableID, viewerID string) (*burako.PublicGameState, error) {
	var state *burako.PublicGameState
	err := l.WithTable(tableID, func(table *burako.Table) error {
		if table.Player(viewerID) == nil {
			return ErrNotSeated
		}
		var err error
		state, err = l.engine.GetPublicState(table, viewerID)
		return err
	})
	return state, err
}

// Audience returns the table view plus a game projection for every seated,
// connected player, all taken under one lock.
func (l *Lobby) Audience(tableID string) (TableView, map[string]*burako.PublicGameState, error) {
	var view TableView
	states := make(map[string]*burako.PublicGameState)
	err := l.WithTable(tableID, func(table *burako.Table) error {
		view = l.viewOf(table)
		if table.Game == nil {
			return nil
		}
		for _, p := range table.Players {
			if !p.IsConnected {
				continue
			}
			state, err := l.engine.GetPublicState(table, p.ID)
			if err != nil {
				return err
			}
			states[p.ID] = state
		}
		return nil
	})
	return view, states, err
}

// MarkDisconnected handles a closed connection. A player keeps their seat
// in a game in progress; anywhere else they leave the table.
func (l *Lobby) MarkDisconnected(playerID string) []TableChange {
	var changes []TableChange
	for _, id := range l.TablesForPlayer(playerID) {
		var removed bool
		err := l.WithTable(id, func(table *burako.Table) error {
			p := table.Player(playerID)
			if p == nil {
				return ErrNotSeated
			}
			if table.Status == burako.TablePlaying {
				p.IsConnected = false
				return nil
			}
			removed = l.leave(table, playerID)
			return nil
		})
		if err != nil {
			continue
		}
		changes = append(changes, TableChange{TableID: id, Removed: removed})
	}
	return changes
}

func (l *Lobby) Summary(tableID string) (TableSummary, error) {
	var summary TableSummary
	err := l.WithTable(tableID, func(table *burako.Table) error {
		summary = l.viewOf(table).Summary()
		return nil
	})
	return summary, err
}

// Snapshot lists every table, oldest first.
func (l *Lobby) Snapshot() []TableSummary {
	type listed struct {
		summary TableSummary
		created time.Time
	}

	var all []listed
	for _, entry := range l.entries() {
		entry.mu.Lock()
		if !entry.removed {
			all = append(all, listed{l.viewOf(entry.table).Summary(), entry.table.CreatedAt})
		}
		entry.mu.Unlock()
	}

	slices.SortFunc(all, func(a, b listed) int {
		if c := a.created.Compare(b.created); c != 0 {
			return c
		}
		return strings.Compare(a.summary.ID, b.summary.ID)
	})

	summaries := make([]TableSummary, 0, len(all))
	for _, t := range all {
		summaries = append(summaries, t.summary)
	}
	return summaries
}

func (l *Lobby) TablesForPlayer(playerID string) []string {
	var ids []string
	for _, entry := range l.entries() {
		entry.mu.Lock()
		if !entry.removed && entry.table.Player(playerID) != nil {
			ids = append(ids, entry.table.ID)
		}
		entry.mu.Unlock()
	}
	slices.Sort(ids)
	return ids
}

// RemoveIdle deletes tables whose players have all been disconnected since
// before ttl ago, and returns their ids.
func (l *Lobby) RemoveIdle(ttl time.Duration) []string {
	cutoff := l.now().Add(-ttl)

	var ids []string
	for _, entry := range l.entries() {
		entry.mu.Lock()
		idle := !entry.removed &&
			entry.lastActive.Before(cutoff) &&
			!slices.ContainsFunc(entry.table.Players, func(p *burako.Player) bool { return p.IsConnected })
		if idle {
			entry.removed = true
			ids = append(ids, entry.table.ID)
		}
		entry.mu.Unlock()
	}

	if len(ids) > 0 {
		l.mu.Lock()
		for _, id := range ids {
			delete(l.tables, id)
		}
		l.mu.Unlock()
		l.log.WithField("tables", ids).Info("removed idle tables")
	}
	return ids
}

func (l *Lobby) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.tables)
}

// entries copies the table list so callers can lock entries one at a time
// without holding the lobby lock.
func (l *Lobby) entries() []*tableEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries := make([]*tableEntry, 0, len(l.tables))
	for _, entry := range l.tables {
		entries = append(entries, entry)
	}
	return entries
}

func (l *Lobby) viewOf(table *burako.Table) TableView {
	players := make([]burako.Player, 0, len(table.Players))
	for _, p := range table.Players {
		players = append(players, *p)
	}
	return TableView{
		ID:        table.ID,
		HostID:    table.HostID,
		Status:    table.Status,
		CreatedAt: table.CreatedAt,
		Players:   players,
		Game:      l.engine.Summarize(table),
	}
}

func nextSeat(table *burako.Table) int {
	for seat := 0; seat < burako.MaxPlayers; seat++ {
		if !slices.ContainsFunc(table.Players, func(p *burako.Player) bool { return p.Seat == seat }) {
			return seat
		}
	}
	return burako.NoSeat
}

func resultOf(table *burako.Table, finishedAt time.Time) GameResult {
	game := table.Game
	nameOf := func(id string) string {
		if p := table.Player(id); p != nil {
			return p.Name
		}
		return id
	}

	scores := make(map[string]int, len(game.Players))
	for id, ps := range game.Players {
		scores[nameOf(id)] = ps.Score
	}

	result := GameResult{
		GameID:     game.ID,
		TableID:    table.ID,
		WinnerID:   game.WinnerID,
		Scores:     scores,
		Rounds:     game.Round,
		FinishedAt: finishedAt,
	}
	if game.WinnerID != "" {
		result.WinnerName = nameOf(game.WinnerID)
	}
	return result
}
