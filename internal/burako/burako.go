package burako

import (
	"io"
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	HandSize    = 11
	DeckSize    = 108
	MinPlayers  = 2
	MaxPlayers  = 4
	CanastaSize = 7

	DeadPileBonus     = 100
	ClosingBonus      = 100
	DirtyCanastaBonus = 100
	CleanCanastaBonus = 200
)

// NoSeat marks a player without an assigned seat.
const NoSeat = -1

type TableStatus string

const (
	TableWaiting  TableStatus = "waiting"
	TablePlaying  TableStatus = "playing"
	TableFinished TableStatus = "finished"
)

type Phase string

const (
	PhasePlaying  Phase = "playing"
	PhaseFinished Phase = "finished"
)

type TurnStep string

const (
	StepDraw    TurnStep = "draw"
	StepDiscard TurnStep = "discard"
)

type DrawSource string

const (
	DrawNone    DrawSource = ""
	DrawStock   DrawSource = "stock"
	DrawDiscard DrawSource = "discard"
)

type MeldType string

const (
	MeldSet      MeldType = "set"
	MeldSequence MeldType = "sequence"
)

// CanastaBonus only ever advances none -> dirty -> clean.
type CanastaBonus string

const (
	BonusNone  CanastaBonus = ""
	BonusDirty CanastaBonus = "dirty"
	BonusClean CanastaBonus = "clean"
)

// Player is a roster entry. The lobby owns the roster; the engine only reads it.
type Player struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Seat        int       `json:"seat"`
	IsHost      bool      `json:"isHost"`
	JoinedAt    time.Time `json:"joinedAt"`
	IsConnected bool      `json:"isConnected"`
}

type Table struct {
	ID        string      `json:"id"`
	HostID    string      `json:"hostId"`
	Status    TableStatus `json:"status"`
	CreatedAt time.Time   `json:"createdAt"`
	Players   []*Player   `json:"players"`
	Game      *GameState  `json:"-"`
}

func (t *Table) Player(id string) *Player {
	for _, p := range t.Players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// Meld owners are a back-reference only: a meld outlives its owner if the
// owner leaves mid-game.
type Meld struct {
	ID           string       `json:"id"`
	OwnerID      string       `json:"ownerId"`
	Cards        []Card       `json:"cards"`
	Type         MeldType     `json:"type"`
	IsClean      bool         `json:"isClean"`
	CanastaBonus CanastaBonus `json:"canastaBonus,omitempty"`
}

type TurnState struct {
	PlayerID  string     `json:"playerId"`
	Seat      int        `json:"seat"`
	Step      TurnStep   `json:"step"`
	DrawnFrom DrawSource `json:"drawnFrom,omitempty"`
}

// PlayerState is everything the game tracks for one seated player.
type PlayerState struct {
	Hand         []Card  `json:"hand"`
	Melds        []*Meld `json:"melds"`
	Score        int     `json:"score"`
	Seat         int     `json:"seat"`
	DeadPile     []Card  `json:"deadPile"`
	HasTakenDead bool    `json:"hasTakenDead"`
	IsOut        bool    `json:"isOut"`
}

type GameState struct {
	ID          string                  `json:"id"`
	Phase       Phase                   `json:"phase"`
	Round       int                     `json:"round"`
	CreatedAt   time.Time               `json:"createdAt"`
	UpdatedAt   time.Time               `json:"updatedAt"`
	Stock       []Card                  `json:"stock"`
	DiscardPile []Card                  `json:"discardPile"`
	Players     map[string]*PlayerState `json:"players"`
	TableMelds  []*Meld                 `json:"tableMelds"`
	TurnOrder   []string                `json:"turnOrder"`
	Turn        TurnState               `json:"turn"`
	WinnerID    string                  `json:"winnerId,omitempty"`
}

func (g *GameState) DiscardTop() *Card {
	if len(g.DiscardPile) == 0 {
		return nil
	}
	card := g.DiscardPile[len(g.DiscardPile)-1]
	return &card
}

func (g *GameState) findMeld(id string) *Meld {
	for _, meld := range g.TableMelds {
		if meld.ID == id {
			return meld
		}
	}
	return nil
}

// CardCount totals the cards in every zone of the game. It stays at
// DeckSize for the whole life of a game.
func CardCount(g *GameState) int {
	count := len(g.Stock) + len(g.DiscardPile)
	for _, ps := range g.Players {
		count += len(ps.Hand) + len(ps.DeadPile)
	}
	for _, meld := range g.TableMelds {
		count += len(meld.Cards)
	}
	return count
}

// Engine applies the rules to a table's game. It holds no per-table state
// and may be shared by every table in the process; callers must serialize
// operations on any single table.
type Engine struct {
	randMu sync.Mutex
	rand   *rand.Rand
	newID  func() string
	now    func() time.Time
	log    logrus.FieldLogger
}

type Option func(*Engine)

func WithRand(r *rand.Rand) Option {
	return func(e *Engine) { e.rand = r }
}

func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(e *Engine) { e.log = log }
}

func NewEngine(opts ...Option) *Engine {
	quiet := logrus.New()
	quiet.SetOutput(io.Discard)

	e := &Engine{
		rand:  rand.New(rand.NewSource(time.Now().UnixNano())),
		newID: uuid.NewString,
		now:   time.Now,
		log:   quiet,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) shuffle(cards []Card) {
	e.randMu.Lock()
	defer e.randMu.Unlock()
	shuffleCards(e.rand, cards)
}

func (e *Engine) StartGame(table *Table) (*GameState, error) {
	if table.Game != nil && table.Game.Phase == PhasePlaying {
		return nil, ErrGameInProgress
	}
	if len(table.Players) < MinPlayers {
		return nil, ErrInsufficientPlayers
	}
	if len(table.Players) > MaxPlayers {
		return nil, ErrTooManyPlayers
	}

	deck := NewDeck(e.newID)
	e.shuffle(deck.Cards)

	if deck.Count() < len(table.Players)*HandSize*2+1 {
		return nil, ErrDeckExhausted
	}

	seated := slices.Clone(table.Players)
	slices.SortStableFunc(seated, func(a, b *Player) int {
		return a.Seat - b.Seat
	})

	players := make(map[string]*PlayerState, len(seated))
	turnOrder := make([]string, 0, len(seated))
	for _, p := range seated {
		players[p.ID] = &PlayerState{
			Hand:     deck.Draw(HandSize),
			Melds:    []*Meld{},
			Seat:     p.Seat,
			DeadPile: deck.Draw(HandSize),
		}
		turnOrder = append(turnOrder, p.ID)
	}

	now := e.now()
	game := &GameState{
		ID:          e.newID(),
		Phase:       PhasePlaying,
		Round:       1,
		CreatedAt:   now,
		UpdatedAt:   now,
		DiscardPile: deck.Draw(1),
		Stock:       deck.Cards,
		Players:     players,
		TableMelds:  []*Meld{},
		TurnOrder:   turnOrder,
		Turn: TurnState{
			PlayerID: turnOrder[0],
			Seat:     players[turnOrder[0]].Seat,
			Step:     StepDraw,
		},
	}

	table.Game = game
	table.Status = TablePlaying

	e.log.WithFields(logrus.Fields{
		"table":   table.ID,
		"game":    game.ID,
		"players": len(turnOrder),
	}).Info("game started")

	return game, nil
}

func (e *Engine) requireGame(table *Table) (*GameState, error) {
	if table.Game == nil {
		return nil, ErrNoActiveGame
	}
	return table.Game, nil
}

func (e *Engine) requireActiveGame(table *Table) (*GameState, error) {
	game, err := e.requireGame(table)
	if err != nil {
		return nil, err
	}
	if game.Phase != PhasePlaying {
		return nil, ErrGameNotPlaying
	}
	return game, nil
}

func (e *Engine) requireTurn(game *GameState, playerID string, step TurnStep) (*PlayerState, error) {
	if game.Turn.PlayerID != playerID {
		return nil, ErrNotYourTurn
	}
	if game.Turn.Step != step {
		return nil, ErrWrongStep
	}
	ps, ok := game.Players[playerID]
	if !ok {
		return nil, ErrUnknownPlayer
	}
	return ps, nil
}

// advanceTurn hands the turn to whoever follows currentID in turn order,
// or to the first player when currentID is no longer in it.
func (e *Engine) advanceTurn(game *GameState, currentID string) {
	if len(game.TurnOrder) == 0 {
		game.Turn = TurnState{PlayerID: currentID, Seat: NoSeat, Step: StepDraw}
		return
	}

	next := 0
	if i := slices.Index(game.TurnOrder, currentID); i != -1 {
		next = (i + 1) % len(game.TurnOrder)
	}
	nextID := game.TurnOrder[next]

	seat := NoSeat
	if ps, ok := game.Players[nextID]; ok {
		seat = ps.Seat
	}

	game.Turn = TurnState{PlayerID: nextID, Seat: seat, Step: StepDraw}
	e.touch(game)
}

func (e *Engine) finishGame(table *Table, winnerID string, reason string) {
	game := table.Game
	if winnerID != "" {
		e.addScore(game, winnerID, ClosingBonus)
	}
	game.Phase = PhaseFinished
	game.WinnerID = winnerID
	e.touch(game)
	table.Status = TableFinished

	e.log.WithFields(logrus.Fields{
		"table":  table.ID,
		"game":   game.ID,
		"winner": winnerID,
		"reason": reason,
	}).Info("game finished")
}

// addScore ignores players who are no longer in the game.
func (e *Engine) addScore(game *GameState, playerID string, points int) {
	if points == 0 {
		return
	}
	if ps, ok := game.Players[playerID]; ok {
		ps.Score += points
	}
}

func (e *Engine) touch(game *GameState) {
	game.UpdatedAt = e.now()
}
