package burako

import (
	"slices"
)

type PublicGameState struct {
	TableID     string              `json:"tableId"`
	Phase       Phase               `json:"phase"`
	Round       int                 `json:"round"`
	CurrentTurn TurnState           `json:"currentTurn"`
	StockCount  int                 `json:"stockCount"`
	DiscardTop  *Card               `json:"discardTop"` // nil when the pile is empty
	TableMelds  []Meld              `json:"tableMelds"`
	Players     []PublicPlayerState `json:"players"`
	WinnerID    string              `json:"winnerId,omitempty"`
}

type PublicPlayerState struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Seat         int    `json:"seat"`
	Score        int    `json:"score"`
	HandCount    int    `json:"handCount"`
	IsSelf       bool   `json:"isSelf"`
	Hand         []Card `json:"hand,omitempty"` // only ever set for the viewer
	Melds        []Meld `json:"melds"`
	DeadCount    int    `json:"deadCount"`
	HasTakenDead bool   `json:"hasTakenDead"`
}

type GameSummary struct {
	Phase           Phase  `json:"phase"`
	Round           int    `json:"round"`
	CurrentPlayerID string `json:"currentPlayerId,omitempty"`
	StockCount      int    `json:"stockCount"`
	DiscardTop      *Card  `json:"discardTop"`
	MeldCount       int    `json:"meldCount"`
	WinnerID        string `json:"winnerId,omitempty"`
}

// GetPublicState builds viewerID's view of the table. It copies everything it
// returns, so the result can be sent after the table is released.
func (e *Engine) GetPublicState(table *Table, viewerID string) (*PublicGameState, error) {
	game, err := e.requireGame(table)
	if err != nil {
		return nil, err
	}

	players := make([]PublicPlayerState, 0, len(table.Players))
	for _, p := range table.Players {
		public := PublicPlayerState{
			ID:     p.ID,
			Name:   p.Name,
			Seat:   p.Seat,
			IsSelf: p.ID == viewerID,
			Melds:  []Meld{},
		}
		if ps, ok := game.Players[p.ID]; ok {
			public.Score = ps.Score
			public.HandCount = len(ps.Hand)
			public.Melds = copyMelds(ps.Melds)
			public.DeadCount = len(ps.DeadPile)
			public.HasTakenDead = ps.HasTakenDead
			if public.IsSelf {
				public.Hand = slices.Clone(ps.Hand)
			}
		}
		players = append(players, public)
	}

	return &PublicGameState{
		TableID:     table.ID,
		Phase:       game.Phase,
		Round:       game.Round,
		CurrentTurn: game.Turn,
		StockCount:  len(game.Stock),
		DiscardTop:  game.DiscardTop(),
		TableMelds:  copyMelds(game.TableMelds),
		Players:     players,
		WinnerID:    game.WinnerID,
	}, nil
}

// Summarize returns the lobby-level view of a table's game, or nil before
// the first game starts.
func (e *Engine) Summarize(table *Table) *GameSummary {
	game := table.Game
	if game == nil {
		return nil
	}

	summary := &GameSummary{
		Phase:      game.Phase,
		Round:      game.Round,
		StockCount: len(game.Stock),
		DiscardTop: game.DiscardTop(),
		MeldCount:  len(game.TableMelds),
		WinnerID:   game.WinnerID,
	}
	if game.Phase == PhasePlaying {
		summary.CurrentPlayerID = game.Turn.PlayerID
	}
	return summary
}

func copyMelds(melds []*Meld) []Meld {
	out := make([]Meld, 0, len(melds))
	for _, meld := range melds {
		m := *meld
		m.Cards = slices.Clone(meld.Cards)
		out = append(out, m)
	}
	return out
}
