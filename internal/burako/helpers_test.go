package burako_test

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/valenfontana7/burako-online/internal/burako"
)

func newEngine() *burako.Engine {
	n := 0
	return burako.NewEngine(
		burako.WithRand(rand.New(rand.NewSource(42))),
		burako.WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("id-%d", n)
		}),
	)
}

func newTable(names ...string) *burako.Table {
	table := &burako.Table{ID: "ABCD", Status: burako.TableWaiting}
	for i, name := range names {
		table.Players = append(table.Players, &burako.Player{
			ID:          name,
			Name:        name,
			Seat:        i,
			IsHost:      i == 0,
			IsConnected: true,
		})
	}
	if len(names) > 0 {
		table.HostID = names[0]
	}
	return table
}

func startedTable(t *testing.T, e *burako.Engine, names ...string) *burako.Table {
	t.Helper()
	table := newTable(names...)
	_, err := e.StartGame(table)
	require.NoError(t, err)
	return table
}

func std(id string, color burako.Color, rank burako.Rank) burako.Card {
	return burako.NewStandardCard(id, color, rank)
}

func joker(id string) burako.Card {
	return burako.NewJoker(id)
}

func cardIDs(cards ...burako.Card) []string {
	ids := make([]string, 0, len(cards))
	for _, c := range cards {
		ids = append(ids, c.ID)
	}
	return ids
}

// giveHand replaces a player's hand and puts them in the discard step of
// their own turn, for tests that need specific cards.
func giveHand(t *testing.T, table *burako.Table, playerID string, cards ...burako.Card) {
	t.Helper()
	ps, ok := table.Game.Players[playerID]
	require.True(t, ok, "player %s not in game", playerID)
	ps.Hand = cards
	table.Game.Turn.PlayerID = playerID
	table.Game.Turn.Seat = ps.Seat
	table.Game.Turn.Step = burako.StepDiscard
	table.Game.Turn.DrawnFrom = burako.DrawStock
}

// allCardIDs collects every card id across every zone of the game.
func allCardIDs(g *burako.GameState) []string {
	var ids []string
	ids = append(ids, cardIDs(g.Stock...)...)
	ids = append(ids, cardIDs(g.DiscardPile...)...)
	for _, ps := range g.Players {
		ids = append(ids, cardIDs(ps.Hand...)...)
		ids = append(ids, cardIDs(ps.DeadPile...)...)
	}
	for _, meld := range g.TableMelds {
		ids = append(ids, cardIDs(meld.Cards...)...)
	}
	return ids
}
