package burako

import (
	"slices"
)

// RebindPlayer moves every piece of game state keyed by previousID over to
// nextID. It checks both ids before changing anything, so a failed rebind
// leaves the game untouched.
func (e *Engine) RebindPlayer(table *Table, previousID, nextID string) error {
	game := table.Game
	if game == nil || previousID == nextID {
		return nil
	}

	ps, ok := game.Players[previousID]
	if !ok {
		return ErrUnknownPlayer
	}
	if _, taken := game.Players[nextID]; taken {
		return ErrPlayerExists
	}

	delete(game.Players, previousID)
	game.Players[nextID] = ps

	for _, meld := range ps.Melds {
		if meld.OwnerID == previousID {
			meld.OwnerID = nextID
		}
	}
	for _, meld := range game.TableMelds {
		if meld.OwnerID == previousID {
			meld.OwnerID = nextID
		}
	}

	for i, id := range game.TurnOrder {
		if id == previousID {
			game.TurnOrder[i] = nextID
		}
	}
	if game.Turn.PlayerID == previousID {
		game.Turn.PlayerID = nextID
	}
	if game.WinnerID == previousID {
		game.WinnerID = nextID
	}

	e.touch(game)
	return nil
}

// HandlePlayerLeave drops a departing player from a game in progress. Their
// melds stay on the table under the old id. With fewer than two players
// left the game ends.
func (e *Engine) HandlePlayerLeave(table *Table, playerID string) {
	game := table.Game
	if game == nil || game.Phase != PhasePlaying {
		return
	}

	delete(game.Players, playerID)
	game.TurnOrder = slices.DeleteFunc(game.TurnOrder, func(id string) bool {
		return id == playerID
	})

	if game.Turn.PlayerID == playerID {
		e.advanceTurn(game, playerID)
	}
	e.touch(game)

	if len(game.TurnOrder) >= MinPlayers {
		return
	}

	if len(game.TurnOrder) == 1 {
		e.finishGame(table, game.TurnOrder[0], "other players left")
		return
	}

	game.Phase = PhaseFinished
	game.WinnerID = ""
	table.Status = TableFinished
	e.log.WithField("table", table.ID).Info("game abandoned")
}
