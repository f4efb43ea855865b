package burako

import (
	"slices"
)

/*
 * Draw Phase
 */

func (e *Engine) DrawFromStock(table *Table, playerID string) (Card, error) {
	game, err := e.requireActiveGame(table)
	if err != nil {
		return Card{}, err
	}
	ps, err := e.requireTurn(game, playerID, StepDraw)
	if err != nil {
		return Card{}, err
	}

	if len(game.Stock) == 0 {
		if err := e.recycleStock(game); err != nil {
			return Card{}, err
		}
	}

	last := len(game.Stock) - 1
	card := game.Stock[last]
	game.Stock = game.Stock[:last]
	ps.Hand = append(ps.Hand, card)

	game.Turn.Step = StepDiscard
	game.Turn.DrawnFrom = DrawStock
	e.touch(game)
	return card, nil
}

// DrawFromDiscard takes only the top card of the discard pile.
func (e *Engine) DrawFromDiscard(table *Table, playerID string) (Card, error) {
	game, err := e.requireActiveGame(table)
	if err != nil {
		return Card{}, err
	}
	ps, err := e.requireTurn(game, playerID, StepDraw)
	if err != nil {
		return Card{}, err
	}

	if len(game.DiscardPile) == 0 {
		return Card{}, ErrEmptyDiscard
	}

	last := len(game.DiscardPile) - 1
	card := game.DiscardPile[last]
	game.DiscardPile = game.DiscardPile[:last]
	ps.Hand = append(ps.Hand, card)

	game.Turn.Step = StepDiscard
	game.Turn.DrawnFrom = DrawDiscard
	e.touch(game)
	return card, nil
}

// recycleStock turns everything under the top discard into a fresh stock.
func (e *Engine) recycleStock(game *GameState) error {
	if len(game.DiscardPile) <= 1 {
		return ErrNoCardsAvailable
	}

	last := len(game.DiscardPile) - 1
	top := game.DiscardPile[last]
	recycled := slices.Clone(game.DiscardPile[:last])
	e.shuffle(recycled)

	game.DiscardPile = []Card{top}
	game.Stock = recycled
	return nil
}

/*
 * Play Phase
 */

func (e *Engine) PlayMeld(table *Table, playerID string, cardIDs []string, meldType MeldType) (*Meld, error) {
	game, err := e.requireActiveGame(table)
	if err != nil {
		return nil, err
	}
	ps, err := e.requireTurn(game, playerID, StepDiscard)
	if err != nil {
		return nil, err
	}

	if len(cardIDs) < 3 {
		return nil, invalidMeld("A meld needs at least three cards")
	}

	// Nothing leaves the hand until the meld is known to be valid.
	cards, err := pickCards(ps.Hand, cardIDs)
	if err != nil {
		return nil, err
	}
	ordered, isClean, err := ValidateMeld(cards, meldType)
	if err != nil {
		return nil, err
	}
	if len(cards) == len(ps.Hand) {
		return nil, ErrMustKeepCard
	}

	ps.Hand = removeCards(ps.Hand, cardIDs)
	meld := &Meld{
		ID:      e.newID(),
		OwnerID: playerID,
		Cards:   ordered,
		Type:    meldType,
		IsClean: isClean,
	}
	ps.Melds = append(ps.Melds, meld)
	game.TableMelds = append(game.TableMelds, meld)
	e.touch(game)

	e.applyCanastaBonus(game, meld)
	return meld, nil
}

// ExtendMeld adds cards from the acting player's hand to any meld on the
// table, including melds owned by other players.
func (e *Engine) ExtendMeld(table *Table, playerID string, meldID string, cardIDs []string) (*Meld, error) {
	game, err := e.requireActiveGame(table)
	if err != nil {
		return nil, err
	}
	ps, err := e.requireTurn(game, playerID, StepDiscard)
	if err != nil {
		return nil, err
	}

	if len(cardIDs) == 0 {
		return nil, invalidMeld("Choose cards to add to the meld")
	}

	target := game.findMeld(meldID)
	if target == nil {
		return nil, ErrMeldNotFound
	}

	cards, err := pickCards(ps.Hand, cardIDs)
	if err != nil {
		return nil, err
	}
	merged := append(slices.Clone(target.Cards), cards...)
	ordered, isClean, err := ValidateMeld(merged, target.Type)
	if err != nil {
		return nil, err
	}
	if len(cards) == len(ps.Hand) {
		return nil, ErrMustKeepCard
	}

	ps.Hand = removeCards(ps.Hand, cardIDs)
	target.Cards = ordered
	target.IsClean = isClean
	e.touch(game)

	e.applyCanastaBonus(game, target)
	return target, nil
}

/*
 * End Phase
 */

// Discard ends the turn. Emptying the hand either hands the player their
// dead pile for their next turn or, once it is spent, ends the game.
func (e *Engine) Discard(table *Table, playerID string, cardID string) error {
	game, err := e.requireActiveGame(table)
	if err != nil {
		return err
	}
	ps, err := e.requireTurn(game, playerID, StepDiscard)
	if err != nil {
		return err
	}

	i := slices.IndexFunc(ps.Hand, func(c Card) bool { return c.ID == cardID })
	if i == -1 {
		return ErrCardNotInHand
	}

	card := ps.Hand[i]
	ps.Hand = slices.Delete(ps.Hand, i, i+1)
	game.DiscardPile = append(game.DiscardPile, card)
	e.touch(game)

	if len(ps.Hand) > 0 {
		e.advanceTurn(game, playerID)
		return nil
	}

	if !ps.HasTakenDead && len(ps.DeadPile) > 0 {
		e.addScore(game, playerID, DeadPileBonus)
		ps.Hand = ps.DeadPile
		ps.DeadPile = []Card{}
		ps.HasTakenDead = true
		e.advanceTurn(game, playerID)
		return nil
	}

	ps.IsOut = true
	e.finishGame(table, playerID, "player went out")
	return nil
}

/*
 * Misc helpers
 */

// pickCards looks up every id in hand without modifying it. An id that is
// missing or repeated fails the whole lookup.
func pickCards(hand []Card, ids []string) ([]Card, error) {
	used := make(map[int]bool, len(ids))
	cards := make([]Card, 0, len(ids))

	for _, id := range ids {
		i := slices.IndexFunc(hand, func(c Card) bool { return c.ID == id })
		if i == -1 || used[i] {
			return nil, ErrCardNotInHand
		}
		used[i] = true
		cards = append(cards, hand[i])
	}
	return cards, nil
}

func removeCards(hand []Card, ids []string) []Card {
	return slices.DeleteFunc(slices.Clone(hand), func(c Card) bool {
		return slices.Contains(ids, c.ID)
	})
}
