package burako

import (
	"slices"
)

// ValidateMeld checks cards against the rules for meldType and returns them
// in table order: sequences ascend by rank, jokers always go last.
func ValidateMeld(cards []Card, meldType MeldType) (ordered []Card, isClean bool, err error) {
	if len(cards) < 3 {
		return nil, false, invalidMeld("A meld needs at least three cards")
	}

	var standards, jokers []Card
	for _, card := range cards {
		if card.IsJoker() {
			jokers = append(jokers, card)
		} else {
			standards = append(standards, card)
		}
	}

	if len(jokers) > 1 {
		return nil, false, invalidMeld("Only one joker is allowed per meld")
	}
	if len(standards) == 0 {
		return nil, false, invalidMeld("A meld needs at least one standard card")
	}

	switch meldType {
	case MeldSet:
		ordered, err = validateSet(standards, jokers)
	case MeldSequence:
		ordered, err = validateSequence(standards, jokers)
	default:
		return nil, false, invalidMeld("Unknown meld type")
	}
	if err != nil {
		return nil, false, err
	}

	return ordered, len(jokers) == 0, nil
}

func validateSet(standards, jokers []Card) ([]Card, error) {
	rank := standards[0].Rank
	for _, card := range standards {
		if card.Rank != rank {
			return nil, invalidMeld("All cards in a set must share the same number")
		}
	}
	return append(slices.Clone(standards), jokers...), nil
}

func validateSequence(standards, jokers []Card) ([]Card, error) {
	color := standards[0].Color
	for _, card := range standards {
		if card.Color != color {
			return nil, invalidMeld("Sequences need cards of a single color")
		}
	}

	sorted := slices.Clone(standards)
	slices.SortFunc(sorted, func(a, b Card) int {
		return int(a.Rank - b.Rank)
	})

	for i := 1; i < len(sorted); i++ {
		if sorted[i].Rank == sorted[i-1].Rank {
			return nil, invalidMeld("A sequence cannot repeat a number")
		}
	}

	span := int(sorted[len(sorted)-1].Rank-sorted[0].Rank) + 1
	if span > len(standards)+len(jokers) {
		return nil, invalidMeld("The numbers are not consecutive, even with the joker")
	}

	return append(sorted, jokers...), nil
}

// applyCanastaBonus pays the owner when a meld reaches canasta size: the
// dirty bonus once, and only the difference up to the clean bonus after that.
func (e *Engine) applyCanastaBonus(game *GameState, meld *Meld) {
	if len(meld.Cards) < CanastaSize {
		return
	}

	switch meld.CanastaBonus {
	case BonusClean:
		return
	case BonusDirty:
		if meld.IsClean {
			e.addScore(game, meld.OwnerID, CleanCanastaBonus-DirtyCanastaBonus)
			meld.CanastaBonus = BonusClean
		}
	default:
		if meld.IsClean {
			e.addScore(game, meld.OwnerID, CleanCanastaBonus)
			meld.CanastaBonus = BonusClean
		} else {
			e.addScore(game, meld.OwnerID, DirtyCanastaBonus)
			meld.CanastaBonus = BonusDirty
		}
	}
}
