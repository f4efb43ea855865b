package burako

import (
	"fmt"
	"math/rand"
)

type Color int

// Colors start at one so a joker's zero Color is omitted on the wire.
const (
	Black Color = iota + 1
	Red
	Blue
	Yellow
)

var Colors = []Color{Black, Red, Blue, Yellow}

var colorString = map[Color]string{
	Black:  "black",
	Red:    "red",
	Blue:   "blue",
	Yellow: "yellow",
}

func (c Color) String() string {
	return colorString[c]
}

func (c Color) MarshalText() ([]byte, error) {
	s, ok := colorString[c]
	if !ok {
		return nil, fmt.Errorf("unknown color %d", int(c))
	}
	return []byte(s), nil
}

func (c *Color) UnmarshalText(text []byte) error {
	for color, s := range colorString {
		if s == string(text) {
			*c = color
			return nil
		}
	}
	return fmt.Errorf("unknown color %q", string(text))
}

// Rank is the printed number of a standard card, 1 through 13.
type Rank int

const (
	MinRank Rank = 1
	MaxRank Rank = 13
)

var pointValues = map[Rank]int{
	1:  15,
	2:  20,
	3:  5,
	4:  5,
	5:  5,
	6:  5,
	7:  5,
	8:  10,
	9:  10,
	10: 10,
	11: 10,
	12: 10,
	13: 10,
}

const jokerValue = 50

type CardKind string

const (
	KindStandard CardKind = "standard"
	KindJoker    CardKind = "joker"
)

// Card is immutable once dealt. Color and Rank are meaningless for jokers.
type Card struct {
	ID    string   `json:"id"`
	Kind  CardKind `json:"kind"`
	Color Color    `json:"color,omitempty"`
	Rank  Rank     `json:"number,omitempty"`
	Value int      `json:"value"`
}

func NewStandardCard(id string, color Color, rank Rank) Card {
	return Card{
		ID:    id,
		Kind:  KindStandard,
		Color: color,
		Rank:  rank,
		Value: pointValues[rank],
	}
}

func NewJoker(id string) Card {
	return Card{
		ID:    id,
		Kind:  KindJoker,
		Value: jokerValue,
	}
}

func (c Card) IsJoker() bool {
	return c.Kind == KindJoker
}

func (c Card) String() string {
	if c.IsJoker() {
		return "Joker"
	}
	return fmt.Sprintf("%d %s", c.Rank, c.Color)
}

func JokerCount(cards []Card) (count int) {
	for _, card := range cards {
		if card.IsJoker() {
			count++
		}
	}
	return
}

type Deck struct {
	Cards []Card `json:"cards"`
}

// NewDeck builds two standard decks of 52 plus two jokers each, unshuffled.
func NewDeck(newID func() string) *Deck {
	cards := make([]Card, 0, DeckSize)

	for range 2 {
		for _, color := range Colors {
			for rank := MinRank; rank <= MaxRank; rank++ {
				cards = append(cards, NewStandardCard(newID(), color, rank))
			}
		}
		cards = append(cards, NewJoker(newID()))
		cards = append(cards, NewJoker(newID()))
	}

	return &Deck{cards}
}

func (d Deck) Count() int {
	return len(d.Cards)
}

// Draw takes n cards off the end of the deck.
func (d *Deck) Draw(n int) (cards []Card) {
	for range n {
		card := d.Cards[len(d.Cards)-1]
		cards = append(cards, card)
		d.Cards = d.Cards[:len(d.Cards)-1]
	}
	return
}

func (d *Deck) Shuffle(r *rand.Rand) {
	shuffleCards(r, d.Cards)
}

func shuffleCards(r *rand.Rand, cards []Card) {
	r.Shuffle(len(cards), func(i, j int) {
		cards[i], cards[j] = cards[j], cards[i]
	})
}
