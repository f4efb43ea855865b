package burako

type MoveType string

const (
	// Draw step
	MoveDrawStock   MoveType = "draw_stock"
	MoveDrawDiscard MoveType = "draw_discard"

	// Discard step
	MovePlayMeld   MoveType = "play_meld"
	MoveExtendMeld MoveType = "extend_meld"
	MoveDiscard    MoveType = "discard"
)

type Move struct {
	PlayerID string   `json:"-"`
	Type     MoveType `json:"type"`
	CardID   string   `json:"cardId,omitempty"`
	CardIDs  []string `json:"cardIds,omitempty"`
	MeldID   string   `json:"meldId,omitempty"`
	MeldType MeldType `json:"meldType,omitempty"`
}

// Execute runs exactly one engine operation for move.
func (e *Engine) Execute(table *Table, move Move) error {
	var err error
	switch move.Type {
	case MoveDrawStock:
		_, err = e.DrawFromStock(table, move.PlayerID)
	case MoveDrawDiscard:
		_, err = e.DrawFromDiscard(table, move.PlayerID)
	case MovePlayMeld:
		_, err = e.PlayMeld(table, move.PlayerID, move.CardIDs, move.MeldType)
	case MoveExtendMeld:
		_, err = e.ExtendMeld(table, move.PlayerID, move.MeldID, move.CardIDs)
	case MoveDiscard:
		err = e.Discard(table, move.PlayerID, move.CardID)
	default:
		err = ErrUnknownMove
	}
	return err
}
