package burako

// GameError is a rule violation the caller can report back to the acting
// player. Two GameErrors match under errors.Is when their codes are equal,
// so detailed variants still match the exported sentinels.
type GameError struct {
	Code    string
	Message string
}

func (e *GameError) Error() string {
	return e.Code + ": " + e.Message
}

func (e *GameError) Is(target error) bool {
	t, ok := target.(*GameError)
	return ok && t.Code == e.Code
}

func newError(code, message string) *GameError {
	return &GameError{Code: code, Message: message}
}

var (
	ErrNotYourTurn         = newError("NOT_YOUR_TURN", "It is not your turn")
	ErrWrongStep           = newError("WRONG_STEP", "That action is not allowed in this step of the turn")
	ErrInsufficientPlayers = newError("INSUFFICIENT_PLAYERS", "At least two players are needed to start")
	ErrTooManyPlayers      = newError("TOO_MANY_PLAYERS", "A table seats at most four players")
	ErrDeckExhausted       = newError("DECK_EXHAUSTED", "Not enough cards to start the game")
	ErrNoCardsAvailable    = newError("NO_CARDS_AVAILABLE", "No cards left in the stock or discard pile")
	ErrEmptyDiscard        = newError("EMPTY_DISCARD", "The discard pile is empty")
	ErrCardNotInHand       = newError("CARD_NOT_IN_HAND", "That card is not in your hand")
	ErrInvalidMeld         = newError("INVALID_MELD", "Those cards do not form a valid meld")
	ErrMeldNotFound        = newError("MELD_NOT_FOUND", "Meld not found on the table")
	ErrMustKeepCard        = newError("MUST_KEEP_CARD", "You must keep a card to discard")
	ErrNoActiveGame        = newError("NO_ACTIVE_GAME", "The table has no game")
	ErrGameNotPlaying      = newError("GAME_NOT_PLAYING", "The game is not in progress")
	ErrGameInProgress      = newError("GAME_IN_PROGRESS", "A game is already in progress")
	ErrUnknownPlayer       = newError("UNKNOWN_PLAYER", "Player is not part of this game")
	ErrPlayerExists        = newError("PLAYER_EXISTS", "Player is already part of this game")
	ErrUnknownMove         = newError("UNKNOWN_MOVE", "Unknown move type")
)

func invalidMeld(message string) error {
	return newError(ErrInvalidMeld.Code, message)
}
