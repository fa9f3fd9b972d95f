package main

// ErrorKind identifies which game rule a command violated
type ErrorKind string

const (
	KindAlreadyInGame      ErrorKind = "already_in_game"
	KindSessionFull        ErrorKind = "session_full"
	KindPlayerNotInGame    ErrorKind = "player_not_in_game"
	KindNotInProgress      ErrorKind = "not_in_progress"
	KindRolesNotAssigned   ErrorKind = "roles_not_assigned"
	KindNoActiveSession    ErrorKind = "no_active_session"
	KindSessionIDMismatch  ErrorKind = "session_id_mismatch"
	KindUnsupportedCommand ErrorKind = "unsupported_command"
)

// GameError is returned for every rejected command. None of them are
// transient, so callers must not retry without changing the input.
type GameError struct {
	Kind    ErrorKind
	Message string
}

func (e *GameError) Error() string {
	return e.Message
}

// Is matches on Kind so errors.Is(err, ErrSessionFull) works for any
// GameError of that kind.
func (e *GameError) Is(target error) bool {
	t, ok := target.(*GameError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

var (
	ErrAlreadyInGame      = &GameError{KindAlreadyInGame, "Player is already in this game"}
	ErrSessionFull        = &GameError{KindSessionFull, "Game is full"}
	ErrPlayerNotInGame    = &GameError{KindPlayerNotInGame, "Player is not in this game"}
	ErrNotInProgress      = &GameError{KindNotInProgress, "Game is not in progress"}
	ErrRolesNotAssigned   = &GameError{KindRolesNotAssigned, "Roles have not been assigned yet"}
	ErrNoActiveSession    = &GameError{KindNoActiveSession, "No game in progress"}
	ErrSessionIDMismatch  = &GameError{KindSessionIDMismatch, "Game ID does not match the game in progress"}
	ErrUnsupportedCommand = &GameError{KindUnsupportedCommand, "Invalid command"}
)
