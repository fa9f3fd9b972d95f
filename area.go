package main

import (
	"fmt"
	"log"
	"sync"
)

// CommandType names a command a SessionArea understands
type CommandType string

const (
	CommandJoinGame    CommandType = "JoinGame"
	CommandLeaveGame   CommandType = "LeaveGame"
	CommandCastVote    CommandType = "CastVote"
	CommandAssignRoles CommandType = "AssignRoles"
)

// Command is one request from the transport layer. SessionID is ignored
// for JoinGame; Target is only read by CastVote.
type Command struct {
	Type      CommandType
	SessionID string
	Target    PlayerID
}

// CommandResult carries whatever the command produces
type CommandResult struct {
	SessionID string       `json:"session_id,omitempty"`
	Vote      *VoteOutcome `json:"vote,omitempty"`
}

// SessionResult is one history entry. Every seated player gets a score;
// no current flow declares a winner, so all scores are 0.
type SessionResult struct {
	SessionID string         `json:"session_id" db:"session_id"`
	Scores    map[string]int `json:"scores"`
}

// ResultRecorder receives each history entry once, after it is appended
type ResultRecorder interface {
	RecordResult(area string, result SessionResult) error
}

// AreaOptions configures a SessionArea
type AreaOptions struct {
	HistoryLimit    int  // 0 keeps every entry
	AutoAssignRoles bool // deal roles in the same command that fills the fifth seat
	Recorder        ResultRecorder
	OnChange        func()
	NewSession      func() *GameSession
}

// SessionArea owns at most one active GameSession for a location and the
// history of the sessions that finished there
type SessionArea struct {
	name string
	opts AreaOptions

	mu        sync.Mutex
	game      *GameSession
	occupants map[PlayerID]Player
	history   []SessionResult
	recorded  map[string]bool
}

func NewSessionArea(name string, opts AreaOptions) *SessionArea {
	if opts.NewSession == nil {
		opts.NewSession = NewGameSession
	}
	return &SessionArea{
		name:      name,
		opts:      opts,
		occupants: make(map[PlayerID]Player),
		recorded:  make(map[string]bool),
	}
}

func (a *SessionArea) Name() string {
	return a.name
}

// Handle dispatches a command to the active session. Errors come back
// unchanged; on success the change hook fires exactly once.
func (a *SessionArea) Handle(cmd Command, player Player) (CommandResult, error) {
	result, finished, err := a.handleLocked(cmd, player)
	if err != nil {
		DebugLog("SessionArea.Handle: area %s rejected %s from %s: %v", a.name, cmd.Type, player.ID, err)
		return CommandResult{}, err
	}
	if finished != nil && a.opts.Recorder != nil {
		if err := a.opts.Recorder.RecordResult(a.name, *finished); err != nil {
			logError("SessionArea.Handle: RecordResult", err)
		}
	}
	if a.opts.OnChange != nil {
		a.opts.OnChange()
	}
	return result, nil
}

// handleLocked runs the command under the area lock and returns the
// history entry it produced, if any
func (a *SessionArea) handleLocked(cmd Command, player Player) (CommandResult, *SessionResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var result CommandResult
	switch cmd.Type {
	case CommandJoinGame:
		if a.game == nil || a.game.Status() == StatusOver {
			a.game = a.opts.NewSession()
			log.Printf("Area %s: created session %s", a.name, a.game.ID())
		}
		if err := a.game.Join(player); err != nil {
			return CommandResult{}, nil, err
		}
		a.occupants[player.ID] = player
		if a.opts.AutoAssignRoles && a.game.Status() == StatusInProgress {
			if err := a.game.AssignRoles(); err != nil {
				return CommandResult{}, nil, err
			}
		}
		result.SessionID = a.game.ID()

	case CommandLeaveGame:
		if err := a.checkSession(cmd.SessionID); err != nil {
			return CommandResult{}, nil, err
		}
		if err := a.game.Leave(player); err != nil {
			return CommandResult{}, nil, err
		}
		if a.game.Status() != StatusOver {
			delete(a.occupants, player.ID)
		}

	case CommandCastVote:
		if err := a.checkSession(cmd.SessionID); err != nil {
			return CommandResult{}, nil, err
		}
		outcome, err := a.game.CastVote(player.ID, cmd.Target)
		if err != nil {
			return CommandResult{}, nil, err
		}
		result.Vote = &outcome

	case CommandAssignRoles:
		if err := a.checkSession(cmd.SessionID); err != nil {
			return CommandResult{}, nil, err
		}
		if err := a.game.AssignRoles(); err != nil {
			return CommandResult{}, nil, err
		}

	default:
		return CommandResult{}, nil, ErrUnsupportedCommand
	}

	return result, a.recordIfOver(), nil
}

func (a *SessionArea) checkSession(sessionID string) error {
	if a.game == nil {
		return ErrNoActiveSession
	}
	if a.game.ID() != sessionID {
		return ErrSessionIDMismatch
	}
	return nil
}

// recordIfOver appends the history entry the first time the active
// session is seen OVER
func (a *SessionArea) recordIfOver() *SessionResult {
	if a.game == nil || a.game.Status() != StatusOver {
		return nil
	}
	id := a.game.ID()
	if a.recorded[id] {
		return nil
	}

	names := a.rosterNames(a.game.FinalRoster())
	scores := make(map[string]int, len(names))
	for _, name := range names {
		scores[name] = 0
	}

	entry := SessionResult{SessionID: id, Scores: scores}
	// only the active session can be recorded again
	a.recorded = map[string]bool{id: true}
	a.occupants = make(map[PlayerID]Player)
	a.history = append(a.history, entry)
	if a.opts.HistoryLimit > 0 && len(a.history) > a.opts.HistoryLimit {
		a.history = append([]SessionResult(nil), a.history[len(a.history)-a.opts.HistoryLimit:]...)
	}
	log.Printf("Area %s: recorded result for session %s (%d players)", a.name, id, len(scores))
	return &entry
}

// rosterNames gives every seated player a distinct history key. Players
// sharing a display name are told apart by their ID.
func (a *SessionArea) rosterNames(roster [SeatCount]PlayerID) []string {
	count := make(map[string]int, SeatCount)
	for _, pid := range roster {
		if pid != "" {
			count[a.displayName(pid)]++
		}
	}
	var names []string
	for _, pid := range roster {
		if pid == "" {
			continue
		}
		name := a.displayName(pid)
		if count[name] > 1 {
			name = fmt.Sprintf("%s (%s)", name, pid)
		}
		names = append(names, name)
	}
	return names
}

// displayName falls back to the ID for players the area never saw join
func (a *SessionArea) displayName(id PlayerID) string {
	if p, ok := a.occupants[id]; ok && p.Name != "" {
		return p.Name
	}
	return string(id)
}

// History returns the completed sessions, oldest first
func (a *SessionArea) History() []SessionResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]SessionResult(nil), a.history...)
}

// ActiveSession returns the current session, which may be OVER, or nil
func (a *SessionArea) ActiveSession() *GameSession {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.game
}

// SeatView is one seat in a snapshot; empty seats have a zero Player
type SeatView struct {
	Seat   int    `json:"seat"`
	Player Player `json:"player"`
}

// AreaSnapshot is the read model pushed to presentation clients
type AreaSnapshot struct {
	Area        string          `json:"area"`
	SessionID   string          `json:"session_id,omitempty"`
	Status      SessionStatus   `json:"status,omitempty"`
	Seats       []SeatView      `json:"seats"`
	IsPlayer    bool            `json:"is_player"`
	Role        *Role           `json:"role,omitempty"`
	BallotCount int             `json:"ballot_count"`
	History     []SessionResult `json:"history"`
}

// Snapshot builds the view of the area for one viewer. Only the viewer's
// own role is included.
func (a *SessionArea) Snapshot(viewer PlayerID) AreaSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := AreaSnapshot{
		Area:    a.name,
		Seats:   make([]SeatView, SeatCount),
		History: append([]SessionResult{}, a.history...),
	}
	for i := range snap.Seats {
		snap.Seats[i].Seat = i
	}
	if a.game == nil {
		return snap
	}

	snap.SessionID = a.game.ID()
	snap.Status = a.game.Status()
	snap.BallotCount = a.game.BallotCount()
	for i, pid := range a.game.Seats() {
		if pid == "" {
			continue
		}
		snap.Seats[i].Player = Player{ID: pid, Name: a.displayName(pid)}
	}
	snap.IsPlayer = a.game.IsPlayerInGame(viewer)
	if role, err := a.game.RoleOf(viewer); err == nil {
		snap.Role = &role
	}
	return snap
}

// AreaRegistry hands out one SessionArea per location name
type AreaRegistry struct {
	mu      sync.Mutex
	areas   map[string]*SessionArea
	newArea func(name string) *SessionArea
}

func NewAreaRegistry(newArea func(name string) *SessionArea) *AreaRegistry {
	return &AreaRegistry{
		areas:   make(map[string]*SessionArea),
		newArea: newArea,
	}
}

func (r *AreaRegistry) Get(name string) *SessionArea {
	r.mu.Lock()
	defer r.mu.Unlock()
	area, ok := r.areas[name]
	if !ok {
		area = r.newArea(name)
		r.areas[name] = area
		DebugLog("AreaRegistry.Get: created area %s", name)
	}
	return area
}

// Names lists the areas created so far
func (r *AreaRegistry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.areas))
	for name := range r.areas {
		names = append(names, name)
	}
	return names
}
