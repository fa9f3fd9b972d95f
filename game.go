package main

import (
	"log"
	"sync"

	"github.com/google/uuid"
)

// SeatCount is the fixed number of players in a session
const SeatCount = 5

// PlayerID is the stable identifier the transport layer gives a player
type PlayerID string

// Player is owned by the caller; sessions only keep its ID
type Player struct {
	ID   PlayerID `json:"id" db:"id"`
	Name string   `json:"name" db:"name"`
}

// SessionStatus is the lifecycle state of a GameSession
type SessionStatus string

const (
	StatusWaitingToStart SessionStatus = "WAITING_TO_START"
	StatusInProgress     SessionStatus = "IN_PROGRESS"
	StatusOver           SessionStatus = "OVER"
)

// VoteOutcome reports whether a ballot closed the voting round
type VoteOutcome struct {
	Resolved   bool     `json:"resolved"`
	Eliminated PlayerID `json:"eliminated,omitempty"`
}

// GameSession enforces the rules of one game from empty lobby to OVER.
// Every exported method takes the session lock, so each call is atomic
// with respect to every other call on the same session.
type GameSession struct {
	id string

	mu          sync.Mutex
	status      SessionStatus
	seats       [SeatCount]PlayerID
	roles       []Role                // nil until AssignRoles
	ballots     map[PlayerID]PlayerID // voter -> target, current round only
	finalRoster [SeatCount]PlayerID   // seats as they were when the session ended
	intn        IntnFunc
}

// NewGameSession creates an empty session drawing roles from crypto/rand
func NewGameSession() *GameSession {
	return newGameSessionWithRand(cryptoIntn)
}

func newGameSessionWithRand(intn IntnFunc) *GameSession {
	return &GameSession{
		id:      uuid.New().String(),
		status:  StatusWaitingToStart,
		ballots: make(map[PlayerID]PlayerID),
		intn:    intn,
	}
}

func (g *GameSession) ID() string {
	return g.id
}

func (g *GameSession) Status() SessionStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

// Seats returns the five seat occupants; empty seats are ""
func (g *GameSession) Seats() [SeatCount]PlayerID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seats
}

// Players returns the seated player IDs in seat order
func (g *GameSession) Players() []PlayerID {
	g.mu.Lock()
	defer g.mu.Unlock()
	var ids []PlayerID
	for _, id := range g.seats {
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func (g *GameSession) IsPlayerInGame(id PlayerID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seatOf(id) >= 0
}

// SeatOf returns the seat index of the player, or -1
func (g *GameSession) SeatOf(id PlayerID) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seatOf(id)
}

func (g *GameSession) RolesAssigned() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.roles != nil
}

// BallotCount is the number of distinct voters in the current round
func (g *GameSession) BallotCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.ballots)
}

// Ballots returns a copy of the current round's ballots
func (g *GameSession) Ballots() map[PlayerID]PlayerID {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[PlayerID]PlayerID, len(g.ballots))
	for voter, target := range g.ballots {
		out[voter] = target
	}
	return out
}

// FinalRoster is the seating at the moment the session went OVER. It is
// all empty until then.
func (g *GameSession) FinalRoster() [SeatCount]PlayerID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.finalRoster
}

// Join seats the player in the lowest empty seat. The fifth join starts
// the game.
func (g *GameSession) Join(player Player) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.seatOf(player.ID) >= 0 {
		return ErrAlreadyInGame
	}
	if g.status == StatusOver {
		// Seats were torn down; a finished session never takes new players
		return ErrSessionFull
	}

	seat := -1
	for i, id := range g.seats {
		if id == "" {
			seat = i
			break
		}
	}
	if seat < 0 {
		return ErrSessionFull
	}
	g.seats[seat] = player.ID

	if g.filledSeats() == SeatCount {
		g.status = StatusInProgress
		log.Printf("Session %s is full, status -> %s", g.id, g.status)
	}
	DebugLog("GameSession.Join: player '%s' (%s) took seat %d in session %s", player.Name, player.ID, seat, g.id)
	return nil
}

// Leave removes the player. Leaving a running game ends it for everyone.
func (g *GameSession) Leave(player Player) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	seat := g.seatOf(player.ID)
	if seat < 0 {
		return ErrPlayerNotInGame
	}

	if g.status == StatusInProgress {
		g.endSession()
		log.Printf("Player %s left session %s mid-game, session over", player.ID, g.id)
		return nil
	}

	g.seats[seat] = ""
	g.status = StatusWaitingToStart
	DebugLog("GameSession.Leave: player %s freed seat %d in session %s", player.ID, seat, g.id)
	return nil
}

// AssignRoles deals one Werewolf, one Seer and three Villagers, replacing
// any earlier deal
func (g *GameSession) AssignRoles() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.status != StatusInProgress {
		return ErrNotInProgress
	}
	g.roles = drawRoles(g.intn)
	DebugLog("GameSession.AssignRoles: roles dealt for session %s", g.id)
	return nil
}

// RoleOf returns a copy of the player's role
func (g *GameSession) RoleOf(id PlayerID) (Role, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	seat := g.seatOf(id)
	if seat < 0 {
		return Role{}, ErrPlayerNotInGame
	}
	if g.roles == nil {
		return Role{}, ErrRolesNotAssigned
	}
	return g.roles[seat], nil
}

// CastVote records or replaces the voter's ballot. Once every seated
// player has a ballot the round resolves: the strict plurality target is
// eliminated, which ends the session, and the ballots are discarded.
func (g *GameSession) CastVote(voter, target PlayerID) (VoteOutcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if voter == target || g.seatOf(voter) < 0 || g.seatOf(target) < 0 {
		return VoteOutcome{}, ErrPlayerNotInGame
	}
	if g.status != StatusInProgress {
		return VoteOutcome{}, ErrNotInProgress
	}

	g.ballots[voter] = target
	DebugLog("GameSession.CastVote: %s -> %s in session %s (%d/%d)", voter, target, g.id, len(g.ballots), g.filledSeats())

	if len(g.ballots) < g.filledSeats() {
		return VoteOutcome{}, nil
	}

	eliminated := g.tally()
	g.ballots = make(map[PlayerID]PlayerID)
	g.endSession()
	log.Printf("Vote resolved in session %s, eliminated %s, session over", g.id, eliminated)
	return VoteOutcome{Resolved: true, Eliminated: eliminated}, nil
}

// tally returns the target with the most ballots. Ties go to the lowest
// seat index.
func (g *GameSession) tally() PlayerID {
	counts := make(map[PlayerID]int, len(g.ballots))
	for _, target := range g.ballots {
		counts[target]++
	}

	var best PlayerID
	bestCount := 0
	for _, id := range g.seats {
		if id == "" {
			continue
		}
		if counts[id] > bestCount {
			best = id
			bestCount = counts[id]
		}
	}
	return best
}

// endSession is the single reset used by mid-game leave and elimination
func (g *GameSession) endSession() {
	g.finalRoster = g.seats
	g.seats = [SeatCount]PlayerID{}
	g.roles = nil
	g.ballots = make(map[PlayerID]PlayerID)
	g.status = StatusOver
}

func (g *GameSession) seatOf(id PlayerID) int {
	if id == "" {
		return -1
	}
	for i, seated := range g.seats {
		if seated == id {
			return i
		}
	}
	return -1
}

func (g *GameSession) filledSeats() int {
	n := 0
	for _, id := range g.seats {
		if id != "" {
			n++
		}
	}
	return n
}
