package main

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"testing/quick"
)

// ============================================================================
// Helpers
// ============================================================================

func testPlayers(n int) []Player {
	players := make([]Player, n)
	for i := range players {
		players[i] = Player{ID: PlayerID(fmt.Sprintf("p%d", i+1)), Name: fmt.Sprintf("Player%d", i+1)}
	}
	return players
}

// fullSession returns a session with five seated players
func fullSession(t *testing.T, intn IntnFunc) (*GameSession, []Player) {
	t.Helper()
	game := newGameSessionWithRand(intn)
	players := testPlayers(SeatCount)
	for _, p := range players {
		if err := game.Join(p); err != nil {
			t.Fatalf("Join(%s): %v", p.ID, err)
		}
	}
	return game, players
}

// sequenceIntn replays fixed draws, then repeats the last one
func sequenceIntn(draws ...int) IntnFunc {
	i := 0
	return func(n int) int {
		v := draws[len(draws)-1]
		if i < len(draws) {
			v = draws[i]
		}
		i++
		return v % n
	}
}

func roleCounts(roles []Role) map[string]int {
	counts := make(map[string]int)
	for _, r := range roles {
		counts[r.Name]++
	}
	return counts
}

// ============================================================================
// Join
// ============================================================================

func TestJoinSeatsPlayersInArrivalOrder(t *testing.T) {
	f := func(n uint8) bool {
		count := int(n%SeatCount) + 1 // 1-5 players
		game := NewGameSession()
		players := testPlayers(count)
		for _, p := range players {
			if err := game.Join(p); err != nil {
				t.Errorf("Join(%s): %v", p.ID, err)
				return false
			}
		}

		seats := game.Seats()
		for i := 0; i < SeatCount; i++ {
			want := PlayerID("")
			if i < count {
				want = players[i].ID
			}
			if seats[i] != want {
				t.Errorf("%d players: seat %d = %q, want %q", count, i, seats[i], want)
				return false
			}
		}

		wantStatus := StatusWaitingToStart
		if count == SeatCount {
			wantStatus = StatusInProgress
		}
		if game.Status() != wantStatus {
			t.Errorf("%d players: status %s, want %s", count, game.Status(), wantStatus)
			return false
		}
		return true
	}

	if err := quick.Check(f, &quick.Config{MaxCount: 20}); err != nil {
		t.Error(err)
	}
}

func TestJoinAlreadyInGame(t *testing.T) {
	f := func(n uint8) bool {
		count := int(n%SeatCount) + 1
		game := NewGameSession()
		players := testPlayers(count)
		for _, p := range players {
			game.Join(p)
		}
		for _, p := range players {
			if err := game.Join(p); !errors.Is(err, ErrAlreadyInGame) {
				t.Errorf("rejoin %s with %d seated: got %v, want AlreadyInGame", p.ID, count, err)
				return false
			}
		}
		return true
	}

	if err := quick.Check(f, &quick.Config{MaxCount: 20}); err != nil {
		t.Error(err)
	}
}

func TestJoinSixthPlayerSessionFull(t *testing.T) {
	game, _ := fullSession(t, cryptoIntn)
	err := game.Join(Player{ID: "p6", Name: "Player6"})
	if !errors.Is(err, ErrSessionFull) {
		t.Fatalf("sixth join: got %v, want SessionFull", err)
	}
	if game.IsPlayerInGame("p6") {
		t.Error("sixth player should not be seated")
	}
}

func TestJoinFillsFreedSeat(t *testing.T) {
	game := NewGameSession()
	players := testPlayers(3)
	for _, p := range players {
		game.Join(p)
	}
	game.Leave(players[1])
	newcomer := Player{ID: "late", Name: "Late"}
	if err := game.Join(newcomer); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if seat := game.SeatOf(newcomer.ID); seat != 1 {
		t.Errorf("newcomer seat = %d, want 1 (lowest empty)", seat)
	}
}

func TestConcurrentJoinsSeatExactlyFive(t *testing.T) {
	game := NewGameSession()
	players := testPlayers(20)

	var wg sync.WaitGroup
	var mu sync.Mutex
	joined, full := 0, 0
	for _, p := range players {
		wg.Add(1)
		go func(p Player) {
			defer wg.Done()
			err := game.Join(p)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				joined++
			case errors.Is(err, ErrSessionFull):
				full++
			default:
				t.Errorf("Join(%s): unexpected %v", p.ID, err)
			}
		}(p)
	}
	wg.Wait()

	if joined != SeatCount || full != len(players)-SeatCount {
		t.Errorf("joined=%d full=%d, want %d and %d", joined, full, SeatCount, len(players)-SeatCount)
	}
	if game.Status() != StatusInProgress {
		t.Errorf("status %s, want IN_PROGRESS", game.Status())
	}
	seen := make(map[PlayerID]bool)
	for _, id := range game.Seats() {
		if id == "" || seen[id] {
			t.Errorf("bad seating %v", game.Seats())
		}
		seen[id] = true
	}
}

// ============================================================================
// Leave
// ============================================================================

func TestLeaveInProgressEndsSessionForEveryone(t *testing.T) {
	for leaver := 0; leaver < SeatCount; leaver++ {
		game, players := fullSession(t, cryptoIntn)
		game.AssignRoles()
		game.CastVote(players[(leaver+1)%SeatCount].ID, players[leaver].ID)

		if err := game.Leave(players[leaver]); err != nil {
			t.Fatalf("Leave(seat %d): %v", leaver, err)
		}
		if game.Status() != StatusOver {
			t.Errorf("seat %d left: status %s, want OVER", leaver, game.Status())
		}
		if game.Seats() != [SeatCount]PlayerID{} {
			t.Errorf("seat %d left: seats not cleared: %v", leaver, game.Seats())
		}
		if game.RolesAssigned() || game.BallotCount() != 0 {
			t.Errorf("seat %d left: roles or ballots survived the reset", leaver)
		}
		roster := game.FinalRoster()
		for i, p := range players {
			if roster[i] != p.ID {
				t.Errorf("final roster seat %d = %q, want %q", i, roster[i], p.ID)
			}
		}
	}
}

func TestLeaveWhileWaitingFreesOnlyThatSeat(t *testing.T) {
	game := NewGameSession()
	a := Player{ID: "a", Name: "A"}
	game.Join(a)
	if err := game.Leave(a); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if game.Status() != StatusWaitingToStart {
		t.Errorf("status %s, want WAITING_TO_START", game.Status())
	}
	if game.Seats() != [SeatCount]PlayerID{} {
		t.Errorf("seats not empty: %v", game.Seats())
	}

	players := testPlayers(4)
	for _, p := range players {
		game.Join(p)
	}
	game.Leave(players[2])
	want := [SeatCount]PlayerID{"p1", "p2", "", "p4", ""}
	if game.Seats() != want {
		t.Errorf("seats %v, want %v", game.Seats(), want)
	}
}

func TestLeaveNotInGame(t *testing.T) {
	game := NewGameSession()
	if err := game.Leave(Player{ID: "ghost"}); !errors.Is(err, ErrPlayerNotInGame) {
		t.Errorf("empty session: got %v, want PlayerNotInGame", err)
	}
	game.Join(Player{ID: "a"})
	if err := game.Leave(Player{ID: "ghost"}); !errors.Is(err, ErrPlayerNotInGame) {
		t.Errorf("one seated: got %v, want PlayerNotInGame", err)
	}
}

func TestLeaveAfterOverFails(t *testing.T) {
	game, players := fullSession(t, cryptoIntn)
	game.Leave(players[0])
	if err := game.Leave(players[1]); !errors.Is(err, ErrPlayerNotInGame) {
		t.Errorf("leave after OVER: got %v, want PlayerNotInGame", err)
	}
	if game.Status() != StatusOver {
		t.Errorf("status changed to %s", game.Status())
	}
}

// ============================================================================
// Roles
// ============================================================================

func TestAssignRolesRequiresInProgress(t *testing.T) {
	game := NewGameSession()
	if err := game.AssignRoles(); !errors.Is(err, ErrNotInProgress) {
		t.Errorf("empty session: got %v, want NotInProgress", err)
	}
	for _, p := range testPlayers(4) {
		game.Join(p)
	}
	if err := game.AssignRoles(); !errors.Is(err, ErrNotInProgress) {
		t.Errorf("four seated: got %v, want NotInProgress", err)
	}
}

func TestAssignRolesDistribution(t *testing.T) {
	const trials = 1000
	type pair struct{ werewolf, seer int }
	counts := make(map[pair]int)

	game, players := fullSession(t, cryptoIntn)
	for trial := 0; trial < trials; trial++ {
		if err := game.AssignRoles(); err != nil {
			t.Fatalf("AssignRoles: %v", err)
		}
		werewolf, seer := -1, -1
		var roles []Role
		for i, p := range players {
			role, err := game.RoleOf(p.ID)
			if err != nil {
				t.Fatalf("RoleOf: %v", err)
			}
			roles = append(roles, role)
			switch role.Name {
			case RoleNameWerewolf:
				werewolf = i
			case RoleNameSeer:
				seer = i
			}
		}
		c := roleCounts(roles)
		if c[RoleNameWerewolf] != 1 || c[RoleNameSeer] != 1 || c[RoleNameVillager] != 3 {
			t.Fatalf("trial %d: bad deal %v", trial, c)
		}
		if werewolf == seer {
			t.Fatalf("trial %d: werewolf and seer share seat %d", trial, werewolf)
		}
		counts[pair{werewolf, seer}]++
	}

	if len(counts) != 20 {
		t.Errorf("saw %d distinct (werewolf, seer) pairs, want 20", len(counts))
	}
	// Expected 50 per pair; 15..95 is about five standard deviations
	for p, n := range counts {
		if n < 15 || n > 95 {
			t.Errorf("pair %v drawn %d times out of %d, far from uniform", p, n, trials)
		}
	}
}

func TestAssignRolesRejectsMatchingSeerSeat(t *testing.T) {
	// werewolf at 2, seer draws 2 twice before landing on 4
	game, players := fullSession(t, sequenceIntn(2, 2, 2, 4))
	game.AssignRoles()

	want := []string{RoleNameVillager, RoleNameVillager, RoleNameWerewolf, RoleNameVillager, RoleNameSeer}
	for i, p := range players {
		role, _ := game.RoleOf(p.ID)
		if role.Name != want[i] {
			t.Errorf("seat %d: %s, want %s", i, role.Name, want[i])
		}
	}
}

func TestAssignRolesOverwritesPreviousDeal(t *testing.T) {
	game, players := fullSession(t, sequenceIntn(0, 1, 3, 4))
	game.AssignRoles() // werewolf 0, seer 1
	game.AssignRoles() // werewolf 3, seer 4

	got := make([]string, len(players))
	for i, p := range players {
		role, _ := game.RoleOf(p.ID)
		got[i] = role.Name
	}
	want := []string{RoleNameVillager, RoleNameVillager, RoleNameVillager, RoleNameWerewolf, RoleNameSeer}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("after redeal seat %d: %s, want %s", i, got[i], want[i])
		}
	}
}

func TestRoleDefinitions(t *testing.T) {
	tests := []struct {
		role       Role
		appearance string
		immune     bool
	}{
		{roleWerewolf, "Werewolf", true},
		{roleSeer, "Not Werewolf", false},
		{roleVillager, "Not Werewolf", false},
	}
	for _, tt := range tests {
		if tt.role.SeerAppearance != tt.appearance || tt.role.Immunity != tt.immune || tt.role.Description == "" {
			t.Errorf("%s: got %+v", tt.role.Name, tt.role)
		}
	}
}

func TestRoleOf(t *testing.T) {
	game := NewGameSession()
	if _, err := game.RoleOf("ghost"); !errors.Is(err, ErrPlayerNotInGame) {
		t.Errorf("unseated: got %v, want PlayerNotInGame", err)
	}

	game, players := fullSession(t, sequenceIntn(0, 1))
	if _, err := game.RoleOf(players[0].ID); !errors.Is(err, ErrRolesNotAssigned) {
		t.Errorf("before deal: got %v, want RolesNotAssigned", err)
	}

	game.AssignRoles()
	role, err := game.RoleOf(players[0].ID)
	if err != nil {
		t.Fatalf("RoleOf: %v", err)
	}
	role.Name = RoleNameVillager
	role.Immunity = false
	again, _ := game.RoleOf(players[0].ID)
	if again.Name != RoleNameWerewolf || !again.Immunity {
		t.Errorf("editing the returned role changed the session: %+v", again)
	}
}

// ============================================================================
// Voting
// ============================================================================

func TestCastVoteResolvesWhenEveryoneVoted(t *testing.T) {
	game, players := fullSession(t, cryptoIntn)
	game.AssignRoles()

	// p3 gets three votes, p1 two
	ballots := [][2]int{{0, 2}, {1, 2}, {3, 2}, {2, 0}}
	for _, b := range ballots {
		out, err := game.CastVote(players[b[0]].ID, players[b[1]].ID)
		if err != nil {
			t.Fatalf("CastVote: %v", err)
		}
		if out.Resolved {
			t.Fatalf("round resolved after %d ballots", game.BallotCount())
		}
	}
	if game.BallotCount() != 4 {
		t.Errorf("ballots = %d, want 4", game.BallotCount())
	}

	out, err := game.CastVote(players[4].ID, players[0].ID)
	if err != nil {
		t.Fatalf("final CastVote: %v", err)
	}
	if !out.Resolved || out.Eliminated != players[2].ID {
		t.Errorf("outcome %+v, want resolved with %s eliminated", out, players[2].ID)
	}
	if game.Status() != StatusOver {
		t.Errorf("status %s, want OVER", game.Status())
	}
	if game.BallotCount() != 0 || len(game.Ballots()) != 0 {
		t.Errorf("ballots not cleared: %v", game.Ballots())
	}
	if game.Seats() != [SeatCount]PlayerID{} {
		t.Errorf("seats not cleared: %v", game.Seats())
	}
}

func TestCastVoteOverwritesBallot(t *testing.T) {
	game, players := fullSession(t, cryptoIntn)
	game.CastVote(players[0].ID, players[1].ID)
	game.CastVote(players[0].ID, players[2].ID)

	if game.BallotCount() != 1 {
		t.Errorf("ballots = %d, want 1", game.BallotCount())
	}
	if got := game.Ballots()[players[0].ID]; got != players[2].ID {
		t.Errorf("ballot = %s, want %s", got, players[2].ID)
	}
}

func TestCastVoteTieGoesToLowestSeat(t *testing.T) {
	game, players := fullSession(t, cryptoIntn)
	// p4 and p2 get two votes each, p5 one
	ballots := [][2]int{{0, 3}, {2, 3}, {4, 1}, {3, 1}}
	for _, b := range ballots {
		game.CastVote(players[b[0]].ID, players[b[1]].ID)
	}
	out, _ := game.CastVote(players[1].ID, players[4].ID)
	if out.Eliminated != players[1].ID {
		t.Errorf("eliminated %s, want %s (lowest tied seat)", out.Eliminated, players[1].ID)
	}
}

func TestCastVoteInvalidParties(t *testing.T) {
	game, players := fullSession(t, cryptoIntn)
	outsider := PlayerID("outsider")

	tests := []struct {
		name          string
		voter, target PlayerID
	}{
		{"self vote", players[0].ID, players[0].ID},
		{"unseated voter", outsider, players[0].ID},
		{"unseated target", players[0].ID, outsider},
	}
	for _, tt := range tests {
		_, err := game.CastVote(tt.voter, tt.target)
		if !errors.Is(err, ErrPlayerNotInGame) {
			t.Errorf("%s: got %v, want PlayerNotInGame", tt.name, err)
		}
	}
	if game.BallotCount() != 0 {
		t.Errorf("rejected votes recorded %d ballots", game.BallotCount())
	}
}

func TestCastVoteBeforeGameStarts(t *testing.T) {
	game := NewGameSession()
	players := testPlayers(3)
	for _, p := range players {
		game.Join(p)
	}
	if _, err := game.CastVote(players[0].ID, players[1].ID); !errors.Is(err, ErrNotInProgress) {
		t.Errorf("got %v, want NotInProgress", err)
	}
	if game.BallotCount() != 0 {
		t.Error("ballot recorded while waiting")
	}
}

func TestGameErrorMatching(t *testing.T) {
	err := error(&GameError{Kind: KindSessionFull, Message: "custom"})
	if !errors.Is(err, ErrSessionFull) {
		t.Error("errors.Is should match on kind")
	}
	if errors.Is(err, ErrAlreadyInGame) {
		t.Error("errors.Is matched a different kind")
	}
	var gameErr *GameError
	if !errors.As(fmt.Errorf("wrapped: %w", ErrNotInProgress), &gameErr) || gameErr.Kind != KindNotInProgress {
		t.Error("errors.As should unwrap to the GameError")
	}
}
