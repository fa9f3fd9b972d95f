package main

import (
	"crypto/rand"
	"log"
	"math/big"
	mrand "math/rand/v2"
)

// Role is what a seated player plays for the rest of the session.
// Roles are handed out by value so callers can't edit session state.
type Role struct {
	Name           string `json:"name"`
	SeerAppearance string `json:"seer_appearance"` // what the Seer sees when looking at this player
	Immunity       bool   `json:"immunity"`        // immune to elimination by vote in the full ruleset
	Description    string `json:"description"`
}

const (
	RoleNameWerewolf = "Werewolf"
	RoleNameSeer     = "Seer"
	RoleNameVillager = "Villager"

	appearanceWerewolf    = "Werewolf"
	appearanceNotWerewolf = "Not Werewolf"
)

var (
	roleWerewolf = Role{
		Name:           RoleNameWerewolf,
		SeerAppearance: appearanceWerewolf,
		Immunity:       true,
		Description:    "You are a Werewolf who is attempting to murder the villagers without being murdered at daytime. At night, you choose a player to kill.",
	}
	roleSeer = Role{
		Name:           RoleNameSeer,
		SeerAppearance: appearanceNotWerewolf,
		Description:    "You are a Seer who is attempting to identify the Werewolf and murder them at daytime. At night, you choose a player to see if they are a werewolf.",
	}
	roleVillager = Role{
		Name:           RoleNameVillager,
		SeerAppearance: appearanceNotWerewolf,
		Description:    "You are a Villager who is attempting to identify the Werewolf and murder them at daytime. At night, you take no actions.",
	}
)

// IntnFunc returns a uniform integer in [0, n)
type IntnFunc func(n int) int

// cryptoIntn draws from crypto/rand, falling back to math/rand/v2 if the
// system source fails
func cryptoIntn(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		log.Printf("cryptoIntn: crypto/rand failed, using math/rand: %v", err)
		return mrand.IntN(n)
	}
	return int(v.Int64())
}

// drawRoles picks the werewolf seat, then redraws the seer seat until it
// differs. Every ordered (werewolf, seer) pair is equally likely.
func drawRoles(intn IntnFunc) []Role {
	werewolfSeat := intn(SeatCount)
	seerSeat := intn(SeatCount)
	for seerSeat == werewolfSeat {
		seerSeat = intn(SeatCount)
	}

	roles := make([]Role, SeatCount)
	for i := range roles {
		switch i {
		case werewolfSeat:
			roles[i] = roleWerewolf
		case seerSeat:
			roles[i] = roleSeer
		default:
			roles[i] = roleVillager
		}
	}
	return roles
}
