package engine

import "fmt"

const (
	// BaseMobCount is the roster size at levels 1 and 2.
	BaseMobCount = 3

	// MaxLevel is the highest level a roster is generated for. Requests
	// above it are clamped, which keeps the roster small and the stat math
	// far from overflow.
	MaxLevel = 999

	// maxPlayers clamps the player count used for stat scaling.
	maxPlayers = 100
)

type Mob struct {
	Name        string
	HP          int
	Attack      int
	Defense     int
	CrystalDrop int
}

// MobCount returns how many mobs spawn on a level.
func MobCount(level int) int {
	return BaseMobCount + normalizeLevel(level)/3
}

// Roster spawns the encounter for a level and lobby size. It is a pure
// function: equal inputs always give equal rosters, and every stat is
// non-decreasing in both level and players.
func Roster(level, players int) []Mob {
	level = normalizeLevel(level)
	players = min(max(players, 1), maxPlayers)

	// Percent multiplier: +15% per extra player.
	mult := 100 + 15*(players-1)

	hp := 20 * (100 + 8*level) * mult / 10000
	attack := 5 * (100 + 5*level) * mult / 10000
	defense := 1 + (2*level)/100 + (players - 1)
	crystals := max(1, (100+6*level)*mult/10000)

	count := MobCount(level)
	mobs := make([]Mob, 0, count)
	for i := range count {
		mobs = append(mobs, Mob{
			Name:        fmt.Sprintf("Mob_L%d_%d", level, i+1),
			HP:          hp,
			Attack:      attack,
			Defense:     defense,
			CrystalDrop: crystals,
		})
	}
	return mobs
}

// normalizeLevel maps a requested level into [1, MaxLevel].
func normalizeLevel(level int) int {
	return min(max(level, 1), MaxLevel)
}
