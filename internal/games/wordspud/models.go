package wordspud

// Player and room states the engine reacts to.
const (
	StateVote          = "Vote"
	StateGameplayEnter = "GameplayEnter"
)

// Room is the shared room snapshot. Spud distinguishes "no spud yet" (null)
// from "waiting for a spud" (empty string); only the latter means it is this
// player's turn to write.
type Room struct {
	State       string  `json:"state"`
	CurrentWord string  `json:"currentWord"`
	Spud        *string `json:"spud"`
}

// AwaitingSpud reports whether the room is waiting on a spud submission.
func (r Room) AwaitingSpud() bool {
	return r.Spud != nil && *r.Spud == ""
}

// Player is this player's snapshot.
type Player struct {
	Name  string `json:"name"`
	State string `json:"state"`
}
