package client

// Revision is an immutable before/after pair delivered whenever a tracked
// entity is replaced. Old holds the previously stored snapshot, or the zero
// value on the first update. Consumers must not assume any particular field
// changed, only that the container did.
type Revision[T any] struct {
	Old T
	New T
}

// GameState holds the latest known snapshots for one connected player. It is
// owned by the client's receive loop; entities are replaced wholesale on each
// matching inbound operation, never merged field by field.
type GameState[TRoom, TPlayer any] struct {
	PlayerID int
	Room     TRoom
	Self     TPlayer
}
