package model

// Layout is an ordered, named collection of panel elements belonging to one
// broadcaster.  Deleting a broadcaster cascades to its layouts.
type Layout struct {
	ID            int64
	BroadcasterID int64
	Name          string
	Title         string
	ShowTitle     bool
}
