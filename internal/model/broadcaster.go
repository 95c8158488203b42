// Package model defines the entities persisted by the extension backend.
package model

// Broadcaster represents one channel that has installed the extension.  The
// id is the platform channel id taken from the verified JWT, not a value this
// service generates.  A row is created lazily the first time an authenticated
// broadcaster touches the service.
type Broadcaster struct {
	ID              int64  // platform channel id
	CurrentLayoutID *int64 // layout currently shown to viewers, nil until one is activated
	EditingLayoutID *int64 // layout last selected in the config view, nil for new broadcasters
}
