package sonata

import (
	"time"

	"github.com/MrWong99/sonata/pkg/track"
)

// Event is a notification raised by a node or player. The set of
// implementations is closed; consumers switch on the concrete type.
type Event interface {
	// GuildID returns the guild the event belongs to, or "" for node-level
	// events.
	GuildID() string
}

// EventHandler receives every event raised through a pool.
type EventHandler func(Event)

// EndReason explains why a track stopped playing.
type EndReason string

const (
	// EndReasonFinished means the track played to completion.
	EndReasonFinished EndReason = "FINISHED"

	// EndReasonLoadFailed means the node could not keep playing the track.
	EndReasonLoadFailed EndReason = "LOAD_FAILED"

	// EndReasonStopped means playback was stopped explicitly.
	EndReasonStopped EndReason = "STOPPED"

	// EndReasonReplaced means another track superseded this one.
	EndReasonReplaced EndReason = "REPLACED"

	// EndReasonCleanup means the node cleaned the player up.
	EndReasonCleanup EndReason = "CLEANUP"
)

// MayStartNext reports whether the end reason represents natural completion,
// after which the next queued track may start.
func (r EndReason) MayStartNext() bool {
	return r == EndReasonFinished || r == EndReasonLoadFailed
}

// TrackStartEvent is raised when a track starts playing.
type TrackStartEvent struct {
	Player *Player
	Track  track.Track
}

func (e TrackStartEvent) GuildID() string { return e.Player.GuildID() }

// TrackEndEvent is raised when a track stops playing for any reason.
type TrackEndEvent struct {
	Player *Player
	Track  track.Track
	Reason EndReason
}

func (e TrackEndEvent) GuildID() string { return e.Player.GuildID() }

// TrackExceptionEvent is raised when playback fails with an error.
type TrackExceptionEvent struct {
	Player   *Player
	Track    track.Track
	Message  string
	Severity Severity
	Cause    string
}

func (e TrackExceptionEvent) GuildID() string { return e.Player.GuildID() }

// TrackStuckEvent is raised when the node stops receiving audio frames for a
// track past the configured threshold.
type TrackStuckEvent struct {
	Player    *Player
	Track     track.Track
	Threshold time.Duration
}

func (e TrackStuckEvent) GuildID() string { return e.Player.GuildID() }

// WebSocketClosedEvent is raised when the voice websocket between the node
// and the platform closes. Informational; the library takes no action.
type WebSocketClosedEvent struct {
	Player   *Player
	Code     int
	Reason   string
	ByRemote bool
}

func (e WebSocketClosedEvent) GuildID() string { return e.Player.GuildID() }

// PlayerDestroyedEvent is raised when a player is torn down, including
// destruction forced by the loss of its node.
type PlayerDestroyedEvent struct {
	Player *Player
	Reason string
}

func (e PlayerDestroyedEvent) GuildID() string { return e.Player.GuildID() }

// NodeReadyEvent is raised when a node's session becomes usable, both on the
// first connect and after every reconnect.
type NodeReadyEvent struct {
	Node      *Node
	Reconnect bool
}

func (NodeReadyEvent) GuildID() string { return "" }
