package sonata

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateNode is returned when creating a node whose identifier is
	// already registered in the pool.
	ErrDuplicateNode = errors.New("sonata: node identifier already registered")

	// ErrNodeNotFound is returned when looking up an unknown node identifier.
	ErrNodeNotFound = errors.New("sonata: node not found")

	// ErrNoNodesAvailable is returned when no registered node is connected.
	ErrNoNodesAvailable = errors.New("sonata: no nodes available")

	// ErrConnectionFailed is returned when a node's transport cannot be
	// established or a request fails at the transport level.
	ErrConnectionFailed = errors.New("sonata: connection failed")

	// ErrNodeNotConnected is returned when an operation needs a live session
	// and the node is not connected.
	ErrNodeNotConnected = errors.New("sonata: node not connected")

	// ErrNoResults is returned when track resolution matches nothing.
	ErrNoResults = errors.New("sonata: no results for query")

	// ErrUnsupportedSource is returned when an operation is not available for
	// a track's source.
	ErrUnsupportedSource = errors.New("sonata: operation not supported for track source")

	// ErrPlayerDestroyed is returned by every operation on a destroyed player.
	ErrPlayerDestroyed = errors.New("sonata: player destroyed")

	// ErrPlayerExists is returned when creating a player for a guild that
	// already has one on the node.
	ErrPlayerExists = errors.New("sonata: player already exists for guild")

	// ErrInvalidBounds is returned when a play request carries an invalid
	// start/end window.
	ErrInvalidBounds = errors.New("sonata: invalid playback bounds")

	// ErrNothingPlaying is returned when an operation needs a current track
	// and none is loaded.
	ErrNothingPlaying = errors.New("sonata: nothing playing")

	// ErrNotSeekable is returned when seeking within a track that does not
	// support seeking.
	ErrNotSeekable = errors.New("sonata: track is not seekable")

	// ErrVolumeOutOfRange is returned when setting a volume outside [0, 500].
	ErrVolumeOutOfRange = errors.New("sonata: volume outside [0, 500]")
)

// Severity classifies a load or playback failure reported by the node.
type Severity string

const (
	// SeverityCommon indicates a failure with a clear cause, e.g. an
	// unavailable video.
	SeverityCommon Severity = "COMMON"

	// SeveritySuspicious indicates a failure with an unclear cause.
	SeveritySuspicious Severity = "SUSPICIOUS"

	// SeverityFault indicates a probable bug in the remote node.
	SeverityFault Severity = "FAULT"
)

// TrackLoadError is returned when the node reports that loading a track or
// playlist failed.
type TrackLoadError struct {
	Message  string
	Severity Severity
}

func (e *TrackLoadError) Error() string {
	return fmt.Sprintf("sonata: track load failed (%s): %s", e.Severity, e.Message)
}
