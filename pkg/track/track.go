// Package track defines the immutable track and playlist model produced by
// resolution against a remote audio node and consumed by queues and players.
//
// Values of [Track] and [Playlist] are never mutated after construction;
// copying them is cheap and safe.
package track

import "time"

// Source identifies the origin provider of a track.
type Source string

const (
	SourceYouTube    Source = "youtube"
	SourceSoundCloud Source = "soundcloud"
	SourceSpotify    Source = "spotify"
	SourceAppleMusic Source = "apple_music"
	SourceHTTP       Source = "http"
	SourceLocal      Source = "local"
)

// Track is a single resolved, playable item.
//
// ID is the encoded track identifier produced by the remote audio node. It is
// opaque to this library and only meaningful to the node type that produced
// it. Two tracks are considered the same when their encoded IDs match.
type Track struct {
	// ID is the node-encoded track identifier used on the wire.
	ID string

	// Identifier is the provider-native identifier (e.g. a YouTube video ID
	// or a Spotify track ID).
	Identifier string

	Title  string
	Author string
	Length time.Duration
	URI    string

	// ISRC is the International Standard Recording Code, when the resolving
	// provider exposes one. Used to improve cross-provider re-search accuracy.
	ISRC string

	Thumbnail string

	IsStream   bool
	IsSeekable bool

	Source Source

	// Requester is an opaque reference attached by the caller, typically the
	// user who requested the track. It is never interpreted by this library.
	Requester any
}

// Same reports whether t and other refer to the same encoded track.
// Tracks with an empty encoded ID are never considered the same.
func (t Track) Same(other Track) bool {
	return t.ID != "" && t.ID == other.ID
}

// String returns the track title.
func (t Track) String() string { return t.Title }

// Playlist is an ordered collection of tracks produced by resolution when the
// query denoted a collection (a playlist, album, or artist page).
type Playlist struct {
	Name   string
	Tracks []Track

	// SelectedIndex is the index of the track the collection points at,
	// or -1 when the collection has no selected track.
	SelectedIndex int

	URI       string
	Thumbnail string
}

// Selected returns the selected track, if the playlist has one.
func (p Playlist) Selected() (Track, bool) {
	if p.SelectedIndex < 0 || p.SelectedIndex >= len(p.Tracks) {
		return Track{}, false
	}
	return p.Tracks[p.SelectedIndex], true
}

// String returns the playlist name.
func (p Playlist) String() string { return p.Name }
