// Package provider defines the interface for external metadata catalogs
// (Spotify, Apple Music, ...) whose links cannot be resolved directly by an
// audio node. A provider turns a catalog URL into plain metadata; the caller
// then re-searches the metadata against a node to obtain playable tracks.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// Kind discriminates what a lookup resolved to.
type Kind int

const (
	// KindTrack is a single item.
	KindTrack Kind = iota

	// KindCollection is an ordered set of items (album, playlist, or an
	// artist's top tracks).
	KindCollection
)

// ErrNoMatch is returned by Lookup when the provider does not recognize the
// given URL.
var ErrNoMatch = errors.New("provider: url not recognized")

// Item is one catalog entry. It carries only metadata; the item still has to
// be re-searched against an audio node to become playable.
type Item struct {
	Identifier string
	Title      string
	Author     string
	LengthMS   int64
	ISRC       string
	URI        string
	Thumbnail  string
}

// SearchQuery returns the text used to re-search the item against a node.
func (i Item) SearchQuery() string {
	if i.ISRC != "" {
		return i.ISRC
	}
	return fmt.Sprintf("%s - %s", i.Author, i.Title)
}

// Result is the outcome of a provider lookup.
type Result struct {
	Kind Kind

	// Name is the collection name. Empty for single tracks.
	Name string

	Items     []Item
	URI       string
	Thumbnail string
}

// Provider resolves catalog URLs of one external service.
type Provider interface {
	// Name returns the provider's identifier, e.g. "spotify".
	Name() string

	// Match reports whether rawURL belongs to this provider's catalog.
	Match(rawURL string) bool

	// Lookup resolves rawURL into metadata. Returns ErrNoMatch when the URL
	// is not recognized by this provider.
	Lookup(ctx context.Context, rawURL string) (*Result, error)
}

// Recommender is implemented by providers that can suggest items similar to
// a given one.
type Recommender interface {
	Recommend(ctx context.Context, identifier string) ([]Item, error)
}

// Chain is an ordered list of providers tried in registration order.
type Chain []Provider

// Lookup resolves rawURL with the first provider whose Match accepts it.
// Returns ErrNoMatch when no provider recognizes the URL.
func (c Chain) Lookup(ctx context.Context, rawURL string) (*Result, error) {
	for _, p := range c {
		if p.Match(rawURL) {
			return p.Lookup(ctx, rawURL)
		}
	}
	return nil, ErrNoMatch
}

// Match reports whether any provider in the chain recognizes rawURL.
func (c Chain) Match(rawURL string) bool {
	for _, p := range c {
		if p.Match(rawURL) {
			return true
		}
	}
	return false
}
