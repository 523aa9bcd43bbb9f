package sonata

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/sonata/internal/observe"
	"github.com/MrWong99/sonata/pkg/provider"
	"github.com/MrWong99/sonata/pkg/track"
)

// SearchType selects the search backend a node uses for plain-text queries.
type SearchType string

const (
	SearchYouTube      SearchType = "ytsearch"
	SearchYouTubeMusic SearchType = "ytmsearch"
	SearchSoundCloud   SearchType = "scsearch"
)

// resolveConcurrency bounds parallel re-search calls when expanding a
// provider collection into playable tracks.
const resolveConcurrency = 4

// SearchResult is the outcome of a resolution request: either a playlist or
// a flat list of tracks, never both.
type SearchResult struct {
	Playlist *track.Playlist
	Tracks   []track.Track
}

// First returns the first resolved track.
func (r *SearchResult) First() (track.Track, bool) {
	if r.Playlist != nil && len(r.Playlist.Tracks) > 0 {
		return r.Playlist.Tracks[0], true
	}
	if len(r.Tracks) > 0 {
		return r.Tracks[0], true
	}
	return track.Track{}, false
}

func (rt restTrack) toTrack() track.Track {
	info := rt.Info
	return track.Track{
		ID:         rt.Encoded,
		Identifier: info.Identifier,
		Title:      info.Title,
		Author:     info.Author,
		Length:     time.Duration(info.Length) * time.Millisecond,
		URI:        info.URI,
		ISRC:       info.ISRC,
		Thumbnail:  info.Artwork,
		IsStream:   info.IsStream,
		IsSeekable: info.IsSeekable,
		Source:     sourceFromName(info.SourceName),
	}
}

func sourceFromName(name string) track.Source {
	switch name {
	case "youtube":
		return track.SourceYouTube
	case "soundcloud":
		return track.SourceSoundCloud
	case "http":
		return track.SourceHTTP
	case "local":
		return track.SourceLocal
	default:
		return track.Source(name)
	}
}

func sourceFromProvider(name string) track.Source {
	switch name {
	case "spotify":
		return track.SourceSpotify
	case "apple_music":
		return track.SourceAppleMusic
	default:
		return track.Source(name)
	}
}

// GetTracks resolves a query into playable tracks. URLs recognized by a
// registered metadata provider are resolved through it and re-searched
// against the node; other URLs go to the node directly; plain text gets the
// pool's default search prefix.
func (n *Node) GetTracks(ctx context.Context, query string) (*SearchResult, error) {
	ctx, span := observe.StartSpan(ctx, "sonata.GetTracks",
		trace.WithAttributes(attribute.String("node", n.cfg.Identifier)))
	defer span.End()

	start := time.Now()
	defer func() {
		n.metrics.ResolveDuration.Record(ctx, time.Since(start).Seconds(),
			nodeAttr(n.cfg.Identifier))
	}()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", ErrNoResults)
	}

	if n.pool.providers.Match(query) {
		return n.resolveProvider(ctx, query)
	}
	if isURL(query) {
		return n.loadTracks(ctx, query)
	}
	return n.loadTracks(ctx, string(n.pool.cfg.DefaultSearch)+":"+query)
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// resolveProvider expands a catalog link into node tracks by re-searching
// each item's metadata.
func (n *Node) resolveProvider(ctx context.Context, query string) (*SearchResult, error) {
	var matched provider.Provider
	for _, p := range n.pool.providers {
		if p.Match(query) {
			matched = p
			break
		}
	}
	if matched == nil {
		// A guarded provider can stop matching between the caller's check and
		// ours. Treat the query as a plain identifier.
		return n.loadTracks(ctx, query)
	}

	result, err := matched.Lookup(ctx, query)
	if err != nil {
		n.metrics.RecordProviderRequest(ctx, matched.Name(), "error")
		return nil, fmt.Errorf("sonata: provider %s: %w", matched.Name(), err)
	}
	n.metrics.RecordProviderRequest(ctx, matched.Name(), "ok")

	tracks, err := n.resolveItems(ctx, result.Items, sourceFromProvider(matched.Name()))
	if err != nil {
		return nil, err
	}
	if len(tracks) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoResults, query)
	}

	if result.Kind == provider.KindTrack {
		return &SearchResult{Tracks: tracks}, nil
	}
	return &SearchResult{Playlist: &track.Playlist{
		Name:          result.Name,
		Tracks:        tracks,
		SelectedIndex: -1,
		URI:           result.URI,
		Thumbnail:     result.Thumbnail,
	}}, nil
}

// resolveItems re-searches provider items against the node with bounded
// concurrency, preserving item order. Items with no search hit are skipped.
func (n *Node) resolveItems(ctx context.Context, items []provider.Item, source track.Source) ([]track.Track, error) {
	resolved := make([]track.Track, len(items))
	found := make([]bool, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(resolveConcurrency)
	for i, item := range items {
		g.Go(func() error {
			res, err := n.loadTracks(gctx, string(n.pool.cfg.DefaultSearch)+":"+item.SearchQuery())
			if err != nil {
				if errors.Is(err, ErrNoResults) {
					return nil
				}
				return err
			}
			t, ok := res.First()
			if !ok {
				return nil
			}

			// Keep the catalog's metadata on the playable track.
			t.Identifier = item.Identifier
			t.Title = item.Title
			t.Author = item.Author
			t.ISRC = item.ISRC
			t.Source = source
			if item.URI != "" {
				t.URI = item.URI
			}
			if item.Thumbnail != "" {
				t.Thumbnail = item.Thumbnail
			}
			resolved[i], found[i] = t, true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := resolved[:0]
	for i, ok := range found {
		if ok {
			out = append(out, resolved[i])
		}
	}
	return out, nil
}

// loadTracks asks the node to resolve one identifier via REST.
func (n *Node) loadTracks(ctx context.Context, identifier string) (*SearchResult, error) {
	var resp loadTracksResponse
	path := "/loadtracks?identifier=" + url.QueryEscape(identifier)
	if err := n.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}

	n.metrics.TracksLoaded.Add(ctx, int64(len(resp.Tracks)),
		metric.WithAttributes(attribute.String("load_type", resp.LoadType)))

	switch resp.LoadType {
	case loadTypeNoMatches:
		return nil, fmt.Errorf("%w: %s", ErrNoResults, identifier)

	case loadTypeFailed:
		return nil, &TrackLoadError{
			Message:  resp.Exception.Message,
			Severity: Severity(resp.Exception.Severity),
		}

	case loadTypePlaylist:
		tracks := make([]track.Track, 0, len(resp.Tracks))
		for _, rt := range resp.Tracks {
			tracks = append(tracks, rt.toTrack())
		}
		return &SearchResult{Playlist: &track.Playlist{
			Name:          resp.PlaylistInfo.Name,
			Tracks:        tracks,
			SelectedIndex: resp.PlaylistInfo.SelectedTrack,
		}}, nil

	case loadTypeTrack, loadTypeSearch:
		if len(resp.Tracks) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrNoResults, identifier)
		}
		tracks := make([]track.Track, 0, len(resp.Tracks))
		for _, rt := range resp.Tracks {
			tracks = append(tracks, rt.toTrack())
		}
		return &SearchResult{Tracks: tracks}, nil

	default:
		return nil, fmt.Errorf("%w: unknown load type %q", ErrNoResults, resp.LoadType)
	}
}

// GetRecommendations suggests tracks similar to the given one. YouTube tracks
// use the node's radio playlists; Spotify tracks use the provider's
// recommendation endpoint.
func (n *Node) GetRecommendations(ctx context.Context, t track.Track) ([]track.Track, error) {
	switch t.Source {
	case track.SourceYouTube:
		radio := fmt.Sprintf("https://www.youtube.com/watch?v=%s&list=RD%s", t.Identifier, t.Identifier)
		res, err := n.loadTracks(ctx, radio)
		if err != nil {
			return nil, err
		}
		if res.Playlist != nil {
			return res.Playlist.Tracks, nil
		}
		return res.Tracks, nil

	case track.SourceSpotify:
		for _, p := range n.pool.providers {
			rec, ok := p.(provider.Recommender)
			if !ok || p.Name() != "spotify" {
				continue
			}
			items, err := rec.Recommend(ctx, t.Identifier)
			if err != nil {
				return nil, fmt.Errorf("sonata: provider %s: %w", p.Name(), err)
			}
			return n.resolveItems(ctx, items, track.SourceSpotify)
		}
		return nil, fmt.Errorf("%w: spotify", ErrUnsupportedSource)

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSource, t.Source)
	}
}
