// Package applemusic resolves music.apple.com links into plain metadata
// using the Apple Music API with a developer media token.
package applemusic

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/MrWong99/sonata/pkg/provider"
)

const defaultBaseURL = "https://api.music.apple.com/v1"

var urlPattern = regexp.MustCompile(`^https?://music\.apple\.com/([a-z]{2})/(album|playlist|song)/(?:[^/]+/)?(?:(pl\.[a-zA-Z0-9-]+)|(\d+))(?:\?i=(\d+))?`)

// Client talks to the Apple Music API. Safe for concurrent use.
type Client struct {
	mediaToken string
	baseURL    string
	http       *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for all requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(u, "/") }
}

// New creates an Apple Music client authenticating with the given developer
// media token.
func New(mediaToken string, opts ...Option) *Client {
	c := &Client{
		mediaToken: mediaToken,
		baseURL:    defaultBaseURL,
		http:       &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return "apple_music" }

// Match reports whether rawURL is a music.apple.com song, album, or playlist
// link.
func (c *Client) Match(rawURL string) bool {
	return urlPattern.MatchString(rawURL)
}

// Lookup resolves an Apple Music link into metadata. Album links carrying a
// ?i= song selector resolve to that single song.
func (c *Client) Lookup(ctx context.Context, rawURL string) (*provider.Result, error) {
	m := urlPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return nil, fmt.Errorf("%w: %s", provider.ErrNoMatch, rawURL)
	}
	storefront, kind, playlistID, catalogID, songSelector := m[1], m[2], m[3], m[4], m[5]

	switch {
	case kind == "song" || songSelector != "":
		id := catalogID
		if songSelector != "" {
			id = songSelector
		}
		return c.lookupSong(ctx, storefront, id)
	case kind == "album":
		return c.lookupAlbum(ctx, storefront, catalogID)
	case kind == "playlist":
		return c.lookupPlaylist(ctx, storefront, playlistID)
	default:
		return nil, fmt.Errorf("%w: %s", provider.ErrNoMatch, rawURL)
	}
}

type apiSong struct {
	ID         string `json:"id"`
	Attributes struct {
		Name             string `json:"name"`
		ArtistName       string `json:"artistName"`
		DurationInMillis int64  `json:"durationInMillis"`
		ISRC             string `json:"isrc"`
		URL              string `json:"url"`
		Artwork          struct {
			URL string `json:"url"`
		} `json:"artwork"`
	} `json:"attributes"`
}

func (s apiSong) item() provider.Item {
	return provider.Item{
		Identifier: s.ID,
		Title:      s.Attributes.Name,
		Author:     s.Attributes.ArtistName,
		LengthMS:   s.Attributes.DurationInMillis,
		ISRC:       s.Attributes.ISRC,
		URI:        s.Attributes.URL,
		Thumbnail:  artworkURL(s.Attributes.Artwork.URL),
	}
}

// artworkURL substitutes concrete dimensions into Apple's templated artwork
// URLs ("{w}x{h}").
func artworkURL(template string) string {
	s := strings.ReplaceAll(template, "{w}", "640")
	return strings.ReplaceAll(s, "{h}", "640")
}

func (c *Client) lookupSong(ctx context.Context, storefront, id string) (*provider.Result, error) {
	var resp struct {
		Data []apiSong `json:"data"`
	}
	if err := c.get(ctx, fmt.Sprintf("/catalog/%s/songs/%s", storefront, id), &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: song %s", provider.ErrNoMatch, id)
	}
	song := resp.Data[0]
	return &provider.Result{
		Kind:  provider.KindTrack,
		Items: []provider.Item{song.item()},
		URI:   song.Attributes.URL,
	}, nil
}

func (c *Client) lookupAlbum(ctx context.Context, storefront, id string) (*provider.Result, error) {
	var resp struct {
		Data []struct {
			Attributes struct {
				Name    string `json:"name"`
				URL     string `json:"url"`
				Artwork struct {
					URL string `json:"url"`
				} `json:"artwork"`
			} `json:"attributes"`
			Relationships struct {
				Tracks struct {
					Data []apiSong `json:"data"`
					Next string    `json:"next"`
				} `json:"tracks"`
			} `json:"relationships"`
		} `json:"data"`
	}
	if err := c.get(ctx, fmt.Sprintf("/catalog/%s/albums/%s", storefront, id), &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: album %s", provider.ErrNoMatch, id)
	}
	album := resp.Data[0]

	items := make([]provider.Item, 0, len(album.Relationships.Tracks.Data))
	for _, song := range album.Relationships.Tracks.Data {
		items = append(items, song.item())
	}
	return &provider.Result{
		Kind:      provider.KindCollection,
		Name:      album.Attributes.Name,
		Items:     items,
		URI:       album.Attributes.URL,
		Thumbnail: artworkURL(album.Attributes.Artwork.URL),
	}, nil
}

func (c *Client) lookupPlaylist(ctx context.Context, storefront, id string) (*provider.Result, error) {
	var resp struct {
		Data []struct {
			Attributes struct {
				Name    string `json:"name"`
				URL     string `json:"url"`
				Artwork struct {
					URL string `json:"url"`
				} `json:"artwork"`
			} `json:"attributes"`
			Relationships struct {
				Tracks struct {
					Data []apiSong `json:"data"`
					Next string    `json:"next"`
				} `json:"tracks"`
			} `json:"relationships"`
		} `json:"data"`
	}
	if err := c.get(ctx, fmt.Sprintf("/catalog/%s/playlists/%s", storefront, id), &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: playlist %s", provider.ErrNoMatch, id)
	}
	playlist := resp.Data[0]

	items := make([]provider.Item, 0, len(playlist.Relationships.Tracks.Data))
	for _, song := range playlist.Relationships.Tracks.Data {
		items = append(items, song.item())
	}

	// Long playlists page their track relationship. The next cursor is given
	// relative to the API root, including the version prefix.
	next := playlist.Relationships.Tracks.Next
	for next != "" {
		var page struct {
			Data []apiSong `json:"data"`
			Next string    `json:"next"`
		}
		if err := c.get(ctx, strings.TrimPrefix(next, "/v1"), &page); err != nil {
			return nil, err
		}
		for _, song := range page.Data {
			items = append(items, song.item())
		}
		next = page.Next
	}

	return &provider.Result{
		Kind:      provider.KindCollection,
		Name:      playlist.Attributes.Name,
		Items:     items,
		URI:       playlist.Attributes.URL,
		Thumbnail: artworkURL(playlist.Attributes.Artwork.URL),
	}, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.mediaToken)
	req.Header.Set("Origin", "https://music.apple.com")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("apple music request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("apple music request %s: status %d: %s", path, resp.StatusCode, body)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
