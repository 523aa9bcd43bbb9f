// Package spotify resolves open.spotify.com links into plain metadata using
// the Spotify Web API with the client-credentials grant.
package spotify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/sonata/pkg/provider"
)

const (
	defaultBaseURL  = "https://api.spotify.com/v1"
	defaultTokenURL = "https://accounts.spotify.com/api/token"

	// tokenSlack renews the access token slightly before its reported expiry.
	tokenSlack = 30 * time.Second
)

var urlPattern = regexp.MustCompile(`^https?://open\.spotify\.com/(?:intl-[a-z]{2}/)?(album|playlist|track|artist)/([a-zA-Z0-9]+)`)

// Client talks to the Spotify Web API. Safe for concurrent use.
type Client struct {
	clientID     string
	clientSecret string

	baseURL  string
	tokenURL string
	http     *http.Client

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for all requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithBaseURL overrides the Web API base URL.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(u, "/") }
}

// WithTokenURL overrides the token endpoint.
func WithTokenURL(u string) Option {
	return func(c *Client) { c.tokenURL = u }
}

// New creates a Spotify client using the client-credentials grant.
func New(clientID, clientSecret string, opts ...Option) *Client {
	c := &Client{
		clientID:     clientID,
		clientSecret: clientSecret,
		baseURL:      defaultBaseURL,
		tokenURL:     defaultTokenURL,
		http:         &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return "spotify" }

// Match reports whether rawURL is an open.spotify.com track, album, playlist,
// or artist link.
func (c *Client) Match(rawURL string) bool {
	return urlPattern.MatchString(rawURL)
}

// Lookup resolves a Spotify link into metadata. Artist links resolve to the
// artist's top tracks.
func (c *Client) Lookup(ctx context.Context, rawURL string) (*provider.Result, error) {
	m := urlPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return nil, fmt.Errorf("%w: %s", provider.ErrNoMatch, rawURL)
	}
	kind, id := m[1], m[2]

	switch kind {
	case "track":
		return c.lookupTrack(ctx, id)
	case "album":
		return c.lookupAlbum(ctx, id)
	case "playlist":
		return c.lookupPlaylist(ctx, id)
	case "artist":
		return c.lookupArtist(ctx, id)
	default:
		return nil, fmt.Errorf("%w: %s", provider.ErrNoMatch, rawURL)
	}
}

// Recommend returns tracks similar to the given track identifier.
func (c *Client) Recommend(ctx context.Context, identifier string) ([]provider.Item, error) {
	var resp struct {
		Tracks []apiTrack `json:"tracks"`
	}
	q := url.Values{"seed_tracks": {identifier}}
	if err := c.get(ctx, "/recommendations?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	items := make([]provider.Item, 0, len(resp.Tracks))
	for _, t := range resp.Tracks {
		items = append(items, t.item())
	}
	return items, nil
}

type apiImage struct {
	URL string `json:"url"`
}

type apiTrack struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Artists []struct {
		Name string `json:"name"`
	} `json:"artists"`
	DurationMS  int64 `json:"duration_ms"`
	ExternalIDs struct {
		ISRC string `json:"isrc"`
	} `json:"external_ids"`
	ExternalURLs struct {
		Spotify string `json:"spotify"`
	} `json:"external_urls"`
	Album struct {
		Images []apiImage `json:"images"`
	} `json:"album"`
}

func (t apiTrack) item() provider.Item {
	item := provider.Item{
		Identifier: t.ID,
		Title:      t.Name,
		LengthMS:   t.DurationMS,
		ISRC:       t.ExternalIDs.ISRC,
		URI:        t.ExternalURLs.Spotify,
	}
	if len(t.Artists) > 0 {
		item.Author = t.Artists[0].Name
	}
	if len(t.Album.Images) > 0 {
		item.Thumbnail = t.Album.Images[0].URL
	}
	return item
}

func (c *Client) lookupTrack(ctx context.Context, id string) (*provider.Result, error) {
	var t apiTrack
	if err := c.get(ctx, "/tracks/"+id, &t); err != nil {
		return nil, err
	}
	return &provider.Result{
		Kind:  provider.KindTrack,
		Items: []provider.Item{t.item()},
		URI:   t.ExternalURLs.Spotify,
	}, nil
}

func (c *Client) lookupAlbum(ctx context.Context, id string) (*provider.Result, error) {
	var album struct {
		Name    string `json:"name"`
		Artists []struct {
			Name string `json:"name"`
		} `json:"artists"`
		Images       []apiImage `json:"images"`
		ExternalURLs struct {
			Spotify string `json:"spotify"`
		} `json:"external_urls"`
		Tracks struct {
			Items []apiTrack `json:"items"`
			Next  string     `json:"next"`
		} `json:"tracks"`
	}
	if err := c.get(ctx, "/albums/"+id, &album); err != nil {
		return nil, err
	}

	var thumbnail string
	if len(album.Images) > 0 {
		thumbnail = album.Images[0].URL
	}
	items := make([]provider.Item, 0, len(album.Tracks.Items))
	for _, t := range album.Tracks.Items {
		it := t.item()
		if it.Thumbnail == "" {
			it.Thumbnail = thumbnail
		}
		items = append(items, it)
	}
	return &provider.Result{
		Kind:      provider.KindCollection,
		Name:      album.Name,
		Items:     items,
		URI:       album.ExternalURLs.Spotify,
		Thumbnail: thumbnail,
	}, nil
}

func (c *Client) lookupPlaylist(ctx context.Context, id string) (*provider.Result, error) {
	var playlist struct {
		Name         string     `json:"name"`
		Images       []apiImage `json:"images"`
		ExternalURLs struct {
			Spotify string `json:"spotify"`
		} `json:"external_urls"`
		Tracks struct {
			Items []struct {
				Track apiTrack `json:"track"`
			} `json:"items"`
			Next string `json:"next"`
		} `json:"tracks"`
	}
	if err := c.get(ctx, "/playlists/"+id, &playlist); err != nil {
		return nil, err
	}

	var items []provider.Item
	for _, entry := range playlist.Tracks.Items {
		items = append(items, entry.Track.item())
	}

	// Playlists beyond 100 tracks are paginated.
	next := playlist.Tracks.Next
	for next != "" {
		var page struct {
			Items []struct {
				Track apiTrack `json:"track"`
			} `json:"items"`
			Next string `json:"next"`
		}
		if err := c.getAbsolute(ctx, next, &page); err != nil {
			return nil, err
		}
		for _, entry := range page.Items {
			items = append(items, entry.Track.item())
		}
		next = page.Next
	}

	var thumbnail string
	if len(playlist.Images) > 0 {
		thumbnail = playlist.Images[0].URL
	}
	return &provider.Result{
		Kind:      provider.KindCollection,
		Name:      playlist.Name,
		Items:     items,
		URI:       playlist.ExternalURLs.Spotify,
		Thumbnail: thumbnail,
	}, nil
}

func (c *Client) lookupArtist(ctx context.Context, id string) (*provider.Result, error) {
	var artist struct {
		Name         string     `json:"name"`
		Images       []apiImage `json:"images"`
		ExternalURLs struct {
			Spotify string `json:"spotify"`
		} `json:"external_urls"`
	}
	if err := c.get(ctx, "/artists/"+id, &artist); err != nil {
		return nil, err
	}

	var top struct {
		Tracks []apiTrack `json:"tracks"`
	}
	if err := c.get(ctx, "/artists/"+id+"/top-tracks?market=US", &top); err != nil {
		return nil, err
	}

	items := make([]provider.Item, 0, len(top.Tracks))
	for _, t := range top.Tracks {
		items = append(items, t.item())
	}
	var thumbnail string
	if len(artist.Images) > 0 {
		thumbnail = artist.Images[0].URL
	}
	return &provider.Result{
		Kind:      provider.KindCollection,
		Name:      artist.Name + " - Top Tracks",
		Items:     items,
		URI:       artist.ExternalURLs.Spotify,
		Thumbnail: thumbnail,
	}, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.getAbsolute(ctx, c.baseURL+path, out)
}

func (c *Client) getAbsolute(ctx context.Context, rawURL string, out any) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("spotify request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("spotify request %s: status %d: %s", rawURL, resp.StatusCode, body)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// token returns a valid access token, requesting a new one when the cached
// token is missing or about to expire.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.expiresAt.Add(-tokenSlack)) {
		return c.accessToken, nil
	}

	form := strings.NewReader("grant_type=client_credentials")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, form)
	if err != nil {
		return "", err
	}
	creds := base64.StdEncoding.EncodeToString([]byte(c.clientID + ":" + c.clientSecret))
	req.Header.Set("Authorization", "Basic "+creds)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("spotify token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("spotify token request: status %d: %s", resp.StatusCode, body)
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("spotify token response: %w", err)
	}

	c.accessToken = tok.AccessToken
	c.expiresAt = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	return c.accessToken, nil
}
