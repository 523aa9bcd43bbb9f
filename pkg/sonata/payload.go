package sonata

import "encoding/json"

// Outbound websocket frames. Field names follow the node's v3 wire contract
// and must not change independently of the endpoint version.

type voiceUpdateFrame struct {
	Op        string          `json:"op"`
	GuildID   string          `json:"guildId"`
	SessionID string          `json:"sessionId"`
	Event     json.RawMessage `json:"event"`
}

type playFrame struct {
	Op        string `json:"op"`
	GuildID   string `json:"guildId"`
	Track     string `json:"track"`
	StartTime int64  `json:"startTime"`
	EndTime   int64  `json:"endTime,omitempty"`
	NoReplace bool   `json:"noReplace"`
}

type pauseFrame struct {
	Op      string `json:"op"`
	GuildID string `json:"guildId"`
	Pause   bool   `json:"pause"`
}

type stopFrame struct {
	Op      string `json:"op"`
	GuildID string `json:"guildId"`
}

type seekFrame struct {
	Op       string `json:"op"`
	GuildID  string `json:"guildId"`
	Position int64  `json:"position"`
}

type volumeFrame struct {
	Op      string `json:"op"`
	GuildID string `json:"guildId"`
	Volume  int    `json:"volume"`
}

type filtersFrame struct {
	Op      string         `json:"op"`
	GuildID string         `json:"guildId"`
	Filters map[string]any `json:"-"`
}

// MarshalJSON flattens the filter payload into the frame object, since the
// wire contract carries each filter as a top-level sibling of op and guildId.
func (f filtersFrame) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, len(f.Filters)+2)
	obj["op"] = f.Op
	obj["guildId"] = f.GuildID
	for k, v := range f.Filters {
		obj[k] = v
	}
	return json.Marshal(obj)
}

type destroyFrame struct {
	Op      string `json:"op"`
	GuildID string `json:"guildId"`
}

type configureResumingFrame struct {
	Op      string `json:"op"`
	Key     string `json:"key"`
	Timeout int    `json:"timeout"`
}

// Inbound frames.

// inboundFrame is the envelope of every frame received from the node; the
// concrete shape is selected by Op (and Type for events).
type inboundFrame struct {
	Op      string `json:"op"`
	GuildID string `json:"guildId"`

	// playerUpdate
	State playerStateFrame `json:"state"`

	// event
	Type      string   `json:"type"`
	Track     string   `json:"track"`
	Reason    string   `json:"reason"`
	Error     string   `json:"error"`
	Exception *struct {
		Message  string `json:"message"`
		Severity string `json:"severity"`
		Cause    string `json:"cause"`
	} `json:"exception"`
	ThresholdMS int64 `json:"thresholdMs"`
	Code        int   `json:"code"`
	ByRemote    bool  `json:"byRemote"`
}

type playerStateFrame struct {
	Time      int64 `json:"time"`
	Position  int64 `json:"position"`
	Connected bool  `json:"connected"`
}

// REST /loadtracks response.

type loadTracksResponse struct {
	LoadType     string `json:"loadType"`
	PlaylistInfo struct {
		Name          string `json:"name"`
		SelectedTrack int    `json:"selectedTrack"`
	} `json:"playlistInfo"`
	Tracks    []restTrack `json:"tracks"`
	Exception struct {
		Message  string `json:"message"`
		Severity string `json:"severity"`
	} `json:"exception"`
}

const (
	loadTypeTrack     = "TRACK_LOADED"
	loadTypePlaylist  = "PLAYLIST_LOADED"
	loadTypeSearch    = "SEARCH_RESULT"
	loadTypeNoMatches = "NO_MATCHES"
	loadTypeFailed    = "LOAD_FAILED"
)

type restTrack struct {
	Encoded string        `json:"track"`
	Info    restTrackInfo `json:"info"`
}

type restTrackInfo struct {
	Identifier string `json:"identifier"`
	Title      string `json:"title"`
	Author     string `json:"author"`
	Length     int64  `json:"length"`
	URI        string `json:"uri"`
	IsStream   bool   `json:"isStream"`
	IsSeekable bool   `json:"isSeekable"`
	SourceName string `json:"sourceName"`
	ISRC       string `json:"isrc"`
	Artwork    string `json:"artworkUrl"`
}
