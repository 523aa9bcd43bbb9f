package sonata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/sonata/pkg/filter"
	"github.com/MrWong99/sonata/pkg/queue"
	"github.com/MrWong99/sonata/pkg/track"
)

// PlayerState describes the lifecycle of a player.
type PlayerState int

const (
	// PlayerUnbound means no voice channel is bound yet.
	PlayerUnbound PlayerState = iota

	// PlayerIdle means the player is bound but nothing is playing.
	PlayerIdle

	PlayerPlaying
	PlayerPaused

	// PlayerDestroyed is terminal; every operation fails and later frames
	// are dropped.
	PlayerDestroyed
)

func (s PlayerState) String() string {
	switch s {
	case PlayerUnbound:
		return "unbound"
	case PlayerIdle:
		return "idle"
	case PlayerPlaying:
		return "playing"
	case PlayerPaused:
		return "paused"
	case PlayerDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("PlayerState(%d)", int(s))
	}
}

// PlayOption configures a Play call.
type PlayOption func(*playOptions)

type playOptions struct {
	start           time.Duration
	end             time.Duration
	ignoreIfPlaying bool
}

// WithStart begins playback at the given offset into the track.
func WithStart(offset time.Duration) PlayOption {
	return func(o *playOptions) { o.start = offset }
}

// WithEnd stops playback at the given offset. Zero means play to the end.
func WithEnd(offset time.Duration) PlayOption {
	return func(o *playOptions) { o.end = offset }
}

// WithIgnoreIfPlaying makes Play a no-op when a track is already playing,
// instead of replacing it.
func WithIgnoreIfPlaying() PlayOption {
	return func(o *playOptions) { o.ignoreIfPlaying = true }
}

// Player controls playback for one guild. A guild has at most one player per
// pool. All methods are safe for concurrent use.
type Player struct {
	guildID string
	pool    *Pool
	log     *slog.Logger

	mu    sync.Mutex
	node  *Node
	state PlayerState

	current    track.Track
	hasCurrent bool
	volume     int
	paused     bool

	playQueue *queue.Queue
	filters   filter.Stack

	// voice handshake halves, forwarded verbatim once both are present
	voiceSessionID string
	voiceServer    json.RawMessage

	// position interpolation anchors
	lastPosition time.Duration
	lastUpdate   time.Time
	connected    bool
}

func newPlayer(n *Node, guildID string) *Player {
	return &Player{
		guildID:   guildID,
		pool:      n.pool,
		log:       slog.Default().With("guild", guildID),
		node:      n,
		state:     PlayerUnbound,
		volume:    100,
		playQueue: queue.New(0),
	}
}

// GuildID returns the guild this player belongs to.
func (p *Player) GuildID() string { return p.guildID }

// Node returns the node the player is currently bound to.
func (p *Player) Node() *Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.node
}

// State returns the player's lifecycle state.
func (p *Player) State() PlayerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Queue returns the player's track queue.
func (p *Player) Queue() *queue.Queue { return p.playQueue }

// Current returns the track being played, if any.
func (p *Player) Current() (track.Track, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, p.hasCurrent
}

// Volume returns the last applied volume.
func (p *Player) Volume() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// IsPaused reports whether playback is paused.
func (p *Player) IsPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// IsConnected reports whether the node considers the voice connection up.
func (p *Player) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Position returns the playback position, interpolated between the node's
// periodic state updates while playing.
func (p *Player) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionLocked()
}

func (p *Player) positionLocked() time.Duration {
	if !p.hasCurrent {
		return 0
	}
	pos := p.lastPosition
	if p.state == PlayerPlaying && !p.paused {
		pos += time.Since(p.lastUpdate)
	}
	if p.current.Length > 0 && pos > p.current.Length {
		pos = p.current.Length
	}
	return pos
}

// Rate returns the playback rate implied by the active timescale filter.
func (p *Player) Rate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	ts := p.filters.Timescale()
	return ts.Speed * ts.Rate
}

// Filters returns a snapshot of the active filters.
func (p *Player) Filters() []filter.Filter {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.filters.Filters()
}

func (p *Player) checkAlive() error {
	if p.state == PlayerDestroyed {
		return fmt.Errorf("%w: guild %s", ErrPlayerDestroyed, p.guildID)
	}
	return nil
}

// OnVoiceServerUpdate feeds the platform's voice server payload to the
// player. The payload is forwarded to the node verbatim once the session
// half is also present.
func (p *Player) OnVoiceServerUpdate(ctx context.Context, event json.RawMessage) error {
	p.mu.Lock()
	if err := p.checkAlive(); err != nil {
		p.mu.Unlock()
		return err
	}
	p.voiceServer = event
	p.mu.Unlock()
	return p.forwardVoiceUpdate(ctx)
}

// OnVoiceStateUpdate feeds the platform's voice session identifier to the
// player.
func (p *Player) OnVoiceStateUpdate(ctx context.Context, sessionID string) error {
	p.mu.Lock()
	if err := p.checkAlive(); err != nil {
		p.mu.Unlock()
		return err
	}
	p.voiceSessionID = sessionID
	p.mu.Unlock()
	return p.forwardVoiceUpdate(ctx)
}

// forwardVoiceUpdate sends the combined voice handshake once both halves are
// known.
func (p *Player) forwardVoiceUpdate(ctx context.Context) error {
	p.mu.Lock()
	if p.voiceSessionID == "" || p.voiceServer == nil {
		p.mu.Unlock()
		return nil
	}
	frame := voiceUpdateFrame{
		Op:        "voiceUpdate",
		GuildID:   p.guildID,
		SessionID: p.voiceSessionID,
		Event:     p.voiceServer,
	}
	node := p.node
	if p.state == PlayerUnbound {
		p.state = PlayerIdle
	}
	p.mu.Unlock()

	return node.send(ctx, "voiceUpdate", frame)
}

// Play starts the given track, replacing the current one unless
// WithIgnoreIfPlaying is set. Returns the track that is playing after the
// call.
func (p *Player) Play(ctx context.Context, t track.Track, opts ...PlayOption) (track.Track, error) {
	var o playOptions
	for _, opt := range opts {
		opt(&o)
	}

	if o.start < 0 || (o.end != 0 && o.end <= o.start) {
		return track.Track{}, fmt.Errorf("%w: start %v, end %v", ErrInvalidBounds, o.start, o.end)
	}

	p.mu.Lock()
	if err := p.checkAlive(); err != nil {
		p.mu.Unlock()
		return track.Track{}, err
	}
	if o.ignoreIfPlaying && p.state == PlayerPlaying {
		current := p.current
		p.mu.Unlock()
		return current, nil
	}
	node := p.node
	p.mu.Unlock()

	frame := playFrame{
		Op:        "play",
		GuildID:   p.guildID,
		Track:     t.ID,
		StartTime: o.start.Milliseconds(),
		EndTime:   o.end.Milliseconds(),
		NoReplace: o.ignoreIfPlaying,
	}
	if err := node.send(ctx, "play", frame); err != nil {
		return track.Track{}, err
	}

	p.mu.Lock()
	p.current = t
	p.hasCurrent = true
	p.state = PlayerPlaying
	p.paused = false
	p.lastPosition = o.start
	p.lastUpdate = time.Now()
	p.mu.Unlock()
	return t, nil
}

// SetPause pauses or resumes playback. Setting the current state again is a
// no-op.
func (p *Player) SetPause(ctx context.Context, pause bool) error {
	p.mu.Lock()
	if err := p.checkAlive(); err != nil {
		p.mu.Unlock()
		return err
	}
	if p.paused == pause {
		p.mu.Unlock()
		return nil
	}
	node := p.node
	p.mu.Unlock()

	if err := node.send(ctx, "pause", pauseFrame{Op: "pause", GuildID: p.guildID, Pause: pause}); err != nil {
		return err
	}

	p.mu.Lock()
	// Re-anchor interpolation at the moment the state flips.
	p.lastPosition = p.positionLocked()
	p.lastUpdate = time.Now()
	p.paused = pause
	if pause {
		if p.state == PlayerPlaying {
			p.state = PlayerPaused
		}
	} else if p.state == PlayerPaused {
		p.state = PlayerPlaying
	}
	p.mu.Unlock()
	return nil
}

// Seek jumps to the given position of the current track. Positions are
// clamped to [0, track length].
func (p *Player) Seek(ctx context.Context, position time.Duration) error {
	p.mu.Lock()
	if err := p.checkAlive(); err != nil {
		p.mu.Unlock()
		return err
	}
	if !p.hasCurrent {
		p.mu.Unlock()
		return fmt.Errorf("%w: guild %s", ErrNothingPlaying, p.guildID)
	}
	if !p.current.IsSeekable {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotSeekable, p.current.Title)
	}
	if position < 0 {
		position = 0
	}
	if position > p.current.Length {
		position = p.current.Length
	}
	node := p.node
	p.mu.Unlock()

	if err := node.send(ctx, "seek", seekFrame{Op: "seek", GuildID: p.guildID, Position: position.Milliseconds()}); err != nil {
		return err
	}

	p.mu.Lock()
	p.lastPosition = position
	p.lastUpdate = time.Now()
	p.mu.Unlock()
	return nil
}

// SetVolume sets the playback volume. Valid range is [0, 500] where 100 is
// unity gain. The value is read back optimistically.
func (p *Player) SetVolume(ctx context.Context, volume int) error {
	if volume < 0 || volume > 500 {
		return fmt.Errorf("%w: %d", ErrVolumeOutOfRange, volume)
	}

	p.mu.Lock()
	if err := p.checkAlive(); err != nil {
		p.mu.Unlock()
		return err
	}
	node := p.node
	p.mu.Unlock()

	if err := node.send(ctx, "volume", volumeFrame{Op: "volume", GuildID: p.guildID, Volume: volume}); err != nil {
		return err
	}

	p.mu.Lock()
	p.volume = volume
	p.mu.Unlock()
	return nil
}

// Stop stops playback and clears the current track. The queue is untouched.
func (p *Player) Stop(ctx context.Context) error {
	p.mu.Lock()
	if err := p.checkAlive(); err != nil {
		p.mu.Unlock()
		return err
	}
	node := p.node
	p.mu.Unlock()

	if err := node.send(ctx, "stop", stopFrame{Op: "stop", GuildID: p.guildID}); err != nil {
		return err
	}

	p.mu.Lock()
	p.clearCurrentLocked()
	p.mu.Unlock()
	return nil
}

func (p *Player) clearCurrentLocked() {
	p.current = track.Track{}
	p.hasCurrent = false
	p.lastPosition = 0
	if p.state == PlayerPlaying || p.state == PlayerPaused {
		p.state = PlayerIdle
	}
}

// Destroy tears the player down on the node and removes it from the pool.
// Idempotent; subsequent operations fail with ErrPlayerDestroyed.
func (p *Player) Destroy(ctx context.Context) error {
	p.mu.Lock()
	if p.state == PlayerDestroyed {
		p.mu.Unlock()
		return nil
	}
	node := p.node
	p.state = PlayerDestroyed
	p.hasCurrent = false
	p.mu.Unlock()

	// A dead session cannot deliver the destroy op; the node cleans the
	// remote player up itself when the resume window lapses.
	if err := node.send(ctx, "destroy", destroyFrame{Op: "destroy", GuildID: p.guildID}); err != nil {
		p.log.Debug("destroy op not delivered", "error", err)
	}
	node.removePlayer(p.guildID)
	p.pool.dispatch(PlayerDestroyedEvent{Player: p, Reason: "destroyed"})
	return nil
}

// destroyLocal tears the player down without touching the wire. Used when
// the owning node is gone.
func (p *Player) destroyLocal(reason string) {
	p.mu.Lock()
	if p.state == PlayerDestroyed {
		p.mu.Unlock()
		return
	}
	node := p.node
	p.state = PlayerDestroyed
	p.hasCurrent = false
	p.mu.Unlock()

	node.removePlayer(p.guildID)
	p.pool.dispatch(PlayerDestroyedEvent{Player: p, Reason: reason})
}

// AddFilter activates a filter and pushes the combined filter payload to the
// node. The running track is re-issued at its current position so the change
// is heard immediately.
func (p *Player) AddFilter(ctx context.Context, f filter.Filter) error {
	return p.mutateFilters(ctx, func() error {
		p.filters.Add(f)
		return nil
	})
}

// RemoveFilter deactivates the filter of the given type.
func (p *Player) RemoveFilter(ctx context.Context, t filter.Type) error {
	return p.mutateFilters(ctx, func() error {
		return p.filters.Remove(t)
	})
}

// ResetFilters deactivates all filters.
func (p *Player) ResetFilters(ctx context.Context) error {
	return p.mutateFilters(ctx, func() error {
		p.filters.Reset()
		return nil
	})
}

func (p *Player) mutateFilters(ctx context.Context, mutate func() error) error {
	p.mu.Lock()
	if err := p.checkAlive(); err != nil {
		p.mu.Unlock()
		return err
	}
	if err := mutate(); err != nil {
		p.mu.Unlock()
		return err
	}
	payload := p.filters.Payload()
	node := p.node
	replay := p.hasCurrent && (p.state == PlayerPlaying || p.state == PlayerPaused)
	current := p.current
	position := p.positionLocked()
	p.mu.Unlock()

	if err := node.send(ctx, "filters", filtersFrame{Op: "filters", GuildID: p.guildID, Filters: payload}); err != nil {
		return err
	}

	// Nodes apply a filter change to the running track only on the next
	// play op, so re-issue the track in place.
	if replay {
		if _, err := p.Play(ctx, current, WithStart(position)); err != nil {
			return err
		}
	}
	return nil
}

// rebind moves the player onto a new node and replays its full state there.
func (p *Player) rebind(target *Node) error {
	p.mu.Lock()
	if p.state == PlayerDestroyed {
		p.mu.Unlock()
		return fmt.Errorf("%w: guild %s", ErrPlayerDestroyed, p.guildID)
	}
	p.node = target
	sessionID := p.voiceSessionID
	server := p.voiceServer
	payload := p.filters.Payload()
	volume := p.volume
	paused := p.paused
	current := p.current
	hasCurrent := p.hasCurrent
	position := p.positionLocked()
	p.mu.Unlock()

	target.adoptPlayer(p)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if sessionID != "" && server != nil {
		if err := target.send(ctx, "voiceUpdate", voiceUpdateFrame{
			Op: "voiceUpdate", GuildID: p.guildID, SessionID: sessionID, Event: server,
		}); err != nil {
			return err
		}
	}
	if len(payload) > 0 {
		if err := target.send(ctx, "filters", filtersFrame{
			Op: "filters", GuildID: p.guildID, Filters: payload,
		}); err != nil {
			return err
		}
	}
	if hasCurrent {
		if _, err := p.Play(ctx, current, WithStart(position)); err != nil {
			return err
		}
		if paused {
			if err := target.send(ctx, "pause", pauseFrame{Op: "pause", GuildID: p.guildID, Pause: true}); err != nil {
				return err
			}
			// Play marked the player unpaused; restore the carried-over state
			// so local reads match the pause frame just issued.
			p.mu.Lock()
			p.lastPosition = p.positionLocked()
			p.lastUpdate = time.Now()
			p.paused = true
			p.state = PlayerPaused
			p.mu.Unlock()
		}
	}
	return target.send(ctx, "volume", volumeFrame{Op: "volume", GuildID: p.guildID, Volume: volume})
}

// handleUpdate applies a periodic state frame from the node.
func (p *Player) handleUpdate(state playerStateFrame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == PlayerDestroyed {
		return
	}
	p.lastPosition = time.Duration(state.Position) * time.Millisecond
	p.lastUpdate = time.Now()
	p.connected = state.Connected
}

// handleEvent reconciles one node event against local state and fans it out.
func (p *Player) handleEvent(frame inboundFrame) {
	p.mu.Lock()
	if p.state == PlayerDestroyed {
		p.mu.Unlock()
		return
	}
	current := p.current

	var (
		ev      Event
		advance bool
	)
	switch frame.Type {
	case "TrackStartEvent":
		p.state = PlayerPlaying
		ev = TrackStartEvent{Player: p, Track: current}

	case "TrackEndEvent":
		reason := EndReason(frame.Reason)
		p.clearCurrentLocked()
		advance = reason.MayStartNext()
		ev = TrackEndEvent{Player: p, Track: current, Reason: reason}

	case "TrackExceptionEvent":
		p.clearCurrentLocked()
		msg, severity, cause := frame.Error, SeverityCommon, ""
		if frame.Exception != nil {
			msg = frame.Exception.Message
			severity = Severity(frame.Exception.Severity)
			cause = frame.Exception.Cause
		}
		ev = TrackExceptionEvent{Player: p, Track: current, Message: msg, Severity: severity, Cause: cause}

	case "TrackStuckEvent":
		p.clearCurrentLocked()
		advance = true
		ev = TrackStuckEvent{Player: p, Track: current, Threshold: time.Duration(frame.ThresholdMS) * time.Millisecond}

	case "WebSocketClosedEvent":
		ev = WebSocketClosedEvent{Player: p, Code: frame.Code, Reason: frame.Reason, ByRemote: frame.ByRemote}

	default:
		p.mu.Unlock()
		p.log.Debug("dropping unknown event", "type", frame.Type)
		return
	}
	p.mu.Unlock()

	p.pool.dispatch(ev)
	if advance {
		p.advance()
	}
}

// advance starts the next queued track after a natural completion.
func (p *Player) advance() {
	next, err := p.playQueue.Get()
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := p.Play(ctx, next); err != nil {
		p.log.Warn("auto-advance failed", "track", next.Title, "error", err)
	}
}
