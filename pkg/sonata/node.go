// Package sonata is a client for remote audio-processing nodes. It manages a
// pool of node sessions, per-guild players, track resolution, and the event
// stream coming back from the nodes.
//
// The library is a pure control plane: it tells nodes what to play and
// observes what happens. Audio itself never passes through this process.
package sonata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/sonata/internal/observe"
	"github.com/MrWong99/sonata/pkg/track"
)

// nodeAttr tags a metric measurement with the node identifier.
func nodeAttr(id string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("node", id))
}

// State describes the lifecycle of a node session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// LatencyUnreachable is reported by [Node.Latency] while the session is not
// connected.
const LatencyUnreachable = time.Duration(math.MaxInt64)

// Reconnection parameters for an established session that drops.
const (
	reconnectBackoff    = 1 * time.Second
	reconnectMaxBackoff = 30 * time.Second
)

// NodeConfig describes how to reach one remote audio node.
type NodeConfig struct {
	// Identifier is the pool-unique name of the node.
	Identifier string

	Host     string
	Port     int
	Password string

	// Secure selects wss/https transports.
	Secure bool

	// HeartbeatInterval is the websocket ping cadence. Defaults to 30s.
	HeartbeatInterval time.Duration

	// ResumeTimeout is how long the node holds the session for resumption
	// after a drop. Defaults to 60s.
	ResumeTimeout time.Duration

	// ConnectRetries is the attempt budget for the initial connect before
	// CreateNode fails. Defaults to 3.
	ConnectRetries int
}

func (c *NodeConfig) applyDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.ResumeTimeout <= 0 {
		c.ResumeTimeout = 60 * time.Second
	}
	if c.ConnectRetries <= 0 {
		c.ConnectRetries = 3
	}
}

// wsConn is the subset of *websocket.Conn the node uses. Tests substitute a
// fake through the dial hook.
type wsConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, data []byte) error
	Ping(ctx context.Context) error
	Close(code websocket.StatusCode, reason string) error
}

// Node owns one websocket session and one REST channel to a remote audio
// node. All methods are safe for concurrent use.
type Node struct {
	cfg       NodeConfig
	pool      *Pool
	log       *slog.Logger
	metrics   *observe.Metrics
	resumeKey string

	wsURL    string
	restBase string
	rest     *http.Client

	// dial establishes the websocket session; replaced in tests.
	dial func(ctx context.Context) (wsConn, error)

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	conn    wsConn
	state   State
	latency time.Duration
	stats   NodeStats
	players map[string]*Player

	closeOnce sync.Once
	wg        sync.WaitGroup
}

func newNode(pool *Pool, cfg NodeConfig) *Node {
	cfg.applyDefaults()

	scheme, restScheme := "ws", "http"
	if cfg.Secure {
		scheme, restScheme = "wss", "https"
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		cfg:       cfg,
		pool:      pool,
		log:       slog.Default().With("node", cfg.Identifier),
		metrics:   observe.DefaultMetrics(),
		resumeKey: uuid.NewString(),
		wsURL:     fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port),
		restBase:  fmt.Sprintf("%s://%s:%d", restScheme, cfg.Host, cfg.Port),
		rest:      &http.Client{Timeout: 15 * time.Second},
		ctx:       ctx,
		cancel:    cancel,
		latency:   LatencyUnreachable,
		players:   make(map[string]*Player),
	}
	n.dial = n.dialWebsocket
	return n
}

func (n *Node) dialWebsocket(ctx context.Context) (wsConn, error) {
	headers := http.Header{}
	headers.Set("Authorization", n.cfg.Password)
	headers.Set("User-Id", n.pool.cfg.UserID)
	headers.Set("Client-Name", n.pool.cfg.ClientName)
	headers.Set("Resume-Key", n.resumeKey)

	conn, _, err := websocket.Dial(ctx, n.wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Identifier returns the node's pool-unique name.
func (n *Node) Identifier() string { return n.cfg.Identifier }

// State returns the current session state.
func (n *Node) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Latency returns the most recent ping round-trip time, or
// [LatencyUnreachable] while the session is down.
func (n *Node) Latency() time.Duration {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.latency
}

// Stats returns the latest resource report pushed by the node.
func (n *Node) Stats() NodeStats {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stats
}

// Player returns the node's player for the given guild.
func (n *Node) Player(guildID string) (*Player, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, ok := n.players[guildID]
	return p, ok
}

// Players returns a snapshot of the node's players.
func (n *Node) Players() []*Player {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*Player, 0, len(n.players))
	for _, p := range n.players {
		out = append(out, p)
	}
	return out
}

// PlayerCount returns the number of players bound to the node.
func (n *Node) PlayerCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.players)
}

// CreatePlayer creates a player for the given guild on this node. Each guild
// may have at most one player per pool.
func (n *Node) CreatePlayer(guildID string) (*Player, error) {
	if existing, _ := n.pool.Player(guildID); existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrPlayerExists, guildID)
	}

	p := newPlayer(n, guildID)

	n.mu.Lock()
	n.players[guildID] = p
	n.mu.Unlock()

	n.metrics.ActivePlayers.Add(n.ctx, 1)
	n.log.Info("player created", "guild", guildID)
	return p, nil
}

// removePlayer drops the guild's player from the node registry.
func (n *Node) removePlayer(guildID string) {
	n.mu.Lock()
	_, ok := n.players[guildID]
	delete(n.players, guildID)
	n.mu.Unlock()

	if ok {
		n.metrics.ActivePlayers.Add(n.ctx, -1)
	}
}

// adoptPlayer rebinds a player from another node onto this one.
func (n *Node) adoptPlayer(p *Player) {
	n.mu.Lock()
	n.players[p.guildID] = p
	n.mu.Unlock()
}

// connect establishes the initial session within the configured retry budget
// and starts the session goroutines.
func (n *Node) connect(ctx context.Context) error {
	n.mu.Lock()
	n.state = StateConnecting
	n.mu.Unlock()

	var lastErr error
	backoff := reconnectBackoff
	for attempt := 1; attempt <= n.cfg.ConnectRetries; attempt++ {
		conn, err := n.dial(ctx)
		if err == nil {
			n.sessionUp(conn, false)
			n.wg.Add(2)
			go n.readLoop()
			go n.pingLoop()
			return nil
		}
		lastErr = err
		n.log.Warn("connect attempt failed", "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			attempt = n.cfg.ConnectRetries
		case <-time.After(backoff):
			backoff = min(backoff*2, reconnectMaxBackoff)
		}
	}

	n.mu.Lock()
	n.state = StateDisconnected
	n.mu.Unlock()
	return fmt.Errorf("%w: node %s: %v", ErrConnectionFailed, n.cfg.Identifier, lastErr)
}

// sessionUp installs a fresh connection and announces readiness.
func (n *Node) sessionUp(conn wsConn, reconnect bool) {
	n.mu.Lock()
	n.conn = conn
	n.state = StateConnected
	n.mu.Unlock()

	if err := n.send(n.ctx, "configureResuming", configureResumingFrame{
		Op:      "configureResuming",
		Key:     n.resumeKey,
		Timeout: int(n.cfg.ResumeTimeout / time.Second),
	}); err != nil {
		n.log.Warn("configure resuming failed", "error", err)
	}

	n.log.Info("session established", "reconnect", reconnect)
	n.pool.dispatch(NodeReadyEvent{Node: n, Reconnect: reconnect})
}

// sessionDown marks the session lost and tells the pool so it can fail
// players over.
func (n *Node) sessionDown(err error) {
	n.mu.Lock()
	if n.conn != nil {
		_ = n.conn.Close(websocket.StatusAbnormalClosure, "session lost")
		n.conn = nil
	}
	n.state = StateReconnecting
	n.latency = LatencyUnreachable
	n.mu.Unlock()

	n.log.Warn("session lost", "error", err)
	n.pool.handleNodeDown(n)
}

// readLoop consumes frames until the node is closed, re-establishing the
// session with exponential backoff whenever it drops.
func (n *Node) readLoop() {
	defer n.wg.Done()

	for {
		n.mu.Lock()
		conn := n.conn
		n.mu.Unlock()

		if conn != nil {
			_, data, err := conn.Read(n.ctx)
			if err == nil {
				n.handleFrame(data)
				continue
			}
			if n.ctx.Err() != nil {
				return
			}
			n.sessionDown(err)
		}

		backoff := reconnectBackoff
		for {
			select {
			case <-n.ctx.Done():
				return
			case <-time.After(backoff):
			}

			conn, err := n.dial(n.ctx)
			if err == nil {
				n.metrics.NodeReconnects.Add(n.ctx, 1,
					nodeAttr(n.cfg.Identifier))
				n.sessionUp(conn, true)
				break
			}
			n.log.Warn("reconnect attempt failed", "backoff", backoff, "error", err)
			backoff = min(backoff*2, reconnectMaxBackoff)
		}
	}
}

// pingLoop measures round-trip latency and detects dead connections.
func (n *Node) pingLoop() {
	defer n.wg.Done()

	ticker := time.NewTicker(n.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
		}

		n.mu.Lock()
		conn := n.conn
		n.mu.Unlock()
		if conn == nil {
			continue
		}

		pingCtx, cancel := context.WithTimeout(n.ctx, n.cfg.HeartbeatInterval)
		start := time.Now()
		err := conn.Ping(pingCtx)
		cancel()

		if err != nil {
			if n.ctx.Err() != nil {
				return
			}
			// Closing the connection wakes the read loop, which owns the
			// reconnect path.
			_ = conn.Close(websocket.StatusAbnormalClosure, "ping timeout")
			continue
		}

		rtt := time.Since(start)
		n.mu.Lock()
		n.latency = rtt
		n.mu.Unlock()
		n.metrics.NodeLatency.Record(n.ctx, rtt.Seconds(), nodeAttr(n.cfg.Identifier))
	}
}

// handleFrame demultiplexes one inbound frame. Malformed or unknown frames
// are logged and dropped; they never kill the session.
func (n *Node) handleFrame(data []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		n.log.Warn("dropping malformed frame", "error", err)
		return
	}

	switch frame.Op {
	case "stats":
		var stats NodeStats
		if err := json.Unmarshal(data, &stats); err != nil {
			n.log.Warn("dropping malformed stats frame", "error", err)
			return
		}
		stats.normalize()
		n.mu.Lock()
		n.stats = stats
		n.mu.Unlock()

	case "playerUpdate":
		if p, ok := n.Player(frame.GuildID); ok {
			p.handleUpdate(frame.State)
		}

	case "event":
		if p, ok := n.Player(frame.GuildID); ok {
			p.handleEvent(frame)
		}

	default:
		n.log.Debug("dropping unknown frame", "op", frame.Op)
	}
}

// send serializes one outbound operation through the session. Issuance order
// is preserved by the connection lock.
func (n *Node) send(ctx context.Context, op string, frame any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("sonata: marshal %s: %w", op, err)
	}

	n.mu.Lock()
	conn := n.conn
	connected := n.state == StateConnected
	n.mu.Unlock()

	if conn == nil || !connected {
		return fmt.Errorf("%w: %s", ErrNodeNotConnected, n.cfg.Identifier)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("%w: send %s: %v", ErrConnectionFailed, op, err)
	}
	n.metrics.RecordOp(ctx, op, n.cfg.Identifier)
	return nil
}

// close tears the session down. Idempotent.
func (n *Node) close() {
	n.closeOnce.Do(func() {
		n.cancel()
		n.mu.Lock()
		if n.conn != nil {
			_ = n.conn.Close(websocket.StatusNormalClosure, "shutting down")
			n.conn = nil
		}
		n.state = StateDisconnected
		n.latency = LatencyUnreachable
		n.mu.Unlock()
		n.wg.Wait()
		n.log.Info("node closed")
	})
}

// getJSON performs an authenticated GET against the node's REST surface.
func (n *Node) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.restBase+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", n.cfg.Password)

	resp, err := n.rest.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s: status %d: %s", ErrConnectionFailed, path, resp.StatusCode, body)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// postEmpty performs an authenticated POST with a small JSON body.
func (n *Node) postEmpty(ctx context.Context, path string, body io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.restBase+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", n.cfg.Password)
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.rest.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s: status %d: %s", ErrConnectionFailed, path, resp.StatusCode, body)
	}
	return nil
}

// DecodeTrack asks the node to expand an encoded track identifier back into
// its metadata.
func (n *Node) DecodeTrack(ctx context.Context, encoded string) (track.Track, error) {
	var info restTrackInfo
	path := "/decodetrack?track=" + url.QueryEscape(encoded)
	if err := n.getJSON(ctx, path, &info); err != nil {
		return track.Track{}, err
	}
	return restTrack{Encoded: encoded, Info: info}.toTrack(), nil
}

// RoutePlannerStatus reports the node's IP rotation state. Nodes without a
// route planner configured return an empty class.
type RoutePlannerStatus struct {
	Class   string `json:"class"`
	Details struct {
		IPBlock struct {
			Type string `json:"type"`
			Size string `json:"size"`
		} `json:"ipBlock"`
		FailingAddresses []struct {
			Address   string `json:"failingAddress"`
			Timestamp int64  `json:"failingTimestamp"`
			Time      string `json:"failingTime"`
		} `json:"failingAddresses"`
		BlockIndex          string `json:"blockIndex"`
		CurrentAddressIndex string `json:"currentAddressIndex"`
	} `json:"details"`
}

// RoutePlanner returns the node's route planner status.
func (n *Node) RoutePlanner(ctx context.Context) (*RoutePlannerStatus, error) {
	var status RoutePlannerStatus
	if err := n.getJSON(ctx, "/routeplanner/status", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// FreeAddress removes one address from the route planner's failing list.
func (n *Node) FreeAddress(ctx context.Context, address string) error {
	body, err := json.Marshal(map[string]string{"address": address})
	if err != nil {
		return err
	}
	return n.postEmpty(ctx, "/routeplanner/free/address", bytes.NewReader(body))
}

// FreeAllAddresses clears the route planner's failing list.
func (n *Node) FreeAllAddresses(ctx context.Context) error {
	return n.postEmpty(ctx, "/routeplanner/free/all", nil)
}
