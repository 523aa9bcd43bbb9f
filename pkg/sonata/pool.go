package sonata

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/sonata/pkg/provider"
)

// Algorithm ranks connected nodes for BestNode.
type Algorithm int

const (
	// ByPing prefers the node with the lowest measured latency.
	ByPing Algorithm = iota

	// ByPlayers prefers the node with the fewest bound players.
	ByPlayers
)

// Config configures a Pool.
type Config struct {
	// UserID is the client's user identifier sent in the node handshake.
	UserID string

	// ClientName identifies this client implementation to nodes.
	ClientName string

	// Fallback enables automatic player migration when a node's session is
	// lost. When disabled, players on a lost node are destroyed.
	Fallback bool

	// DefaultSearch is the search prefix used for plain-text queries.
	// Defaults to SearchYouTube.
	DefaultSearch SearchType

	// Providers are metadata catalogs consulted before the node, in priority
	// order.
	Providers []provider.Provider
}

// Pool is an explicitly constructed registry of nodes. All methods are safe
// for concurrent use.
type Pool struct {
	cfg       Config
	log       *slog.Logger
	providers provider.Chain

	mu       sync.Mutex
	nodes    map[string]*Node
	order    []string
	handlers []EventHandler
	closed   bool
}

// New creates an empty pool.
func New(cfg Config) *Pool {
	if cfg.ClientName == "" {
		cfg.ClientName = "sonata"
	}
	if cfg.DefaultSearch == "" {
		cfg.DefaultSearch = SearchYouTube
	}
	return &Pool{
		cfg:       cfg,
		log:       slog.Default().With("component", "pool"),
		providers: provider.Chain(cfg.Providers),
		nodes:     make(map[string]*Node),
	}
}

// OnEvent registers a handler for every event raised by the pool's nodes and
// players. Handlers run synchronously on the session goroutine and must not
// block.
func (p *Pool) OnEvent(h EventHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, h)
}

// dispatch fans one event out to all registered handlers.
func (p *Pool) dispatch(ev Event) {
	p.mu.Lock()
	handlers := make([]EventHandler, len(p.handlers))
	copy(handlers, p.handlers)
	p.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

// CreateNode registers a node and connects it. The identifier must be unique
// within the pool.
func (p *Pool) CreateNode(ctx context.Context, cfg NodeConfig) (*Node, error) {
	p.mu.Lock()
	if _, exists := p.nodes[cfg.Identifier]; exists {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateNode, cfg.Identifier)
	}
	// Reserve the identifier so concurrent CreateNode calls cannot race the
	// slow connect below.
	p.nodes[cfg.Identifier] = nil
	p.mu.Unlock()

	n := newNode(p, cfg)
	if err := n.connect(ctx); err != nil {
		p.mu.Lock()
		delete(p.nodes, cfg.Identifier)
		p.mu.Unlock()
		return nil, err
	}

	p.mu.Lock()
	p.nodes[cfg.Identifier] = n
	p.order = append(p.order, cfg.Identifier)
	p.mu.Unlock()

	p.log.Info("node registered", "node", cfg.Identifier)
	return n, nil
}

// Node returns the registered node with the given identifier.
func (p *Pool) Node(identifier string) (*Node, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.nodes[identifier]
	if n == nil {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, identifier)
	}
	return n, nil
}

// AnyNode returns the first connected node in registration order.
func (p *Pool) AnyNode() (*Node, error) {
	for _, n := range p.connectedNodes() {
		return n, nil
	}
	return nil, ErrNoNodesAvailable
}

// BestNode returns the connected node ranked best by the given algorithm.
// Ties resolve to the earlier-registered node.
func (p *Pool) BestNode(alg Algorithm) (*Node, error) {
	return p.bestNodeExcluding(alg, nil)
}

func (p *Pool) bestNodeExcluding(alg Algorithm, exclude *Node) (*Node, error) {
	var best *Node
	for _, n := range p.connectedNodes() {
		if n == exclude {
			continue
		}
		if best == nil {
			best = n
			continue
		}
		switch alg {
		case ByPlayers:
			if n.PlayerCount() < best.PlayerCount() {
				best = n
			}
		default:
			if n.Latency() < best.Latency() {
				best = n
			}
		}
	}
	if best == nil {
		return nil, ErrNoNodesAvailable
	}
	return best, nil
}

// connectedNodes returns connected nodes in registration order.
func (p *Pool) connectedNodes() []*Node {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*Node, 0, len(p.order))
	for _, id := range p.order {
		n := p.nodes[id]
		if n != nil && n.State() == StateConnected {
			out = append(out, n)
		}
	}
	return out
}

// Nodes returns all registered nodes in registration order.
func (p *Pool) Nodes() []*Node {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*Node, 0, len(p.order))
	for _, id := range p.order {
		if n := p.nodes[id]; n != nil {
			out = append(out, n)
		}
	}
	return out
}

// Player returns the player for the given guild, searching all nodes.
func (p *Pool) Player(guildID string) (*Player, error) {
	for _, n := range p.Nodes() {
		if pl, ok := n.Player(guildID); ok {
			return pl, nil
		}
	}
	return nil, fmt.Errorf("sonata: no player for guild %s", guildID)
}

// CreatePlayer creates a player for the guild on the least-loaded connected
// node.
func (p *Pool) CreatePlayer(guildID string) (*Player, error) {
	n, err := p.BestNode(ByPlayers)
	if err != nil {
		return nil, err
	}
	return n.CreatePlayer(guildID)
}

// handleNodeDown migrates or destroys the lost node's players. Called from
// the node's session goroutine on connection loss.
func (p *Pool) handleNodeDown(n *Node) {
	players := n.Players()
	if len(players) == 0 {
		return
	}

	for _, pl := range players {
		var target *Node
		if p.cfg.Fallback {
			target, _ = p.bestNodeExcluding(ByPlayers, n)
		}

		if target == nil {
			p.log.Warn("destroying player, no fallback node",
				"node", n.Identifier(), "guild", pl.GuildID())
			pl.destroyLocal("node lost")
			continue
		}

		n.removePlayer(pl.GuildID())
		if err := pl.rebind(target); err != nil {
			p.log.Warn("player rebind failed",
				"node", target.Identifier(), "guild", pl.GuildID(), "error", err)
			pl.destroyLocal("rebind failed")
			continue
		}
		p.log.Info("player migrated",
			"from", n.Identifier(), "to", target.Identifier(), "guild", pl.GuildID())
	}
}

// DisconnectAll destroys every player and closes every node. Idempotent.
func (p *Pool) DisconnectAll(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	for _, n := range p.Nodes() {
		for _, pl := range n.Players() {
			if err := pl.Destroy(ctx); err != nil {
				p.log.Warn("player destroy failed", "guild", pl.GuildID(), "error", err)
			}
		}
	}

	g, _ := errgroup.WithContext(ctx)
	for _, n := range p.Nodes() {
		g.Go(func() error {
			n.close()
			return nil
		})
	}
	return g.Wait()
}
