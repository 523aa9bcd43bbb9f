package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// HandlerFunc is the signature for prefix command handlers. args holds the
// whitespace-split words after the command name.
type HandlerFunc func(ctx context.Context, m *discordgo.MessageCreate, args []string) error

// command stores a command definition along with its handler.
type command struct {
	name    string
	usage   string
	help    string
	handler HandlerFunc
}

// Router dispatches prefix commands from message content to registered
// handlers.
type Router struct {
	prefix string

	mu       sync.RWMutex
	commands map[string]*command // name or alias → command
	order    []string            // registration order, primary names only
}

// NewRouter creates an empty router using the given command prefix.
func NewRouter(prefix string) *Router {
	return &Router{
		prefix:   prefix,
		commands: make(map[string]*command),
	}
}

// Prefix returns the router's command prefix.
func (r *Router) Prefix() string {
	return r.prefix
}

// Register adds a command under its name and any aliases. Registering an
// existing name overwrites the previous handler.
func (r *Router) Register(name, usage, help string, handler HandlerFunc, aliases ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cmd := &command{name: name, usage: usage, help: help, handler: handler}
	if _, exists := r.commands[name]; !exists {
		r.order = append(r.order, name)
	}
	r.commands[name] = cmd
	for _, alias := range aliases {
		r.commands[alias] = cmd
	}
}

// Usage returns a help line per command in registration order.
func (r *Router) Usage() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lines := make([]string, 0, len(r.order))
	for _, name := range r.order {
		cmd := r.commands[name]
		lines = append(lines, fmt.Sprintf("%s%s — %s", r.prefix, cmd.usage, cmd.help))
	}
	return lines
}

// parseCommand splits message content into a command name and arguments.
// Returns ok=false when the content does not start with the prefix or names
// no command at all.
func parseCommand(prefix, content string) (name string, args []string, ok bool) {
	rest, found := strings.CutPrefix(content, prefix)
	if !found {
		return "", nil, false
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

// Dispatch parses the message and invokes the matching handler. Handler
// errors are reported back to the channel as a message.
func (r *Router) Dispatch(ctx context.Context, b *Bot, m *discordgo.MessageCreate) {
	name, args, ok := parseCommand(r.prefix, m.Content)
	if !ok {
		return
	}

	r.mu.RLock()
	cmd, exists := r.commands[name]
	r.mu.RUnlock()

	if !exists {
		slog.Debug("unknown command", "name", name, "guild", m.GuildID)
		return
	}

	if err := cmd.handler(ctx, m, args); err != nil {
		b.reply(m.ChannelID, "Error: "+err.Error())
	}
}
