// Package bot provides the Discord front end for the node pool. It owns the
// discordgo.Session lifecycle, routes prefix commands to registered handlers,
// and forwards gateway voice updates to the players that need them.
package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/sonata/pkg/sonata"
)

// Config holds Discord bot configuration.
type Config struct {
	// Token is the raw Discord bot token.
	Token string

	// Prefix introduces text commands. Defaults to "!".
	Prefix string

	// Status is the presence text shown for the bot. Optional.
	Status string
}

// Bot owns the Discord gateway connection, routes messages to command
// handlers, and bridges voice updates into the pool's players.
type Bot struct {
	session *discordgo.Session
	router  *Router
	status  string
	log     *slog.Logger

	mu        sync.RWMutex
	pool      *sonata.Pool
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Bot, connects to Discord, and registers the gateway handlers.
// The pool is attached afterwards with [Bot.AttachPool], since it needs the
// session's user ID for the node handshake.
func New(_ context.Context, cfg Config) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("bot: create session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuilds |
		discordgo.IntentMessageContent

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("bot: open session: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "!"
	}

	b := &Bot{
		session: session,
		router:  NewRouter(prefix),
		status:  cfg.Status,
		log:     slog.Default().With("component", "bot"),
		done:    make(chan struct{}),
	}
	b.registerCommands()

	session.AddHandler(b.onMessageCreate)
	session.AddHandler(b.onVoiceServerUpdate)
	session.AddHandler(b.onVoiceStateUpdate)

	return b, nil
}

// UserID returns the bot's own user ID, known once the session is open.
func (b *Bot) UserID() string {
	return b.session.State.User.ID
}

// Session returns the underlying discordgo session.
func (b *Bot) Session() *discordgo.Session {
	return b.session
}

// Router returns the command router for registering handlers.
func (b *Bot) Router() *Router {
	return b.router
}

// AttachPool binds the node pool the command handlers operate on.
func (b *Bot) AttachPool(p *sonata.Pool) {
	b.mu.Lock()
	b.pool = p
	b.mu.Unlock()
}

// Pool returns the attached pool, or nil before AttachPool.
func (b *Bot) Pool() *sonata.Pool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.pool
}

// Run sets the bot's presence and blocks until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	if b.status != "" {
		if err := b.session.UpdateListeningStatus(b.status); err != nil {
			b.log.Warn("failed to set presence", "err", err)
		}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return nil
	}
}

// Close disconnects from Discord. Idempotent.
func (b *Bot) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		close(b.done)
		if err := b.session.Close(); err != nil {
			closeErr = fmt.Errorf("bot: close session: %w", err)
		}
		b.log.Info("discord bot closed")
	})
	return closeErr
}

// reply sends a plain text message to a channel, logging failures.
func (b *Bot) reply(channelID, content string) {
	if _, err := b.session.ChannelMessageSend(channelID, content); err != nil {
		b.log.Warn("failed to send reply", "channel", channelID, "err", err)
	}
}

// userVoiceChannel returns the voice channel the user currently occupies in
// the guild.
func (b *Bot) userVoiceChannel(guildID, userID string) (string, bool) {
	g, err := b.session.State.Guild(guildID)
	if err != nil {
		return "", false
	}
	for _, vs := range g.VoiceStates {
		if vs.UserID == userID {
			return vs.ChannelID, true
		}
	}
	return "", false
}

// joinVoice asks the gateway to move the bot into a voice channel. The node
// takes over the voice connection once the resulting updates are forwarded,
// so no local voice socket is opened.
func (b *Bot) joinVoice(guildID, channelID string) error {
	return b.session.ChannelVoiceJoinManual(guildID, channelID, false, true)
}

// leaveVoice disconnects the bot from voice in the guild.
func (b *Bot) leaveVoice(guildID string) error {
	return b.session.ChannelVoiceJoinManual(guildID, "", false, true)
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}
	b.router.Dispatch(context.Background(), b, m)
}

// onVoiceServerUpdate forwards the raw voice server payload to the guild's
// player. The node needs it verbatim to open its own voice connection.
func (b *Bot) onVoiceServerUpdate(_ *discordgo.Session, e *discordgo.VoiceServerUpdate) {
	pool := b.Pool()
	if pool == nil {
		return
	}
	pl, err := pool.Player(e.GuildID)
	if err != nil {
		b.log.Debug("voice server update for guild without player", "guild", e.GuildID)
		return
	}

	payload, err := json.Marshal(e)
	if err != nil {
		b.log.Warn("failed to encode voice server update", "guild", e.GuildID, "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := pl.OnVoiceServerUpdate(ctx, payload); err != nil {
		b.log.Warn("failed to forward voice server update", "guild", e.GuildID, "err", err)
	}
}

// onVoiceStateUpdate forwards the bot's own session ID to the guild's player
// and tears the player down when the bot is disconnected from voice.
func (b *Bot) onVoiceStateUpdate(s *discordgo.Session, e *discordgo.VoiceStateUpdate) {
	if e.UserID != s.State.User.ID {
		return
	}
	pool := b.Pool()
	if pool == nil {
		return
	}
	pl, err := pool.Player(e.GuildID)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if e.ChannelID == "" {
		if err := pl.Destroy(ctx); err != nil {
			b.log.Warn("failed to destroy player on voice disconnect", "guild", e.GuildID, "err", err)
		}
		return
	}

	if err := pl.OnVoiceStateUpdate(ctx, e.SessionID); err != nil {
		b.log.Warn("failed to forward voice state update", "guild", e.GuildID, "err", err)
	}
}
