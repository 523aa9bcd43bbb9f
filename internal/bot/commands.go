package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/sonata/pkg/filter"
	"github.com/MrWong99/sonata/pkg/queue"
	"github.com/MrWong99/sonata/pkg/sonata"
)

var (
	errNotInVoice    = errors.New("join a voice channel first")
	errNothingActive = errors.New("nothing is playing in this guild")
	errPoolNotReady  = errors.New("node pool is not ready yet")
)

func (b *Bot) registerCommands() {
	r := b.router
	r.Register("play", "play <query or url>", "queue a track, playlist, or search result", b.cmdPlay, "p")
	r.Register("join", "join", "move the bot into your voice channel", b.cmdJoin, "summon")
	r.Register("pause", "pause", "pause playback", b.cmdPause)
	r.Register("resume", "resume", "resume playback", b.cmdResume)
	r.Register("skip", "skip", "play the next queued track", b.cmdSkip, "next")
	r.Register("seek", "seek <position>", "seek within the current track, e.g. 1:23", b.cmdSeek)
	r.Register("volume", "volume <0-500>", "set the player volume", b.cmdVolume, "vol")
	r.Register("nowplaying", "nowplaying", "show the current track and position", b.cmdNowPlaying, "np")
	r.Register("queue", "queue", "list queued tracks", b.cmdQueue, "q")
	r.Register("shuffle", "shuffle", "shuffle the queue", b.cmdShuffle)
	r.Register("loop", "loop <off|track|queue>", "set the loop mode", b.cmdLoop)
	r.Register("jump", "jump <title>", "jump the queue to the named track", b.cmdJump)
	r.Register("remove", "remove <title>", "remove the named track from the queue", b.cmdRemove)
	r.Register("filter", "filter <nightcore|vaporwave|boost|metal|piano|8d|reset>", "apply or reset an audio filter", b.cmdFilter)
	r.Register("radio", "radio", "queue recommendations based on the current track", b.cmdRadio)
	r.Register("stop", "stop", "stop playback and clear the queue", b.cmdStop)
	r.Register("leave", "leave", "disconnect and drop the player", b.cmdLeave, "disconnect", "dc")
	r.Register("stats", "stats", "show node statistics", b.cmdStats)
	r.Register("help", "help", "list commands", b.cmdHelp, "commands")
}

// player returns the guild's existing player.
func (b *Bot) player(guildID string) (*sonata.Player, error) {
	pool := b.Pool()
	if pool == nil {
		return nil, errPoolNotReady
	}
	pl, err := pool.Player(guildID)
	if err != nil {
		return nil, errNothingActive
	}
	return pl, nil
}

// summonPlayer returns the guild's player, creating one bound to the
// invoker's voice channel when none exists.
func (b *Bot) summonPlayer(m *discordgo.MessageCreate) (*sonata.Player, error) {
	pool := b.Pool()
	if pool == nil {
		return nil, errPoolNotReady
	}

	if pl, err := pool.Player(m.GuildID); err == nil {
		return pl, nil
	}

	channelID, ok := b.userVoiceChannel(m.GuildID, m.Author.ID)
	if !ok {
		return nil, errNotInVoice
	}

	pl, err := pool.CreatePlayer(m.GuildID)
	if err != nil {
		return nil, err
	}
	if err := b.joinVoice(m.GuildID, channelID); err != nil {
		return nil, fmt.Errorf("join voice channel: %w", err)
	}
	return pl, nil
}

func (b *Bot) cmdJoin(_ context.Context, m *discordgo.MessageCreate, _ []string) error {
	if _, err := b.summonPlayer(m); err != nil {
		return err
	}
	b.reply(m.ChannelID, "Joined your voice channel.")
	return nil
}

func (b *Bot) cmdPlay(ctx context.Context, m *discordgo.MessageCreate, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: play <query or url>")
	}
	pl, err := b.summonPlayer(m)
	if err != nil {
		return err
	}

	res, err := pl.Node().GetTracks(ctx, strings.Join(args, " "))
	if err != nil {
		if errors.Is(err, sonata.ErrNoResults) {
			return errors.New("no results found")
		}
		return err
	}

	if res.Playlist != nil {
		for _, t := range res.Playlist.Tracks {
			t.Requester = m.Author.ID
			pl.Queue().Put(t)
		}
		b.reply(m.ChannelID, fmt.Sprintf("Queued **%s** (%d tracks).", res.Playlist.Name, len(res.Playlist.Tracks)))
	} else {
		t, ok := res.First()
		if !ok {
			return errors.New("no results found")
		}
		t.Requester = m.Author.ID
		pl.Queue().Put(t)
		b.reply(m.ChannelID, fmt.Sprintf("Queued **%s** by %s (%s).", t.Title, t.Author, fmtDuration(t.Length)))
	}

	// Kick playback off when nothing is active.
	if st := pl.State(); st == sonata.PlayerIdle || st == sonata.PlayerUnbound {
		next, err := pl.Queue().Get()
		if err != nil {
			return nil
		}
		if _, err := pl.Play(ctx, next); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bot) cmdPause(ctx context.Context, m *discordgo.MessageCreate, _ []string) error {
	pl, err := b.player(m.GuildID)
	if err != nil {
		return err
	}
	if err := pl.SetPause(ctx, true); err != nil {
		return err
	}
	b.reply(m.ChannelID, "Paused.")
	return nil
}

func (b *Bot) cmdResume(ctx context.Context, m *discordgo.MessageCreate, _ []string) error {
	pl, err := b.player(m.GuildID)
	if err != nil {
		return err
	}
	if err := pl.SetPause(ctx, false); err != nil {
		return err
	}
	b.reply(m.ChannelID, "Resumed.")
	return nil
}

func (b *Bot) cmdSkip(ctx context.Context, m *discordgo.MessageCreate, _ []string) error {
	pl, err := b.player(m.GuildID)
	if err != nil {
		return err
	}

	next, err := pl.Queue().Get()
	if err != nil {
		if err := pl.Stop(ctx); err != nil {
			return err
		}
		b.reply(m.ChannelID, "Skipped. The queue is empty.")
		return nil
	}
	if _, err := pl.Play(ctx, next); err != nil {
		return err
	}
	b.reply(m.ChannelID, fmt.Sprintf("Now playing **%s**.", next.Title))
	return nil
}

func (b *Bot) cmdSeek(ctx context.Context, m *discordgo.MessageCreate, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: seek <position>, e.g. seek 1:23")
	}
	pos, err := parsePosition(args[0])
	if err != nil {
		return err
	}
	pl, err := b.player(m.GuildID)
	if err != nil {
		return err
	}
	if err := pl.Seek(ctx, pos); err != nil {
		return err
	}
	b.reply(m.ChannelID, "Seeked to "+fmtDuration(pos)+".")
	return nil
}

func (b *Bot) cmdVolume(ctx context.Context, m *discordgo.MessageCreate, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: volume <0-500>")
	}
	vol, err := strconv.Atoi(args[0])
	if err != nil {
		return errors.New("volume must be a number between 0 and 500")
	}
	pl, err := b.player(m.GuildID)
	if err != nil {
		return err
	}
	if err := pl.SetVolume(ctx, vol); err != nil {
		return err
	}
	b.reply(m.ChannelID, fmt.Sprintf("Volume set to %d%%.", vol))
	return nil
}

func (b *Bot) cmdNowPlaying(_ context.Context, m *discordgo.MessageCreate, _ []string) error {
	pl, err := b.player(m.GuildID)
	if err != nil {
		return err
	}
	t, ok := pl.Current()
	if !ok {
		return errNothingActive
	}
	b.reply(m.ChannelID, fmt.Sprintf("**%s** by %s [%s / %s]",
		t.Title, t.Author, fmtDuration(pl.Position()), fmtDuration(t.Length)))
	return nil
}

func (b *Bot) cmdQueue(_ context.Context, m *discordgo.MessageCreate, _ []string) error {
	pl, err := b.player(m.GuildID)
	if err != nil {
		return err
	}
	tracks := pl.Queue().Tracks()
	if len(tracks) == 0 {
		b.reply(m.ChannelID, "The queue is empty.")
		return nil
	}

	const maxListed = 10
	var sb strings.Builder
	fmt.Fprintf(&sb, "Queue (%d tracks, loop %s):\n", len(tracks), pl.Queue().LoopMode())
	for i, t := range tracks {
		if i == maxListed {
			fmt.Fprintf(&sb, "…and %d more.", len(tracks)-maxListed)
			break
		}
		fmt.Fprintf(&sb, "%d. %s — %s (%s)\n", i+1, t.Title, t.Author, fmtDuration(t.Length))
	}
	b.reply(m.ChannelID, sb.String())
	return nil
}

func (b *Bot) cmdShuffle(_ context.Context, m *discordgo.MessageCreate, _ []string) error {
	pl, err := b.player(m.GuildID)
	if err != nil {
		return err
	}
	pl.Queue().Shuffle()
	b.reply(m.ChannelID, "Queue shuffled.")
	return nil
}

func (b *Bot) cmdLoop(_ context.Context, m *discordgo.MessageCreate, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: loop <off|track|queue>")
	}
	pl, err := b.player(m.GuildID)
	if err != nil {
		return err
	}

	var mode queue.LoopMode
	switch strings.ToLower(args[0]) {
	case "off", "none":
		mode = queue.LoopNone
	case "track":
		mode = queue.LoopTrack
	case "queue":
		mode = queue.LoopQueue
	default:
		return errors.New("usage: loop <off|track|queue>")
	}
	pl.Queue().SetLoopMode(mode)
	b.reply(m.ChannelID, "Loop mode set to "+mode.String()+".")
	return nil
}

func (b *Bot) cmdJump(_ context.Context, m *discordgo.MessageCreate, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: jump <title>")
	}
	pl, err := b.player(m.GuildID)
	if err != nil {
		return err
	}

	q := pl.Queue()
	t, err := q.FindByTitle(strings.Join(args, " "))
	if err != nil {
		return errors.New("no queued track matches that title")
	}
	if err := q.Jump(t); err != nil {
		return err
	}
	b.reply(m.ChannelID, fmt.Sprintf("Jumped to **%s**.", t.Title))
	return nil
}

func (b *Bot) cmdRemove(_ context.Context, m *discordgo.MessageCreate, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: remove <title>")
	}
	pl, err := b.player(m.GuildID)
	if err != nil {
		return err
	}

	q := pl.Queue()
	t, err := q.FindByTitle(strings.Join(args, " "))
	if err != nil {
		return errors.New("no queued track matches that title")
	}
	if err := q.Remove(t); err != nil {
		return err
	}
	b.reply(m.ChannelID, fmt.Sprintf("Removed **%s**.", t.Title))
	return nil
}

func (b *Bot) cmdFilter(ctx context.Context, m *discordgo.MessageCreate, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: filter <nightcore|vaporwave|boost|metal|piano|8d|reset>")
	}
	pl, err := b.player(m.GuildID)
	if err != nil {
		return err
	}

	name := strings.ToLower(args[0])
	if name == "reset" {
		if err := pl.ResetFilters(ctx); err != nil {
			return err
		}
		b.reply(m.ChannelID, "Filters reset.")
		return nil
	}

	var f filter.Filter
	switch name {
	case "nightcore":
		f = filter.Nightcore()
	case "vaporwave":
		f = filter.Vaporwave()
	case "boost":
		f = filter.Boost()
	case "metal":
		f = filter.Metal()
	case "piano":
		f = filter.Piano()
	case "8d":
		f = filter.Rotation{RotationHz: 0.2}
	default:
		return errors.New("unknown filter " + name)
	}

	if err := pl.AddFilter(ctx, f); err != nil {
		return err
	}
	b.reply(m.ChannelID, "Applied the "+name+" filter.")
	return nil
}

func (b *Bot) cmdRadio(ctx context.Context, m *discordgo.MessageCreate, _ []string) error {
	pl, err := b.player(m.GuildID)
	if err != nil {
		return err
	}
	seed, ok := pl.Current()
	if !ok {
		return errNothingActive
	}

	recs, err := pl.Node().GetRecommendations(ctx, seed)
	if err != nil {
		if errors.Is(err, sonata.ErrUnsupportedSource) {
			return errors.New("recommendations are not available for this track's source")
		}
		return err
	}
	if len(recs) == 0 {
		return errors.New("no recommendations found")
	}

	added := pl.Queue().Put(recs...)
	b.reply(m.ChannelID, fmt.Sprintf("Queued %d recommended tracks.", added))
	return nil
}

func (b *Bot) cmdStop(ctx context.Context, m *discordgo.MessageCreate, _ []string) error {
	pl, err := b.player(m.GuildID)
	if err != nil {
		return err
	}
	pl.Queue().Clear()
	if err := pl.Stop(ctx); err != nil {
		return err
	}
	b.reply(m.ChannelID, "Stopped and cleared the queue.")
	return nil
}

func (b *Bot) cmdLeave(ctx context.Context, m *discordgo.MessageCreate, _ []string) error {
	pl, err := b.player(m.GuildID)
	if err != nil {
		return err
	}
	if err := pl.Destroy(ctx); err != nil && !errors.Is(err, sonata.ErrPlayerDestroyed) {
		return err
	}
	if err := b.leaveVoice(m.GuildID); err != nil {
		b.log.Warn("failed to leave voice channel", "guild", m.GuildID, "err", err)
	}
	b.reply(m.ChannelID, "Disconnected.")
	return nil
}

func (b *Bot) cmdStats(_ context.Context, m *discordgo.MessageCreate, _ []string) error {
	pool := b.Pool()
	if pool == nil {
		return errPoolNotReady
	}

	var sb strings.Builder
	for _, n := range pool.Nodes() {
		stats := n.Stats()
		fmt.Fprintf(&sb, "**%s** [%s] players=%d/%d latency=%s uptime=%s\n",
			n.Identifier(), n.State(), stats.PlayingPlayers, stats.Players,
			fmtLatency(n.Latency()), stats.Uptime.Round(time.Second))
	}
	if sb.Len() == 0 {
		return errors.New("no nodes registered")
	}
	b.reply(m.ChannelID, sb.String())
	return nil
}

func (b *Bot) cmdHelp(_ context.Context, m *discordgo.MessageCreate, _ []string) error {
	b.reply(m.ChannelID, strings.Join(b.router.Usage(), "\n"))
	return nil
}

// fmtDuration renders a duration as m:ss or h:mm:ss.
func fmtDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	h, m, s := total/3600, total/60%60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func fmtLatency(d time.Duration) string {
	if d == sonata.LatencyUnreachable {
		return "unreachable"
	}
	return d.Round(time.Millisecond).String()
}

// parsePosition parses seek positions: plain seconds ("90"), m:ss ("1:23"),
// or h:mm:ss ("1:02:03").
func parsePosition(s string) (time.Duration, error) {
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, errors.New("position must look like 90, 1:23, or 1:02:03")
	}

	var total int
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return 0, errors.New("position must look like 90, 1:23, or 1:02:03")
		}
		total = total*60 + n
	}
	return time.Duration(total) * time.Second, nil
}
