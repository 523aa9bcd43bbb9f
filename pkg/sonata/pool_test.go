package sonata

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestCreateNodeDuplicate(t *testing.T) {
	p := New(Config{UserID: "1"})
	addTestNode(t, p, "MAIN")

	_, err := p.CreateNode(context.Background(), NodeConfig{
		Identifier: "MAIN", Host: "127.0.0.1", Port: 2333, Password: "pw",
	})
	if !errors.Is(err, ErrDuplicateNode) {
		t.Errorf("CreateNode(duplicate) error = %v, want ErrDuplicateNode", err)
	}
}

func TestNodeLookup(t *testing.T) {
	p := New(Config{UserID: "1"})
	n, _ := addTestNode(t, p, "MAIN")

	got, err := p.Node("MAIN")
	if err != nil || got != n {
		t.Errorf("Node(MAIN) = %v, %v", got, err)
	}
	if _, err := p.Node("missing"); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("Node(missing) error = %v, want ErrNodeNotFound", err)
	}
}

func TestAnyNodeEmptyPool(t *testing.T) {
	p := New(Config{UserID: "1"})
	if _, err := p.AnyNode(); !errors.Is(err, ErrNoNodesAvailable) {
		t.Errorf("AnyNode() error = %v, want ErrNoNodesAvailable", err)
	}
}

func TestBestNodeByPlayers(t *testing.T) {
	p := New(Config{UserID: "1"})
	a, _ := addTestNode(t, p, "A")
	b, _ := addTestNode(t, p, "B")
	c, _ := addTestNode(t, p, "C")

	for i, guild := range []string{"g1", "g2", "g3"} {
		if _, err := a.CreatePlayer(guild); err != nil {
			t.Fatalf("create player %d: %v", i, err)
		}
	}
	if _, err := b.CreatePlayer("g4"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.CreatePlayer("g5"); err != nil {
		t.Fatal(err)
	}

	// B and C tie at one player each; the earlier-registered node wins.
	got, err := p.BestNode(ByPlayers)
	if err != nil {
		t.Fatalf("BestNode() error = %v", err)
	}
	if got != b {
		t.Errorf("BestNode(ByPlayers) = %s, want B", got.Identifier())
	}
}

func TestBestNodeByPing(t *testing.T) {
	p := New(Config{UserID: "1"})
	a, _ := addTestNode(t, p, "A")
	b, _ := addTestNode(t, p, "B")

	a.mu.Lock()
	a.latency = 80 * time.Millisecond
	a.mu.Unlock()
	b.mu.Lock()
	b.latency = 20 * time.Millisecond
	b.mu.Unlock()

	got, err := p.BestNode(ByPing)
	if err != nil {
		t.Fatalf("BestNode() error = %v", err)
	}
	if got != b {
		t.Errorf("BestNode(ByPing) = %s, want B", got.Identifier())
	}
}

func TestCreatePlayerOnePerGuild(t *testing.T) {
	p := New(Config{UserID: "1"})
	a, _ := addTestNode(t, p, "A")
	b, _ := addTestNode(t, p, "B")

	if _, err := a.CreatePlayer("g1"); err != nil {
		t.Fatal(err)
	}
	if _, err := b.CreatePlayer("g1"); !errors.Is(err, ErrPlayerExists) {
		t.Errorf("CreatePlayer(same guild, other node) error = %v, want ErrPlayerExists", err)
	}
}

func TestFailoverRebindsPlayers(t *testing.T) {
	p := New(Config{UserID: "1", Fallback: true})
	a, fcA := addTestNode(t, p, "A")
	b, fcB := addTestNode(t, p, "B")

	pl, err := a.CreatePlayer("g1")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := pl.OnVoiceStateUpdate(ctx, "sess-1"); err != nil {
		t.Fatal(err)
	}
	if err := pl.OnVoiceServerUpdate(ctx, []byte(`{"token":"tok","endpoint":"voice.example"}`)); err != nil {
		t.Fatal(err)
	}
	if _, err := pl.Play(ctx, mkTestTrack("t1", "Song One")); err != nil {
		t.Fatal(err)
	}
	if err := pl.SetVolume(ctx, 80); err != nil {
		t.Fatal(err)
	}

	// Drop node A; the pool should move the player to B and replay its state.
	fcA.Close(0, "")

	waitFor(t, 3*time.Second, func() bool {
		return pl.Node() == b && len(fcB.ops()) >= 3
	}, "player migration to node B")

	if _, ok := b.Player("g1"); !ok {
		t.Error("player not registered on node B")
	}

	voice := fcB.lastFrameWithOp(t, "voiceUpdate")
	if voice["sessionId"] != "sess-1" {
		t.Errorf("voiceUpdate sessionId = %v, want sess-1", voice["sessionId"])
	}
	play := fcB.lastFrameWithOp(t, "play")
	if play["track"] != "t1" {
		t.Errorf("play track = %v, want t1", play["track"])
	}
	volume := fcB.lastFrameWithOp(t, "volume")
	if volume["volume"] != float64(80) {
		t.Errorf("volume = %v, want 80", volume["volume"])
	}
}

func TestFailoverKeepsPausedState(t *testing.T) {
	p := New(Config{UserID: "1", Fallback: true})
	a, fcA := addTestNode(t, p, "A")
	b, fcB := addTestNode(t, p, "B")

	pl, err := a.CreatePlayer("g1")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := pl.OnVoiceStateUpdate(ctx, "sess-1"); err != nil {
		t.Fatal(err)
	}
	if err := pl.OnVoiceServerUpdate(ctx, []byte(`{"token":"tok","endpoint":"voice.example"}`)); err != nil {
		t.Fatal(err)
	}
	if _, err := pl.Play(ctx, mkTestTrack("t1", "Song One")); err != nil {
		t.Fatal(err)
	}
	if err := pl.SetPause(ctx, true); err != nil {
		t.Fatal(err)
	}

	fcA.Close(0, "")

	// Rebind replays voiceUpdate, play, pause, and volume in order.
	waitFor(t, 3*time.Second, func() bool {
		return pl.Node() == b && len(fcB.ops()) >= 4
	}, "player migration to node B")

	pause := fcB.lastFrameWithOp(t, "pause")
	if pause["pause"] != true {
		t.Errorf("pause frame = %v, want pause=true", pause["pause"])
	}
	if !pl.IsPaused() {
		t.Error("IsPaused() = false after migrating a paused player, want true")
	}
	if got := pl.State(); got != PlayerPaused {
		t.Errorf("State() = %v, want paused", got)
	}

	// Resuming must reach the new node instead of short-circuiting on stale
	// local state.
	sent := len(fcB.ops())
	if err := pl.SetPause(ctx, false); err != nil {
		t.Fatalf("SetPause(false) error = %v", err)
	}
	if len(fcB.ops()) != sent+1 {
		t.Fatalf("SetPause(false) dispatched %d frames, want 1", len(fcB.ops())-sent)
	}
	resume := fcB.lastFrameWithOp(t, "pause")
	if resume["pause"] != false {
		t.Errorf("resume frame = %v, want pause=false", resume["pause"])
	}
	if pl.IsPaused() {
		t.Error("IsPaused() = true after resuming, want false")
	}
}

func TestNodeLossWithoutFallbackDestroysPlayers(t *testing.T) {
	p := New(Config{UserID: "1", Fallback: false})
	a, fcA := addTestNode(t, p, "A")
	addTestNode(t, p, "B")

	pl, err := a.CreatePlayer("g1")
	if err != nil {
		t.Fatal(err)
	}

	var (
		mu        sync.Mutex
		destroyed []PlayerDestroyedEvent
	)
	p.OnEvent(func(ev Event) {
		if de, ok := ev.(PlayerDestroyedEvent); ok {
			mu.Lock()
			destroyed = append(destroyed, de)
			mu.Unlock()
		}
	})

	fcA.Close(0, "")

	waitFor(t, 3*time.Second, func() bool {
		return pl.State() == PlayerDestroyed
	}, "player destruction")

	mu.Lock()
	defer mu.Unlock()
	if len(destroyed) != 1 || destroyed[0].GuildID() != "g1" {
		t.Errorf("destroyed events = %+v, want one for g1", destroyed)
	}
}

func TestDisconnectAllIdempotent(t *testing.T) {
	p := New(Config{UserID: "1"})
	a, fc := addTestNode(t, p, "A")
	if _, err := a.CreatePlayer("g1"); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := p.DisconnectAll(ctx); err != nil {
		t.Fatalf("DisconnectAll() error = %v", err)
	}
	if err := p.DisconnectAll(ctx); err != nil {
		t.Fatalf("second DisconnectAll() error = %v", err)
	}

	if a.State() != StateDisconnected {
		t.Errorf("node state = %v, want disconnected", a.State())
	}
	for _, op := range fc.ops() {
		if op == "destroy" {
			return
		}
	}
	t.Error("destroy op not sent during shutdown")
}

func TestLatencyUnreachableWhileDown(t *testing.T) {
	p := New(Config{UserID: "1"})
	n, fc := addTestNode(t, p, "A")

	fc.Close(0, "")
	waitFor(t, 3*time.Second, func() bool {
		return n.State() != StateConnected
	}, "node to notice the drop")

	if got := n.Latency(); got != LatencyUnreachable {
		t.Errorf("Latency() = %v, want LatencyUnreachable", got)
	}
}
