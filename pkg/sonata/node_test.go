package sonata

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestStatsFrameUpdatesNode(t *testing.T) {
	p := New(Config{UserID: "1"})
	n, fc := addTestNode(t, p, "MAIN")

	fc.feed(t, map[string]any{
		"op":             "stats",
		"players":        4,
		"playingPlayers": 2,
		"uptime":         120000,
		"memory":         map[string]any{"used": 1024, "free": 2048},
		"cpu":            map[string]any{"cores": 8, "systemLoad": 0.5, "lavalinkLoad": 0.1},
	})

	waitFor(t, 3*time.Second, func() bool {
		return n.Stats().Players == 4
	}, "stats frame")

	stats := n.Stats()
	if stats.PlayingPlayers != 2 || stats.CPU.Cores != 8 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.Uptime != 2*time.Minute {
		t.Errorf("Uptime = %v, want 2m", stats.Uptime)
	}
}

func TestMalformedFramesDropped(t *testing.T) {
	p := New(Config{UserID: "1"})
	n, fc := addTestNode(t, p, "MAIN")

	// Garbage, an unknown op, and an event for an unknown guild must all be
	// swallowed without killing the session.
	fc.in <- []byte("{not json")
	fc.feed(t, map[string]any{"op": "somethingNew"})
	fc.feed(t, map[string]any{"op": "event", "type": "TrackEndEvent", "guildId": "nope"})

	fc.feed(t, map[string]any{"op": "stats", "players": 7})
	waitFor(t, 3*time.Second, func() bool {
		return n.Stats().Players == 7
	}, "session to survive malformed frames")

	if n.State() != StateConnected {
		t.Errorf("state = %v, want connected", n.State())
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	p := New(Config{UserID: "1"})
	n, fc := addTestNode(t, p, "MAIN")

	fc.Close(0, "")
	waitFor(t, 3*time.Second, func() bool {
		return n.State() != StateConnected
	}, "node to notice the drop")

	err := n.send(context.Background(), "stop", stopFrame{Op: "stop", GuildID: "g1"})
	if !errors.Is(err, ErrNodeNotConnected) {
		t.Errorf("send() error = %v, want ErrNodeNotConnected", err)
	}
}

func TestConnectRetriesExhausted(t *testing.T) {
	p := New(Config{UserID: "1"})
	n := newNode(p, NodeConfig{
		Identifier: "DEAD", Host: "127.0.0.1", Port: 1, Password: "pw",
		ConnectRetries: 2,
	})
	dials := 0
	n.dial = func(context.Context) (wsConn, error) {
		dials++
		return nil, errors.New("connection refused")
	}

	err := n.connect(context.Background())
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("connect() error = %v, want ErrConnectionFailed", err)
	}
	if dials != 2 {
		t.Errorf("dial attempts = %d, want 2", dials)
	}
	if n.State() != StateDisconnected {
		t.Errorf("state = %v, want disconnected", n.State())
	}
}

func TestReconnectRaisesNodeReady(t *testing.T) {
	p := New(Config{UserID: "1"})

	first := newFakeConn()
	second := newFakeConn()
	conns := []*fakeConn{first, second}

	n := newNode(p, NodeConfig{
		Identifier: "MAIN", Host: "127.0.0.1", Port: 2333, Password: "pw",
	})
	var dialMu sync.Mutex
	n.dial = func(context.Context) (wsConn, error) {
		dialMu.Lock()
		defer dialMu.Unlock()
		if len(conns) == 0 {
			return nil, errors.New("connection refused")
		}
		c := conns[0]
		conns = conns[1:]
		return c, nil
	}

	var (
		mu    sync.Mutex
		ready []NodeReadyEvent
	)
	p.OnEvent(func(ev Event) {
		if re, ok := ev.(NodeReadyEvent); ok {
			mu.Lock()
			ready = append(ready, re)
			mu.Unlock()
		}
	})

	if err := n.connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(n.close)

	first.Close(0, "")

	waitFor(t, 5*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ready) == 2
	}, "reconnect ready event")

	mu.Lock()
	defer mu.Unlock()
	if ready[0].Reconnect || !ready[1].Reconnect {
		t.Errorf("ready events = %+v, want initial then reconnect", ready)
	}
	if n.State() != StateConnected {
		t.Errorf("state = %v, want connected after reconnect", n.State())
	}
}

func TestConfigureResumingSentOnConnect(t *testing.T) {
	p := New(Config{UserID: "1"})
	n, fc := addTestNode(t, p, "MAIN")

	frame := fc.lastFrameWithOp(t, "configureResuming")
	if frame["key"] != n.resumeKey {
		t.Errorf("resume key = %v, want %v", frame["key"], n.resumeKey)
	}
	if frame["timeout"] != float64(60) {
		t.Errorf("resume timeout = %v, want 60", frame["timeout"])
	}
}

func TestDecodeTrack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/decodetrack" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("track") != "enc123" {
			t.Errorf("track = %q", r.URL.Query().Get("track"))
		}
		if r.Header.Get("Authorization") != "youshallnotpass" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"identifier": "dQw4w9WgXcQ",
			"title":      "Never Gonna Give You Up",
			"author":     "Rick Astley",
			"length":     213000,
			"isSeekable": true,
			"sourceName": "youtube",
		})
	}))
	defer srv.Close()

	p := New(Config{UserID: "1"})
	n, _ := addTestNode(t, p, "MAIN")
	n.restBase = srv.URL

	got, err := n.DecodeTrack(context.Background(), "enc123")
	if err != nil {
		t.Fatalf("DecodeTrack() error = %v", err)
	}
	if got.ID != "enc123" || got.Title != "Never Gonna Give You Up" {
		t.Errorf("track = %+v", got)
	}
	if got.Length != 213*time.Second {
		t.Errorf("Length = %v, want 3m33s", got.Length)
	}
}

func TestRoutePlanner(t *testing.T) {
	var freed, freedAll bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/routeplanner/status":
			json.NewEncoder(w).Encode(map[string]any{
				"class": "RotatingIpRoutePlanner",
				"details": map[string]any{
					"ipBlock": map[string]any{"type": "Inet6Address", "size": "1208925819614629174706176"},
				},
			})
		case "/routeplanner/free/address":
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			freed = body["address"] == "10.0.0.1"
			w.WriteHeader(http.StatusNoContent)
		case "/routeplanner/free/all":
			freedAll = true
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := New(Config{UserID: "1"})
	n, _ := addTestNode(t, p, "MAIN")
	n.restBase = srv.URL
	ctx := context.Background()

	status, err := n.RoutePlanner(ctx)
	if err != nil {
		t.Fatalf("RoutePlanner() error = %v", err)
	}
	if status.Class != "RotatingIpRoutePlanner" {
		t.Errorf("Class = %q", status.Class)
	}

	if err := n.FreeAddress(ctx, "10.0.0.1"); err != nil || !freed {
		t.Errorf("FreeAddress() error = %v, freed = %v", err, freed)
	}
	if err := n.FreeAllAddresses(ctx); err != nil || !freedAll {
		t.Errorf("FreeAllAddresses() error = %v, freedAll = %v", err, freedAll)
	}
}
