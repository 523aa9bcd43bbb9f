package sonata

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/sonata/pkg/track"
)

// fakeConn is an in-memory wsConn. Frames written by the node are recorded;
// inbound frames are fed through the in channel.
type fakeConn struct {
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	sent [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	case <-c.closed:
		return 0, nil, net.ErrClosed
	case data := <-c.in:
		return websocket.MessageText, data, nil
	}
}

func (c *fakeConn) Write(_ context.Context, _ websocket.MessageType, data []byte) error {
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Ping(context.Context) error {
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
		return nil
	}
}

func (c *fakeConn) Close(websocket.StatusCode, string) error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// feed delivers one inbound frame to the node's read loop.
func (c *fakeConn) feed(t *testing.T, frame any) {
	t.Helper()
	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	select {
	case c.in <- data:
	case <-time.After(time.Second):
		t.Fatal("read loop did not accept frame")
	}
}

// ops returns the op field of every frame written so far.
func (c *fakeConn) ops() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, len(c.sent))
	for _, data := range c.sent {
		var frame struct {
			Op string `json:"op"`
		}
		_ = json.Unmarshal(data, &frame)
		out = append(out, frame.Op)
	}
	return out
}

// frame returns the i-th written frame decoded into a generic map.
func (c *fakeConn) frame(t *testing.T, i int) map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	if i >= len(c.sent) {
		t.Fatalf("frame %d not sent, have %d", i, len(c.sent))
	}
	var out map[string]any
	if err := json.Unmarshal(c.sent[i], &out); err != nil {
		t.Fatalf("decode frame %d: %v", i, err)
	}
	return out
}

// lastFrameWithOp returns the most recent written frame with the given op.
func (c *fakeConn) lastFrameWithOp(t *testing.T, op string) map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := len(c.sent) - 1; i >= 0; i-- {
		var out map[string]any
		if err := json.Unmarshal(c.sent[i], &out); err != nil {
			continue
		}
		if out["op"] == op {
			return out
		}
	}
	t.Fatalf("no frame with op %q sent", op)
	return nil
}

// addTestNode registers a connected node backed by a fakeConn. Once the
// fakeConn is closed, reconnect attempts fail so the node stays down.
func addTestNode(t *testing.T, p *Pool, id string) (*Node, *fakeConn) {
	t.Helper()

	fc := newFakeConn()
	n := newNode(p, NodeConfig{
		Identifier: id,
		Host:       "127.0.0.1",
		Port:       2333,
		Password:   "youshallnotpass",
	})
	n.dial = func(context.Context) (wsConn, error) {
		select {
		case <-fc.closed:
			return nil, errors.New("connection refused")
		default:
			return fc, nil
		}
	}
	if err := n.connect(context.Background()); err != nil {
		t.Fatalf("connect node %s: %v", id, err)
	}
	t.Cleanup(n.close)

	p.mu.Lock()
	p.nodes[id] = n
	p.order = append(p.order, id)
	p.mu.Unlock()
	return n, fc
}

// mkTestTrack returns a seekable three-minute track.
func mkTestTrack(id, title string) track.Track {
	return track.Track{
		ID:         id,
		Title:      title,
		Author:     "artist",
		Length:     3 * time.Minute,
		IsSeekable: true,
		Source:     track.SourceYouTube,
	}
}

// waitFor polls until cond holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}
