// Package queue implements an ordered, loop-aware track queue with fuzzy
// title lookup. All operations are safe for concurrent use.
package queue

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/sonata/pkg/track"
)

// LoopMode controls what happens when the head of the queue is consumed.
type LoopMode int

const (
	// LoopNone consumes tracks front to back without repetition.
	LoopNone LoopMode = iota

	// LoopTrack repeats the head track until the mode changes.
	LoopTrack

	// LoopQueue rotates consumed tracks to the tail, cycling the whole queue.
	LoopQueue
)

func (m LoopMode) String() string {
	switch m {
	case LoopNone:
		return "none"
	case LoopTrack:
		return "track"
	case LoopQueue:
		return "queue"
	default:
		return fmt.Sprintf("LoopMode(%d)", int(m))
	}
}

// ErrEmpty is returned when an operation needs a track and the queue has none.
var ErrEmpty = errors.New("queue is empty")

// ErrNotFound is returned when a lookup matches no track.
var ErrNotFound = errors.New("track not found in queue")

// fuzzyThreshold is the minimum Jaro-Winkler similarity for a title to count
// as a fuzzy match.
const fuzzyThreshold = 0.70

// Queue is a bounded FIFO of tracks with configurable loop behavior.
// The zero value is not usable; use New.
type Queue struct {
	mu       sync.Mutex
	tracks   []track.Track
	loopMode LoopMode
	maxSize  int
}

// New creates an empty queue. maxSize bounds the number of queued tracks;
// pass 0 or a negative value for an unbounded queue.
func New(maxSize int) *Queue {
	return &Queue{maxSize: maxSize}
}

// Put appends tracks to the tail. When the queue is bounded, tracks beyond
// the capacity are dropped and the number actually enqueued is returned.
func (q *Queue) Put(tracks ...track.Track) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	accepted := len(tracks)
	if q.maxSize > 0 {
		if room := q.maxSize - len(q.tracks); room < accepted {
			if room < 0 {
				room = 0
			}
			accepted = room
		}
	}
	q.tracks = append(q.tracks, tracks[:accepted]...)
	return accepted
}

// PutFront inserts a track at the head so it plays next. When the queue is
// bounded and full, the tail track is dropped to make room.
func (q *Queue) PutFront(t track.Track) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.maxSize > 0 && len(q.tracks) >= q.maxSize {
		q.tracks = q.tracks[:q.maxSize-1]
	}
	q.tracks = append([]track.Track{t}, q.tracks...)
}

// Get consumes and returns the next track according to the loop mode:
// LoopNone removes and returns the head, LoopTrack returns the head without
// removing it, and LoopQueue rotates the head to the tail.
func (q *Queue) Get() (track.Track, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tracks) == 0 {
		return track.Track{}, ErrEmpty
	}

	head := q.tracks[0]
	switch q.loopMode {
	case LoopTrack:
	case LoopQueue:
		q.tracks = append(q.tracks[1:], head)
	default:
		q.tracks = q.tracks[1:]
	}
	return head, nil
}

// Peek returns the next track without consuming it.
func (q *Queue) Peek() (track.Track, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tracks) == 0 {
		return track.Track{}, ErrEmpty
	}
	return q.tracks[0], nil
}

// Remove deletes the first queued track with the same encoded ID as t.
func (q *Queue) Remove(t track.Track) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, queued := range q.tracks {
		if queued.Same(t) {
			q.tracks = append(q.tracks[:i], q.tracks[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// FindPosition returns the zero-based position of the first queued track with
// the same encoded ID as t.
func (q *Queue) FindPosition(t track.Track) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, queued := range q.tracks {
		if queued.Same(t) {
			return i, nil
		}
	}
	return 0, ErrNotFound
}

// Jump advances the queue so that t becomes the head, dropping every track
// before it.
func (q *Queue) Jump(t track.Track) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, queued := range q.tracks {
		if queued.Same(t) {
			q.tracks = q.tracks[i:]
			return nil
		}
	}
	return ErrNotFound
}

// FindByTitle returns the queued track whose title best matches the query.
// Matching is case-insensitive: an exact title match wins outright, otherwise
// the track with the highest Jaro-Winkler similarity above the match
// threshold is returned. Ties go to the earliest queue position.
func (q *Queue) FindByTitle(query string) (track.Track, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return track.Track{}, ErrNotFound
	}

	best := -1
	bestScore := fuzzyThreshold
	for i, queued := range q.tracks {
		title := strings.ToLower(queued.Title)
		if title == needle {
			return queued, nil
		}
		if score := matchr.JaroWinkler(needle, title, false); score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return track.Track{}, fmt.Errorf("%w: no title close to %q", ErrNotFound, query)
	}
	return q.tracks[best], nil
}

// Shuffle randomly reorders the queued tracks.
func (q *Queue) Shuffle() {
	q.mu.Lock()
	defer q.mu.Unlock()

	rand.Shuffle(len(q.tracks), func(i, j int) {
		q.tracks[i], q.tracks[j] = q.tracks[j], q.tracks[i]
	})
}

// Clear removes all tracks. The loop mode is kept.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tracks = nil
}

// Len returns the number of queued tracks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tracks)
}

// Tracks returns a snapshot of the queued tracks in order.
func (q *Queue) Tracks() []track.Track {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]track.Track, len(q.tracks))
	copy(out, q.tracks)
	return out
}

// LoopMode returns the current loop mode.
func (q *Queue) LoopMode() LoopMode {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.loopMode
}

// SetLoopMode changes how Get consumes the head. Takes effect on the next
// Get; tracks already consumed are unaffected.
func (q *Queue) SetLoopMode(mode LoopMode) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.loopMode = mode
}
