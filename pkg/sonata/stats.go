package sonata

import "time"

// NodeStats is the periodic resource report a node pushes over its session.
type NodeStats struct {
	Players        int `json:"players"`
	PlayingPlayers int `json:"playingPlayers"`

	Uptime time.Duration `json:"-"`

	UptimeMS int64 `json:"uptime"`

	Memory struct {
		Free       int64 `json:"free"`
		Used       int64 `json:"used"`
		Allocated  int64 `json:"allocated"`
		Reservable int64 `json:"reservable"`
	} `json:"memory"`

	CPU struct {
		Cores        int     `json:"cores"`
		SystemLoad   float64 `json:"systemLoad"`
		LavalinkLoad float64 `json:"lavalinkLoad"`
	} `json:"cpu"`

	FrameStats struct {
		Sent    int64 `json:"sent"`
		Nulled  int64 `json:"nulled"`
		Deficit int64 `json:"deficit"`
	} `json:"frameStats"`
}

// normalize derives the duration fields from their millisecond wire values.
func (s *NodeStats) normalize() {
	s.Uptime = time.Duration(s.UptimeMS) * time.Millisecond
}
