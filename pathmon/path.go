package pathmon

import (
	"sort"
	"time"
)

// Path states. A path starts Up, is downgraded to Degraded on the
// first probe failure and to Down after enough consecutive failures.
// A single successful probe brings it back Up.
type State int

const (
	Down State = iota
	Degraded
	Up
)

func (s State) String() string {
	switch s {
	case Up:
		return "up"
	case Degraded:
		return "degraded"
	default:
		return "down"
	}
}

// Path is one distinct network route available to the uplink. Paths
// live for the whole process: they are never removed, only re-stated.
// All fields are mutated by the Monitor only.
type Path struct {
	Id                  string
	LocalAddr           string // source address of the local interface, empty for the default route
	State               State
	Latency             time.Duration // smoothed probe RTT
	LastProbeAt         time.Time
	ConsecutiveFailures int
}

// byLatency sorts paths by ascending smoothed RTT so that the first
// usable path is always the currently fastest one.
type byLatency []Path

func (p byLatency) Len() int           { return len(p) }
func (p byLatency) Swap(i, j int)      { p[i], p[j] = p[j], p[i] }
func (p byLatency) Less(i, j int) bool { return p[i].Latency < p[j].Latency }

func sortByLatency(paths []Path) {
	sort.Sort(byLatency(paths))
}
