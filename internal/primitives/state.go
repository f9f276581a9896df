package primitives

import (
	"fmt"
	"strings"
	"time"
)

// State is the lifecycle state of a synchronization point.
//
// The integer codes are stable and are what checkpoints from older
// runs carry when a numeric form is used.
type State int

const (
	StateError State = iota
	StateKnown
	StateRegistered
	StateAnnounced
	StateAchieved
	StateSynchronized
	StateUnknown
)

var stateNames = map[State]string{
	StateError:        "ERROR",
	StateKnown:        "KNOWN",
	StateRegistered:   "REGISTERED",
	StateAnnounced:    "ANNOUNCED",
	StateAchieved:     "ACHIEVED",
	StateSynchronized: "SYNCHRONIZED",
	StateUnknown:      "UNKNOWN",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ParseState converts the String form of a State back to its value.
// Matching is case-insensitive and accepts an optional "SYNC_PT_STATE_" prefix.
func ParseState(s string) (State, error) {
	name := strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "SYNC_PT_STATE_")
	if name == "EXISTS" {
		return StateKnown, nil
	}
	for st, n := range stateNames {
		if n == name {
			return st, nil
		}
	}
	return StateUnknown, fmt.Errorf("parse state %q: %w", s, ErrConfig)
}

// MarshalText implements encoding.TextMarshaler so snapshots carry the name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	st, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// Registered reports whether the federation has accepted the label,
// including every later state of the round and the reusable KNOWN state.
func (s State) Registered() bool {
	switch s {
	case StateKnown, StateRegistered, StateAnnounced, StateAchieved, StateSynchronized:
		return true
	}
	return false
}

// Pending reports whether a point in this state can still be announced.
func (s State) Pending() bool {
	switch s {
	case StateUnknown, StateKnown, StateRegistered, StateAnnounced:
		return true
	}
	return false
}

// Point is a single named synchronization point.
type Point struct {
	Label string        `json:"label" yaml:"label"`
	State State         `json:"state" yaml:"state"`
	Time  time.Duration `json:"time,omitempty" yaml:"time,omitempty"`
}

// NewPoint returns a point that is known locally but not yet registered.
func NewPoint(label string) Point {
	return Point{Label: label, State: StateUnknown}
}

// NewTimedPoint returns an unregistered point bound to a simulation time.
func NewTimedPoint(label string, t time.Duration) Point {
	return Point{Label: label, State: StateUnknown, Time: t}
}

// Pair returns the label and state as plain strings.
func (p Point) Pair() (string, string) {
	return p.Label, p.State.String()
}

// PointFromPair rebuilds a point from the strings returned by Pair.
func PointFromPair(label, state string) (Point, error) {
	if label == "" {
		return Point{}, fmt.Errorf("empty label: %w", ErrConfig)
	}
	st, err := ParseState(state)
	if err != nil {
		return Point{}, fmt.Errorf("point %q: %w", label, err)
	}
	return Point{Label: label, State: st}, nil
}

func (p Point) String() string {
	if p.Time != 0 {
		return fmt.Sprintf("%s=%s@%s", p.Label, p.State, p.Time)
	}
	return fmt.Sprintf("%s=%s", p.Label, p.State)
}
