package core

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/comalice/fedsync/internal/primitives"
)

// List is an ordered, mutex-guarded collection of synchronization points
// sharing a purpose ("init", "shutdown"). Every access takes the list lock for
// its duration only.
type List struct {
	mu     sync.Mutex
	name   string
	policy Policy
	points []*primitives.Point
	// labels with an achieve call in flight, and those whose
	// synchronization arrived before the call returned
	inflight map[string]bool
	early    map[string]bool
	notify   func(list string, p primitives.Point, from primitives.State)
}

// NewList creates an empty list. A nil policy means Standard.
func NewList(name string, policy Policy) *List {
	if policy == nil {
		policy = Standard
	}
	return &List{
		name:     name,
		policy:   policy,
		inflight: make(map[string]bool),
		early:    make(map[string]bool),
	}
}

func (l *List) Name() string   { return l.name }
func (l *List) Policy() Policy { return l.policy }

// Len returns the number of points.
func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.points)
}

// Points returns a copy of the points in insertion order.
func (l *List) Points() []primitives.Point {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]primitives.Point, len(l.points))
	for i, p := range l.points {
		out[i] = *p
	}
	return out
}

// Labels returns the labels in insertion order.
func (l *List) Labels() []string {
	return l.Select(func(primitives.Point) bool { return true })
}

// Select returns the labels of the points for which keep reports true.
func (l *List) Select(keep func(primitives.Point) bool) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var labels []string
	for _, p := range l.points {
		if keep(*p) {
			labels = append(labels, p.Label)
		}
	}
	return labels
}

// Contains reports whether label is in the list.
func (l *List) Contains(label string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.findLocked(label) >= 0
}

// State returns the state of label, or StateUnknown when absent.
func (l *List) State(label string) primitives.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i := l.findLocked(label); i >= 0 {
		return l.points[i].State
	}
	return primitives.StateUnknown
}

// Point returns a copy of the point with label.
func (l *List) Point(label string) (primitives.Point, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i := l.findLocked(label); i >= 0 {
		return *l.points[i], true
	}
	return primitives.Point{}, false
}

// CheckDue reports whether any point not yet achieved is due at t.
func (l *List) CheckDue(t time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range l.points {
		if p.State.Pending() && l.policy.Due(*p, t) {
			return true
		}
	}
	return false
}

func (l *List) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s]:", l.name, l.policy.Name())
	if len(l.points) == 0 {
		b.WriteString(" (empty)")
	}
	for _, p := range l.points {
		b.WriteString(" ")
		b.WriteString(p.String())
	}
	return b.String()
}

func (l *List) findLocked(label string) int {
	for i, p := range l.points {
		if p.Label == label {
			return i
		}
	}
	return -1
}

func (l *List) add(p primitives.Point) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.points = append(l.points, &p)
}

// remove deletes label if allowed reports true for its current state.
func (l *List) remove(label string, allowed func(primitives.State) bool) (primitives.State, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := l.findLocked(label)
	if i < 0 {
		return primitives.StateUnknown, false
	}
	st := l.points[i].State
	if !allowed(st) {
		return st, false
	}
	l.points = append(l.points[:i], l.points[i+1:]...)
	delete(l.inflight, label)
	delete(l.early, label)
	return st, true
}

// update runs fn on the point under the list lock and publishes any state
// change it makes.
func (l *List) update(label string, fn func(p *primitives.Point) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := l.findLocked(label)
	if i < 0 {
		return fmt.Errorf("point %q in list %q: %w", label, l.name, primitives.ErrNotFound)
	}
	p := l.points[i]
	from := p.State
	if err := fn(p); err != nil {
		return err
	}
	if p.State != from {
		l.publishLocked(*p, from)
	}
	return nil
}

func (l *List) setLocked(p *primitives.Point, to primitives.State) {
	from := p.State
	p.State = to
	l.publishLocked(*p, from)
}

func (l *List) publishLocked(p primitives.Point, from primitives.State) {
	if l.notify != nil {
		l.notify(l.name, p, from)
	}
}
