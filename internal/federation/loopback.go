package federation

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/comalice/fedsync/internal/primitives"
)

// Loopback is an in-process federation. Every joined federate gets an
// Ambassador implementing Gateway; callbacks are delivered on the calling
// goroutine after the federation lock is released, in the order the
// federation produced them.
type Loopback struct {
	mu      sync.Mutex
	name    string
	logger  *slog.Logger
	members map[string]*member
	order   []string
	points  map[string]*pendingPoint
}

type member struct {
	name   string
	handle string
	cb     Callbacks
}

type pendingPoint struct {
	label    string
	tag      []byte
	set      []string
	achieved map[string]bool
}

type delivery struct {
	cb Callbacks
	fn func(Callbacks)
}

// NewLoopback creates an empty federation execution.
func NewLoopback(name string, logger *slog.Logger) *Loopback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loopback{
		name:    name,
		logger:  logger.With(slog.String("federation", name)),
		members: make(map[string]*member),
		points:  make(map[string]*pendingPoint),
	}
}

// Join adds a federate to the execution. Names are unique.
func (l *Loopback) Join(name string, cb Callbacks) (*Ambassador, error) {
	if cb == nil {
		return nil, fmt.Errorf("join %q: nil callbacks: %w", name, primitives.ErrConfig)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.members[name]; ok {
		return nil, fmt.Errorf("join %q: federate already joined: %w", name, primitives.ErrConfig)
	}
	m := &member{name: name, handle: uuid.NewString(), cb: cb}
	l.members[name] = m
	l.order = append(l.order, name)
	l.logger.Debug("federate joined", slog.String("federate", name), slog.String("handle", m.handle))

	return &Ambassador{fed: l, name: name, handle: m.handle}, nil
}

// Members returns the joined federate names in join order.
func (l *Loopback) Members() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.order)
}

// Pending returns the labels registered but not yet synchronized.
func (l *Loopback) Pending() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	labels := make([]string, 0, len(l.points))
	for label := range l.points {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

func deliver(ds []delivery) {
	for _, d := range ds {
		d.fn(d.cb)
	}
}

func (l *Loopback) register(from, label string, tag []byte, federates []string) Result {
	var ds []delivery
	defer func() { deliver(ds) }()

	l.mu.Lock()
	defer l.mu.Unlock()

	reg, ok := l.members[from]
	if !ok {
		return ResultNotMember
	}

	if _, exists := l.points[label]; exists {
		ds = append(ds, delivery{reg.cb, func(c Callbacks) { c.RegistrationFailed(label, ReasonLabelNotUnique) }})
		return ResultOK
	}

	set := slices.Clone(federates)
	if len(set) == 0 {
		set = slices.Clone(l.order)
	}
	for _, name := range set {
		if _, joined := l.members[name]; !joined {
			ds = append(ds, delivery{reg.cb, func(c Callbacks) { c.RegistrationFailed(label, ReasonSetMemberNotJoined) }})
			return ResultOK
		}
	}

	l.points[label] = &pendingPoint{
		label:    label,
		tag:      slices.Clone(tag),
		set:      set,
		achieved: make(map[string]bool),
	}
	l.logger.Debug("sync point registered", slog.String("label", label), slog.Any("set", set))

	ds = append(ds, delivery{reg.cb, func(c Callbacks) { c.RegistrationSucceeded(label) }})
	for _, name := range set {
		t := slices.Clone(tag)
		ds = append(ds, delivery{l.members[name].cb, func(c Callbacks) { c.Announced(label, t) }})
	}
	return ResultOK
}

func (l *Loopback) achieve(from, label string) Result {
	var ds []delivery
	defer func() { deliver(ds) }()

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.members[from]; !ok {
		return ResultNotMember
	}
	p, ok := l.points[label]
	if !ok || !slices.Contains(p.set, from) {
		return ResultNotAnnounced
	}
	p.achieved[from] = true
	ds = l.completeLocked(p)
	return ResultOK
}

// completeLocked synchronizes p if every remaining set member achieved it.
func (l *Loopback) completeLocked(p *pendingPoint) []delivery {
	for _, name := range p.set {
		if !p.achieved[name] {
			return nil
		}
	}
	delete(l.points, p.label)
	l.logger.Debug("sync point synchronized", slog.String("label", p.label))

	ds := make([]delivery, 0, len(p.set))
	for _, name := range p.set {
		label := p.label
		ds = append(ds, delivery{l.members[name].cb, func(c Callbacks) { c.Synchronized(label) }})
	}
	return ds
}

func (l *Loopback) resign(name string) {
	var ds []delivery
	defer func() { deliver(ds) }()

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.members[name]; !ok {
		return
	}
	delete(l.members, name)
	l.order = slices.DeleteFunc(l.order, func(n string) bool { return n == name })
	l.logger.Debug("federate resigned", slog.String("federate", name))

	labels := make([]string, 0, len(l.points))
	for label := range l.points {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		p := l.points[label]
		if !slices.Contains(p.set, name) {
			continue
		}
		p.set = slices.DeleteFunc(p.set, func(n string) bool { return n == name })
		if len(p.set) == 0 {
			delete(l.points, label)
			continue
		}
		ds = append(ds, l.completeLocked(p)...)
	}
}

func (l *Loopback) isMember(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.members[name]
	return ok
}

// Ambassador is one federate's Gateway into a Loopback federation.
type Ambassador struct {
	fed    *Loopback
	name   string
	handle string
}

// Name returns the federate name used to join.
func (a *Ambassador) Name() string { return a.name }

// Handle returns the federate handle assigned at join.
func (a *Ambassador) Handle() string { return a.handle }

func (a *Ambassador) RegisterPoint(ctx context.Context, label string, tag []byte, federates []string) Result {
	if ctx.Err() != nil {
		return ResultNotConnected
	}
	return a.fed.register(a.name, label, tag, federates)
}

func (a *Ambassador) AchievePoint(ctx context.Context, label string) Result {
	if ctx.Err() != nil {
		return ResultNotConnected
	}
	return a.fed.achieve(a.name, label)
}

func (a *Ambassador) IsExecutionMember() bool {
	return a.fed.isMember(a.name)
}

// Resign removes the federate. Points it was the last holdout for are
// synchronized for the remaining members.
func (a *Ambassador) Resign() {
	a.fed.resign(a.name)
}
