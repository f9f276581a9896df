// Package core provides the synchronization-point tier: named lists of
// points, the Manager that resolves a label to its owning list, and the
// gateway callbacks that advance points through their lifecycle.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/comalice/fedsync/internal/federation"
	"github.com/comalice/fedsync/internal/primitives"
)

// UnrecognizedListName is the list holding announced labels the federate
// never added.
const UnrecognizedListName = "unrecognized"

var (
	ErrNotClearable = errors.New("point has not reached achievement")
	ErrNoPersister  = errors.New("no persister configured")
)

// Manager owns the synchronization lists of one federate.
//
// Lock order is Manager then List. No lock is held across a gateway call or
// a wait.
type Manager struct {
	mu    sync.Mutex
	lists []*List
	index map[string]*List

	gateway   federation.Gateway
	waiter    *primitives.Waiter
	waitCfg   primitives.WaitConfig
	shutdown  primitives.ShutdownChecker
	federate  string
	runID     string
	logger    *slog.Logger
	terminate primitives.Terminator
	persister Persister
	publisher Publisher
}

var _ federation.Callbacks = (*Manager)(nil)

// NewManager creates a manager talking to the federation through gw.
func NewManager(gw federation.Gateway, opts ...Option) *Manager {
	m := &Manager{
		gateway: gw,
		index:   make(map[string]*List),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.federate != "" {
		m.logger = m.logger.With(slog.String("federate", m.federate))
	}
	if m.terminate == nil {
		m.terminate = primitives.ExitTerminator(m.logger)
	}
	m.waiter = primitives.NewWaiter(m.waitCfg, gw, m.shutdown, m.logger)
	return m
}

// Federate returns the owning federate name.
func (m *Manager) Federate() string { return m.federate }

func (m *Manager) fail(err error) error {
	if err != nil && primitives.Fatal(err) {
		m.terminate(err)
	}
	return err
}

func (m *Manager) newList(name string, policy Policy) *List {
	l := NewList(name, policy)
	l.notify = m.publish
	return l
}

func (m *Manager) publish(list string, p primitives.Point, from primitives.State) {
	m.logger.Debug("sync point state changed",
		slog.String("list", list),
		slog.String("label", p.Label),
		slog.String("from", from.String()),
		slog.String("to", p.State.String()))
	if m.publisher == nil {
		return
	}
	err := m.publisher.Publish(context.Background(), Transition{
		Federate:  m.federate,
		List:      list,
		Label:     p.Label,
		From:      from,
		To:        p.State,
		Timestamp: time.Now(),
	})
	if err != nil {
		m.logger.Warn("publish transition", slog.String("label", p.Label), slog.Any("err", err))
	}
}

func (m *Manager) findListLocked(name string) *List {
	for _, l := range m.lists {
		if l.name == name {
			return l
		}
	}
	return nil
}

func (m *Manager) lookup(label string) (*List, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.index[label]; ok {
		return l, nil
	}
	return nil, fmt.Errorf("sync point %q: %w", label, primitives.ErrNotFound)
}

func (m *Manager) list(name string) (*List, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l := m.findListLocked(name); l != nil {
		return l, nil
	}
	return nil, fmt.Errorf("sync list %q: %w", name, primitives.ErrNotFound)
}

// Configure creates the lists and points described by cfg.
func (m *Manager) Configure(cfg []primitives.ListConfig) error {
	for _, lc := range cfg {
		policy, err := PolicyByName(lc.Policy)
		if err != nil {
			return m.fail(fmt.Errorf("list %q: %w", lc.Name, err))
		}
		if err := m.AddList(lc.Name, policy); err != nil {
			return err
		}
		for _, pc := range lc.Points {
			if err := m.AddTimed(lc.Name, pc.Label, pc.Time); err != nil {
				return err
			}
		}
	}
	return nil
}

// AddList creates an empty named list. A duplicate name is a configuration
// error.
func (m *Manager) AddList(name string, policy Policy) error {
	m.mu.Lock()
	if name == "" || m.findListLocked(name) != nil {
		m.mu.Unlock()
		return m.fail(fmt.Errorf("add list %q: missing or duplicate name: %w", name, primitives.ErrConfig))
	}
	m.lists = append(m.lists, m.newList(name, policy))
	m.mu.Unlock()
	return nil
}

// Add appends a new UNKNOWN point to list, creating a Standard list if
// needed. The label must not exist in any list.
func (m *Manager) Add(list, label string) error {
	return m.addPoint(list, primitives.NewPoint(label))
}

// AddTimed is Add for a point bound to simulation time t.
func (m *Manager) AddTimed(list, label string, t time.Duration) error {
	return m.addPoint(list, primitives.NewTimedPoint(label, t))
}

func (m *Manager) addPoint(list string, p primitives.Point) error {
	if p.Label == "" {
		return m.fail(fmt.Errorf("add to list %q: empty label: %w", list, primitives.ErrConfig))
	}

	m.mu.Lock()
	if owner, dup := m.index[p.Label]; dup {
		m.mu.Unlock()
		return m.fail(fmt.Errorf("add %q to list %q: label already in list %q: %w",
			p.Label, list, owner.name, primitives.ErrConfig))
	}
	l := m.findListLocked(list)
	if l == nil {
		l = m.newList(list, Standard)
		m.lists = append(m.lists, l)
	}
	l.add(p)
	m.index[p.Label] = l
	m.mu.Unlock()

	m.logger.Debug("sync point added", slog.String("list", list), slog.String("label", p.Label))
	return nil
}

// addUnrecognized records a label announced by the federation that the
// federate never added.
func (m *Manager) addUnrecognized(label string) *List {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.index[label]; ok {
		return l
	}
	l := m.findListLocked(UnrecognizedListName)
	if l == nil {
		l = m.newList(UnrecognizedListName, Unrecognized)
		m.lists = append(m.lists, l)
	}
	l.add(primitives.NewPoint(label))
	m.index[label] = l
	return l
}

// Contains reports whether label exists in any list.
func (m *Manager) Contains(label string) bool {
	_, err := m.lookup(label)
	return err == nil
}

// ContainsList reports whether a list named name exists.
func (m *Manager) ContainsList(name string) bool {
	_, err := m.list(name)
	return err == nil
}

// List returns the list named name.
func (m *Manager) List(name string) (*List, bool) {
	l, err := m.list(name)
	return l, err == nil
}

// ListNames returns the list names in creation order.
func (m *Manager) ListNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, len(m.lists))
	for i, l := range m.lists {
		names[i] = l.name
	}
	return names
}

// State returns the state of label, StateUnknown when it does not exist.
func (m *Manager) State(label string) primitives.State {
	l, err := m.lookup(label)
	if err != nil {
		return primitives.StateUnknown
	}
	return l.State(label)
}

func (m *Manager) IsRegistered(label string) bool {
	return m.State(label).Registered()
}

func (m *Manager) IsAnnounced(label string) bool {
	return m.State(label) == primitives.StateAnnounced
}

func (m *Manager) IsAchieved(label string) bool {
	return m.State(label) == primitives.StateAchieved
}

func (m *Manager) IsSynchronized(label string) bool {
	return m.State(label) == primitives.StateSynchronized
}

// Register registers label with every joined federate.
// It reports false when the gateway returned a transient result.
func (m *Manager) Register(ctx context.Context, label string) (bool, error) {
	return m.RegisterFor(ctx, label, nil)
}

// RegisterFor registers label with the named federates only. A KNOWN point
// finished an earlier round and is registered again to open the next one.
func (m *Manager) RegisterFor(ctx context.Context, label string, federates []string) (bool, error) {
	l, err := m.lookup(label)
	if err != nil {
		return false, err
	}
	p, ok := l.Point(label)
	if !ok {
		return false, fmt.Errorf("sync point %q: %w", label, primitives.ErrNotFound)
	}
	switch {
	case p.State == primitives.StateError:
		return false, m.fail(fmt.Errorf("register %q in %s state: %w", label, p.State, primitives.ErrProtocol))
	case p.State != primitives.StateKnown && p.State.Registered():
		return true, nil
	}

	var tag []byte
	if p.Time != 0 {
		tag = []byte(p.Time.String())
	}
	if r := m.gateway.RegisterPoint(ctx, label, tag, federates); r != federation.ResultOK {
		m.logger.Warn("sync point registration not completed",
			slog.String("label", label), slog.String("result", r.String()))
		return false, nil
	}

	// A failure callback may already have moved the point to ERROR; it
	// reported itself.
	var state primitives.State
	err = l.update(label, func(p *primitives.Point) error {
		if p.State == primitives.StateUnknown || p.State == primitives.StateKnown {
			p.State = primitives.StateRegistered
		}
		state = p.State
		return nil
	})
	return err == nil && state != primitives.StateError, nil
}

// RegisterAll registers every point of list not yet registered for the
// current round.
// It reports false if any registration was not completed.
func (m *Manager) RegisterAll(ctx context.Context, list string) (bool, error) {
	l, err := m.list(list)
	if err != nil {
		return false, err
	}
	all := true
	for _, label := range l.Select(func(p primitives.Point) bool {
		return p.State == primitives.StateUnknown || p.State == primitives.StateKnown
	}) {
		ok, err := m.Register(ctx, label)
		if err != nil {
			return false, err
		}
		all = all && ok
	}
	return all, nil
}

// MarkRegistered records a registration confirmed by the federation.
// A KNOWN point moves to REGISTERED for its next round; points already past
// REGISTERED are left unchanged.
func (m *Manager) MarkRegistered(label string) error {
	l, err := m.lookup(label)
	if err != nil {
		return err
	}
	return m.fail(l.update(label, func(p *primitives.Point) error {
		switch p.State {
		case primitives.StateUnknown, primitives.StateKnown:
			p.State = primitives.StateRegistered
		case primitives.StateError:
			return fmt.Errorf("mark %q registered in %s state: %w", label, p.State, primitives.ErrProtocol)
		}
		return nil
	}))
}

func announce(p *primitives.Point) error {
	switch p.State {
	case primitives.StateUnknown, primitives.StateKnown, primitives.StateRegistered:
		p.State = primitives.StateAnnounced
	case primitives.StateAnnounced:
	default:
		return fmt.Errorf("announce %q in %s state: %w", p.Label, p.State, primitives.ErrProtocol)
	}
	return nil
}

// MarkAnnounced records that the federation opened label for achievement.
func (m *Manager) MarkAnnounced(label string) error {
	l, err := m.lookup(label)
	if err != nil {
		return err
	}
	return m.fail(l.update(label, announce))
}

// WaitForAnnounced blocks until label is announced. The point must be
// UNKNOWN, KNOWN, REGISTERED or ANNOUNCED when called.
func (m *Manager) WaitForAnnounced(ctx context.Context, label string) error {
	l, err := m.lookup(label)
	if err != nil {
		return err
	}
	if st := l.State(label); !st.Pending() {
		return m.fail(fmt.Errorf("wait for announcement of %q in %s state: %w", label, st, primitives.ErrProtocol))
	}
	return m.fail(m.waiter.Wait(ctx, "announcement of "+label, func() (bool, error) {
		switch st := l.State(label); st {
		case primitives.StateAnnounced, primitives.StateAchieved, primitives.StateSynchronized:
			return true, nil
		case primitives.StateError:
			return false, fmt.Errorf("wait for announcement of %q in %s state: %w", label, st, primitives.ErrProtocol)
		}
		return false, nil
	}))
}

// WaitForAllAnnounced waits for every point of list in insertion order.
func (m *Manager) WaitForAllAnnounced(ctx context.Context, list string) error {
	l, err := m.list(list)
	if err != nil {
		return err
	}
	for _, label := range l.Labels() {
		if err := m.WaitForAnnounced(ctx, label); err != nil {
			return err
		}
	}
	return nil
}

// Achieve tells the federation this federate reached label, which must be
// ANNOUNCED. A transient gateway result returns false and leaves the point
// ANNOUNCED so the caller may retry.
func (m *Manager) Achieve(ctx context.Context, label string) (bool, error) {
	l, err := m.lookup(label)
	if err != nil {
		return false, err
	}

	l.mu.Lock()
	i := l.findLocked(label)
	if i < 0 {
		l.mu.Unlock()
		return false, fmt.Errorf("sync point %q: %w", label, primitives.ErrNotFound)
	}
	if st := l.points[i].State; st != primitives.StateAnnounced || l.inflight[label] {
		l.mu.Unlock()
		return false, m.fail(fmt.Errorf("achieve %q in %s state: %w", label, st, primitives.ErrProtocol))
	}
	l.inflight[label] = true
	l.mu.Unlock()

	r := m.gateway.AchievePoint(ctx, label)

	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.inflight, label)
	early := l.early[label]
	delete(l.early, label)

	if r != federation.ResultOK {
		m.logger.Warn("sync point achievement not completed",
			slog.String("label", label), slog.String("result", r.String()))
		return false, nil
	}
	i = l.findLocked(label)
	if i < 0 {
		return false, fmt.Errorf("sync point %q cleared while achieving: %w", label, primitives.ErrNotFound)
	}
	p := l.points[i]
	if p.State == primitives.StateAnnounced {
		l.setLocked(p, primitives.StateAchieved)
	}
	if early && p.State == primitives.StateAchieved {
		l.setLocked(p, primitives.StateSynchronized)
	}
	return true, nil
}

// AchieveAll achieves every ANNOUNCED point of list.
func (m *Manager) AchieveAll(ctx context.Context, list string) (bool, error) {
	return m.achieveWhere(ctx, list, func(primitives.Point, Policy) bool { return true })
}

// AchieveDue achieves the ANNOUNCED points of list the list policy reports
// due at t.
func (m *Manager) AchieveDue(ctx context.Context, list string, t time.Duration) (bool, error) {
	return m.achieveWhere(ctx, list, func(p primitives.Point, policy Policy) bool { return policy.Due(p, t) })
}

func (m *Manager) achieveWhere(ctx context.Context, list string, keep func(primitives.Point, Policy) bool) (bool, error) {
	l, err := m.list(list)
	if err != nil {
		return false, err
	}
	labels := l.Select(func(p primitives.Point) bool {
		return p.State == primitives.StateAnnounced && keep(p, l.policy)
	})
	all := true
	for _, label := range labels {
		ok, err := m.Achieve(ctx, label)
		if err != nil {
			return false, err
		}
		all = all && ok
	}
	return all, nil
}

// CheckDue reports whether list holds a point not yet achieved that is due
// at t.
func (m *Manager) CheckDue(list string, t time.Duration) bool {
	l, err := m.list(list)
	if err != nil {
		return false
	}
	return l.CheckDue(t)
}

// MarkSynchronized records that every required federate achieved label.
func (m *Manager) MarkSynchronized(label string) error {
	l, err := m.lookup(label)
	if err != nil {
		return err
	}

	l.mu.Lock()
	i := l.findLocked(label)
	if i < 0 {
		l.mu.Unlock()
		return fmt.Errorf("sync point %q: %w", label, primitives.ErrNotFound)
	}
	p := l.points[i]
	switch {
	case p.State == primitives.StateAchieved:
		l.setLocked(p, primitives.StateSynchronized)
	case p.State == primitives.StateSynchronized:
	case p.State == primitives.StateAnnounced && l.inflight[label]:
		// the achieve call has not returned yet; it finishes the round
		l.early[label] = true
	default:
		err = fmt.Errorf("synchronize %q in %s state: %w", label, p.State, primitives.ErrProtocol)
	}
	l.mu.Unlock()
	return m.fail(err)
}

// WaitForSynchronized blocks until label is SYNCHRONIZED and then resets it
// to KNOWN so the label can be used for another round.
func (m *Manager) WaitForSynchronized(ctx context.Context, label string) error {
	l, err := m.lookup(label)
	if err != nil {
		return err
	}
	return m.fail(m.waiter.Wait(ctx, "synchronization of "+label, func() (bool, error) {
		l.mu.Lock()
		defer l.mu.Unlock()
		i := l.findLocked(label)
		if i < 0 {
			return false, fmt.Errorf("sync point %q: %w", label, primitives.ErrNotFound)
		}
		switch p := l.points[i]; p.State {
		case primitives.StateSynchronized:
			l.setLocked(p, primitives.StateKnown)
			return true, nil
		case primitives.StateError:
			return false, fmt.Errorf("wait for synchronization of %q in %s state: %w", label, p.State, primitives.ErrProtocol)
		}
		return false, nil
	}))
}

// WaitForAllSynchronized waits for every point of list in insertion order.
func (m *Manager) WaitForAllSynchronized(ctx context.Context, list string) error {
	l, err := m.list(list)
	if err != nil {
		return err
	}
	for _, label := range l.Labels() {
		if err := m.WaitForSynchronized(ctx, label); err != nil {
			return err
		}
	}
	return nil
}

// AchieveAndWait waits for label to be announced, achieves it, retrying
// transient gateway results, and waits for the federation to synchronize.
func (m *Manager) AchieveAndWait(ctx context.Context, label string) error {
	if m.State(label).Pending() {
		if err := m.WaitForAnnounced(ctx, label); err != nil {
			return err
		}
	}
	err := m.waiter.Wait(ctx, "achievement of "+label, func() (bool, error) {
		switch m.State(label) {
		case primitives.StateAchieved, primitives.StateSynchronized:
			return true, nil
		}
		return m.Achieve(ctx, label)
	})
	if err != nil {
		return m.fail(err)
	}
	return m.WaitForSynchronized(ctx, label)
}

// Clear removes label once it reached achievement: ACHIEVED, SYNCHRONIZED or
// the reset KNOWN state.
func (m *Manager) Clear(label string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.index[label]
	if !ok {
		return fmt.Errorf("clear %q: %w", label, primitives.ErrNotFound)
	}
	st, removed := l.remove(label, func(st primitives.State) bool {
		return st == primitives.StateAchieved || st == primitives.StateSynchronized || st == primitives.StateKnown
	})
	if !removed {
		return fmt.Errorf("clear %q in %s state: %w", label, st, ErrNotClearable)
	}
	delete(m.index, label)
	return nil
}

// Reset drops every list and point.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists = nil
	m.index = make(map[string]*List)
}

// LabelString describes one point for diagnostics.
func (m *Manager) LabelString(label string) string {
	l, err := m.lookup(label)
	if err != nil {
		return fmt.Sprintf("%s: not found", label)
	}
	p, ok := l.Point(label)
	if !ok {
		return fmt.Sprintf("%s: not found", label)
	}
	return fmt.Sprintf("%s/%s", l.name, p)
}

func (m *Manager) String() string {
	m.mu.Lock()
	lists := slices.Clone(m.lists)
	m.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "sync points of federate %q:", m.federate)
	if len(lists) == 0 {
		b.WriteString(" none")
	}
	for _, l := range lists {
		b.WriteString("\n  ")
		b.WriteString(l.String())
	}
	return b.String()
}

// Snapshot captures the label and state of every point.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	lists := slices.Clone(m.lists)
	m.mu.Unlock()

	s := Snapshot{Federate: m.federate, RunID: m.runID, Timestamp: time.Now()}
	for _, l := range lists {
		s.Lists = append(s.Lists, ListSnapshot{
			Name:   l.name,
			Policy: l.policy.Name(),
			Points: l.Points(),
		})
	}
	return s
}

// Restore replaces every list with the content of s.
func (m *Manager) Restore(s Snapshot) error {
	if err := s.Validate(); err != nil {
		return m.fail(err)
	}
	lists := make([]*List, 0, len(s.Lists))
	index := make(map[string]*List)
	for _, ls := range s.Lists {
		policy, _ := PolicyByName(ls.Policy)
		l := m.newList(ls.Name, policy)
		for _, p := range ls.Points {
			l.add(p)
			index[p.Label] = l
		}
		lists = append(lists, l)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists = lists
	m.index = index
	return nil
}

// Checkpoint saves a snapshot through the configured persister.
func (m *Manager) Checkpoint(ctx context.Context) error {
	if m.persister == nil {
		return ErrNoPersister
	}
	if err := m.persister.Save(ctx, m.Snapshot()); err != nil {
		return fmt.Errorf("checkpoint %q: %w", m.federate, err)
	}
	return nil
}

// LoadCheckpoint restores the snapshot saved for federate.
func (m *Manager) LoadCheckpoint(ctx context.Context, federate string) error {
	if m.persister == nil {
		return ErrNoPersister
	}
	s, err := m.persister.Load(ctx, federate)
	if err != nil {
		return fmt.Errorf("load checkpoint %q: %w", federate, err)
	}
	return m.Restore(s)
}
