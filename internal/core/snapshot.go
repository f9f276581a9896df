package core

import (
	"context"
	"fmt"
	"time"

	"github.com/comalice/fedsync/internal/primitives"
)

// Pluggable component interfaces.

// Persister stores manager snapshots keyed by federate name.
type Persister interface {
	Save(ctx context.Context, snapshot Snapshot) error
	Load(ctx context.Context, federate string) (Snapshot, error)
}

// Publisher receives every point state change. Publish is called with the
// list lock held and must not block.
type Publisher interface {
	Publish(ctx context.Context, t Transition) error
	Close() error
}

// Transition describes one state change of one point.
type Transition struct {
	Federate  string           `json:"federate" yaml:"federate"`
	List      string           `json:"list" yaml:"list"`
	Label     string           `json:"label" yaml:"label"`
	From      primitives.State `json:"from" yaml:"from"`
	To        primitives.State `json:"to" yaml:"to"`
	Timestamp time.Time        `json:"timestamp" yaml:"timestamp"`
}

func (t Transition) String() string {
	return fmt.Sprintf("%s/%s: %s -> %s", t.List, t.Label, t.From, t.To)
}

// Snapshot is the serializable state of a Manager: per list, the label and
// state of every point.
type Snapshot struct {
	Federate  string         `json:"federate" yaml:"federate"`
	RunID     string         `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Lists     []ListSnapshot `json:"lists" yaml:"lists"`
	Timestamp time.Time      `json:"timestamp" yaml:"timestamp"`
}

// ListSnapshot is the serializable state of one List.
type ListSnapshot struct {
	Name   string             `json:"name" yaml:"name"`
	Policy string             `json:"policy" yaml:"policy"`
	Points []primitives.Point `json:"points" yaml:"points"`
}

// Validate checks policies and label uniqueness.
func (s Snapshot) Validate() error {
	lists := make(map[string]bool)
	labels := make(map[string]bool)
	for _, ls := range s.Lists {
		if ls.Name == "" || lists[ls.Name] {
			return fmt.Errorf("snapshot list %q: missing or duplicate name: %w", ls.Name, primitives.ErrConfig)
		}
		lists[ls.Name] = true
		if _, err := PolicyByName(ls.Policy); err != nil {
			return fmt.Errorf("snapshot list %q: %w", ls.Name, err)
		}
		for _, p := range ls.Points {
			if p.Label == "" || labels[p.Label] {
				return fmt.Errorf("snapshot list %q: missing or duplicate label %q: %w", ls.Name, p.Label, primitives.ErrConfig)
			}
			labels[p.Label] = true
		}
	}
	return nil
}
