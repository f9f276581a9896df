package production

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/comalice/fedsync/internal/core"
	"github.com/comalice/fedsync/internal/primitives"
)

// ThreadView is the read side of a thread coordinator.
type ThreadView interface {
	ThreadCount() int
	ThreadState(id int) primitives.ThreadState
}

// DefaultVisualizer renders manager snapshots and thread tables.
type DefaultVisualizer struct{}

var stateColors = map[primitives.State]string{
	primitives.StateError:        "red",
	primitives.StateKnown:        "lightgrey",
	primitives.StateRegistered:   "lightyellow",
	primitives.StateAnnounced:    "orange",
	primitives.StateAchieved:     "lightblue",
	primitives.StateSynchronized: "lightgreen",
	primitives.StateUnknown:      "white",
}

// ExportDOT generates Graphviz DOT source with one cluster per list and one
// node per point, filled by state. threads may be nil.
func (v *DefaultVisualizer) ExportDOT(s core.Snapshot, threads ThreadView) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "digraph %q {\n", s.Federate)
	buf.WriteString("  rankdir=LR;\n  node [shape=box, fontsize=10, style=\"rounded,filled\"];\n")

	for i, ls := range s.Lists {
		fmt.Fprintf(&buf, "  subgraph cluster_%d {\n", i)
		fmt.Fprintf(&buf, "    label=%q;\n", ls.Name+" ["+ls.Policy+"]")
		var prev string
		for _, p := range ls.Points {
			id := ls.Name + "/" + p.Label
			fmt.Fprintf(&buf, "    %q [label=%q fillcolor=%s];\n", id, pointLabel(p), stateColors[p.State])
			if prev != "" {
				fmt.Fprintf(&buf, "    %q -> %q [style=invis];\n", prev, id)
			}
			prev = id
		}
		buf.WriteString("  }\n")
	}

	if threads != nil {
		buf.WriteString("  subgraph cluster_threads {\n    label=\"threads\";\n")
		for id := range threads.ThreadCount() {
			state := threads.ThreadState(id)
			style := ""
			if state.Idle() {
				style = " style=dashed"
			}
			fmt.Fprintf(&buf, "    \"thread/%d\" [label=\"%d\\n%s\"%s];\n", id, id, state, style)
		}
		buf.WriteString("  }\n")
	}

	buf.WriteString("}\n")
	return buf.String()
}

func pointLabel(p primitives.Point) string {
	if p.Time > 0 {
		return fmt.Sprintf("%s\n%s @%s", p.Label, p.State, p.Time)
	}
	return p.Label + "\n" + p.State.String()
}

// ExportText renders an aligned table of every point, followed by the
// thread table when threads is not nil.
func (v *DefaultVisualizer) ExportText(s core.Snapshot, threads ThreadView) string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "LIST\tPOLICY\tLABEL\tSTATE\tTIME")
	for _, ls := range s.Lists {
		for _, p := range ls.Points {
			t := "-"
			if p.Time > 0 {
				t = p.Time.String()
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", ls.Name, ls.Policy, p.Label, p.State, t)
		}
	}
	_ = w.Flush()

	if threads != nil {
		b.WriteString("\n")
		w = tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "THREAD\tSTATE")
		for id := range threads.ThreadCount() {
			fmt.Fprintf(w, "%d\t%s\n", id, threads.ThreadState(id))
		}
		_ = w.Flush()
	}
	return b.String()
}

// ExportJSON serializes the snapshot to indented JSON.
func (v *DefaultVisualizer) ExportJSON(s core.Snapshot) ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}
