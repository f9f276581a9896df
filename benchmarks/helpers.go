// Package benchmarks provides shared helpers for benchmark tests.
package benchmarks

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/comalice/fedsync/builder"
	"github.com/comalice/fedsync/internal/core"
	"github.com/comalice/fedsync/internal/primitives"
)

// GenListConfig creates n standard lists of size points each, labelled
// l<i>p<j>.
func GenListConfig(n, size int) []primitives.ListConfig {
	n, size = max(n, 1), max(size, 1)
	lists := make([]primitives.ListConfig, n)
	for i := range lists {
		lists[i] = primitives.ListConfig{Name: fmt.Sprintf("list%d", i), Register: true}
		for j := 0; j < size; j++ {
			lists[i].Points = append(lists[i].Points, primitives.PointConfig{Label: fmt.Sprintf("l%dp%d", i, j)})
		}
	}
	return lists
}

// GenTimedList creates one timed list of n points due every step.
func GenTimedList(n int, step time.Duration) primitives.ListConfig {
	l := primitives.ListConfig{Name: "timed", Policy: primitives.PolicyTimed}
	for i := 0; i < max(n, 1); i++ {
		l.Points = append(l.Points, primitives.PointConfig{
			Label: fmt.Sprintf("t%d", i),
			Time:  time.Duration(i+1) * step,
		})
	}
	return l
}

// GenThreads creates a federate with n workers cycling at 1x..nx the main
// cycle, each sharing an object with the main thread.
func GenThreads(n int, mainCycle time.Duration) primitives.FederateConfig {
	opts := []builder.Option{builder.MainCycle(mainCycle)}
	for id := 1; id <= n; id++ {
		opts = append(opts,
			builder.Worker(id, time.Duration(id)*mainCycle),
			builder.Object(fmt.Sprintf("obj%d", id), 0, id))
	}
	return builder.New("bench", opts...)
}

// GenSnapshotYAML generates YAML bytes for a snapshot of n lists of size
// points.
func GenSnapshotYAML(n, size int) []byte {
	s := core.Snapshot{Federate: "bench", Timestamp: time.Now()}
	for _, lc := range GenListConfig(n, size) {
		ls := core.ListSnapshot{Name: lc.Name, Policy: primitives.PolicyStandard}
		for _, pc := range lc.Points {
			p := primitives.NewPoint(pc.Label)
			p.State = primitives.StateAnnounced
			ls.Points = append(ls.Points, p)
		}
		s.Lists = append(s.Lists, ls)
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		panic(err)
	}
	return data
}
