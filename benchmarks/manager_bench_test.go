package benchmarks

import (
	"context"
	"fmt"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/comalice/fedsync/internal/core"
	"github.com/comalice/fedsync/internal/federation"
	"github.com/comalice/fedsync/internal/primitives"
)

// relay lets a manager join a loopback federation before it exists.
type relay struct {
	federation.Callbacks
}

func newManager(b *testing.B, lists []primitives.ListConfig) *core.Manager {
	b.Helper()
	fed := federation.NewLoopback("bench", nil)
	r := &relay{}
	amb, err := fed.Join("bench", r)
	if err != nil {
		b.Fatal(err)
	}
	term := primitives.NewRecordingTerminator(1)
	m := core.NewManager(amb, core.WithFederate("bench"), core.WithTerminator(term.Terminate))
	r.Callbacks = m
	if err := m.Configure(lists); err != nil {
		b.Fatal(err)
	}
	return m
}

// BenchmarkManagerRound measures a full register, achieve, synchronize round
// of every list over a single member loopback federation.
func BenchmarkManagerRound(b *testing.B) {
	for _, size := range []int{1, 10, 100} {
		b.Run(fmt.Sprintf("points=%d", size), func(b *testing.B) {
			lists := GenListConfig(4, size)
			ctx := context.Background()
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				b.StopTimer()
				m := newManager(b, lists)
				b.StartTimer()
				for _, lc := range lists {
					if _, err := m.RegisterAll(ctx, lc.Name); err != nil {
						b.Fatal(err)
					}
					if _, err := m.AchieveAll(ctx, lc.Name); err != nil {
						b.Fatal(err)
					}
					if err := m.WaitForAllSynchronized(ctx, lc.Name); err != nil {
						b.Fatal(err)
					}
				}
			}
		})
	}
}

func BenchmarkCheckDue(b *testing.B) {
	m := newManager(b, []primitives.ListConfig{GenTimedList(1000, time.Millisecond)})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = m.CheckDue("timed", time.Duration(i%1000)*time.Millisecond)
	}
}

func BenchmarkSnapshotYAMLDecode(b *testing.B) {
	data := GenSnapshotYAML(10, 100)
	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var s core.Snapshot
		if err := yaml.Unmarshal(data, &s); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkRestore(b *testing.B) {
	data := GenSnapshotYAML(10, 100)
	var s core.Snapshot
	if err := yaml.Unmarshal(data, &s); err != nil {
		b.Fatal(err)
	}
	m := newManager(b, nil)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := m.Restore(s); err != nil {
			b.Fatal(err)
		}
	}
}
