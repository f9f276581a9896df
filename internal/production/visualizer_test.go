package production_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comalice/fedsync/internal/core"
	"github.com/comalice/fedsync/internal/primitives"
	"github.com/comalice/fedsync/internal/production"
)

type threadTable []primitives.ThreadState

func (t threadTable) ThreadCount() int                          { return len(t) }
func (t threadTable) ThreadState(id int) primitives.ThreadState { return t[id] }

func sampleSnapshot() core.Snapshot {
	return core.Snapshot{
		Federate: "lander",
		Lists: []core.ListSnapshot{
			{
				Name:   "init",
				Policy: "standard",
				Points: []primitives.Point{
					{Label: "A", State: primitives.StateAnnounced},
					{Label: "B", State: primitives.StateSynchronized},
				},
			},
			{
				Name:   "mode",
				Policy: "timed",
				Points: []primitives.Point{{Label: "freeze", State: primitives.StateRegistered, Time: 2 * time.Second}},
			},
		},
	}
}

func TestExportDOT(t *testing.T) {
	t.Parallel()

	v := &production.DefaultVisualizer{}
	threads := threadTable{primitives.ThreadReadyToSend, primitives.ThreadDisabled}
	dot := v.ExportDOT(sampleSnapshot(), threads)

	assert.Contains(t, dot, `digraph "lander" {`)
	assert.Contains(t, dot, `label="init [standard]";`)
	assert.Contains(t, dot, `"init/A" [label="A\nANNOUNCED" fillcolor=orange];`)
	assert.Contains(t, dot, `"init/B" [label="B\nSYNCHRONIZED" fillcolor=lightgreen];`)
	assert.Contains(t, dot, `"mode/freeze" [label="freeze\nREGISTERED @2s" fillcolor=lightyellow];`)
	assert.Contains(t, dot, `"init/A" -> "init/B" [style=invis];`)
	assert.Contains(t, dot, `"thread/1" [label="1\nDISABLED" style=dashed];`)
	assert.Contains(t, dot, `"thread/0" [label="0\nREADY_TO_SEND"];`)

	assert.NotContains(t, v.ExportDOT(sampleSnapshot(), nil), "cluster_threads")
}

func TestExportText(t *testing.T) {
	t.Parallel()

	v := &production.DefaultVisualizer{}
	out := v.ExportText(sampleSnapshot(), threadTable{primitives.ThreadReset})

	assert.Regexp(t, `(?m)^LIST\s+POLICY\s+LABEL\s+STATE\s+TIME$`, out)
	assert.Regexp(t, `(?m)^mode\s+timed\s+freeze\s+REGISTERED\s+2s$`, out)
	assert.Regexp(t, `(?m)^init\s+standard\s+A\s+ANNOUNCED\s+-$`, out)
	assert.Regexp(t, `(?m)^0\s+RESET$`, out)
}

func TestExportJSON(t *testing.T) {
	t.Parallel()

	v := &production.DefaultVisualizer{}
	data, err := v.ExportJSON(sampleSnapshot())
	require.NoError(t, err)

	var got core.Snapshot
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, primitives.StateSynchronized, got.Lists[0].Points[1].State)
}
