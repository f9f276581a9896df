// Package testutil provides fakes of the federation gateway and the host
// scheduler so the manager and the coordinator can be driven step by step.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/comalice/fedsync/internal/federation"
)

// Gateway is a federation.Gateway that records calls and answers with
// scripted results. Callbacks are never produced on its own; tests invoke
// them on the component under test.
type Gateway struct {
	mu         sync.Mutex
	calls      []string
	register   map[string]federation.Result
	achieve    map[string]federation.Result
	notMember  atomic.Bool
	onAchieve  func(label string)
	onRegister func(label string)
}

// NewGateway returns a gateway that accepts every call.
func NewGateway() *Gateway {
	return &Gateway{
		register: make(map[string]federation.Result),
		achieve:  make(map[string]federation.Result),
	}
}

// FailRegister makes RegisterPoint return r for label.
func (g *Gateway) FailRegister(label string, r federation.Result) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.register[label] = r
}

// FailAchieve makes AchievePoint return r for label.
func (g *Gateway) FailAchieve(label string, r federation.Result) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.achieve[label] = r
}

// OnAchieve runs fn after every successful AchievePoint.
func (g *Gateway) OnAchieve(fn func(label string)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onAchieve = fn
}

// OnRegister runs fn after every successful RegisterPoint.
func (g *Gateway) OnRegister(fn func(label string)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onRegister = fn
}

// SetMember toggles the execution membership answer.
func (g *Gateway) SetMember(member bool) {
	g.notMember.Store(!member)
}

// Calls returns the recorded calls as "register:label" / "achieve:label".
func (g *Gateway) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

func (g *Gateway) RegisterPoint(_ context.Context, label string, _ []byte, federates []string) federation.Result {
	g.mu.Lock()
	call := "register:" + label
	if len(federates) > 0 {
		call += fmt.Sprint(federates)
	}
	g.calls = append(g.calls, call)
	r := g.register[label]
	hook := g.onRegister
	g.mu.Unlock()

	if r == federation.ResultOK && hook != nil {
		hook(label)
	}
	return r
}

func (g *Gateway) AchievePoint(_ context.Context, label string) federation.Result {
	g.mu.Lock()
	g.calls = append(g.calls, "achieve:"+label)
	r := g.achieve[label]
	hook := g.onAchieve
	g.mu.Unlock()

	if r == federation.ResultOK && hook != nil {
		hook(label)
	}
	return r
}

func (g *Gateway) IsExecutionMember() bool {
	return !g.notMember.Load()
}

// Recorder is a federation.Callbacks that records every callback as a string.
type Recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *Recorder) add(ev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns the recorded callbacks in arrival order.
func (r *Recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *Recorder) RegistrationSucceeded(label string) { r.add("registered:" + label) }

func (r *Recorder) RegistrationFailed(label string, reason federation.FailureReason) {
	r.add("failed:" + label + ":" + reason.String())
}

func (r *Recorder) Announced(label string, tag []byte) {
	if len(tag) > 0 {
		r.add("announced:" + label + ":" + string(tag))
		return
	}
	r.add("announced:" + label)
}

func (r *Recorder) Synchronized(label string) { r.add("synchronized:" + label) }
