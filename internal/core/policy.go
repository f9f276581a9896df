package core

import (
	"fmt"
	"time"

	"github.com/comalice/fedsync/internal/primitives"
)

// Policy decides how a List treats its points. Lists share one
// implementation and differ only by the Policy value they carry.
type Policy interface {
	Name() string
	// Due reports whether p takes part in AchieveDue and CheckDue at t.
	Due(p primitives.Point, t time.Duration) bool
	// AutoAchieve reports whether announced points are achieved on arrival.
	AutoAchieve() bool
}

type standardPolicy struct{}

func (standardPolicy) Name() string                             { return primitives.PolicyStandard }
func (standardPolicy) Due(primitives.Point, time.Duration) bool { return true }
func (standardPolicy) AutoAchieve() bool                        { return false }

type timedPolicy struct{}

func (timedPolicy) Name() string                                 { return primitives.PolicyTimed }
func (timedPolicy) Due(p primitives.Point, t time.Duration) bool { return p.Time <= t }
func (timedPolicy) AutoAchieve() bool                            { return false }

type unrecognizedPolicy struct{}

func (unrecognizedPolicy) Name() string                             { return "unrecognized" }
func (unrecognizedPolicy) Due(primitives.Point, time.Duration) bool { return true }
func (unrecognizedPolicy) AutoAchieve() bool                        { return true }

var (
	// Standard lists hold points the federate registers and waits on.
	Standard Policy = standardPolicy{}

	// Timed lists bind each point to a simulation time; only points at or
	// before the check time are due.
	Timed Policy = timedPolicy{}

	// Unrecognized holds announced labels the federate never added; they are
	// achieved as soon as they arrive since nothing local waits on them.
	Unrecognized Policy = unrecognizedPolicy{}
)

// PolicyByName resolves a configured policy name. Empty means Standard.
func PolicyByName(name string) (Policy, error) {
	switch name {
	case "", Standard.Name():
		return Standard, nil
	case Timed.Name():
		return Timed, nil
	case Unrecognized.Name():
		return Unrecognized, nil
	}
	return nil, fmt.Errorf("unknown list policy %q: %w", name, primitives.ErrConfig)
}
