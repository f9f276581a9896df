package fedsync

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/comalice/fedsync/internal/federation"
	"github.com/comalice/fedsync/internal/primitives"
)

// Federation runs the federates of a FederationConfig over one loopback
// federation execution.
type Federation struct {
	cfg       primitives.FederationConfig
	loopback  *federation.Loopback
	federates []*Federate
	logger    *slog.Logger
}

// NewFederation validates cfg and creates every federate. All of them have
// joined when it returns. perFederate returns extra options for the named
// federate and may be nil; opts apply to every federate first.
func NewFederation(cfg primitives.FederationConfig, perFederate func(name string) []Option, opts ...Option) (*Federation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	fed := &Federation{
		cfg:      cfg,
		loopback: federation.NewLoopback(cfg.Name, o.logger),
		logger:   o.logger.With(slog.String("federation", cfg.Name)),
	}
	base := append([]Option{WithTicks(cfg.Ticks), WithTickRate(cfg.TickRate)}, opts...)
	for _, fc := range cfg.Federates {
		fopts := base
		if perFederate != nil {
			fopts = append(append([]Option(nil), base...), perFederate(fc.Name)...)
		}
		f, err := NewFederate(fc, fed.loopback, fopts...)
		if err != nil {
			fed.Close()
			return nil, fmt.Errorf("federation %q: %w", cfg.Name, err)
		}
		fed.federates = append(fed.federates, f)
	}
	return fed, nil
}

// Federates returns the federates in config order.
func (fed *Federation) Federates() []*Federate {
	return fed.federates
}

// Federate returns the federate with the given name.
func (fed *Federation) Federate(name string) (*Federate, bool) {
	for _, f := range fed.federates {
		if f.Name() == name {
			return f, true
		}
	}
	return nil, false
}

// Loopback returns the federation execution the federates joined.
func (fed *Federation) Loopback() *federation.Loopback {
	return fed.loopback
}

// Run runs every federate concurrently. The first failure cancels the rest.
func (fed *Federation) Run(ctx context.Context) error {
	fed.logger.Info("federation starting",
		slog.Int("federates", len(fed.federates)),
		slog.Int("ticks", fed.cfg.Ticks))

	g, ctx := errgroup.WithContext(ctx)
	for _, f := range fed.federates {
		g.Go(func() error {
			return f.Run(ctx)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	fed.logger.Info("federation finished", slog.Any("pending", fed.loopback.Pending()))
	return nil
}

// RequestShutdown raises the host shutdown flag of every federate.
func (fed *Federation) RequestShutdown() {
	for _, f := range fed.federates {
		f.RequestShutdown()
	}
}

// Close resigns every federate.
func (fed *Federation) Close() {
	for _, f := range fed.federates {
		if err := f.Close(); err != nil {
			fed.logger.Warn("close federate", slog.String("federate", f.Name()), slog.Any("err", err))
		}
	}
}

// RunFederation creates and runs the federation described by cfg.
func RunFederation(ctx context.Context, cfg primitives.FederationConfig, opts ...Option) error {
	fed, err := NewFederation(cfg, nil, opts...)
	if err != nil {
		return err
	}
	defer fed.Close()
	return fed.Run(ctx)
}
