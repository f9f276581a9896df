package extensibility

import (
	"context"
	"log/slog"
	"time"

	"github.com/comalice/fedsync/internal/federation"
)

// LoggingGateway wraps a federation.Gateway and logs every call. Non-OK
// results are logged at warn level.
type LoggingGateway struct {
	inner  federation.Gateway
	logger *slog.Logger
}

var _ federation.Gateway = (*LoggingGateway)(nil)

// NewLoggingGateway creates a LoggingGateway around inner.
func NewLoggingGateway(inner federation.Gateway, logger *slog.Logger) *LoggingGateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingGateway{inner: inner, logger: logger}
}

func (g *LoggingGateway) RegisterPoint(ctx context.Context, label string, tag []byte, federates []string) federation.Result {
	start := time.Now()
	r := g.inner.RegisterPoint(ctx, label, tag, federates)
	g.log(ctx, "register sync point", label, r, start,
		slog.String("tag", string(tag)),
		slog.Any("federates", federates))
	return r
}

func (g *LoggingGateway) AchievePoint(ctx context.Context, label string) federation.Result {
	start := time.Now()
	r := g.inner.AchievePoint(ctx, label)
	g.log(ctx, "achieve sync point", label, r, start)
	return r
}

func (g *LoggingGateway) IsExecutionMember() bool {
	member := g.inner.IsExecutionMember()
	if !member {
		g.logger.Warn("federate is not an execution member")
	}
	return member
}

func (g *LoggingGateway) log(ctx context.Context, msg, label string, r federation.Result, start time.Time, attrs ...slog.Attr) {
	level := slog.LevelDebug
	if r != federation.ResultOK {
		level = slog.LevelWarn
	}
	attrs = append(attrs,
		slog.String("label", label),
		slog.String("result", r.String()),
		slog.Duration("took", time.Since(start)))
	g.logger.LogAttrs(ctx, level, msg, attrs...)
}
