package adapters

import (
	"context"
	"time"

	ports "github.com/ZanzyTHEbar/journey-chat/jchat/harness/ports"
	"github.com/rs/zerolog"
)

type spanLoggerKey struct{}

// ZerologTracer writes spans as start/end log events.
type ZerologTracer struct {
	logger zerolog.Logger
}

func NewZerologTracer(logger zerolog.Logger) *ZerologTracer {
	return &ZerologTracer{logger: logger}
}

// StartSpan logs the start of name and returns a finisher that logs its duration.
func (t *ZerologTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	lc := t.loggerFrom(ctx).With().Str("span", name)
	for k, v := range attrs {
		lc = lc.Interface(k, v)
	}
	spanLogger := lc.Logger()
	ctx = context.WithValue(ctx, spanLoggerKey{}, spanLogger)

	start := time.Now()
	spanLogger.Debug().Str("event", "span_start").Msg("span started")

	return ctx, func(err error) {
		ev := spanLogger.Debug()
		if err != nil {
			ev = spanLogger.Warn().Err(err).Str("error_kind", ports.Kind(err))
		}
		ev.Str("event", "span_end").Dur("duration", time.Since(start)).Msg("span finished")
	}
}

// Event logs name under the current span, if any.
func (t *ZerologTracer) Event(ctx context.Context, name string, attrs map[string]any) {
	l := t.loggerFrom(ctx)
	ev := l.Info()
	for k, v := range attrs {
		ev = ev.Interface(k, v)
	}
	ev.Str("event", name).Msg("trace event")
}

func (t *ZerologTracer) loggerFrom(ctx context.Context) zerolog.Logger {
	if l, ok := ctx.Value(spanLoggerKey{}).(zerolog.Logger); ok {
		return l
	}
	return t.logger
}

var _ ports.Tracer = (*ZerologTracer)(nil)
