package audit

import (
	"context"

	"github.com/rs/zerolog"
)

// LogSink writes events through a zerolog logger. Failures log at warn, security
// significant events at error, everything else at info.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(_ context.Context, event Event) {
	var ev *zerolog.Event
	switch {
	case event.SecuritySignificant():
		ev = s.logger.Error()
	case !event.Success:
		ev = s.logger.Warn()
	default:
		ev = s.logger.Info()
	}

	ev = ev.Time("at", event.Timestamp).
		Str("event_type", event.EventType).
		Bool("success", event.Success)
	if event.Principal != "" {
		ev = ev.Str("principal", event.Principal)
	}
	if event.FamilyID != "" {
		ev = ev.Str("family_id", event.FamilyID)
	}
	if event.Origin != "" {
		ev = ev.Str("origin", event.Origin)
	}
	if event.Reason != "" {
		ev = ev.Str("reason", event.Reason)
	}
	if event.Error != "" {
		ev = ev.Str("error", event.Error)
	}
	if len(event.Metadata) > 0 {
		dict := zerolog.Dict()
		for k, v := range event.Metadata {
			dict = dict.Str(k, v)
		}
		ev = ev.Dict("metadata", dict)
	}
	ev.Msg("audit")
}
