package audit

import (
	"context"

	"github.com/getsentry/sentry-go"
)

// SentrySink forwards security-significant events to Sentry as warning-level
// messages. Other events are ignored unless listed in Also.
type SentrySink struct {
	hub  *sentry.Hub
	also map[string]struct{}
}

// NewSentrySink captures through hub, or through the current global hub when nil.
func NewSentrySink(hub *sentry.Hub, also ...string) *SentrySink {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	set := make(map[string]struct{}, len(also))
	for _, t := range also {
		set[t] = struct{}{}
	}
	return &SentrySink{hub: hub, also: set}
}

func (s *SentrySink) Emit(_ context.Context, event Event) {
	if !event.SecuritySignificant() {
		if _, ok := s.also[event.EventType]; !ok {
			return
		}
	}

	ev := sentry.NewEvent()
	ev.Level = sentry.LevelWarning
	ev.Message = "goRotate: " + event.EventType
	ev.Timestamp = event.Timestamp
	ev.Tags = map[string]string{"event_type": event.EventType}
	if event.Reason != "" {
		ev.Tags["reason"] = event.Reason
	}
	if event.Principal != "" {
		ev.User = sentry.User{ID: event.Principal, IPAddress: event.Origin}
	}

	detail := sentry.Context{}
	if event.FamilyID != "" {
		detail["family_id"] = event.FamilyID
	}
	for k, v := range event.Metadata {
		detail[k] = v
	}
	if len(detail) > 0 {
		ev.Contexts = map[string]sentry.Context{"rotation": detail}
	}

	s.hub.CaptureEvent(ev)
}
