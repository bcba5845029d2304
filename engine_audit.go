package goRotate

import (
	"context"
)

func (e *Engine) emitAudit(ctx context.Context, event AuditEvent) {
	if e == nil || e.audit == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = e.clock.Now().UTC()
	}
	if event.Origin == "" {
		event.Origin = originFromContext(ctx)
	}
	e.audit.Emit(ctx, event)
}
