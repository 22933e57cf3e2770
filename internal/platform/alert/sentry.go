package alert

import (
	"context"

	"github.com/getsentry/sentry-go"
)

// SentrySink reports alerts as error-level Sentry messages.
type SentrySink struct {
	hub *sentry.Hub
}

// NewSentrySink uses hub, or the current global hub when hub is nil.
func NewSentrySink(hub *sentry.Hub) *SentrySink {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	return &SentrySink{hub: hub}
}

func (s *SentrySink) Raise(_ context.Context, a *Alert) error {
	s.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelError)
		scope.SetTag("alert_kind", a.Kind)
		scope.SetTag("consultation_id", a.ConsultationID.String())
		scope.SetExtra("alert_id", a.ID.String())
		s.hub.CaptureMessage(a.Kind + ": " + a.Detail)
	})
	return nil
}
