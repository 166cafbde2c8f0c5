package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/taskflow-auth/internal/events"
	"github.com/spec-kit/taskflow-auth/internal/observability"
)

// AuditService writes one structured audit line per authentication event.
type AuditService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	metrics    *observability.Metrics
}

// NewAuditService creates the service.
func NewAuditService(dispatcher events.Dispatcher, logger *zap.Logger, metrics *observability.Metrics) *AuditService {
	return &AuditService{
		dispatcher: dispatcher,
		logger:     logger.Named("audit"),
		metrics:    metrics,
	}
}

// RegisterHandlers subscribes the audit log to every event type.
func (a *AuditService) RegisterHandlers() {
	if a.dispatcher == nil {
		return
	}
	a.dispatcher.SubscribeAll(a.handle)
}

func (a *AuditService) handle(_ context.Context, event events.Event) error {
	switch event.Type {
	case events.EventUserRegistered:
		a.metrics.RecordAuth(observability.AuthRegistered, 1)
	case events.EventFlowLocked, events.EventLoginFailed:
		a.logger.Warn(string(event.Type), a.fields(event)...)
		return nil
	}
	a.logger.Info(string(event.Type), a.fields(event)...)
	return nil
}

func (a *AuditService) fields(event events.Event) []zap.Field {
	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("username", event.Username),
		zap.Time("timestamp", event.Timestamp),
	}
	if event.FlowID != "" {
		fields = append(fields, zap.String("flow_id", event.FlowID))
	}
	if event.Payload != nil {
		fields = append(fields, zap.Any("payload", event.Payload))
	}
	return fields
}
