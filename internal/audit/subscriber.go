package audit

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"

	"github.com/openwelfare/caseflow/internal/shared/events"
)

// patterns are the event families recorded in the audit log
var patterns = []string{
	"workflow.*",
	"case.*",
	"role.*",
	"user.*",
}

// Subscriber turns domain events into audit log entries
type Subscriber struct {
	repo   *KurrentDBRepository
	bus    events.EventBus
	logger *logrus.Logger
}

// NewSubscriber creates an audit subscriber
func NewSubscriber(repo *KurrentDBRepository, bus events.EventBus, logger *logrus.Logger) *Subscriber {
	return &Subscriber{repo: repo, bus: bus, logger: logger}
}

// Start subscribes to all audited event families. Subscriptions run
// until ctx is cancelled.
func (s *Subscriber) Start(ctx context.Context) error {
	for _, pattern := range patterns {
		if err := s.bus.Subscribe(ctx, pattern, "audit", s.handle); err != nil {
			return err
		}
	}
	return nil
}

func (s *Subscriber) handle(ctx context.Context, event events.Event) error {
	entry := NewAuditEntry(event.ActorID, event.ActorRole, event.Type, event.Source, toChanges(event.Data))

	if err := s.repo.Append(ctx, entry); err != nil {
		s.logger.WithError(err).WithField("event", event.Type).Error("failed to record audit entry")
		return err
	}

	return nil
}

// toChanges coerces the event payload into a map for the audit record.
// Non-object payloads are wrapped under a "data" key.
func toChanges(data any) map[string]any {
	if data == nil {
		return nil
	}
	if m, ok := data.(map[string]any); ok {
		return m
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return map[string]any{"data": "unserializable"}
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{"data": string(raw)}
	}
	return m
}
