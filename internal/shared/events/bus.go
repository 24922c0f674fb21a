package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/EventStore/EventStore-Client-Go/v4/esdb"
	"github.com/google/uuid"
	"github.com/openwelfare/caseflow/internal/shared/config"
	"github.com/openwelfare/caseflow/internal/shared/types"
	"github.com/sirupsen/logrus"
)

// Event represents a domain event
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`

	// Actor information
	ActorID   types.ID `json:"actor_id,omitempty"`
	ActorRole string   `json:"actor_role,omitempty"`

	// Event data
	Data any `json:"data"`
}

// NewEvent creates a new event with auto-generated ID and timestamp
func NewEvent(eventType, source string, data any) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// WithActor sets the actor information on the event
func (e Event) WithActor(actorID types.ID, actorRole string) Event {
	e.ActorID = actorID
	e.ActorRole = actorRole
	return e
}

// Handler is a function that handles an event
type Handler func(ctx context.Context, event Event) error

// EventBus defines the interface for event publishing and subscription
type EventBus interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(ctx context.Context, pattern string, consumerName string, handler Handler) error
	Close()
	Health() error
}

// Bus provides event publishing and subscription using KurrentDB
type Bus struct {
	client *esdb.Client
	prefix string
}

// Ensure Bus implements EventBus
var _ EventBus = (*Bus)(nil)

// NewBus creates a new event bus connected to KurrentDB
func NewBus(ctx context.Context, cfg config.KurrentDBConfig) (*Bus, error) {
	settings, err := esdb.ParseConnectionString(buildConnectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	client, err := esdb.NewClient(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to create KurrentDB client: %w", err)
	}

	return &Bus{client: client, prefix: "caseflow"}, nil
}

// buildConnectionString creates the esdb:// connection string
func buildConnectionString(cfg config.KurrentDBConfig) string {
	var auth string
	if cfg.Username != "" && cfg.Password != "" {
		auth = fmt.Sprintf("%s:%s@", cfg.Username, cfg.Password)
	}

	params := ""
	if cfg.Insecure {
		params = "?tls=false&tlsVerifyCert=false"
		params += "&keepAliveInterval=10000&keepAliveTimeout=10000"
	}

	return fmt.Sprintf("esdb://%s%s:%d%s", auth, cfg.Host, cfg.Port, params)
}

// Publish publishes an event to the bus. Stream name is derived from the
// event type: workflow.stage.created -> caseflow-workflow-stage-created.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	stream := fmt.Sprintf("%s-%s", b.prefix, strings.ReplaceAll(event.Type, ".", "-"))

	eventID, err := uuid.Parse(event.ID)
	if err != nil {
		eventID = uuid.New()
	}

	esdbEvent := esdb.EventData{
		EventType:   event.Type,
		ContentType: esdb.ContentTypeJson,
		Data:        data,
		EventID:     eventID,
	}

	_, err = b.client.AppendToStream(ctx, stream, esdb.AppendToStreamOptions{
		ExpectedRevision: esdb.Any{},
	}, esdbEvent)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// Subscribe creates a catch-up subscription over $all, filtered to events
// whose type matches the wildcard pattern (e.g. "workflow.*").
func (b *Bus) Subscribe(ctx context.Context, pattern string, consumerName string, handler Handler) error {
	sub, err := b.client.SubscribeToAll(ctx, esdb.SubscribeToAllOptions{
		From: esdb.End{},
		Filter: &esdb.SubscriptionFilter{
			Type:  esdb.EventFilterType,
			Regex: patternToRegex(pattern),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to pattern %s: %w", pattern, err)
	}

	go b.consume(ctx, sub, pattern, consumerName, handler)
	return nil
}

// patternToRegex converts a simple wildcard pattern to a filter regex
func patternToRegex(pattern string) string {
	var sb strings.Builder
	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '.':
			sb.WriteString(`\.`)
		case '*':
			sb.WriteString(`.*`)
		default:
			sb.WriteByte(pattern[i])
		}
	}
	return sb.String()
}

func (b *Bus) consume(ctx context.Context, sub *esdb.Subscription, pattern, consumerName string, handler Handler) {
	defer sub.Close()

	log := logrus.WithFields(logrus.Fields{"consumer": consumerName, "pattern": pattern})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			subEvent := sub.Recv()
			if subEvent.EventAppeared == nil {
				if subEvent.SubscriptionDropped != nil {
					log.WithError(subEvent.SubscriptionDropped.Error).Warn("subscription dropped")
					return
				}
				time.Sleep(10 * time.Millisecond)
				continue
			}

			recorded := subEvent.EventAppeared.Event
			if recorded == nil {
				continue
			}

			// Skip system events
			if strings.HasPrefix(recorded.EventType, "$") {
				continue
			}

			if !matchesPattern(recorded.EventType, pattern) {
				continue
			}

			var event Event
			if err := json.Unmarshal(recorded.Data, &event); err != nil {
				log.WithError(err).Warn("failed to decode event")
				continue
			}
			if event.ID == "" {
				event.ID = recorded.EventID.String()
			}

			if err := handler(ctx, event); err != nil {
				log.WithError(err).WithField("event", event.Type).Warn("event handler failed")
			}
		}
	}
}

// matchesPattern checks if an event type matches a wildcard pattern
func matchesPattern(eventType, pattern string) bool {
	if pattern == "*" {
		return true
	}

	patternParts := strings.Split(pattern, ".")
	typeParts := strings.Split(eventType, ".")

	for i, pp := range patternParts {
		if pp == "*" {
			return true
		}
		if i >= len(typeParts) || pp != typeParts[i] {
			return false
		}
	}

	return len(patternParts) == len(typeParts)
}

// Close closes the event bus connection
func (b *Bus) Close() {
	if b.client != nil {
		b.client.Close()
	}
}

// Client returns the underlying KurrentDB client
func (b *Bus) Client() *esdb.Client {
	return b.client
}

// Health checks the KurrentDB connection
func (b *Bus) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := b.client.ReadStream(ctx, "$streams", esdb.ReadStreamOptions{
		From:      esdb.Start{},
		Direction: esdb.Forwards,
	}, 1)
	if err != nil {
		return fmt.Errorf("KurrentDB health check failed: %w", err)
	}
	defer stream.Close()

	return nil
}
