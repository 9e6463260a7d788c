package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jdziat/recipe-enricher/pkg/observability"
)

// Lifecycle event names.
const (
	EventStarted       = "started"
	EventCompleted     = "completed"
	EventFailed        = "failed"
	EventProgressToast = "progress-toast"
)

// Toast severities.
const (
	SeverityInfo    = "info"
	SeveritySuccess = "success"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// Message is one emitted event as it travels to subscribers.
type Message struct {
	ID      string          `json:"id"`
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Scope   Scope           `json:"scope"`
	Payload json.RawMessage `json:"payload,omitempty"`
	At      time.Time       `json:"at"`
}

// ToastPayload is the payload of a progress-toast event.
type ToastPayload struct {
	TitleKey string `json:"titleKey"`
	Severity string `json:"severity"`
}

// Publisher forwards messages to every node, including this one.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Subscription receives the events its scope may see.
type Subscription struct {
	C     <-chan Message
	scope Scope

	ch     chan Message
	b      *Broadcaster
	closed bool
}

// Scope returns the subscriber's scope.
func (s *Subscription) Scope() Scope { return s.scope }

// Close stops delivery and closes C.
func (s *Subscription) Close() {
	s.b.unsubscribe(s)
}

// Broadcaster delivers lifecycle events to subscribers allowed to see them.
type Broadcaster struct {
	policy    Policy
	publisher Publisher
	logger    *slog.Logger

	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithLogger sets the broadcaster's logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Broadcaster) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithPublisher routes emissions through p instead of delivering locally.
// p must hand each message back to Deliver on every node.
func WithPublisher(p Publisher) Option {
	return func(b *Broadcaster) { b.publisher = p }
}

// New creates a Broadcaster that consults policy on every delivery.
func New(policy Policy, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		policy: policy,
		logger: slog.Default(),
		subs:   make(map[*Subscription]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a listener. buffer bounds how many undelivered
// messages are held; when full, new messages are dropped for that listener.
func (b *Broadcaster) Subscribe(scope Scope, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan Message, buffer)
	s := &Subscription{C: ch, ch: ch, scope: scope, b: b}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

func (b *Broadcaster) unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	delete(b.subs, s)
	close(s.ch)
}

// Subscribers returns the number of active subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Emit publishes an event on topic. The topic is also the policy category.
func (b *Broadcaster) Emit(ctx context.Context, topic string, scope Scope, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("broadcast: marshal %s payload: %w", event, err)
	}
	msg := Message{
		ID:      uuid.New().String(),
		Topic:   topic,
		Event:   event,
		Scope:   scope,
		Payload: raw,
		At:      time.Now().UTC(),
	}

	if b.publisher != nil {
		if err := b.publisher.Publish(ctx, msg); err != nil {
			return fmt.Errorf("broadcast: publish: %w", err)
		}
		return nil
	}
	b.Deliver(ctx, msg)
	return nil
}

// Toast emits a progress-toast event.
func (b *Broadcaster) Toast(ctx context.Context, topic string, scope Scope, titleKey, severity string) error {
	return b.Emit(ctx, topic, scope, EventProgressToast, ToastPayload{TitleKey: titleKey, Severity: severity})
}

// Deliver hands msg to every local subscriber its policy allows and returns
// how many received it. A policy error delivers to nobody.
func (b *Broadcaster) Deliver(ctx context.Context, msg Message) int {
	rule, err := b.policy.ViewPolicy(ctx, msg.Topic)
	if err != nil {
		b.logger.Warn("view policy lookup failed; event withheld", "topic", msg.Topic, "event", msg.Event, "error", err)
		return 0
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for s := range b.subs {
		if !rule.Visible(msg.Scope, s.scope) {
			continue
		}
		select {
		case s.ch <- msg:
			delivered++
		default:
			b.logger.Warn("subscriber buffer full; event dropped", "topic", msg.Topic, "event", msg.Event, "user_id", s.scope.UserID)
		}
	}
	if delivered > 0 {
		observability.EventsDelivered.WithLabelValues(msg.Event).Add(float64(delivered))
	}
	return delivered
}
