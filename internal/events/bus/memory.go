package bus

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/julesfleet/julesfleet/internal/common/logger"
)

// MemoryEventBus implements EventBus with in-process delivery. Handlers run
// synchronously on the publisher's goroutine.
type MemoryEventBus struct {
	mu            sync.RWMutex
	subscriptions map[string][]*memorySubscription
	logger        *logger.Logger
	closed        bool
}

type memorySubscription struct {
	bus     *MemoryEventBus
	subject string
	pattern *regexp.Regexp // wildcard matching
	handler EventHandler
	mu      sync.Mutex
	active  bool
}

// Unsubscribe removes the subscription.
func (s *memorySubscription) Unsubscribe() error {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	subs := s.bus.subscriptions[s.subject]
	for i, sub := range subs {
		if sub == s {
			s.bus.subscriptions[s.subject] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	return nil
}

// IsValid returns whether the subscription is still active.
func (s *memorySubscription) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// NewMemoryEventBus creates an in-memory event bus.
func NewMemoryEventBus(log *logger.Logger) *MemoryEventBus {
	return &MemoryEventBus{
		subscriptions: make(map[string][]*memorySubscription),
		logger:        log.WithFields(zap.String("component", "memory_bus")),
	}
}

// Publish delivers the event to all matching subscribers.
func (b *MemoryEventBus) Publish(ctx context.Context, subject string, event *Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("event bus is closed")
	}
	var targets []*memorySubscription
	for pattern, subs := range b.subscriptions {
		for _, sub := range subs {
			if sub.IsValid() && matches(subject, pattern, sub.pattern) {
				targets = append(targets, sub)
			}
		}
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		if err := sub.handler(ctx, event); err != nil {
			b.logger.Warn("event handler failed",
				zap.String("subject", subject),
				zap.String("event_type", event.Type),
				zap.Error(err))
		}
	}
	return nil
}

// Subscribe registers a handler for a subject pattern. NATS-style wildcards
// (* for one token, > for the rest) are supported.
func (b *MemoryEventBus) Subscribe(subject string, handler EventHandler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("event bus is closed")
	}
	sub := &memorySubscription{
		bus:     b,
		subject: subject,
		handler: handler,
		active:  true,
	}
	if strings.ContainsAny(subject, "*>") {
		sub.pattern = compileSubjectPattern(subject)
	}
	b.subscriptions[subject] = append(b.subscriptions[subject], sub)
	return sub, nil
}

// Close shuts down the bus; subsequent publishes fail.
func (b *MemoryEventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subscriptions = make(map[string][]*memorySubscription)
}

// IsConnected reports whether the bus accepts events.
func (b *MemoryEventBus) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed
}

func matches(subject, pattern string, compiled *regexp.Regexp) bool {
	if compiled != nil {
		return compiled.MatchString(subject)
	}
	return subject == pattern
}

func compileSubjectPattern(subject string) *regexp.Regexp {
	tokens := strings.Split(subject, ".")
	parts := make([]string, len(tokens))
	for i, tok := range tokens {
		switch tok {
		case "*":
			parts[i] = `[^.]+`
		case ">":
			parts[i] = `.+`
		default:
			parts[i] = regexp.QuoteMeta(tok)
		}
	}
	return regexp.MustCompile(`^` + strings.Join(parts, `\.`) + `$`)
}
