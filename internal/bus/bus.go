// Package bus is an in-process publish/subscribe hub that namespaces
// topics per component and keeps the last payload of retained topics.
package bus

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/telemetryd/internal/errors"
	"codeberg.org/mutker/telemetryd/internal/logger"
)

// TimeFormat is used for every timestamp carried in a payload.
const TimeFormat = "2006-01-02T15:04:05.000000Z07:00"

// Timestamp formats t in UTC using TimeFormat.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// Publisher sends a payload on a component-relative topic suffix.
type Publisher interface {
	Publish(suffix string, payload []byte, retained bool) error
}

// RetainedStore persists retained payloads keyed by full topic.
type RetainedStore interface {
	Save(topic string, payload []byte) error
	Load() (map[string][]byte, error)
}

// Message is what subscribers receive.
type Message struct {
	Topic    string          `json:"topic"`
	Payload  json.RawMessage `json:"payload"`
	Retained bool            `json:"retained"`
}

type Option func(*Bus)

// WithStore persists retained payloads and restores them on New.
func WithStore(s RetainedStore) Option {
	return func(b *Bus) { b.store = s }
}

type Bus struct {
	prefix   string
	store    RetainedStore
	mu       sync.RWMutex
	retained map[string][]byte
	subs     map[*Subscription]struct{}
	dropped  atomic.Uint64
}

// New creates a bus rooted at <baseTopic>/<componentID>.
func New(baseTopic, componentID string, opts ...Option) (*Bus, error) {
	errFactory := errors.New()

	if componentID == "" || strings.Contains(componentID, "/") {
		return nil, errFactory.WithData(errors.ErrInvalidArgument, componentID)
	}

	b := &Bus{
		prefix:   strings.Trim(baseTopic, "/"),
		retained: make(map[string][]byte),
		subs:     make(map[*Subscription]struct{}),
	}
	if b.prefix != "" {
		b.prefix += "/"
	}
	b.prefix += componentID + "/"

	for _, opt := range opts {
		opt(b)
	}

	if b.store != nil {
		stored, err := b.store.Load()
		if err != nil {
			return nil, errFactory.Wrap(errors.ErrInitFailed, err)
		}
		for topic, payload := range stored {
			if strings.HasPrefix(topic, b.prefix) {
				b.retained[topic] = payload
			}
		}
		logger.Debug().Int("topics", len(b.retained)).Msg("Restored retained topics")
	}

	return b, nil
}

// Topic returns the full topic for suffix.
func (b *Bus) Topic(suffix string) string {
	return b.prefix + strings.TrimPrefix(suffix, "/")
}

// Publish fans payload out to every subscriber. Slow subscribers lose
// the message instead of blocking the publisher.
func (b *Bus) Publish(suffix string, payload []byte, retained bool) error {
	errFactory := errors.New()

	if !json.Valid(payload) {
		return errFactory.WithData(errors.ErrPublish, suffix)
	}

	topic := b.Topic(suffix)
	body := make([]byte, len(payload))
	copy(body, payload)

	b.mu.Lock()
	if retained {
		b.retained[topic] = body
	}
	msg := Message{Topic: topic, Payload: body, Retained: retained}
	for sub := range b.subs {
		select {
		case sub.ch <- msg:
		default:
			b.dropped.Add(1)
		}
	}
	b.mu.Unlock()

	if retained && b.store != nil {
		if err := b.store.Save(topic, body); err != nil {
			return errFactory.Wrap(errors.ErrPublish, err)
		}
	}

	return nil
}

// Retained returns the last retained payload for suffix.
func (b *Bus) Retained(suffix string) ([]byte, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	payload, ok := b.retained[b.Topic(suffix)]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(payload))
	copy(out, payload)

	return out, true
}

// RetainedTopics lists retained topics in lexical order.
func (b *Bus) RetainedTopics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	topics := make([]string, 0, len(b.retained))
	for topic := range b.retained {
		topics = append(topics, topic)
	}
	sort.Strings(topics)

	return topics
}

// Dropped reports how many deliveries were skipped for full subscribers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Subscription receives every message published after Subscribe. When
// replay is set the current retained payloads are queued first.
type Subscription struct {
	C    <-chan Message
	ch   chan Message
	bus  *Bus
	once sync.Once
}

func (b *Bus) Subscribe(buffer int, replay bool) *Subscription {
	if buffer < 1 {
		buffer = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if replay && len(b.retained) > buffer {
		buffer = len(b.retained)
	}
	ch := make(chan Message, buffer)
	sub := &Subscription{C: ch, ch: ch, bus: b}

	if replay {
		topics := make([]string, 0, len(b.retained))
		for topic := range b.retained {
			topics = append(topics, topic)
		}
		sort.Strings(topics)
		for _, topic := range topics {
			ch <- Message{Topic: topic, Payload: b.retained[topic], Retained: true}
		}
	}

	b.subs[sub] = struct{}{}

	return sub
}

// Close unsubscribes and closes C. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		close(s.ch)
		s.bus.mu.Unlock()
	})
}
