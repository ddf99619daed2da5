// Package events fans account-scoped notifications out to subscribers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Name string

const (
	PositionClosed       Name = "position_closed"
	TradeExecuted        Name = "trade_executed"
	TradeUpdated         Name = "trade_updated"
	AccountUpdate        Name = "account_update"
	AccountMetricsUpdate Name = "account_metrics_update"
	StatusChanged        Name = "status_changed"
	PhaseChanged         Name = "phase_changed"
	ViolationRecorded    Name = "violation"
)

// Publisher publishes a named event with a JSON-serializable payload to an
// account's channel.
type Publisher interface {
	Publish(ctx context.Context, accountID string, name Name, payload any) error
}

// Channel is the account-scoped channel name.
func Channel(accountID string) string {
	return "account:" + accountID
}

// Envelope is what subscribers receive.
type Envelope struct {
	ID        string          `json:"id"`
	Channel   string          `json:"channel"`
	AccountID string          `json:"accountId"`
	Name      Name            `json:"event"`
	Payload   json.RawMessage `json:"payload"`
	At        time.Time       `json:"at"`
}

// Bus is an in-process pub/sub broker keyed by channel. Publish never
// blocks: a subscriber whose buffer is full misses the event.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string][]chan Envelope
	now     func() time.Time
	dropped uint64
}

var _ Publisher = (*Bus)(nil)

func NewBus() *Bus {
	return &Bus{subs: make(map[string][]chan Envelope), now: time.Now}
}

// Subscribe registers a listener on channel ("*" receives every channel) and
// returns the stream plus an unsubscribe function.
func (b *Bus) Subscribe(channel string, buffer int) (<-chan Envelope, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Envelope, buffer)
	b.subs[channel] = append(b.subs[channel], ch)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.subs[channel]
			for i, c := range subs {
				if c == ch {
					close(c)
					b.subs[channel] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
		})
	}
	return ch, unsub
}

// Publish encodes payload as JSON and delivers it to the account channel and
// to wildcard subscribers.
func (b *Bus) Publish(ctx context.Context, accountID string, name Name, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("publish %s: encode payload: %w", name, err)
	}

	env := Envelope{
		ID:        uuid.NewString(),
		Channel:   Channel(accountID),
		AccountID: accountID,
		Name:      name,
		Payload:   raw,
		At:        b.now(),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, key := range []string{env.Channel, "*"} {
		for _, ch := range b.subs[key] {
			select {
			case ch <- env:
			default:
				b.dropped++
			}
		}
	}
	return nil
}

// Dropped counts deliveries skipped because a subscriber was full.
func (b *Bus) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// Nop discards everything.
type Nop struct{}

func (Nop) Publish(context.Context, string, Name, any) error { return nil }

// Recorder keeps every published event in memory.
type Recorder struct {
	mu     sync.Mutex
	Events []Recorded
}

type Recorded struct {
	AccountID string
	Name      Name
	Payload   any
}

func (r *Recorder) Publish(_ context.Context, accountID string, name Name, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, Recorded{AccountID: accountID, Name: name, Payload: payload})
	return nil
}

// Names returns the recorded event names in publish order.
func (r *Recorder) Names() []Name {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Name, len(r.Events))
	for i, e := range r.Events {
		out[i] = e.Name
	}
	return out
}

// Count returns how many events named n were recorded.
func (r *Recorder) Count(n Name) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := 0
	for _, e := range r.Events {
		if e.Name == n {
			c++
		}
	}
	return c
}
