// Package advisory distributes transient, non-blocking user notifications
// ("microphone unavailable", "file decoded", "recording saved") to any number
// of subscribers. Messages are fire-and-forget: a slow subscriber drops
// messages rather than stalling the audio path.
package advisory

import (
	"sync"
	"time"
)

// Severity classifies an advisory for display purposes.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Advisory is one transient notification.
type Advisory struct {
	Severity Severity  `json:"severity"`
	Message  string    `json:"message"`
	Time     time.Time `json:"time"`
}

// Bus fan-outs advisories to subscribers. The zero value is ready to use.
type Bus struct {
	mu   sync.Mutex
	subs map[chan Advisory]struct{}
	last *Advisory
}

// NewBus returns an empty advisory bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[chan Advisory]struct{})}
}

// Publish delivers an advisory to every subscriber. Delivery never blocks;
// subscribers whose buffer is full miss the message.
func (b *Bus) Publish(sev Severity, message string) {
	adv := Advisory{Severity: sev, Message: message, Time: time.Now()}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.last = &adv
	for ch := range b.subs {
		select {
		case ch <- adv:
		default:
		}
	}
}

// Subscribe registers a new subscriber and returns its channel along with a
// cancel function. The channel is buffered; the subscriber must drain it or
// accept drops.
func (b *Bus) Subscribe() (<-chan Advisory, func()) {
	ch := make(chan Advisory, 16)

	b.mu.Lock()
	if b.subs == nil {
		b.subs = make(map[chan Advisory]struct{})
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Last returns the most recently published advisory, or nil when none has
// been published yet.
func (b *Bus) Last() *Advisory {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.last == nil {
		return nil
	}
	adv := *b.last
	return &adv
}
