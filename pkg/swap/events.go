package swap

import (
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType enumerates the settlement lifecycle events published on the feed.
type EventType string

const (
	EventOrderCreated          EventType = "order_created"
	EventOrderFilled           EventType = "order_filled"
	EventOrderPartiallyFilled  EventType = "order_partially_filled"
	EventOrderCancelled        EventType = "order_cancelled"
	EventOrderOwnershipMoved   EventType = "order_ownership_transferred"
	EventPrivateOrderFilled    EventType = "private_order_filled"
	EventPrivateOrderInvalid   EventType = "private_order_invalidated"
	EventPluginEnabled         EventType = "plugin_enabled"
	EventPluginDisabled        EventType = "plugin_disabled"
	EventFeeUpdated            EventType = "fee_updated"
	EventWhitelistUpdated      EventType = "whitelist_updated"
	EventWithdrawal            EventType = "withdrawal"
	EventOwnershipTransferred  EventType = "ownership_transferred"
)

// Event is one settlement lifecycle notification. Amount fields are set
// only where they apply to the event type.
type Event struct {
	Type      EventType      `json:"type"`
	OrderHash common.Hash    `json:"orderHash,omitempty"`
	Actor     common.Address `json:"actor,omitempty"`
	Asset     common.Address `json:"asset,omitempty"`
	AmountIn  *big.Int       `json:"amountIn,omitempty"`
	AmountOut *big.Int       `json:"amountOut,omitempty"`
	Fee       *big.Int       `json:"fee,omitempty"`
	Plugin    string         `json:"plugin,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

// Feed fans settlement events out to subscribers. Publishing never blocks:
// a subscriber that falls behind loses events rather than stalling
// settlement.
type Feed struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func NewFeed() *Feed {
	return &Feed{subs: make(map[chan Event]struct{})}
}

// Subscribe returns a channel of future events and a cancel function.
func (f *Feed) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		if _, ok := f.subs[ch]; ok {
			delete(f.subs, ch)
			close(ch)
		}
		f.mu.Unlock()
	}
	return ch, cancel
}

// Publish emits an event to all subscribers. Plugins use this for their
// own administrative notifications.
func (f *Feed) Publish(ev Event) { f.publish(ev) }

func (f *Feed) publish(ev Event) {
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().Unix()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
