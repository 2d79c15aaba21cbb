// Package realtime fans Postgres profile change notifications out to
// server-sent event streams.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
)

// Error is the class for realtime failures.
var Error = errs.Class("realtime")

// Channel is the NOTIFY channel written by the profiles trigger.
const Channel = "profile_changes"

// subscriberBuffer is how many changes a slow stream may lag before drops.
const subscriberBuffer = 8

// ProfileChange is the trigger payload.
type ProfileChange struct {
	ID                    string     `json:"id"`
	RemainingCredits      int        `json:"remaining_credits"`
	SubscriptionStatus    *string    `json:"subscription_status"`
	SubscriptionPlan      *string    `json:"subscription_plan"`
	SubscriptionPeriodEnd *time.Time `json:"subscription_period_end"`
}

// Hub routes changes to subscribers of the same profile.
type Hub struct {
	log  *zap.Logger
	mu   sync.Mutex
	subs map[string]map[chan ProfileChange]struct{}

	done      chan struct{}
	closeOnce sync.Once
}

// NewHub returns an empty hub.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		log:  log,
		subs: map[string]map[chan ProfileChange]struct{}{},
		done: make(chan struct{}),
	}
}

// Close ends every open stream. Later streams return as soon as they start.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// Subscribe registers interest in profileID. The returned func must be called
// to release the subscription; it closes the channel.
func (h *Hub) Subscribe(profileID string) (<-chan ProfileChange, func()) {
	ch := make(chan ProfileChange, subscriberBuffer)

	h.mu.Lock()
	set, ok := h.subs[profileID]
	if !ok {
		set = map[chan ProfileChange]struct{}{}
		h.subs[profileID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subs, profileID)
			}
			close(ch)
		})
	}
}

// Subscribers returns the number of open streams for profileID.
func (h *Hub) Subscribers(profileID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[profileID])
}

// Publish decodes a notification payload and delivers it without blocking.
func (h *Hub) Publish(payload string) {
	var change ProfileChange
	if err := json.Unmarshal([]byte(payload), &change); err != nil || change.ID == "" {
		h.log.Warn("discarding profile notification", zap.String("payload", payload), zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[change.ID] {
		select {
		case ch <- change:
		default:
			h.log.Debug("subscriber lagging, change dropped", zap.String("profile_id", change.ID))
		}
	}
}

// Run consumes notifications until ctx ends. A nil notification means the
// connection was re-established and changes may have been missed. ping keeps
// an idle connection checked.
func (h *Hub) Run(ctx context.Context, notify <-chan *pq.Notification, ping func() error) {
	const idleCheck = 90 * time.Second
	timer := time.NewTimer(idleCheck)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notify:
			if !ok {
				return
			}
			if n == nil {
				h.log.Info("profile listener reconnected")
			} else {
				h.Publish(n.Extra)
			}
		case <-timer.C:
			if ping != nil {
				if err := ping(); err != nil {
					h.log.Warn("profile listener ping", zap.Error(err))
				}
			}
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(idleCheck)
	}
}

// Listen opens a dedicated LISTEN connection on dsn and runs the hub until
// ctx ends.
func (h *Hub) Listen(ctx context.Context, dsn string) error {
	listener := pq.NewListener(dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			h.log.Warn("profile listener event", zap.Int("event", int(ev)), zap.Error(err))
		}
	})
	if err := listener.Listen(Channel); err != nil {
		_ = listener.Close()
		return Error.New("listen %s: %w", Channel, err)
	}
	defer func() { _ = listener.Close() }()

	h.log.Info("listening for profile changes", zap.String("channel", Channel))
	h.Run(ctx, listener.Notify, listener.Ping)
	return nil
}
