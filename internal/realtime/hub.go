package realtime

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/fx"
)

const (
	EventSaleCreated      = "sale.created"
	EventInventoryUpdated = "inventory.updated"
	EventPaymentUpdated   = "payment.updated"
)

const (
	DefaultBufferSize       = 50
	DefaultSubscriberBuffer = 16
)

var (
	ErrHubUnavailable = errors.New("hub_unavailable")
	ErrInvalidTenant  = errors.New("invalid_tenant")
)

// Event is a best-effort notification for point-of-sale screens of one tenant.
type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	TenantID   string         `json:"tenantId"`
	OccurredAt time.Time      `json:"occurredAt"`
	Data       map[string]any `json:"data,omitempty"`
}

// Hub fans events out to subscribers of a tenant and keeps a short replay
// buffer while the tenant has at least one subscriber. Slow subscribers
// miss events instead of blocking publishers.
type Hub struct {
	mu               sync.RWMutex
	streams          map[string]*stream
	bufferSize       int
	subscriberBuffer int
}

type stream struct {
	mu     sync.Mutex
	buffer []Event
	subs   map[uint64]chan Event
	nextID uint64
}

type Subscription struct {
	hub      *Hub
	tenantID string
	id       uint64
	ch       chan Event
	once     sync.Once
}

func NewHub() *Hub {
	return &Hub{
		streams:          make(map[string]*stream),
		bufferSize:       DefaultBufferSize,
		subscriberBuffer: DefaultSubscriberBuffer,
	}
}

var Module = fx.Module("realtime",
	fx.Provide(NewHub),
)

func (h *Hub) Publish(tenantID, eventType string, data map[string]any) {
	if h == nil {
		return
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return
	}

	h.mu.RLock()
	st := h.streams[tenantID]
	h.mu.RUnlock()
	if st == nil {
		return
	}

	event := Event{
		ID:         ulid.Make().String(),
		Type:       eventType,
		TenantID:   tenantID,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}

	st.mu.Lock()
	st.buffer = append(st.buffer, event)
	if len(st.buffer) > h.bufferSize {
		st.buffer = st.buffer[len(st.buffer)-h.bufferSize:]
	}
	subs := make([]chan Event, 0, len(st.subs))
	for _, ch := range st.subs {
		subs = append(subs, ch)
	}
	st.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe registers a listener for tenantID and returns the buffered backlog.
func (h *Hub) Subscribe(tenantID string) (*Subscription, []Event, error) {
	if h == nil {
		return nil, nil, ErrHubUnavailable
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, nil, ErrInvalidTenant
	}

	st := h.ensureStream(tenantID)
	st.mu.Lock()
	id := st.nextID
	st.nextID++
	ch := make(chan Event, h.subscriberBuffer)
	st.subs[id] = ch
	backlog := append([]Event(nil), st.buffer...)
	st.mu.Unlock()

	return &Subscription{hub: h, tenantID: tenantID, id: id, ch: ch}, backlog, nil
}

func (h *Hub) ensureStream(tenantID string) *stream {
	h.mu.RLock()
	current := h.streams[tenantID]
	h.mu.RUnlock()
	if current != nil {
		return current
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	current = h.streams[tenantID]
	if current == nil {
		current = &stream{subs: make(map[uint64]chan Event)}
		h.streams[tenantID] = current
	}
	return current
}

func (h *Hub) unsubscribe(tenantID string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := h.streams[tenantID]
	if st == nil {
		return
	}
	st.mu.Lock()
	delete(st.subs, id)
	empty := len(st.subs) == 0
	st.mu.Unlock()
	if empty {
		delete(h.streams, tenantID)
	}
}

func (s *Subscription) Events() <-chan Event {
	if s == nil {
		return nil
	}
	return s.ch
}

func (s *Subscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.once.Do(func() {
		s.hub.unsubscribe(s.tenantID, s.id)
	})
}
