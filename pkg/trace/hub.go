package trace

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Subscriber is one listener attached to a run's event stream (spec §4.6):
// a bounded channel of trace Events plus a channel of coarse WorkflowEvents,
// and a lagged signal the Hub closes if it drops the subscriber for
// overflowing its buffer. Unsubscribing closes none of these channels.
type Subscriber struct {
	runID   string
	traceCh chan Event
	wfCh    chan WorkflowEvent
	lagged  chan struct{}
}

// Trace returns the channel trace events arrive on.
func (s *Subscriber) Trace() <-chan Event { return s.traceCh }

// Workflow returns the channel coarse workflow events arrive on.
func (s *Subscriber) Workflow() <-chan WorkflowEvent { return s.wfCh }

// Lagged is closed exactly once if this subscriber's buffer overflowed and
// it was dropped; callers should reattach with since_sequence afterward.
func (s *Subscriber) Lagged() <-chan struct{} { return s.lagged }

// Hub fans committed trace and workflow events out to subscribers, one
// bounded channel per subscriber, keyed by run id rather than the teacher's
// username. A subscriber whose buffer fills is disconnected with
// subscriber_lagged instead of blocking the coordinator actor that produced
// the event.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[*Subscriber]struct{} // runID -> set
	bufferSize  int
	log         *slog.Logger

	redis       *redis.Client
	redisPrefix string
}

// NewHub creates a Hub with the given per-subscriber buffer size. redisC may
// be nil, which disables the Redis relay and keeps fan-out purely
// in-process (single-node deployments).
func NewHub(bufferSize int, redisC *redis.Client, log *slog.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Hub{
		subscribers: make(map[string]map[*Subscriber]struct{}),
		bufferSize:  bufferSize,
		log:         log,
		redis:       redisC,
		redisPrefix: "coordinator:trace:",
	}
}

// Subscribe registers a new listener for runID and returns it along with an
// unsubscribe func. Hub only ever delivers events committed after Subscribe
// returns; replaying earlier backlog (since_sequence) is done by the caller
// through trace.Log.Range.
func (h *Hub) Subscribe(runID string) (*Subscriber, func()) {
	sub := &Subscriber{
		runID:   runID,
		traceCh: make(chan Event, h.bufferSize),
		wfCh:    make(chan WorkflowEvent, h.bufferSize),
		lagged:  make(chan struct{}),
	}

	h.mu.Lock()
	if h.subscribers[runID] == nil {
		h.subscribers[runID] = make(map[*Subscriber]struct{})
	}
	h.subscribers[runID][sub] = struct{}{}
	h.mu.Unlock()

	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if set, ok := h.subscribers[runID]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(h.subscribers, runID)
			}
		}
	}
	return sub, unsubscribe
}

// publishTrace delivers e to every subscriber of its run, dropping any
// subscriber whose buffer is full rather than blocking Log.Append.
func (h *Hub) publishTrace(runID string, e Event) {
	h.mu.RLock()
	set := h.subscribers[runID]
	subs := make([]*Subscriber, 0, len(set))
	for s := range set {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	for _, s := range subs {
		select {
		case s.traceCh <- e:
		default:
			h.dropLocked(runID, s)
		}
	}

	if h.redis != nil {
		h.relay(runID, "trace", e)
	}
}

// PublishWorkflow delivers a coarse workflow lifecycle event, the
// subscriber-facing analogue of publishTrace for the "events" stream named
// in spec §4.6.
func (h *Hub) PublishWorkflow(e WorkflowEvent) {
	h.mu.RLock()
	set := h.subscribers[e.RunID]
	subs := make([]*Subscriber, 0, len(set))
	for s := range set {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	for _, s := range subs {
		select {
		case s.wfCh <- e:
		default:
			h.dropLocked(e.RunID, s)
		}
	}

	if h.redis != nil {
		h.relay(e.RunID, "events", e)
	}
}

func (h *Hub) dropLocked(runID string, s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subscribers[runID]; ok {
		if _, present := set[s]; present {
			delete(set, s)
			if len(set) == 0 {
				delete(h.subscribers, runID)
			}
			close(s.lagged)
			if h.log != nil {
				h.log.Warn("subscriber_lagged", "run_id", runID)
			}
		}
	}
}

func (h *Hub) relay(runID, stream string, payload any) {
	ctx := context.Background()
	b, err := json.Marshal(payload)
	if err != nil {
		if h.log != nil {
			h.log.Error("trace relay marshal failed", "run_id", runID, "error", err)
		}
		return
	}
	channel := h.redisPrefix + stream + ":" + runID
	if err := h.redis.Publish(ctx, channel, b).Err(); err != nil {
		if h.log != nil {
			h.log.Error("trace relay publish failed", "run_id", runID, "channel", channel, "error", err)
		}
	}
}
