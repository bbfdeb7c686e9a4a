package trace

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Storage is the persistence contract for a run's trace log: an
// append-only table keyed by sequence_number, per spec §6's persisted
// layout. Two implementations exist: an in-memory one (tests, single-node
// default) and a Postgres one (PGStorage, in pgstore.go).
type Storage interface {
	Append(e Event) error
	Range(from, to int64) ([]Event, error)
	MaxSequence() (int64, error)
}

// Log is the append-only sequencer for one run's trace. It is the single
// funnel every trace-emitting call in the coordinator goes through —
// Context Store operations, token status transitions, routing decisions,
// dispatch, completion — so that sequence_number stays strictly monotonic
// and contiguous from 1 regardless of which component produced the event.
//
// This resolves the tension between spec §4.1 ("Context reads/writes are
// logged from inside the store") and §4.4 ("the Applier is the only writer
// of trace events"): in the single-writer-per-run actor model every call
// that reaches Log.Append is already serialized on the run's actor
// goroutine, so funnelling everything through one Log has the same effect
// as routing it through the Applier's transaction. See DESIGN.md.
type Log struct {
	mu      sync.Mutex
	runID   string
	storage Storage
	hub     *Hub
	now     func() time.Time
}

// NewLog creates a trace log backed by storage for one run, optionally
// fanning out committed events to hub (nil disables fan-out, e.g. in
// planner unit tests).
func NewLog(runID string, storage Storage, hub *Hub) *Log {
	return &Log{runID: runID, storage: storage, hub: hub, now: time.Now}
}

// Append assigns the next sequence number, persists the event, and fans it
// out to subscribers. Returns the committed Event.
func (l *Log) Append(typ Type, payload map[string]any) Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	max, err := l.storage.MaxSequence()
	if err != nil {
		// A broken sequence counter is an internal invariant violation, not
		// a recoverable condition; spec §7 quarantines the run on exactly
		// this class of failure. We panic here because Log.Append has no
		// error return (every caller treats trace emission as infallible,
		// matching the teacher's logger which never returns an error either).
		// No code in this module recovers the panic.
		panic(fmt.Errorf("trace: read max sequence: %w", err))
	}

	e := Event{
		SequenceNumber: max + 1,
		Type:           typ,
		Timestamp:      l.now(),
		Payload:        payload,
	}
	if err := l.storage.Append(e); err != nil {
		panic(fmt.Errorf("trace: append sequence %d: %w", e.SequenceNumber, err))
	}

	if l.hub != nil {
		l.hub.publishTrace(l.runID, e)
	}
	return e
}

// Range returns events with from <= sequence_number <= to.
func (l *Log) Range(from, to int64) ([]Event, error) {
	return l.storage.Range(from, to)
}

// ByTypePrefix returns every event (in sequence order) whose Type starts
// with prefix, e.g. "context." or "synchronization.ready".
func (l *Log) ByTypePrefix(prefix string) ([]Event, error) {
	all, err := l.storage.Range(1, 1<<62)
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(all))
	for _, e := range all {
		if strings.HasPrefix(string(e.Type), prefix) {
			out = append(out, e)
		}
	}
	return out, nil
}

// MemoryStorage is an in-process Storage implementation: a slice guarded by
// a mutex. Used by tests and as the default for single-node deployments
// without Postgres configured.
type MemoryStorage struct {
	mu     sync.RWMutex
	events []Event
}

// NewMemoryStorage creates an empty in-memory trace storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (m *MemoryStorage) Append(e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) > 0 && e.SequenceNumber != m.events[len(m.events)-1].SequenceNumber+1 {
		return fmt.Errorf("trace: non-contiguous sequence: have %d, got %d",
			m.events[len(m.events)-1].SequenceNumber, e.SequenceNumber)
	}
	m.events = append(m.events, e)
	return nil
}

func (m *MemoryStorage) Range(from, to int64) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Event, 0)
	for _, e := range m.events {
		if e.SequenceNumber >= from && e.SequenceNumber <= to {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })
	return out, nil
}

func (m *MemoryStorage) MaxSequence() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.events) == 0 {
		return 0, nil
	}
	return m.events[len(m.events)-1].SequenceNumber, nil
}
