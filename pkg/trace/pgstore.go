package trace

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lyzr/coordinator/internal/pg"
)

// PGStorage is the Postgres-backed Storage: an append-only `trace_events`
// table keyed by (run_id, sequence_number), per spec §6's persisted state
// layout. MaxSequence and the following Append are always called back to
// back under Log's own mutex, so the pair never races against itself for a
// single run — concurrent runs share the pool but never a sequence.
type PGStorage struct {
	pool  *pg.Pool
	runID string
}

// NewPGStorage wraps pool for one run's trace table.
func NewPGStorage(pool *pg.Pool, runID string) *PGStorage {
	return &PGStorage{pool: pool, runID: runID}
}

func (p *PGStorage) Append(e Event) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("trace: marshal payload for sequence %d: %w", e.SequenceNumber, err)
	}
	const query = `
		INSERT INTO trace_events (run_id, sequence_number, type, timestamp, payload)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err = p.pool.Exec(context.Background(), query,
		p.runID, e.SequenceNumber, string(e.Type), e.Timestamp, payload,
	)
	if err != nil {
		return fmt.Errorf("trace: append sequence %d: %w", e.SequenceNumber, err)
	}
	return nil
}

func (p *PGStorage) Range(from, to int64) ([]Event, error) {
	const query = `
		SELECT sequence_number, type, timestamp, payload
		FROM trace_events
		WHERE run_id = $1 AND sequence_number >= $2 AND sequence_number <= $3
		ORDER BY sequence_number ASC
	`
	rows, err := p.pool.Query(context.Background(), query, p.runID, from, to)
	if err != nil {
		return nil, fmt.Errorf("trace: range [%d,%d]: %w", from, to, err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var typ string
		var payload []byte
		if err := rows.Scan(&e.SequenceNumber, &typ, &e.Timestamp, &payload); err != nil {
			return nil, fmt.Errorf("trace: scan event: %w", err)
		}
		e.Type = Type(typ)
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("trace: unmarshal payload for sequence %d: %w", e.SequenceNumber, err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("trace: iterate events: %w", err)
	}
	return out, nil
}

func (p *PGStorage) MaxSequence() (int64, error) {
	const query = `SELECT COALESCE(MAX(sequence_number), 0) FROM trace_events WHERE run_id = $1`
	var max int64
	if err := p.pool.QueryRow(context.Background(), query, p.runID).Scan(&max); err != nil {
		return 0, fmt.Errorf("trace: max sequence: %w", err)
	}
	return max, nil
}
