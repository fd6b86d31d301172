package store

import (
	"context"
	"database/sql"
	"time"

	"civitas.ai/internal/sim"
)

// BeginTick records the start of a scheduler pass and returns its
// sequence number.
func (s *Store) BeginTick(ctx context.Context, firedAt time.Time) (uint64, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO ticks(fired_at) VALUES (?)`, fmtTime(firedAt))
	if err != nil {
		return 0, err
	}
	seq, err := res.LastInsertId()
	return uint64(seq), err
}

// CompleteTick stamps completed-at. A failed tick keeps completed_at
// NULL and sets the failed flag, so observers see a stalled tick record.
func (s *Store) CompleteTick(ctx context.Context, seq uint64, completedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE ticks SET completed_at=? WHERE seq=?`, fmtTime(completedAt), seq)
	return err
}

func (s *Store) FailTick(ctx context.Context, seq uint64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE ticks SET failed=1 WHERE seq=?`, seq)
	return err
}

func (s *Store) LatestTick(ctx context.Context) (sim.Tick, error) {
	var t sim.Tick
	var fired string
	var completed sql.NullString
	var failed int
	err := s.db.QueryRowContext(ctx,
		`SELECT seq,fired_at,completed_at,failed FROM ticks ORDER BY seq DESC LIMIT 1`).
		Scan(&t.Seq, &fired, &completed, &failed)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.FiredAt = parseTime(fired)
	if completed.Valid {
		c := parseTime(completed.String)
		t.CompletedAt = &c
	}
	t.Failed = failed != 0
	return t, nil
}

// InsertDecision appends one AI-invocation outcome. Decisions are never
// updated or deleted.
func (s *Store) InsertDecision(ctx context.Context, d sim.Decision) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO decisions(id,tick,agent_id,provider,phase,action,reasoning,ok,error,latency_ms,at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.Tick, d.AgentID, d.Provider, d.Phase, d.Action, d.Reasoning,
		boolInt(d.OK), d.Error, d.LatencyMs, fmtTime(d.At))
	return err
}

// DecisionsByTick pages the decision log for one tick.
func (s *Store) DecisionsByTick(ctx context.Context, tick uint64, offset, limit int) ([]sim.Decision, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,tick,agent_id,provider,phase,action,reasoning,ok,error,latency_ms,at
		 FROM decisions WHERE tick=? ORDER BY at, id LIMIT ? OFFSET ?`, tick, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []sim.Decision
	for rows.Next() {
		var d sim.Decision
		var ok int
		var at string
		if err := rows.Scan(&d.ID, &d.Tick, &d.AgentID, &d.Provider, &d.Phase,
			&d.Action, &d.Reasoning, &ok, &d.Error, &d.LatencyMs, &at); err != nil {
			return nil, err
		}
		d.OK = ok != 0
		d.At = parseTime(at)
		out = append(out, d)
	}
	return out, rows.Err()
}

// DecisionStats aggregates lifetime decision counters for the status
// surface.
type DecisionStats struct {
	Total      int
	Errors     int
	ByProvider map[string]int
}

func (s *Store) DecisionTotals(ctx context.Context) (DecisionStats, error) {
	stats := DecisionStats{ByProvider: map[string]int{}}
	rows, err := s.db.QueryContext(ctx,
		`SELECT provider, ok, COUNT(*) FROM decisions GROUP BY provider, ok`)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var provider string
		var ok, n int
		if err := rows.Scan(&provider, &ok, &n); err != nil {
			return stats, err
		}
		stats.Total += n
		if ok == 0 {
			stats.Errors += n
		}
		stats.ByProvider[provider] += n
	}
	return stats, rows.Err()
}

// BillsProposedInTick counts proposals per agent within one tick, used
// by the dispatcher's per-tick action caps.
func (s *Store) BillsProposedInTick(ctx context.Context, tick uint64) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT agent_id, COUNT(*) FROM decisions WHERE tick=? AND phase='bill_propose' AND ok=1 GROUP BY agent_id`,
		tick)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}
