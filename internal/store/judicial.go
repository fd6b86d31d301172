package store

import (
	"context"
	"database/sql"
	"time"

	"civitas.ai/internal/sim"
)

// OpenCase starts a constitutional review against a law. The partial
// index-like guard (existence check inside a transaction on the single
// write connection) keeps at most one open case per law.
func (s *Store) OpenCase(ctx context.Context, c sim.JudicialCase) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var n int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM judicial_cases WHERE law_id=? AND status IN ('pending','deliberating')`,
		c.LawID).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return ErrCaseOpen
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO judicial_cases(id,law_id,status,ruling,opened_at,ruled_at) VALUES (?,?,?,?,?,NULL)`,
		c.ID, c.LawID, string(c.Status), c.Ruling, fmtTime(c.OpenedAt)); err != nil {
		return err
	}
	return tx.Commit()
}

const caseCols = `id,law_id,status,ruling,opened_at,ruled_at`

func scanCase(sc interface{ Scan(...any) error }) (sim.JudicialCase, error) {
	var c sim.JudicialCase
	var opened string
	var ruled sql.NullString
	err := sc.Scan(&c.ID, &c.LawID, (*string)(&c.Status), &c.Ruling, &opened, &ruled)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.OpenedAt = parseTime(opened)
	if ruled.Valid {
		t := parseTime(ruled.String)
		c.RuledAt = &t
	}
	return c, nil
}

func (s *Store) OpenCases(ctx context.Context) ([]sim.JudicialCase, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+caseCols+` FROM judicial_cases WHERE status IN ('pending','deliberating') ORDER BY opened_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []sim.JudicialCase
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) GetCase(ctx context.Context, id string) (sim.JudicialCase, error) {
	return scanCase(s.db.QueryRowContext(ctx, `SELECT `+caseCols+` FROM judicial_cases WHERE id=?`, id))
}

func (s *Store) HasOpenCase(ctx context.Context, lawID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM judicial_cases WHERE law_id=? AND status IN ('pending','deliberating')`,
		lawID).Scan(&n)
	return n > 0, err
}

func (s *Store) MarkCaseDeliberating(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE judicial_cases SET status='deliberating' WHERE id=? AND status='pending'`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RuleCase resolves a case. Striking a law down flips the law's active
// flag in the same transaction.
func (s *Store) RuleCase(ctx context.Context, id string, upheld bool, ruling string, now time.Time) error {
	status := sim.CaseStruckDown
	if upheld {
		status = sim.CaseUpheld
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var lawID string
	if err := tx.QueryRowContext(ctx,
		`SELECT law_id FROM judicial_cases WHERE id=? AND status='deliberating'`, id).Scan(&lawID); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE judicial_cases SET status=?, ruling=?, ruled_at=? WHERE id=?`,
		string(status), ruling, fmtTime(now), id); err != nil {
		return err
	}
	if !upheld {
		if _, err := tx.ExecContext(ctx, `UPDATE laws SET active=0 WHERE id=?`, lawID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CastJudicialVote records one justice's vote; the primary key rejects a
// second vote from the same justice.
func (s *Store) CastJudicialVote(ctx context.Context, v sim.JudicialVote) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO judicial_votes(case_id,justice_id,choice,reasoning,cast_at) VALUES (?,?,?,?,?)`,
		v.CaseID, v.JusticeID, string(v.Choice), v.Reasoning, fmtTime(v.CastAt))
	if isUniqueViolation(err) {
		return ErrDuplicateVote
	}
	return err
}

func (s *Store) CaseVotes(ctx context.Context, caseID string) ([]sim.JudicialVote, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT case_id,justice_id,choice,reasoning,cast_at FROM judicial_votes WHERE case_id=? ORDER BY cast_at, justice_id`,
		caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []sim.JudicialVote
	for rows.Next() {
		var v sim.JudicialVote
		var cast string
		if err := rows.Scan(&v.CaseID, &v.JusticeID, (*string)(&v.Choice), &v.Reasoning, &cast); err != nil {
			return nil, err
		}
		v.CastAt = parseTime(cast)
		out = append(out, v)
	}
	return out, rows.Err()
}
