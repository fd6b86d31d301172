package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"civitas.ai/internal/sim"
)

func (s *Store) InsertBill(ctx context.Context, b sim.Bill) error {
	cos, _ := json.Marshal(b.CoSponsorIDs)
	whip, _ := json.Marshal(b.WhipPositions)
	if b.CoSponsorIDs == nil {
		cos = []byte("[]")
	}
	if b.WhipPositions == nil {
		whip = []byte("{}")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bills(id,title,summary,full_text,sponsor_id,cosponsors_json,committee,status,bill_type,amends_law_id,whip_json,introduced_at,last_action_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		b.ID, b.Title, b.Summary, b.FullText, b.SponsorID, string(cos), b.Committee,
		string(b.Status), string(b.Type), nullable(b.AmendsLawID), string(whip),
		fmtTime(b.IntroducedAt), fmtTime(b.LastActionAt))
	return err
}

const billCols = `id,title,summary,full_text,sponsor_id,cosponsors_json,committee,status,bill_type,amends_law_id,whip_json,introduced_at,last_action_at`

func scanBill(sc interface{ Scan(...any) error }) (sim.Bill, error) {
	var b sim.Bill
	var cos, whip, introduced, lastAction string
	var amends sql.NullString
	err := sc.Scan(&b.ID, &b.Title, &b.Summary, &b.FullText, &b.SponsorID, &cos,
		&b.Committee, (*string)(&b.Status), (*string)(&b.Type), &amends, &whip,
		&introduced, &lastAction)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	if err != nil {
		return b, err
	}
	_ = json.Unmarshal([]byte(cos), &b.CoSponsorIDs)
	_ = json.Unmarshal([]byte(whip), &b.WhipPositions)
	b.AmendsLawID = amends.String
	b.IntroducedAt = parseTime(introduced)
	b.LastActionAt = parseTime(lastAction)
	return b, nil
}

func (s *Store) GetBill(ctx context.Context, id string) (sim.Bill, error) {
	return scanBill(s.db.QueryRowContext(ctx, `SELECT `+billCols+` FROM bills WHERE id=?`, id))
}

// OpenBills returns every bill not yet in a terminal state, oldest first
// so tick evaluation order is stable.
func (s *Store) OpenBills(ctx context.Context) ([]sim.Bill, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+billCols+` FROM bills WHERE status NOT IN ('law','vetoed','tabled') ORDER BY introduced_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []sim.Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// AdvanceBill moves a bill's status along the lifecycle graph. The guard
// on the current status keeps transitions monotonic even if two writers
// race.
func (s *Store) AdvanceBill(ctx context.Context, id string, from, to sim.BillStatus, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE bills SET status=?, last_action_at=? WHERE id=? AND status=?`,
		string(to), fmtTime(now), id, string(from))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AmendBillText appends a committee rider to the full text.
func (s *Store) AmendBillText(ctx context.Context, id, rider string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE bills SET full_text=full_text || ? , last_action_at=? WHERE id=?`,
		"\n\n"+rider, fmtTime(now), id)
	return err
}

// SetBillWhip stores the per-party recommended positions computed at
// floor entry.
func (s *Store) SetBillWhip(ctx context.Context, id string, whip map[string]sim.VoteChoice) error {
	raw, err := json.Marshal(whip)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE bills SET whip_json=? WHERE id=?`, string(raw), id)
	return err
}

// CastBillVote records a vote. override=false is the floor round,
// override=true the veto-override round; within a round the primary key
// rejects a second vote from the same agent with ErrDuplicateVote and
// leaves the first untouched.
func (s *Store) CastBillVote(ctx context.Context, v sim.BillVote, override bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bill_votes(bill_id,agent_id,choice,reasoning,override_vote,cast_at) VALUES (?,?,?,?,?,?)`,
		v.BillID, v.AgentID, string(v.Choice), v.Reasoning, boolInt(override), fmtTime(v.CastAt))
	if isUniqueViolation(err) {
		return ErrDuplicateVote
	}
	return err
}

// BillTally counts vote rows for one round. The tally is always derived
// here, never stored.
func (s *Store) BillTally(ctx context.Context, billID string, override bool) (sim.Tally, error) {
	var t sim.Tally
	rows, err := s.db.QueryContext(ctx,
		`SELECT choice, COUNT(*) FROM bill_votes WHERE bill_id=? AND override_vote=? GROUP BY choice`,
		billID, boolInt(override))
	if err != nil {
		return t, err
	}
	defer rows.Close()
	for rows.Next() {
		var choice string
		var n int
		if err := rows.Scan(&choice, &n); err != nil {
			return t, err
		}
		switch sim.VoteChoice(choice) {
		case sim.VoteYea:
			t.Yea = n
		case sim.VoteNay:
			t.Nay = n
		case sim.VoteAbstain:
			t.Abstain = n
		}
		t.Total += n
	}
	return t, rows.Err()
}

// BillVoters lists agents who already voted in a round, so the
// dispatcher never asks them again.
func (s *Store) BillVoters(ctx context.Context, billID string, override bool) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT agent_id FROM bill_votes WHERE bill_id=? AND override_vote=?`, billID, boolInt(override))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

// EnactLaw snapshots the bill's current text into a Law and marks the
// bill enacted, atomically. For amendment bills the amended law gains a
// reference to the new law.
func (s *Store) EnactLaw(ctx context.Context, bill sim.Bill, lawID string, now time.Time) (sim.Law, error) {
	law := sim.Law{
		ID:        lawID,
		BillID:    bill.ID,
		Title:     bill.Title,
		Text:      bill.FullText,
		Active:    true,
		EnactedAt: now,
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return law, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO laws(id,bill_id,title,law_text,active,amendments_json,enacted_at) VALUES (?,?,?,?,1,'[]',?)`,
		law.ID, law.BillID, law.Title, law.Text, fmtTime(now))
	if err != nil {
		return law, err
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE bills SET status='law', last_action_at=? WHERE id=? AND status IN ('passed','presidential_veto')`,
		fmtTime(now), bill.ID)
	if err != nil {
		return law, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return law, ErrNotFound
	}
	if bill.Type == sim.BillAmendment && bill.AmendsLawID != "" {
		var amendments string
		if err := tx.QueryRowContext(ctx, `SELECT amendments_json FROM laws WHERE id=?`, bill.AmendsLawID).Scan(&amendments); err == nil {
			var ids []string
			_ = json.Unmarshal([]byte(amendments), &ids)
			ids = append(ids, law.ID)
			raw, _ := json.Marshal(ids)
			if _, err := tx.ExecContext(ctx, `UPDATE laws SET amendments_json=? WHERE id=?`, string(raw), bill.AmendsLawID); err != nil {
				return law, err
			}
		}
	}
	return law, tx.Commit()
}

const lawCols = `id,bill_id,title,law_text,active,amendments_json,enacted_at`

func scanLaw(sc interface{ Scan(...any) error }) (sim.Law, error) {
	var l sim.Law
	var active int
	var amendments, enacted string
	err := sc.Scan(&l.ID, &l.BillID, &l.Title, &l.Text, &active, &amendments, &enacted)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	if err != nil {
		return l, err
	}
	l.Active = active != 0
	_ = json.Unmarshal([]byte(amendments), &l.AmendmentIDs)
	l.EnactedAt = parseTime(enacted)
	return l, nil
}

func (s *Store) GetLaw(ctx context.Context, id string) (sim.Law, error) {
	return scanLaw(s.db.QueryRowContext(ctx, `SELECT `+lawCols+` FROM laws WHERE id=?`, id))
}

func (s *Store) ActiveLaws(ctx context.Context) ([]sim.Law, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+lawCols+` FROM laws WHERE active=1 ORDER BY enacted_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []sim.Law
	for rows.Next() {
		l, err := scanLaw(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// DeactivateLaw flips the active flag off (a struck-down ruling).
func (s *Store) DeactivateLaw(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE laws SET active=0 WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
