package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"civitas.ai/internal/sim"
)

func (s *Store) InsertElection(ctx context.Context, e sim.Election) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO elections(id,position,seat_no,status,scheduled_for,registration_ends,voting_starts,voting_ends,certified_at,winner_id)
		 VALUES (?,?,?,?,?,?,?,?,NULL,NULL)`,
		e.ID, e.Position, e.Seat, string(e.Status), fmtTime(e.ScheduledFor),
		fmtTime(e.RegistrationEnds), fmtTime(e.VotingStarts), fmtTime(e.VotingEnds))
	return err
}

const electionCols = `id,position,seat_no,status,scheduled_for,registration_ends,voting_starts,voting_ends,certified_at,winner_id`

func scanElection(sc interface{ Scan(...any) error }) (sim.Election, error) {
	var e sim.Election
	var sched, regEnds, vStart, vEnd string
	var certified, winner sql.NullString
	err := sc.Scan(&e.ID, &e.Position, &e.Seat, (*string)(&e.Status), &sched, &regEnds, &vStart, &vEnd, &certified, &winner)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	e.ScheduledFor = parseTime(sched)
	e.RegistrationEnds = parseTime(regEnds)
	e.VotingStarts = parseTime(vStart)
	e.VotingEnds = parseTime(vEnd)
	if certified.Valid {
		t := parseTime(certified.String)
		e.CertifiedAt = &t
	}
	e.WinnerID = winner.String
	return e, nil
}

func (s *Store) GetElection(ctx context.Context, id string) (sim.Election, error) {
	return scanElection(s.db.QueryRowContext(ctx, `SELECT `+electionCols+` FROM elections WHERE id=?`, id))
}

func (s *Store) OpenElections(ctx context.Context) ([]sim.Election, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+electionCols+` FROM elections WHERE status!='certified' ORDER BY scheduled_for, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []sim.Election
	for rows.Next() {
		e, err := scanElection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AdvanceElection moves an election strictly forward; the guard on the
// current status rejects out-of-order writers.
func (s *Store) AdvanceElection(ctx context.Context, id string, from, to sim.ElectionStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE elections SET status=? WHERE id=? AND status=?`, string(to), id, string(from))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CertifyElection records the winner, stamps the certification time and
// settles every campaign's final status, atomically.
func (s *Store) CertifyElection(ctx context.Context, id, winnerAgentID string, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE elections SET status='certified', certified_at=?, winner_id=? WHERE id=? AND status='counting'`,
		fmtTime(now), nullable(winnerAgentID), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE campaigns SET status=CASE WHEN agent_id=? THEN 'won' ELSE 'lost' END
		 WHERE election_id=? AND status='active'`, winnerAgentID, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) InsertCampaign(ctx context.Context, c sim.Campaign) error {
	endo, _ := json.Marshal(c.Endorsements)
	if c.Endorsements == nil {
		endo = []byte("[]")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO campaigns(id,election_id,agent_id,platform,contributions,endorsements_json,status,registered_at)
		 VALUES (?,?,?,?,?,?,?,?)`,
		c.ID, c.ElectionID, c.AgentID, c.Platform, c.Contributions, string(endo),
		string(c.Status), fmtTime(c.RegisteredAt))
	if isUniqueViolation(err) {
		return ErrDuplicateCampaign
	}
	return err
}

const campaignCols = `id,election_id,agent_id,platform,contributions,endorsements_json,status,registered_at`

func scanCampaign(sc interface{ Scan(...any) error }) (sim.Campaign, error) {
	var c sim.Campaign
	var endo, registered string
	err := sc.Scan(&c.ID, &c.ElectionID, &c.AgentID, &c.Platform, &c.Contributions,
		&endo, (*string)(&c.Status), &registered)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	_ = json.Unmarshal([]byte(endo), &c.Endorsements)
	c.RegisteredAt = parseTime(registered)
	return c, nil
}

func (s *Store) ActiveCampaigns(ctx context.Context, electionID string) ([]sim.Campaign, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+campaignCols+` FROM campaigns WHERE election_id=? AND status='active' ORDER BY registered_at, id`,
		electionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []sim.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// BoostCampaign adds speech proceeds: contributions and optionally an
// endorsement.
func (s *Store) BoostCampaign(ctx context.Context, id string, contributions int64, endorsement string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE campaigns SET contributions=contributions+? WHERE id=?`, contributions, id); err != nil {
		return err
	}
	if endorsement != "" {
		var endo string
		if err := tx.QueryRowContext(ctx, `SELECT endorsements_json FROM campaigns WHERE id=?`, id).Scan(&endo); err != nil {
			return err
		}
		var list []string
		_ = json.Unmarshal([]byte(endo), &list)
		list = append(list, endorsement)
		raw, _ := json.Marshal(list)
		if _, err := tx.ExecContext(ctx, `UPDATE campaigns SET endorsements_json=? WHERE id=?`, string(raw), id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CastElectionVote records one ballot; the (election, voter) primary key
// rejects a second ballot with ErrDuplicateVote.
func (s *Store) CastElectionVote(ctx context.Context, v sim.ElectionVote) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO election_votes(election_id,voter_id,candidate_id,cast_at) VALUES (?,?,?,?)`,
		v.ElectionID, v.VoterID, v.CandidateID, fmtTime(v.CastAt))
	if isUniqueViolation(err) {
		return ErrDuplicateVote
	}
	return err
}

// ElectionVoteCounts returns ballots per candidate (abstains excluded).
func (s *Store) ElectionVoteCounts(ctx context.Context, electionID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT candidate_id, COUNT(*) FROM election_votes WHERE election_id=? AND candidate_id!='' GROUP BY candidate_id`,
		electionID)
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

func (s *Store) ElectionVoters(ctx context.Context, electionID string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT voter_id FROM election_votes WHERE election_id=?`, electionID)
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
