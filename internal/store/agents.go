package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"civitas.ai/internal/sim"
)

const timeLayout = time.RFC3339Nano

func fmtTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *Store) InsertAgent(ctx context.Context, a sim.Agent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agents(id,name,alignment,party_id,reputation,balance,active,provider,model,persona,created_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.Name, string(a.Alignment), nullable(a.PartyID), a.Reputation, a.Balance,
		boolInt(a.Active), a.Provider, a.Model, a.Persona, fmtTime(a.CreatedAt))
	return err
}

func scanAgent(sc interface{ Scan(...any) error }) (sim.Agent, error) {
	var a sim.Agent
	var party sql.NullString
	var active int
	var created string
	err := sc.Scan(&a.ID, &a.Name, (*string)(&a.Alignment), &party, &a.Reputation,
		&a.Balance, &active, &a.Provider, &a.Model, &a.Persona, &created)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.PartyID = party.String
	a.Active = active != 0
	a.CreatedAt = parseTime(created)
	return a, nil
}

const agentCols = `id,name,alignment,party_id,reputation,balance,active,provider,model,persona,created_at`

func (s *Store) GetAgent(ctx context.Context, id string) (sim.Agent, error) {
	return scanAgent(s.db.QueryRowContext(ctx, `SELECT `+agentCols+` FROM agents WHERE id=?`, id))
}

func (s *Store) ActiveAgents(ctx context.Context) ([]sim.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+agentCols+` FROM agents WHERE active=1 ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []sim.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SetAgentActive is the admin deactivation toggle; agents are never deleted.
func (s *Store) SetAgentActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE agents SET active=? WHERE id=?`, boolInt(active), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AdjustAgent applies a balance/reputation delta and records the
// transaction in the same database transaction, so agent state is only
// ever moved by an auditable entry.
func (s *Store) AdjustAgent(ctx context.Context, agentID, kind string, amount int64, repDelta int, note string, tick uint64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE agents SET balance=balance+?, reputation=reputation+? WHERE id=?`,
		amount, repDelta, agentID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO transactions(id,agent_id,kind,amount,reputation,note,tick,at) VALUES (?,?,?,?,?,?,?,?)`,
		uuid.NewString(), agentID, kind, amount, repDelta, note, tick, fmtTime(time.Now()))
	if err != nil {
		return err
	}
	return tx.Commit()
}

// ChargeAgent debits exactly `amount` or nothing: insufficient balance
// returns ErrInsufficientFunds with no partial charge.
func (s *Store) ChargeAgent(ctx context.Context, agentID, kind string, amount int64, note string, tick uint64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE agents SET balance=balance-? WHERE id=? AND balance>=?`,
		amount, agentID, amount)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrInsufficientFunds
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO transactions(id,agent_id,kind,amount,reputation,note,tick,at) VALUES (?,?,?,?,?,?,?,?)`,
		uuid.NewString(), agentID, kind, -amount, 0, note, tick, fmtTime(time.Now()))
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) InsertParty(ctx context.Context, p sim.Party) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO parties(id,name,alignment,platform) VALUES (?,?,?,?)`,
		p.ID, p.Name, string(p.Alignment), p.Platform)
	return err
}

func (s *Store) Parties(ctx context.Context) ([]sim.Party, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id,name,alignment,platform FROM parties ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []sim.Party
	for rows.Next() {
		var p sim.Party
		if err := rows.Scan(&p.ID, &p.Name, (*string)(&p.Alignment), &p.Platform); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetPosition seats an agent in an office, replacing any prior holder of
// the same seat.
func (s *Store) SetPosition(ctx context.Context, p sim.Position) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO positions(type,seat_no,agent_id) VALUES (?,?,?)
		 ON CONFLICT(type,seat_no) DO UPDATE SET agent_id=excluded.agent_id`,
		p.Type, p.SeatNo, p.AgentID)
	return err
}

func (s *Store) PositionHolders(ctx context.Context, posType string) ([]sim.Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+prefixCols("a", agentCols)+` FROM positions p JOIN agents a ON a.id=p.agent_id
		 WHERE p.type=? AND a.active=1 ORDER BY p.seat_no`, posType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []sim.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// President returns the seated president, or ErrNotFound when the office
// is vacant.
func (s *Store) President(ctx context.Context) (sim.Agent, error) {
	holders, err := s.PositionHolders(ctx, sim.PositionPresident)
	if err != nil {
		return sim.Agent{}, err
	}
	if len(holders) == 0 {
		return sim.Agent{}, ErrNotFound
	}
	return holders[0], nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func prefixCols(prefix, cols string) string {
	parts := strings.Split(cols, ",")
	for i, c := range parts {
		parts[i] = prefix + "." + c
	}
	return strings.Join(parts, ",")
}
