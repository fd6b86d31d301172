// Package store is the entity repository: the single owner of all
// simulation state. State machines mutate entities only through its
// writes; uniqueness invariants (one vote per agent per bill, one
// campaign per agent per election) are enforced by the schema so a
// second writer fails cleanly instead of overwriting.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicateVote     = errors.New("duplicate vote")
	ErrDuplicateCampaign = errors.New("duplicate campaign")
	ErrCaseOpen          = errors.New("law already under review")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func initPragmas(db *sql.DB) error {
	// WAL suits the append-heavy vote/decision workload.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			alignment TEXT NOT NULL,
			party_id TEXT,
			reputation INTEGER NOT NULL DEFAULT 0,
			balance INTEGER NOT NULL DEFAULT 0,
			active INTEGER NOT NULL DEFAULT 1,
			provider TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			persona TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS parties (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			alignment TEXT NOT NULL,
			platform TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS positions (
			type TEXT NOT NULL,
			seat_no INTEGER NOT NULL DEFAULT 0,
			agent_id TEXT NOT NULL,
			PRIMARY KEY (type, seat_no)
		);`,
		`CREATE TABLE IF NOT EXISTS bills (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			full_text TEXT NOT NULL DEFAULT '',
			sponsor_id TEXT NOT NULL,
			cosponsors_json TEXT NOT NULL DEFAULT '[]',
			committee TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			bill_type TEXT NOT NULL,
			amends_law_id TEXT,
			whip_json TEXT NOT NULL DEFAULT '{}',
			introduced_at TEXT NOT NULL,
			last_action_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_bills_status ON bills(status);`,
		`CREATE TABLE IF NOT EXISTS bill_votes (
			bill_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			choice TEXT NOT NULL,
			reasoning TEXT NOT NULL DEFAULT '',
			override_vote INTEGER NOT NULL DEFAULT 0,
			cast_at TEXT NOT NULL,
			PRIMARY KEY (bill_id, agent_id, override_vote)
		);`,
		`CREATE TABLE IF NOT EXISTS laws (
			id TEXT PRIMARY KEY,
			bill_id TEXT NOT NULL,
			title TEXT NOT NULL,
			law_text TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 1,
			amendments_json TEXT NOT NULL DEFAULT '[]',
			enacted_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS elections (
			id TEXT PRIMARY KEY,
			position TEXT NOT NULL,
			seat_no INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			scheduled_for TEXT NOT NULL,
			registration_ends TEXT NOT NULL,
			voting_starts TEXT NOT NULL,
			voting_ends TEXT NOT NULL,
			certified_at TEXT,
			winner_id TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS campaigns (
			id TEXT PRIMARY KEY,
			election_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			platform TEXT NOT NULL DEFAULT '',
			contributions INTEGER NOT NULL DEFAULT 0,
			endorsements_json TEXT NOT NULL DEFAULT '[]',
			status TEXT NOT NULL,
			registered_at TEXT NOT NULL,
			UNIQUE (election_id, agent_id)
		);`,
		`CREATE TABLE IF NOT EXISTS election_votes (
			election_id TEXT NOT NULL,
			voter_id TEXT NOT NULL,
			candidate_id TEXT NOT NULL DEFAULT '',
			cast_at TEXT NOT NULL,
			PRIMARY KEY (election_id, voter_id)
		);`,
		`CREATE TABLE IF NOT EXISTS judicial_cases (
			id TEXT PRIMARY KEY,
			law_id TEXT NOT NULL,
			status TEXT NOT NULL,
			ruling TEXT NOT NULL DEFAULT '',
			opened_at TEXT NOT NULL,
			ruled_at TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_cases_law ON judicial_cases(law_id, status);`,
		`CREATE TABLE IF NOT EXISTS judicial_votes (
			case_id TEXT NOT NULL,
			justice_id TEXT NOT NULL,
			choice TEXT NOT NULL,
			reasoning TEXT NOT NULL DEFAULT '',
			cast_at TEXT NOT NULL,
			PRIMARY KEY (case_id, justice_id)
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			seq INTEGER PRIMARY KEY,
			fired_at TEXT NOT NULL,
			completed_at TEXT,
			failed INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS decisions (
			id TEXT PRIMARY KEY,
			tick INTEGER NOT NULL,
			agent_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			phase TEXT NOT NULL,
			action TEXT NOT NULL DEFAULT '',
			reasoning TEXT NOT NULL DEFAULT '',
			ok INTEGER NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			latency_ms INTEGER NOT NULL,
			at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_tick ON decisions(tick, at);`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			amount INTEGER NOT NULL DEFAULT 0,
			reputation INTEGER NOT NULL DEFAULT 0,
			note TEXT NOT NULL DEFAULT '',
			tick INTEGER NOT NULL DEFAULT 0,
			at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_agent ON transactions(agent_id, at);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Reseed truncates all simulation state. The scheduler must be idle; the
// engine guarantees that before calling.
func (s *Store) Reseed() error {
	tables := []string{
		"transactions", "decisions", "ticks",
		"judicial_votes", "judicial_cases",
		"election_votes", "campaigns", "elections",
		"laws", "bill_votes", "bills",
		"positions", "parties", "agents",
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	for _, t := range tables {
		if _, err := tx.Exec("DELETE FROM " + t); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
