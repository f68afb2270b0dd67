package strategy

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// State is the persistent scratch store for strategies, a key-value table
// scoped by (strategy, version, ticker). It survives across runs so a
// strategy revision accumulates its own state per asset without touching
// any other revision's data.
type State struct {
	db *sql.DB
}

const stateSchema = `
CREATE TABLE IF NOT EXISTS scratch (
	strategy TEXT NOT NULL,
	version  TEXT NOT NULL,
	ticker   TEXT NOT NULL,
	key      TEXT NOT NULL,
	value    TEXT NOT NULL,
	PRIMARY KEY (strategy, version, ticker, key)
);`

// OpenState opens (or creates) the scratch database at dbPath.
func OpenState(dbPath string) (*State, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening strategy state: %w", err)
	}
	if _, err := db.Exec(stateSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating strategy state schema: %w", err)
	}
	return &State{db: db}, nil
}

// Close closes the underlying database.
func (s *State) Close() error { return s.db.Close() }

// Scope binds the store to one (strategy, version, ticker) triple.
func (s *State) Scope(strategy, version, ticker string) *Scope {
	return &Scope{state: s, strategy: strategy, version: version, ticker: ticker}
}

// Reset deletes all scratch data of one strategy revision.
func (s *State) Reset(strategy, version string) error {
	_, err := s.db.Exec(`DELETE FROM scratch WHERE strategy = ? AND version = ?`, strategy, version)
	return err
}

// Scope is a view of the scratch store restricted to one strategy revision
// and ticker.
type Scope struct {
	state    *State
	strategy string
	version  string
	ticker   string
}

// Get returns the stored value and whether the key exists.
func (sc *Scope) Get(key string) (string, bool, error) {
	row := sc.state.db.QueryRow(`
		SELECT value FROM scratch
		WHERE strategy = ? AND version = ? AND ticker = ? AND key = ?`,
		sc.strategy, sc.version, sc.ticker, key)
	var value string
	err := row.Scan(&value)
	switch {
	case err == nil:
		return value, true, nil
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	default:
		return "", false, fmt.Errorf("reading scratch %s: %w", key, err)
	}
}

// Put stores or replaces a value.
func (sc *Scope) Put(key, value string) error {
	_, err := sc.state.db.Exec(`
		INSERT OR REPLACE INTO scratch (strategy, version, ticker, key, value)
		VALUES (?, ?, ?, ?, ?)`,
		sc.strategy, sc.version, sc.ticker, key, value)
	if err != nil {
		return fmt.Errorf("writing scratch %s: %w", key, err)
	}
	return nil
}

// Delete removes a key; deleting an absent key is not an error.
func (sc *Scope) Delete(key string) error {
	_, err := sc.state.db.Exec(`
		DELETE FROM scratch
		WHERE strategy = ? AND version = ? AND ticker = ? AND key = ?`,
		sc.strategy, sc.version, sc.ticker, key)
	return err
}
