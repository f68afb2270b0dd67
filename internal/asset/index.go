package asset

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"arbat/internal/domain"
	"arbat/internal/store"
)

// Index is the instrument lookup cache: a SQLite table derived from the
// candle store's descriptors. Resolution misses fall back to the store and
// repopulate the cache, so a deleted index file heals itself.
type Index struct {
	db    *sql.DB
	store *store.CandleStore
	log   *slog.Logger
}

const indexSchema = `
CREATE TABLE IF NOT EXISTS instruments (
	exchange    TEXT NOT NULL,
	class       TEXT NOT NULL,
	ticker      TEXT NOT NULL,
	figi        TEXT NOT NULL DEFAULT '',
	uid         TEXT NOT NULL DEFAULT '',
	lot         INTEGER NOT NULL,
	price_step  REAL NOT NULL,
	name        TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (exchange, class, ticker)
);`

// OpenIndex opens (or creates) the index database at dbPath and binds it to
// the candle store it mirrors.
func OpenIndex(dbPath string, s *store.CandleStore) (*Index, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening asset index: %w", err)
	}
	if _, err := db.Exec(indexSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating asset index schema: %w", err)
	}
	return &Index{
		db:    db,
		store: s,
		log:   slog.Default().With("component", "asset-index"),
	}, nil
}

// Close closes the underlying database.
func (x *Index) Close() error { return x.db.Close() }

// Rebuild drops the cache and repopulates it from the store's descriptors.
func (x *Index) Rebuild(ctx context.Context) error {
	insts, err := x.store.ListInstruments()
	if err != nil {
		return fmt.Errorf("listing store instruments: %w", err)
	}

	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM instruments`); err != nil {
		return err
	}
	for _, inst := range insts {
		if err := upsert(ctx, tx, inst); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	x.log.Info("asset index rebuilt", "instruments", len(insts))
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsert(ctx context.Context, db execer, inst domain.Instrument) error {
	_, err := db.ExecContext(ctx, `
		INSERT OR REPLACE INTO instruments
			(exchange, class, ticker, figi, uid, lot, price_step, name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(inst.Exchange), string(inst.Class), inst.Ticker,
		inst.Figi, inst.UID, inst.Lot, inst.PriceStep, inst.Name)
	return err
}

// Resolve looks up a reference in the cache, falling back to the store on a
// miss. Unknown instruments fail with the dedicated error.
func (x *Index) Resolve(ctx context.Context, ref domain.AssetRef) (domain.Instrument, error) {
	row := x.db.QueryRowContext(ctx, `
		SELECT figi, uid, lot, price_step, name
		FROM instruments
		WHERE exchange = ? AND class = ? AND ticker = ?`,
		string(ref.Exchange), string(ref.Class), ref.Ticker)

	inst := domain.Instrument{Exchange: ref.Exchange, Class: ref.Class, Ticker: ref.Ticker}
	err := row.Scan(&inst.Figi, &inst.UID, &inst.Lot, &inst.PriceStep, &inst.Name)
	switch {
	case err == nil:
		return inst, nil
	case errors.Is(err, sql.ErrNoRows):
		return x.resolveMiss(ctx, ref)
	default:
		return domain.Instrument{}, fmt.Errorf("querying asset index: %w", err)
	}
}

// resolveMiss reads the store descriptor and caches it on success.
func (x *Index) resolveMiss(ctx context.Context, ref domain.AssetRef) (domain.Instrument, error) {
	inst, err := x.store.ReadInstrument(ref)
	if err != nil {
		return domain.Instrument{}, err
	}
	if err := upsert(ctx, x.db, inst); err != nil {
		x.log.Warn("caching resolved instrument failed", "ticker", ref.Ticker, "error", err)
	}
	return inst, nil
}

// ResolveList resolves every entry of a list in order.
func (x *Index) ResolveList(ctx context.Context, l *List) ([]domain.Instrument, error) {
	insts := make([]domain.Instrument, 0, l.Len())
	for _, ref := range l.Refs() {
		inst, err := x.Resolve(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("resolving %s:%s: %w", ref.Exchange, ref.Ticker, err)
		}
		insts = append(insts, inst)
	}
	return insts, nil
}
