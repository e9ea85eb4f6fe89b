package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"DCAKeeper/internal/model"
)

// SQLiteStore persists state and history to a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// OpenSQLite opens (or creates) the SQLite database and runs migrations.
func OpenSQLite(dbPath string, log zerolog.Logger) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("storage path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &SQLiteStore{db: db, log: log}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Info().Str("path", dbPath).Msg("sqlite store opened")
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schedules (
			owner               TEXT PRIMARY KEY,
			amount_per_purchase INTEGER NOT NULL,
			frequency_ticks     INTEGER NOT NULL,
			next_execution_tick INTEGER NOT NULL,
			total_deposited     INTEGER NOT NULL DEFAULT 0,
			total_purchased     INTEGER NOT NULL DEFAULT 0,
			accumulated_target  INTEGER NOT NULL DEFAULT 0,
			active              INTEGER NOT NULL,
			created_at          INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS balances (
			owner          TEXT PRIMARY KEY,
			source_balance INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS stats (
			id                     INTEGER PRIMARY KEY CHECK (id = 1),
			total_users            INTEGER NOT NULL,
			total_source_processed INTEGER NOT NULL,
			total_target_purchased INTEGER NOT NULL,
			fees_collected         INTEGER NOT NULL,
			tick                   INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS events (
			seq           INTEGER PRIMARY KEY AUTOINCREMENT,
			id            TEXT NOT NULL,
			kind          TEXT NOT NULL,
			owner         TEXT NOT NULL,
			amount        INTEGER NOT NULL,
			fee           INTEGER NOT NULL,
			target_amount INTEGER NOT NULL,
			tick          INTEGER NOT NULL,
			at            INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_owner ON events(owner, seq)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context) (*Snapshot, error) {
	snap := NewSnapshot()

	rows, err := s.db.QueryContext(ctx, `SELECT owner, amount_per_purchase, frequency_ticks, next_execution_tick,
		total_deposited, total_purchased, accumulated_target, active, created_at FROM schedules`)
	if err != nil {
		return nil, fmt.Errorf("query schedules: %w", err)
	}
	for rows.Next() {
		var sc model.Schedule
		if err := rows.Scan(&sc.Owner, (*u64)(&sc.AmountPerPurchase), (*u64)(&sc.FrequencyTicks),
			(*u64)(&sc.NextExecutionTick), (*u64)(&sc.TotalDeposited), (*u64)(&sc.TotalPurchased),
			(*u64)(&sc.AccumulatedTarget), &sc.Active, (*u64)(&sc.CreatedAt)); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		snap.Schedules[sc.Owner] = sc
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT owner, source_balance FROM balances`)
	if err != nil {
		return nil, fmt.Errorf("query balances: %w", err)
	}
	for rows.Next() {
		var owner string
		var bal uint64
		if err := rows.Scan(&owner, (*u64)(&bal)); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		snap.Balances[owner] = bal
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx, `SELECT total_users, total_source_processed, total_target_purchased,
		fees_collected, tick FROM stats WHERE id = 1`).Scan(
		(*u64)(&snap.Stats.TotalUsers), (*u64)(&snap.Stats.TotalSourceProcessed),
		(*u64)(&snap.Stats.TotalTargetPurchased), (*u64)(&snap.Stats.FeesCollected), (*u64)(&snap.Tick))
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	return snap, nil
}

func (s *SQLiteStore) Commit(ctx context.Context, b Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if sc := b.Schedule; sc != nil {
		_, err := tx.ExecContext(ctx, `INSERT INTO schedules
			(owner, amount_per_purchase, frequency_ticks, next_execution_tick,
			 total_deposited, total_purchased, accumulated_target, active, created_at)
			VALUES (?,?,?,?,?,?,?,?,?)
			ON CONFLICT(owner) DO UPDATE SET
				amount_per_purchase=excluded.amount_per_purchase,
				frequency_ticks=excluded.frequency_ticks,
				next_execution_tick=excluded.next_execution_tick,
				total_deposited=excluded.total_deposited,
				total_purchased=excluded.total_purchased,
				accumulated_target=excluded.accumulated_target,
				active=excluded.active,
				created_at=excluded.created_at`,
			sc.Owner, i64(sc.AmountPerPurchase), i64(sc.FrequencyTicks), i64(sc.NextExecutionTick),
			i64(sc.TotalDeposited), i64(sc.TotalPurchased), i64(sc.AccumulatedTarget), sc.Active, i64(sc.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("upsert schedule: %w", err)
		}
	}

	if bal := b.Balance; bal != nil {
		_, err := tx.ExecContext(ctx, `INSERT INTO balances (owner, source_balance) VALUES (?,?)
			ON CONFLICT(owner) DO UPDATE SET source_balance=excluded.source_balance`,
			bal.Owner, i64(bal.SourceBalance),
		)
		if err != nil {
			return fmt.Errorf("upsert balance: %w", err)
		}
	}

	tick, err := storedTick(ctx, tx)
	if err != nil {
		return err
	}
	tick = max(tick, b.Event.Tick)

	if st := b.Stats; st != nil {
		_, err := tx.ExecContext(ctx, `INSERT INTO stats
			(id, total_users, total_source_processed, total_target_purchased, fees_collected, tick)
			VALUES (1,?,?,?,?,?)
			ON CONFLICT(id) DO UPDATE SET
				total_users=excluded.total_users,
				total_source_processed=excluded.total_source_processed,
				total_target_purchased=excluded.total_target_purchased,
				fees_collected=excluded.fees_collected,
				tick=excluded.tick`,
			i64(st.TotalUsers), i64(st.TotalSourceProcessed), i64(st.TotalTargetPurchased), i64(st.FeesCollected), i64(tick),
		)
		if err != nil {
			return fmt.Errorf("upsert stats: %w", err)
		}
	} else if err := writeTick(ctx, tx, tick); err != nil {
		return err
	}

	ev := b.Event
	_, err = tx.ExecContext(ctx, `INSERT INTO events
		(id, kind, owner, amount, fee, target_amount, tick, at)
		VALUES (?,?,?,?,?,?,?,?)`,
		ev.ID, string(ev.Kind), ev.Owner, i64(ev.Amount), i64(ev.Fee), i64(ev.TargetAmount), i64(ev.Tick), ev.At.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) SaveTick(ctx context.Context, tick uint64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	cur, err := storedTick(ctx, tx)
	if err != nil {
		return err
	}
	if tick <= cur {
		return nil
	}
	if err := writeTick(ctx, tx, tick); err != nil {
		return err
	}
	return tx.Commit()
}

func storedTick(ctx context.Context, tx *sql.Tx) (uint64, error) {
	var tick uint64
	err := tx.QueryRowContext(ctx, `SELECT tick FROM stats WHERE id = 1`).Scan((*u64)(&tick))
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("query tick: %w", err)
	}
	return tick, nil
}

func writeTick(ctx context.Context, tx *sql.Tx, tick uint64) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO stats
		(id, total_users, total_source_processed, total_target_purchased, fees_collected, tick)
		VALUES (1,0,0,0,0,?)
		ON CONFLICT(id) DO UPDATE SET tick=excluded.tick`, i64(tick))
	if err != nil {
		return fmt.Errorf("update tick: %w", err)
	}
	return nil
}

func (s *SQLiteStore) History(ctx context.Context, owner string, limit int) ([]model.Event, error) {
	query := `SELECT id, kind, owner, amount, fee, target_amount, tick, at
		FROM events WHERE owner = ? ORDER BY seq DESC`
	args := []any{owner}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var ev model.Event
		var kind string
		var at int64
		if err := rows.Scan(&ev.ID, &kind, &ev.Owner, (*u64)(&ev.Amount), (*u64)(&ev.Fee),
			(*u64)(&ev.TargetAmount), (*u64)(&ev.Tick), &at); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Kind = model.EventKind(kind)
		ev.At = time.Unix(0, at)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	s.log.Info().Msg("closing sqlite store")
	return s.db.Close()
}

// SQLite integers are signed 64-bit. Unsigned values are stored with their bits
// reinterpreted as int64 and turned back on read, so the whole uint64 range round-trips.
// Column comparisons in SQL are therefore avoided for these fields.
func i64(v uint64) int64 { return int64(v) }

type u64 uint64

func (v *u64) Scan(src any) error {
	switch x := src.(type) {
	case int64:
		*v = u64(x)
	case nil:
		*v = 0
	default:
		return fmt.Errorf("unsigned column: unexpected %T", src)
	}
	return nil
}
