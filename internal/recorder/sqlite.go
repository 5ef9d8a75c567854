package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"lottery/internal/logging"
	"lottery/raffle"
)

// SQLiteRecorder persists raffle events to a SQLite database.
type SQLiteRecorder struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *zap.Logger
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string, logger *zap.Logger) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL lets the gateway read history while the raffle writes
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db, logger: logging.OrNop(logger)}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	r.logger.Info("SQLite recorder opened", zap.String("path", dbPath))
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS raffle_events (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp   INTEGER NOT NULL,
			block       INTEGER NOT NULL,
			raffle      TEXT NOT NULL,
			kind        TEXT NOT NULL,
			player      TEXT,
			winner      TEXT,
			request_id  TEXT,
			amount_wei  TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_raffle_events_raffle ON raffle_events(raffle, id)`,
		`CREATE INDEX IF NOT EXISTS idx_raffle_events_ts ON raffle_events(timestamp)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (r *SQLiteRecorder) Record(ctx context.Context, e raffle.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.ExecContext(ctx, `INSERT INTO raffle_events
		(timestamp, block, raffle, kind, player, winner, request_id, amount_wei)
		VALUES (?,?,?,?,?,?,?,?)`,
		e.Timestamp.Unix(), int64(e.Block), e.Raffle.Hex(), e.Kind,
		nullAddress(e.Player), nullAddress(e.Winner),
		nullBig(e.RequestID), nullBig(e.Amount),
	)
	return err
}

// History returns up to limit of the most recent events for raffleAddr, newest first
func (r *SQLiteRecorder) History(ctx context.Context, raffleAddr common.Address, limit int) ([]raffle.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `SELECT timestamp, block, raffle, kind, player, winner, request_id, amount_wei
		FROM raffle_events WHERE raffle = ? ORDER BY id DESC LIMIT ?`,
		raffleAddr.Hex(), limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []raffle.Event
	for rows.Next() {
		var (
			ts, block                         int64
			raffleHex, kind                   string
			player, winner, requestID, amount sql.NullString
		)
		if err := rows.Scan(&ts, &block, &raffleHex, &kind, &player, &winner, &requestID, &amount); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e := raffle.Event{
			Kind:      kind,
			Raffle:    common.HexToAddress(raffleHex),
			Block:     uint64(block),
			Timestamp: time.Unix(ts, 0),
		}
		if player.Valid {
			e.Player = common.HexToAddress(player.String)
		}
		if winner.Valid {
			e.Winner = common.HexToAddress(winner.String)
		}
		if requestID.Valid {
			e.RequestID, _ = new(big.Int).SetString(requestID.String, 10)
		}
		if amount.Valid {
			e.Amount, _ = new(big.Int).SetString(amount.String, 10)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *SQLiteRecorder) Close() error {
	r.logger.Info("Closing SQLite recorder")
	return r.db.Close()
}

func nullAddress(a common.Address) sql.NullString {
	if a == (common.Address{}) {
		return sql.NullString{}
	}
	return sql.NullString{String: a.Hex(), Valid: true}
}

func nullBig(v *big.Int) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: v.String(), Valid: true}
}
