package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const pgTimeout = 5 * time.Second

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, pgTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// PGSentimentStore keeps metric series in the sentiment_history table,
// windowed by insertion order.
type PGSentimentStore struct {
	db *sqlx.DB
}

func NewPGSentimentStore(db *sqlx.DB) *PGSentimentStore {
	return &PGSentimentStore{db: db}
}

func (s *PGSentimentStore) Series(ctx context.Context, metric string) ([]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, pgTimeout)
	defer cancel()

	var values []float64
	query := `SELECT value FROM sentiment_history WHERE metric = $1 ORDER BY id ASC`
	if err := s.db.SelectContext(ctx, &values, query, metric); err != nil {
		return nil, fmt.Errorf("load series %s: %w", metric, err)
	}
	return values, nil
}

func (s *PGSentimentStore) Append(ctx context.Context, metric string, value float64, window int) error {
	ctx, cancel := context.WithTimeout(ctx, pgTimeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append %s: %w", metric, err)
	}
	defer tx.Rollback()

	insert := `INSERT INTO sentiment_history (metric, value) VALUES ($1, $2)`
	if _, err := tx.ExecContext(ctx, insert, metric, value); err != nil {
		return fmt.Errorf("append %s: %w", metric, err)
	}
	trim := `
		DELETE FROM sentiment_history
		WHERE metric = $1 AND id NOT IN (
			SELECT id FROM sentiment_history
			WHERE metric = $1 ORDER BY id DESC LIMIT $2)`
	if _, err := tx.ExecContext(ctx, trim, metric, window); err != nil {
		return fmt.Errorf("trim %s: %w", metric, err)
	}
	return tx.Commit()
}

// PGScoreStore keeps dated theme totals in the score_history table.
type PGScoreStore struct {
	db *sqlx.DB
}

func NewPGScoreStore(db *sqlx.DB) *PGScoreStore {
	return &PGScoreStore{db: db}
}

func (s *PGScoreStore) PreviousTotal(ctx context.Context, theme, date string) (float64, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, pgTimeout)
	defer cancel()

	var total float64
	query := `SELECT total FROM score_history WHERE theme = $1 AND day <> $2 ORDER BY day DESC LIMIT 1`
	err := s.db.GetContext(ctx, &total, query, theme, date)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("previous total %s: %w", theme, err)
	}
	return total, true, nil
}

func (s *PGScoreStore) RecordTotal(ctx context.Context, theme, date string, total float64) error {
	ctx, cancel := context.WithTimeout(ctx, pgTimeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record %s: %w", theme, err)
	}
	defer tx.Rollback()

	upsert := `
		INSERT INTO score_history (theme, day, total) VALUES ($1, $2, $3)
		ON CONFLICT (theme, day) DO UPDATE SET total = EXCLUDED.total`
	if _, err := tx.ExecContext(ctx, upsert, theme, date, total); err != nil {
		return fmt.Errorf("record %s: %w", theme, err)
	}
	trim := `
		DELETE FROM score_history
		WHERE theme = $1 AND day NOT IN (
			SELECT day FROM score_history
			WHERE theme = $1 ORDER BY day DESC LIMIT $2)`
	if _, err := tx.ExecContext(ctx, trim, theme, ScoreWindow); err != nil {
		return fmt.Errorf("trim %s: %w", theme, err)
	}
	return tx.Commit()
}
