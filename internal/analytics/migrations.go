package analytics

import (
	"database/sql"
	"fmt"
)

// migration represents a single schema migration step.
type migration struct {
	version     int
	description string
	up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing version numbers.
var migrations = []migration{
	{
		version:     1,
		description: "initial schema",
		up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS price_features (
    item_id INTEGER NOT NULL,
    asin TEXT NOT NULL,
    ts TEXT NOT NULL,
    current_price REAL NOT NULL DEFAULT 0,
    previous_price REAL NOT NULL DEFAULT 0,
    price_delta REAL NOT NULL DEFAULT 0,
    price_delta_pct REAL NOT NULL DEFAULT 0,
    coupon_flip INTEGER NOT NULL DEFAULT 0,
    coupon_amount REAL NOT NULL DEFAULT 0,
    seller_count INTEGER NOT NULL DEFAULT 1,
    seller_delta INTEGER NOT NULL DEFAULT 0,
    availability_score REAL NOT NULL DEFAULT 0.5,
    prime_eligible INTEGER NOT NULL DEFAULT 0,
    rating REAL NOT NULL DEFAULT 0,
    review_count INTEGER NOT NULL DEFAULT 0,
    price_volatility REAL NOT NULL DEFAULT 0,
    is_weekend INTEGER NOT NULL DEFAULT 0,
    hour_of_day INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (item_id, ts)
);

CREATE TABLE IF NOT EXISTS predictions (
    item_id INTEGER NOT NULL,
    asin TEXT NOT NULL,
    ts TEXT NOT NULL,
    drop_probability REAL NOT NULL,
    expected_drop_pct REAL NOT NULL,
    confidence REAL NOT NULL,
    current_price REAL NOT NULL DEFAULT 0,
    model_version TEXT NOT NULL DEFAULT 'v1.0',
    created_at TEXT DEFAULT (datetime('now')),
    PRIMARY KEY (item_id, ts)
);

CREATE INDEX IF NOT EXISTS idx_features_item_ts ON price_features(item_id, ts DESC);
CREATE INDEX IF NOT EXISTS idx_predictions_ts ON predictions(ts DESC);
`)
			return err
		},
	},
}

func latestVersion() int {
	return migrations[len(migrations)-1].version
}

// getSchemaVersion reads PRAGMA user_version from the database.
func getSchemaVersion(conn *sql.DB) (int, error) {
	var version int
	if err := conn.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return version, nil
}

// migrate brings the analytics schema up to the latest version, tracking
// applied migrations via PRAGMA user_version.
func migrate(conn *sql.DB) error {
	current, err := getSchemaVersion(conn)
	if err != nil {
		return err
	}

	latest := latestVersion()
	if current >= latest {
		return nil
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		tx, err := conn.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}

		if err := m.up(tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.version, m.description, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}

		// Set user_version outside the transaction (modernc/sqlite requirement).
		if _, err := conn.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
			return fmt.Errorf("setting version %d: %w", m.version, err)
		}
	}

	return nil
}
