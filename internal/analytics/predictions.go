package analytics

import (
	"context"
	"fmt"
	"time"
)

const (
	upsertPredictionSQL = `INSERT INTO predictions (
        item_id, asin, ts, drop_probability, expected_drop_pct,
        confidence, current_price, model_version
    ) VALUES (?,?,?,?,?,?,?,?)
    ON CONFLICT (item_id, ts) DO UPDATE SET
        drop_probability  = excluded.drop_probability,
        expected_drop_pct = excluded.expected_drop_pct,
        confidence        = excluded.confidence,
        current_price     = excluded.current_price,
        model_version     = excluded.model_version;`

	topPredictionsSQL = `SELECT
        p.item_id, p.asin, p.ts, p.drop_probability, p.expected_drop_pct,
        p.confidence, p.current_price, p.model_version, p.created_at
    FROM predictions p
    JOIN (
        SELECT item_id, MAX(ts) AS max_ts
        FROM predictions
        WHERE ts >= ?
        GROUP BY item_id
    ) latest ON p.item_id = latest.item_id AND p.ts = latest.max_ts
    ORDER BY p.drop_probability DESC, p.expected_drop_pct DESC
    LIMIT ?;`
)

// PredictionStore defines prediction persistence and ranking.
type PredictionStore interface {
	UpsertPrediction(ctx context.Context, p Prediction) error
	TopPredictions(ctx context.Context, limit int, recencyWindow time.Duration) ([]Prediction, error)
}

// UpsertPrediction writes one prediction keyed by (item, timestamp).
func (s *Store) UpsertPrediction(ctx context.Context, p Prediction) error {
	version := p.ModelVersion
	if version == "" {
		version = "v1.0"
	}
	_, err := s.conn.ExecContext(ctx, upsertPredictionSQL,
		p.ItemID,
		p.ASIN,
		p.Timestamp.UTC().Format(tsLayout),
		p.DropProbability,
		p.ExpectedDropPct,
		p.Confidence,
		p.CurrentPrice,
		version,
	)
	if err != nil {
		return fmt.Errorf("upsert prediction: %w", err)
	}
	return nil
}

// TopPredictions returns the most recent prediction per item within the
// recency window, ranked by drop probability.
func (s *Store) TopPredictions(ctx context.Context, limit int, recencyWindow time.Duration) ([]Prediction, error) {
	since := time.Now().UTC().Add(-recencyWindow).Format(tsLayout)

	rows, err := s.conn.QueryContext(ctx, topPredictionsSQL, since, limit)
	if err != nil {
		return nil, fmt.Errorf("top predictions: %w", err)
	}
	defer rows.Close()

	predictions := make([]Prediction, 0, limit)
	for rows.Next() {
		var p Prediction
		var ts, createdAt string
		if err := rows.Scan(
			&p.ItemID,
			&p.ASIN,
			&ts,
			&p.DropProbability,
			&p.ExpectedDropPct,
			&p.Confidence,
			&p.CurrentPrice,
			&p.ModelVersion,
			&createdAt,
		); err != nil {
			return nil, err
		}
		if parsed, parseErr := time.Parse(tsLayout, ts); parseErr == nil {
			p.Timestamp = parsed
		}
		if parsed, parseErr := time.Parse("2006-01-02 15:04:05", createdAt); parseErr == nil {
			p.CreatedAt = parsed
		}
		predictions = append(predictions, p)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return predictions, nil
}

var _ PredictionStore = (*Store)(nil)
