package attestation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/commitlabs/core/pkg/safemath"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists attestations, fee accumulators and metrics snapshots
// in SQLite so compliance history survives restarts.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the store and runs its migration.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS attestations (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		commitment_id INTEGER NOT NULL,
		timestamp TEXT NOT NULL,
		attestation_type TEXT NOT NULL,
		data JSON,
		is_compliant INTEGER NOT NULL,
		verified_by TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_attestations_commitment
		ON attestations(commitment_id, seq);

	CREATE TABLE IF NOT EXISTS fee_totals (
		commitment_id INTEGER PRIMARY KEY,
		total TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS health_metrics (
		commitment_id INTEGER PRIMARY KEY,
		current_value TEXT NOT NULL,
		initial_value TEXT NOT NULL,
		drawdown_percent TEXT NOT NULL,
		fees_generated TEXT NOT NULL,
		volatility_exposure TEXT NOT NULL,
		last_attestation TEXT NOT NULL,
		compliance_score INTEGER NOT NULL
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteStore) Append(ctx context.Context, att Attestation) error {
	dataJSON, _ := json.Marshal(att.Data)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attestations (commitment_id, timestamp, attestation_type, data, is_compliant, verified_by)
		VALUES (?, ?, ?, ?, ?, ?)`,
		att.CommitmentID,
		att.Timestamp.UTC().Format(time.RFC3339Nano),
		att.Type,
		string(dataJSON),
		boolToInt(att.IsCompliant),
		att.VerifiedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to insert attestation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, commitmentID uint64) ([]Attestation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT commitment_id, timestamp, attestation_type, data, is_compliant, verified_by
		FROM attestations
		WHERE commitment_id = ?
		ORDER BY seq ASC`, commitmentID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var atts []Attestation
	for rows.Next() {
		var (
			att       Attestation
			ts        string
			dataJSON  sql.NullString
			compliant int
		)
		if err := rows.Scan(&att.CommitmentID, &ts, &att.Type, &dataJSON, &compliant, &att.VerifiedBy); err != nil {
			return nil, err
		}
		att.Timestamp = parseTime(ts)
		att.IsCompliant = compliant != 0
		if dataJSON.Valid && dataJSON.String != "" && dataJSON.String != "null" {
			_ = json.Unmarshal([]byte(dataJSON.String), &att.Data)
		}
		atts = append(atts, att)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return atts, nil
}

func (s *SQLiteStore) AddFees(ctx context.Context, commitmentID uint64, amount safemath.Int) (safemath.Int, error) {
	current, err := s.Fees(ctx, commitmentID)
	if err != nil {
		return safemath.Int{}, err
	}
	total, err := current.Add(amount)
	if err != nil {
		return safemath.Int{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO fee_totals (commitment_id, total) VALUES (?, ?)
		ON CONFLICT(commitment_id) DO UPDATE SET total = excluded.total`,
		commitmentID, total.String(),
	)
	if err != nil {
		return safemath.Int{}, fmt.Errorf("failed to update fee total: %w", err)
	}
	return total, nil
}

func (s *SQLiteStore) Fees(ctx context.Context, commitmentID uint64) (safemath.Int, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT total FROM fee_totals WHERE commitment_id = ?`, commitmentID,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return safemath.Zero(), nil
	}
	if err != nil {
		return safemath.Int{}, err
	}
	return safemath.Parse(raw)
}

func (s *SQLiteStore) PutMetrics(ctx context.Context, m HealthMetrics) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO health_metrics (
			commitment_id, current_value, initial_value, drawdown_percent,
			fees_generated, volatility_exposure, last_attestation, compliance_score
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(commitment_id) DO UPDATE SET
			current_value = excluded.current_value,
			initial_value = excluded.initial_value,
			drawdown_percent = excluded.drawdown_percent,
			fees_generated = excluded.fees_generated,
			volatility_exposure = excluded.volatility_exposure,
			last_attestation = excluded.last_attestation,
			compliance_score = excluded.compliance_score`,
		m.CommitmentID,
		m.CurrentValue.String(),
		m.InitialValue.String(),
		m.DrawdownPercent.String(),
		m.FeesGenerated.String(),
		m.VolatilityExposure.String(),
		m.LastAttestation.UTC().Format(time.RFC3339Nano),
		m.ComplianceScore,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert health metrics: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Metrics(ctx context.Context, commitmentID uint64) (HealthMetrics, bool, error) {
	var (
		m     HealthMetrics
		cv    string
		iv    string
		dd    string
		fees  string
		vol   string
		last  string
		score uint32
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT commitment_id, current_value, initial_value, drawdown_percent,
		       fees_generated, volatility_exposure, last_attestation, compliance_score
		FROM health_metrics WHERE commitment_id = ?`, commitmentID,
	).Scan(&m.CommitmentID, &cv, &iv, &dd, &fees, &vol, &last, &score)
	if err == sql.ErrNoRows {
		return HealthMetrics{}, false, nil
	}
	if err != nil {
		return HealthMetrics{}, false, err
	}

	for _, pair := range []struct {
		dst *safemath.Int
		raw string
	}{
		{&m.CurrentValue, cv},
		{&m.InitialValue, iv},
		{&m.DrawdownPercent, dd},
		{&m.FeesGenerated, fees},
		{&m.VolatilityExposure, vol},
	} {
		v, perr := safemath.Parse(pair.raw)
		if perr != nil {
			return HealthMetrics{}, false, fmt.Errorf("corrupt metrics row: %w", perr)
		}
		*pair.dst = v
	}
	m.LastAttestation = parseTime(last)
	m.ComplianceScore = score
	return m, true, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
