package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/polaris-net/polaris-agent/internal/models"
)

const metricColumns = `id, timestamp_ms, network_type, signal_strength,
	latitude, longitude, plmn_id, cell_id, lac, tac, rac, arfcn,
	frequency_band, actual_frequency_mhz, rsrp, rsrq, rscp, rxlev, ecno,
	uploaded`

// InsertMetric stores one telemetry sample. A duplicate sample (same
// timestamp and network type) is silently ignored.
func (s *Storage) InsertMetric(ctx context.Context, m *models.NetworkMetric) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO network_metrics (
			timestamp_ms, network_type, signal_strength, latitude, longitude,
			plmn_id, cell_id, lac, tac, rac, arfcn, frequency_band,
			actual_frequency_mhz, rsrp, rsrq, rscp, rxlev, ecno, uploaded
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		m.TimestampMs, m.NetworkType, m.SignalStrength,
		nullFloat(m.Latitude), nullFloat(m.Longitude),
		nullString(m.PLMNID), nullString(m.CellID),
		nullInt(m.LAC), nullInt(m.TAC), nullInt(m.RAC), nullInt(m.ARFCN),
		nullString(m.FrequencyBand), nullFloat(m.ActualFrequencyMhz),
		nullInt(m.RSRP), nullInt(m.RSRQ), nullInt(m.RSCP), nullInt(m.RxLev),
		nullFloat(m.Ecno), boolToInt(m.Uploaded),
	)
	if err != nil {
		return fmt.Errorf("failed to insert metric: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		m.ID = id
	}
	return nil
}

// UnsyncedMetrics returns every metric not yet acknowledged by the server,
// oldest first.
func (s *Storage) UnsyncedMetrics(ctx context.Context) ([]*models.NetworkMetric, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+metricColumns+`
		FROM network_metrics
		WHERE uploaded = 0
		ORDER BY timestamp_ms ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query unsynced metrics: %w", err)
	}
	defer rows.Close()
	return collectMetrics(rows)
}

// MetricsPaged returns one page of metrics, newest first.
func (s *Storage) MetricsPaged(ctx context.Context, limit, offset int) ([]*models.NetworkMetric, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+metricColumns+`
		FROM network_metrics
		ORDER BY timestamp_ms DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics page: %w", err)
	}
	defer rows.Close()
	return collectMetrics(rows)
}

// MarkMetricsUploaded flips the uploaded flag on exactly the given ids, in
// one atomic update. Call only after a confirmed server acknowledgment.
func (s *Storage) MarkMetricsUploaded(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query, args := inClause("UPDATE network_metrics SET uploaded = 1 WHERE id IN", ids)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to mark metrics uploaded: %w", err)
	}
	return nil
}

// UnsyncedMetricCount reports how many metrics await upload.
func (s *Storage) UnsyncedMetricCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM network_metrics WHERE uploaded = 0`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unsynced metrics: %w", err)
	}
	return count, nil
}

// MetricCount reports the total number of stored samples.
func (s *Storage) MetricCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM network_metrics`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count metrics: %w", err)
	}
	return count, nil
}

// ClearMetrics deletes every stored sample. Explicit bulk clear is the only
// way metrics are ever removed.
func (s *Storage) ClearMetrics(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM network_metrics`); err != nil {
		return fmt.Errorf("failed to clear metrics: %w", err)
	}
	return nil
}

func collectMetrics(rows *sql.Rows) ([]*models.NetworkMetric, error) {
	var metrics []*models.NetworkMetric
	for rows.Next() {
		m, err := scanMetric(rows)
		if err != nil {
			return nil, err
		}
		metrics = append(metrics, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating metric rows: %w", err)
	}
	return metrics, nil
}

func scanMetric(rows *sql.Rows) (*models.NetworkMetric, error) {
	var (
		m        models.NetworkMetric
		lat, lon sql.NullFloat64
		plmn     sql.NullString
		cell     sql.NullString
		lac      sql.NullInt64
		tac      sql.NullInt64
		rac      sql.NullInt64
		arfcn    sql.NullInt64
		band     sql.NullString
		freq     sql.NullFloat64
		rsrp     sql.NullInt64
		rsrq     sql.NullInt64
		rscp     sql.NullInt64
		rxlev    sql.NullInt64
		ecno     sql.NullFloat64
		uploaded int
	)
	err := rows.Scan(
		&m.ID, &m.TimestampMs, &m.NetworkType, &m.SignalStrength,
		&lat, &lon, &plmn, &cell, &lac, &tac, &rac, &arfcn,
		&band, &freq, &rsrp, &rsrq, &rscp, &rxlev, &ecno, &uploaded,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan metric row: %w", err)
	}
	m.Latitude = floatPtr(lat)
	m.Longitude = floatPtr(lon)
	m.PLMNID = stringPtr(plmn)
	m.CellID = stringPtr(cell)
	m.LAC = intPtr(lac)
	m.TAC = intPtr(tac)
	m.RAC = intPtr(rac)
	m.ARFCN = intPtr(arfcn)
	m.FrequencyBand = stringPtr(band)
	m.ActualFrequencyMhz = floatPtr(freq)
	m.RSRP = intPtr(rsrp)
	m.RSRQ = intPtr(rsrq)
	m.RSCP = intPtr(rscp)
	m.RxLev = intPtr(rxlev)
	m.Ecno = floatPtr(ecno)
	m.Uploaded = uploaded != 0
	return &m, nil
}

func inClause(prefix string, ids []int64) (string, []any) {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	return prefix + " (" + strings.Join(placeholders, ",") + ")", args
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
