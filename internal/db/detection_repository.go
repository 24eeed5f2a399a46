package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Detection is the audit row of one closed connection.
type Detection struct {
	ConnID      string
	RemoteAddr  string
	Port        int
	HackCheck   string // active, inactive or unknown
	Xor32Key    string // primary, fallback or empty if the port has no xor32 stage
	Packets     int64
	CloseReason string
	ConnectedAt time.Time
	ClosedAt    time.Time
}

// DetectionRepository stores detection outcomes in PostgreSQL.
type DetectionRepository struct {
	pool *pgxpool.Pool
}

// NewDetectionRepository creates a new DetectionRepository.
func NewDetectionRepository(pool *pgxpool.Pool) *DetectionRepository {
	return &DetectionRepository{pool: pool}
}

// RecordDetection inserts the outcome of a connection. A repeated conn id is ignored.
func (r *DetectionRepository) RecordDetection(ctx context.Context, d Detection) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO connection_detections
		   (conn_id, remote_addr, port, hack_check, xor32_key, packets, close_reason, connected_at, closed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (conn_id) DO NOTHING`,
		d.ConnID, d.RemoteAddr, d.Port, d.HackCheck, d.Xor32Key, d.Packets, d.CloseReason,
		d.ConnectedAt, d.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("recording detection %s: %w", d.ConnID, err)
	}
	return nil
}

// RecentDetections returns the latest detections for port, newest first.
func (r *DetectionRepository) RecentDetections(ctx context.Context, port, limit int) ([]Detection, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT conn_id::text, remote_addr, port, hack_check, xor32_key, packets, close_reason, connected_at, closed_at
		 FROM connection_detections
		 WHERE port = $1
		 ORDER BY closed_at DESC, id DESC
		 LIMIT $2`, port, limit)
	if err != nil {
		return nil, fmt.Errorf("querying detections for port %d: %w", port, err)
	}
	defer rows.Close()

	var result []Detection
	for rows.Next() {
		var d Detection
		if err := rows.Scan(&d.ConnID, &d.RemoteAddr, &d.Port, &d.HackCheck, &d.Xor32Key,
			&d.Packets, &d.CloseReason, &d.ConnectedAt, &d.ClosedAt); err != nil {
			return nil, fmt.Errorf("scanning detection: %w", err)
		}
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating detections: %w", err)
	}
	return result, nil
}

// HackCheckStats counts connections per hack-check outcome on port.
func (r *DetectionRepository) HackCheckStats(ctx context.Context, port int) (map[string]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT hack_check, COUNT(*) FROM connection_detections WHERE port = $1 GROUP BY hack_check`, port)
	if err != nil {
		return nil, fmt.Errorf("querying hack-check stats for port %d: %w", port, err)
	}
	defer rows.Close()

	stats := make(map[string]int64)
	for rows.Next() {
		var usage string
		var n int64
		if err := rows.Scan(&usage, &n); err != nil {
			return nil, fmt.Errorf("scanning hack-check stats: %w", err)
		}
		stats[usage] = n
	}
	return stats, rows.Err()
}
