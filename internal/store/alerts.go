package store

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/ashgrove-care/carewatch/internal/vision"
)

// FallAlert is one escalated fall event, recorded when the duration
// threshold fires.
type FallAlert struct {
	AlertID     int64       `json:"alert_id"`
	CameraID    string      `json:"camera_id"`
	PersonID    int         `json:"person_id"`
	StartedUnix float64     `json:"started_unix"`
	AlertedUnix float64     `json:"alerted_unix"`
	Box         vision.Rect `json:"box"`
	// Snapshot is the JPEG-encoded event snapshot, if one was captured.
	Snapshot []byte `json:"-"`
}

// AlertStore handles database operations for fall_alerts.
type AlertStore struct {
	db *DB
}

// NewAlertStore creates an AlertStore backed by db.
func NewAlertStore(db *DB) *AlertStore {
	return &AlertStore{db: db}
}

// EncodeSnapshot JPEG-encodes an event snapshot for storage. A nil image
// yields nil bytes.
func EncodeSnapshot(img image.Image) ([]byte, error) {
	if img == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// InsertAlert records an alert and sets its AlertID.
func (s *AlertStore) InsertAlert(a *FallAlert) error {
	result, err := s.db.Exec(
		`INSERT INTO fall_alerts (
			camera_id, person_id, started_unix, alerted_unix,
			box_x, box_y, box_w, box_h, snapshot
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.CameraID, a.PersonID, a.StartedUnix, a.AlertedUnix,
		a.Box.X, a.Box.Y, a.Box.W, a.Box.H, a.Snapshot,
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	id, err := result.LastInsertId()
	if err == nil {
		a.AlertID = id
	}
	return nil
}

// ListAlerts retrieves alerts with optional filters, newest first. Snapshots
// are not included; fetch them individually with AlertSnapshot.
func (s *AlertStore) ListAlerts(cameraID string, startUnix, endUnix float64, limit int) ([]*FallAlert, error) {
	query := `
		SELECT alert_id, camera_id, person_id, started_unix, alerted_unix,
			box_x, box_y, box_w, box_h
		FROM fall_alerts
		WHERE 1=1
	`
	args := []interface{}{}

	if cameraID != "" {
		query += " AND camera_id = ?"
		args = append(args, cameraID)
	}
	if startUnix > 0 {
		query += " AND alerted_unix >= ?"
		args = append(args, startUnix)
	}
	if endUnix > 0 {
		query += " AND alerted_unix <= ?"
		args = append(args, endUnix)
	}

	query += " ORDER BY alerted_unix DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := []*FallAlert{}
	for rows.Next() {
		a := &FallAlert{}
		if err := rows.Scan(
			&a.AlertID, &a.CameraID, &a.PersonID, &a.StartedUnix, &a.AlertedUnix,
			&a.Box.X, &a.Box.Y, &a.Box.W, &a.Box.H,
		); err != nil {
			return nil, fmt.Errorf("failed to scan alert row: %w", err)
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alert rows: %w", err)
	}
	return alerts, nil
}

// AlertSnapshot returns the stored JPEG snapshot for one alert, or nil when
// none was captured.
func (s *AlertStore) AlertSnapshot(alertID int64) ([]byte, error) {
	var snapshot []byte
	err := s.db.QueryRow(
		`SELECT snapshot FROM fall_alerts WHERE alert_id = ?`, alertID,
	).Scan(&snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot for alert %d: %w", alertID, err)
	}
	return snapshot, nil
}

// AlertDurations returns the ground-posture durations (seconds before the
// alert fired) of alerts in a time range, for summary statistics.
func (s *AlertStore) AlertDurations(startUnix, endUnix float64) ([]float64, error) {
	query := `SELECT alerted_unix - started_unix FROM fall_alerts WHERE 1=1`
	args := []interface{}{}
	if startUnix > 0 {
		query += " AND alerted_unix >= ?"
		args = append(args, startUnix)
	}
	if endUnix > 0 {
		query += " AND alerted_unix <= ?"
		args = append(args, endUnix)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert durations: %w", err)
	}
	defer rows.Close()

	durations := []float64{}
	for rows.Next() {
		var d float64
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan duration row: %w", err)
		}
		durations = append(durations, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating duration rows: %w", err)
	}
	return durations, nil
}

// AlertsPerDay returns alert counts bucketed by calendar day (UTC), oldest
// first, for charting.
func (s *AlertStore) AlertsPerDay(startUnix, endUnix float64) ([]DayCount, error) {
	query := `
		SELECT date(alerted_unix, 'unixepoch') AS day, COUNT(*)
		FROM fall_alerts
		WHERE 1=1
	`
	args := []interface{}{}
	if startUnix > 0 {
		query += " AND alerted_unix >= ?"
		args = append(args, startUnix)
	}
	if endUnix > 0 {
		query += " AND alerted_unix <= ?"
		args = append(args, endUnix)
	}
	query += " GROUP BY day ORDER BY day"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts per day: %w", err)
	}
	defer rows.Close()

	counts := []DayCount{}
	for rows.Next() {
		var dc DayCount
		if err := rows.Scan(&dc.Day, &dc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan day count row: %w", err)
		}
		counts = append(counts, dc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating day count rows: %w", err)
	}
	return counts, nil
}

// DayCount is an alert count for one calendar day.
type DayCount struct {
	Day   string `json:"day"`
	Count int    `json:"count"`
}
