// Package recorder persists estimated poses and point-cloud snapshots to the
// trajectory database, keyed by a per-run session id.
package recorder

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ChristophTobler/ros-examples/internal/db"
	"github.com/ChristophTobler/ros-examples/internal/vislam"
)

// Recorder writes one session's trajectory. It implements vislam.PoseSink and
// vislam.PointCloudSink and is driven from the orchestration worker goroutine,
// so its methods need no internal locking beyond the database's own.
type Recorder struct {
	db        *db.DB
	sessionID string
}

// New creates a session row and returns a recorder bound to it.
func New(database *db.DB, notes string) (*Recorder, error) {
	sessionID := uuid.NewString()
	_, err := database.Exec(
		`INSERT INTO sessions (session_id, notes) VALUES (?, ?)`,
		sessionID, notes,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start recording session: %w", err)
	}
	return &Recorder{db: database, sessionID: sessionID}, nil
}

// SessionID returns the session's uuid.
func (r *Recorder) SessionID() string {
	return r.sessionID
}

// RecordPose appends one pose row for the session.
func (r *Recorder) RecordPose(result vislam.PoseResult) error {
	q := result.Pose.Orientation
	p := result.Pose.Position
	_, err := r.db.Exec(
		`INSERT INTO poses (session_id, frame_id, timestamp_ns, pos_x, pos_y, pos_z, quat_w, quat_x, quat_y, quat_z)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.sessionID, result.FrameID, result.TimestampNs,
		p.X, p.Y, p.Z, q.Real, q.Imag, q.Jmag, q.Kmag,
	)
	if err != nil {
		return fmt.Errorf("failed to insert pose for frame %d: %w", result.FrameID, err)
	}
	return nil
}

// RecordPointCloud stores one point-cloud snapshot associated with a frame.
func (r *Recorder) RecordPointCloud(frameID int64, points []vislam.MapPoint) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin point-cloud transaction: %w", err)
	}
	stmt, err := tx.Prepare(
		`INSERT INTO map_points (session_id, frame_id, point_id, x, y, z, quality)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare point insert: %w", err)
	}
	defer stmt.Close()
	for _, pt := range points {
		if _, err := stmt.Exec(r.sessionID, frameID, pt.ID, pt.Position.X, pt.Position.Y, pt.Position.Z, pt.Quality); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert map point %d: %w", pt.ID, err)
		}
	}
	return tx.Commit()
}

// End closes the session row.
func (r *Recorder) End() error {
	_, err := r.db.Exec(
		`UPDATE sessions SET ended_at = ? WHERE session_id = ?`,
		time.Now().UTC(), r.sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to end session %s: %w", r.sessionID, err)
	}
	return nil
}

// PoseRow is one recorded pose, as read back from the database.
type PoseRow struct {
	FrameID     int64
	TimestampNs int64
	X, Y, Z     float64
	QW, QX      float64
	QY, QZ      float64
}

// SessionRow summarizes one recording session.
type SessionRow struct {
	SessionID string
	Notes     string
	PoseCount int
}

// ListPoses returns up to limit poses for the session in frame order.
func ListPoses(database *db.DB, sessionID string, limit int) ([]PoseRow, error) {
	if limit <= 0 {
		limit = 10000
	}
	rows, err := database.Query(
		`SELECT frame_id, timestamp_ns, pos_x, pos_y, pos_z, quat_w, quat_x, quat_y, quat_z
		 FROM poses WHERE session_id = ? ORDER BY frame_id ASC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query poses: %w", err)
	}
	defer rows.Close()

	var out []PoseRow
	for rows.Next() {
		var p PoseRow
		if err := rows.Scan(&p.FrameID, &p.TimestampNs, &p.X, &p.Y, &p.Z, &p.QW, &p.QX, &p.QY, &p.QZ); err != nil {
			return nil, fmt.Errorf("failed to scan pose row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListSessions returns recent sessions, newest first.
func ListSessions(database *db.DB, limit int) ([]SessionRow, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := database.Query(
		`SELECT s.session_id, COALESCE(s.notes, ''), COUNT(p.id)
		 FROM sessions s LEFT JOIN poses p ON p.session_id = s.session_id
		 GROUP BY s.session_id ORDER BY s.started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRow
	for rows.Next() {
		var s SessionRow
		if err := rows.Scan(&s.SessionID, &s.Notes, &s.PoseCount); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
