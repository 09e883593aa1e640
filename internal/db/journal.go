package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/uva-nepa/nepa/internal/fingerprint"
	"github.com/uva-nepa/nepa/internal/flush"
	"github.com/uva-nepa/nepa/internal/session"
)

const deviceIDKey = "device_id"

// DeviceID returns the identifier this installation reports to the
// collector, creating and storing a random one on first use.
func (db *DB) DeviceID(ctx context.Context) (string, error) {
	if _, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO settings (key, value) VALUES (?, ?)`,
		deviceIDKey, uuid.NewString(),
	); err != nil {
		return "", fmt.Errorf("failed to create device id: %w", err)
	}
	var id string
	if err := db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, deviceIDKey).Scan(&id); err != nil {
		return "", fmt.Errorf("failed to read device id: %w", err)
	}
	return id, nil
}

// SessionRecord is a finished scan session as stored in the journal.
type SessionRecord struct {
	ID               string    `json:"id"`
	Mode             string    `json:"mode"`
	Location         string    `json:"location"`
	Section          string    `json:"section"`
	StartedAt        time.Time `json:"started_at"`
	EndedAt          time.Time `json:"ended_at"`
	PacketCount      int       `json:"packet_count"`
	DroppedCount     int64     `json:"dropped_count"`
	FingerprintCount int       `json:"fingerprint_count"`
	Interrupted      bool      `json:"interrupted"`
	Uploaded         bool      `json:"uploaded"`
}

// FingerprintRecord is one stored fingerprint.
type FingerprintRecord struct {
	ID          int64          `json:"id"`
	SessionID   string         `json:"session_id"`
	Location    string         `json:"location"`
	Section     string         `json:"section"`
	WindowStart time.Time      `json:"window_start"`
	WindowEnd   time.Time      `json:"window_end"`
	PacketCount int            `json:"packet_count"`
	Signals     map[string]int `json:"signals"`
}

// Fingerprint drops the journal bookkeeping from r.
func (r FingerprintRecord) Fingerprint() fingerprint.Fingerprint {
	return fingerprint.Fingerprint{
		Location:    r.Location,
		Section:     r.Section,
		WindowStart: r.WindowStart,
		WindowEnd:   r.WindowEnd,
		Signals:     r.Signals,
	}
}

// Fingerprints converts a slice of records.
func Fingerprints(recs []FingerprintRecord) []fingerprint.Fingerprint {
	fps := make([]fingerprint.Fingerprint, len(recs))
	for i, rec := range recs {
		fps[i] = rec.Fingerprint()
	}
	return fps
}

// RecordSession stores a finished session and its fingerprints in one
// transaction.
func (db *DB) RecordSession(ctx context.Context, r session.Result) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO scan_sessions (
			session_id, mode, location, section, started_at_ms, ended_at_ms,
			packet_count, dropped_count, fingerprint_count, interrupted, uploaded
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Mode.String(), r.Location, r.Section,
		r.StartedAt.UnixMilli(), r.EndedAt.UnixMilli(),
		r.Packets, r.Dropped, len(r.Fingerprints), r.Interrupted, r.Uploaded,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session %s: %w", r.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO fingerprints (
			session_id, location, section, window_start_ms, window_end_ms,
			packet_count, signals_json
		) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, f := range r.Fingerprints {
		signals := f.Signals
		if signals == nil {
			signals = map[string]int{}
		}
		raw, err := json.Marshal(signals)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			r.ID, f.Location, f.Section,
			f.WindowStart.UnixMilli(), f.WindowEnd.UnixMilli(),
			len(f.Packets), string(raw),
		); err != nil {
			return fmt.Errorf("failed to insert fingerprint: %w", err)
		}
	}
	return tx.Commit()
}

// RecentSessions returns up to limit sessions, newest first.
func (db *DB) RecentSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT session_id, mode, location, section, started_at_ms, ended_at_ms,
		       packet_count, dropped_count, fingerprint_count, interrupted, uploaded
		FROM scan_sessions ORDER BY started_at_ms DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var (
			s              SessionRecord
			startMs, endMs int64
		)
		if err := rows.Scan(&s.ID, &s.Mode, &s.Location, &s.Section, &startMs, &endMs,
			&s.PacketCount, &s.DroppedCount, &s.FingerprintCount, &s.Interrupted, &s.Uploaded); err != nil {
			return nil, err
		}
		s.StartedAt = time.UnixMilli(startMs).UTC()
		s.EndedAt = time.UnixMilli(endMs).UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

const fingerprintColumns = `id, session_id, location, section, window_start_ms, window_end_ms, packet_count, signals_json`

// RecentFingerprints returns up to limit fingerprints, newest window first.
func (db *DB) RecentFingerprints(ctx context.Context, limit int) ([]FingerprintRecord, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+fingerprintColumns+` FROM fingerprints ORDER BY window_start_ms DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return scanFingerprints(rows)
}

// FingerprintsBySession returns a session's fingerprints in window order.
func (db *DB) FingerprintsBySession(ctx context.Context, sessionID string) ([]FingerprintRecord, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+fingerprintColumns+` FROM fingerprints WHERE session_id = ? ORDER BY window_start_ms, id`, sessionID)
	if err != nil {
		return nil, err
	}
	return scanFingerprints(rows)
}

func scanFingerprints(rows *sql.Rows) ([]FingerprintRecord, error) {
	defer rows.Close()
	var out []FingerprintRecord
	for rows.Next() {
		var (
			f              FingerprintRecord
			startMs, endMs int64
			raw            string
		)
		if err := rows.Scan(&f.ID, &f.SessionID, &f.Location, &f.Section, &startMs, &endMs, &f.PacketCount, &raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &f.Signals); err != nil {
			return nil, fmt.Errorf("fingerprint %d: bad signals: %w", f.ID, err)
		}
		f.WindowStart = time.UnixMilli(startMs).UTC()
		f.WindowEnd = time.UnixMilli(endMs).UTC()
		out = append(out, f)
	}
	return out, rows.Err()
}

// RecordFlush stores the outcome of one live batch upload.
func (db *DB) RecordFlush(ctx context.Context, f flush.Flush) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO flushes (flushed_at_ms, batch_size, uploaded) VALUES (?, ?, ?)`,
		f.At.UnixMilli(), len(f.Packets), f.Uploaded)
	return err
}

// FlushStats summarises the flush history.
type FlushStats struct {
	Batches  int64     `json:"batches"`
	Uploaded int64     `json:"uploaded"`
	Packets  int64     `json:"packets"`
	Last     time.Time `json:"last,omitempty"`
}

func (db *DB) FlushStats(ctx context.Context) (FlushStats, error) {
	var (
		s    FlushStats
		last sql.NullInt64
	)
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(uploaded), 0), COALESCE(SUM(batch_size), 0), MAX(flushed_at_ms)
		FROM flushes`).Scan(&s.Batches, &s.Uploaded, &s.Packets, &last)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return FlushStats{}, err
	}
	if last.Valid {
		s.Last = time.UnixMilli(last.Int64).UTC()
	}
	return s, nil
}
