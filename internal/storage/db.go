package storage

import (
	"bytes"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	_ "modernc.org/sqlite"

	"github.com/attuneapp/voice-coach/internal/types"
)

// DB handles SQLite persistence: enrollment profiles and the nudge history.
type DB struct {
	db *sql.DB
}

// NewDB opens (or creates) the database at dbPath.
func NewDB(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS enrollment_profiles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		profile_id TEXT NOT NULL UNIQUE,
		user_id TEXT NOT NULL UNIQUE,
		embedding BLOB NOT NULL,
		quality_score REAL NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS nudges (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		target_user_id TEXT NOT NULL,
		nudge_type TEXT NOT NULL,
		message TEXT NOT NULL,
		timestamp_ms INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_nudges_session ON nudges(session_id);
	CREATE INDEX IF NOT EXISTS idx_profiles_user ON enrollment_profiles(user_id);
	`

	if _, err := db.Exec(createTableSQL); err != nil {
		return nil, fmt.Errorf("failed to create tables: %v", err)
	}

	return &DB{db: db}, nil
}

// ReplaceProfile saves a user's enrollment profile, atomically replacing any
// prior one. Identification never observes a partial overwrite.
func (d *DB) ReplaceProfile(p types.EnrollmentProfile) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin profile replace: %v", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM enrollment_profiles WHERE user_id = ?`, p.UserID); err != nil {
		return fmt.Errorf("failed to clear prior profile: %v", err)
	}
	_, err = tx.Exec(`
	INSERT INTO enrollment_profiles (profile_id, user_id, embedding, quality_score, created_at)
	VALUES (?, ?, ?, ?, ?)
	`, p.ProfileID, p.UserID, encodeEmbedding(p.Embedding), p.QualityScore, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save profile: %v", err)
	}
	return tx.Commit()
}

// Profile returns the active profile for a user, or sql.ErrNoRows.
func (d *DB) Profile(userID string) (types.EnrollmentProfile, error) {
	row := d.db.QueryRow(`
	SELECT profile_id, user_id, embedding, quality_score, created_at
	FROM enrollment_profiles WHERE user_id = ?
	`, userID)
	return scanProfile(row)
}

// Profiles returns the active profiles for the given users; users without a
// profile are simply absent from the result.
func (d *DB) Profiles(userIDs []string) ([]types.EnrollmentProfile, error) {
	out := make([]types.EnrollmentProfile, 0, len(userIDs))
	for _, id := range userIDs {
		p, err := d.Profile(id)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProfile(row rowScanner) (types.EnrollmentProfile, error) {
	var (
		p    types.EnrollmentProfile
		blob []byte
	)
	if err := row.Scan(&p.ProfileID, &p.UserID, &blob, &p.QualityScore, &p.CreatedAt); err != nil {
		return types.EnrollmentProfile{}, err
	}
	p.Embedding = decodeEmbedding(blob)
	return p, nil
}

// SaveNudge appends an emitted nudge to the history.
func (d *DB) SaveNudge(n types.Nudge) error {
	_, err := d.db.Exec(`
	INSERT INTO nudges (session_id, target_user_id, nudge_type, message, timestamp_ms, created_at)
	VALUES (?, ?, ?, ?, ?, ?)
	`, n.SessionID, n.TargetUserID, n.Type, n.Message, n.TimestampMs, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save nudge: %v", err)
	}
	return nil
}

// ListNudges returns the nudges emitted for a session, oldest first.
func (d *DB) ListNudges(sessionID string, limit int) ([]types.Nudge, error) {
	rows, err := d.db.Query(`
	SELECT session_id, target_user_id, nudge_type, message, timestamp_ms
	FROM nudges WHERE session_id = ? ORDER BY timestamp_ms ASC LIMIT ?
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list nudges: %v", err)
	}
	defer rows.Close()

	var out []types.Nudge
	for rows.Next() {
		var n types.Nudge
		if err := rows.Scan(&n.SessionID, &n.TargetUserID, &n.Type, &n.Message, &n.TimestampMs); err != nil {
			continue
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// embeddings are stored as little-endian float64 blobs

func encodeEmbedding(v []float64) []byte {
	var buf bytes.Buffer
	for _, f := range v {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(f))
		buf.Write(b[:])
	}
	return buf.Bytes()
}

func decodeEmbedding(b []byte) []float64 {
	n := len(b) / 8
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8 : i*8+8]))
	}
	return out
}
