package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ayusman/mediamap/internal/geometry"
)

// CalibrationRecord is one solved calibration in the history table.
type CalibrationRecord struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Source      [4]geometry.Point2D `json:"source"`
	Destination [4]geometry.Point2D `json:"destination"`
	Matrix      [16]float64         `json:"matrix"`
	CreatedAt   time.Time           `json:"created_at"`
}

// CalibrationRepository provides access to the calibration history.
type CalibrationRepository struct {
	db *sql.DB
}

// Calibrations returns the calibration repository for this store.
func (s *Store) Calibrations() *CalibrationRepository {
	return &CalibrationRepository{db: s.db}
}

// Create appends a record. An empty ID is filled with a new UUID and a zero
// CreatedAt with the current time.
func (r *CalibrationRepository) Create(rec *CalibrationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	src, err := json.MarshalToString(rec.Source)
	if err != nil {
		return err
	}
	dst, err := json.MarshalToString(rec.Destination)
	if err != nil {
		return err
	}
	m, err := json.MarshalToString(rec.Matrix)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(
		`INSERT INTO calibrations (id, name, source_points, destination_points, matrix, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Name, src, dst, m, rec.CreatedAt,
	)
	return err
}

// Latest returns the most recent record for name.
func (r *CalibrationRepository) Latest(name string) (*CalibrationRecord, error) {
	row := r.db.QueryRow(
		`SELECT id, name, source_points, destination_points, matrix, created_at
		 FROM calibrations WHERE name = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		name,
	)
	rec, err := scanCalibration(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

// List returns up to limit records for name, newest first. A limit of zero
// or less returns all records.
func (r *CalibrationRepository) List(name string, limit int) ([]*CalibrationRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.Query(
		`SELECT id, name, source_points, destination_points, matrix, created_at
		 FROM calibrations WHERE name = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		name, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*CalibrationRecord
	for rows.Next() {
		rec, err := scanCalibration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCalibration(sc scanner) (*CalibrationRecord, error) {
	rec := &CalibrationRecord{}
	var src, dst, m string
	if err := sc.Scan(&rec.ID, &rec.Name, &src, &dst, &m, &rec.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.UnmarshalFromString(src, &rec.Source); err != nil {
		return nil, err
	}
	if err := json.UnmarshalFromString(dst, &rec.Destination); err != nil {
		return nil, err
	}
	if err := json.UnmarshalFromString(m, &rec.Matrix); err != nil {
		return nil, err
	}
	return rec, nil
}
