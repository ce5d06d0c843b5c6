package calibration

import (
	"errors"
	"fmt"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/ayusman/mediamap/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNoSnapshot is returned by Repository.Load when no complete snapshot
// was persisted.
var ErrNoSnapshot = errors.New("no persisted calibration")

// Repository persists the latest snapshot of each named session.
type Repository interface {
	Save(snap Snapshot) error
	Load(name string) (Snapshot, error)
	Clear(name string) error
}

// Settings keys of a persisted calibration.
func sourceKey(name string) string      { return "calibration." + name + ".source_points" }
func destinationKey(name string) string { return "calibration." + name + ".destination_points" }
func matrixKey(name string) string      { return "calibration." + name + ".matrix" }

// StoreRepository persists snapshots as three settings keys per session and
// appends every save to the calibration history table.
type StoreRepository struct {
	store *store.Store
}

// NewStoreRepository creates a repository backed by s.
func NewStoreRepository(s *store.Store) *StoreRepository {
	return &StoreRepository{store: s}
}

// Save writes the three settings keys and a history row.
func (r *StoreRepository) Save(snap Snapshot) error {
	values := make(map[string]string, 3)
	for key, v := range map[string]interface{}{
		sourceKey(snap.Name):      snap.Source,
		destinationKey(snap.Name): snap.Destination,
		matrixKey(snap.Name):      snap.Matrix,
	} {
		raw, err := json.MarshalToString(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
		values[key] = raw
	}
	if err := r.store.Settings().SetMany(values); err != nil {
		return fmt.Errorf("save calibration %s: %w", snap.Name, err)
	}

	rec := &store.CalibrationRecord{
		ID:          snap.ID,
		Name:        snap.Name,
		Source:      snap.Source,
		Destination: snap.Destination,
		Matrix:      snap.Matrix,
		CreatedAt:   snap.CreatedAt,
	}
	if err := r.store.Calibrations().Create(rec); err != nil {
		return fmt.Errorf("record calibration %s: %w", snap.Name, err)
	}
	return nil
}

// Load reads the three settings keys. A missing key yields ErrNoSnapshot.
func (r *StoreRepository) Load(name string) (Snapshot, error) {
	snap := Snapshot{Name: name}
	settings := r.store.Settings()

	targets := []struct {
		key string
		v   interface{}
	}{
		{sourceKey(name), &snap.Source},
		{destinationKey(name), &snap.Destination},
		{matrixKey(name), &snap.Matrix},
	}
	for _, t := range targets {
		if err := settings.GetJSON(t.key, t.v); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return Snapshot{}, ErrNoSnapshot
			}
			return Snapshot{}, err
		}
	}

	if rec, err := r.store.Calibrations().Latest(name); err == nil && rec.Matrix == snap.Matrix {
		snap.ID = rec.ID
		snap.CreatedAt = rec.CreatedAt
	}
	return snap, nil
}

// Clear removes the three settings keys. History rows are kept.
func (r *StoreRepository) Clear(name string) error {
	return r.store.Settings().DeleteMany(sourceKey(name), destinationKey(name), matrixKey(name))
}

// MemoryRepository keeps snapshots in memory.
type MemoryRepository struct {
	mu    sync.Mutex
	snaps map[string]Snapshot
	saves int
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{snaps: make(map[string]Snapshot)}
}

// Save implements Repository.
func (r *MemoryRepository) Save(snap Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps[snap.Name] = snap
	r.saves++
	return nil
}

// Saves returns how many times Save was called.
func (r *MemoryRepository) Saves() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saves
}

// Load implements Repository.
func (r *MemoryRepository) Load(name string) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, ok := r.snaps[name]
	if !ok {
		return Snapshot{}, ErrNoSnapshot
	}
	return snap, nil
}

// Clear implements Repository.
func (r *MemoryRepository) Clear(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.snaps, name)
	return nil
}
