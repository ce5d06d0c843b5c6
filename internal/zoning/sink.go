package zoning

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ayusman/mediamap/internal/geometry"
	"github.com/ayusman/mediamap/internal/input"
	"github.com/ayusman/mediamap/internal/store"
	"github.com/ayusman/mediamap/internal/syncbus"
	"github.com/ayusman/mediamap/internal/viewport"
)

// SettingsKey is where the grid is persisted.
const SettingsKey = syncbus.KeyGrid

// Settings is the key/value store the grid is saved to.
type Settings interface {
	Get(key string) (string, error)
	Set(key, value string) error
}

// View reports the current map camera and display size.
type View func() (viewport.State, geometry.Size)

// SinkConfig configures a Sink.
type SinkConfig struct {
	Grid     *Grid
	View     View
	Settings Settings
	Bus      syncbus.Bus
	// OnToggle, when set, is called after a cell changes.
	OnToggle func(Cell)
	Logger   logrus.FieldLogger
}

// Sink is an input.Sink that toggles the grid cell under each press.
// Move and release events are ignored.
type Sink struct {
	cfg SinkConfig
	log logrus.FieldLogger
}

var _ input.Sink = (*Sink)(nil)

// NewSink creates a Sink.
func NewSink(cfg SinkConfig) *Sink {
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Sink{cfg: cfg, log: log.WithField("component", "zoning")}
}

// Raise implements input.Sink. p is an absolute display pixel.
func (s *Sink) Raise(kind input.EventKind, p geometry.Point2D, target string) error {
	if kind != input.Press {
		return nil
	}

	vp, size := s.cfg.View()
	lon, lat := vp.Unproject(p, size)
	id, ok := s.cfg.Grid.CellAt(lon, lat)
	if !ok {
		s.log.WithFields(logrus.Fields{"lon": lon, "lat": lat}).Debug("press outside grid")
		return nil
	}

	cell, changed, err := s.cfg.Grid.Toggle(id)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	s.log.WithFields(logrus.Fields{"cell": cell.ID, "zoning": cell.Zoning}).Info("cell toggled")

	if s.cfg.OnToggle != nil {
		s.cfg.OnToggle(cell)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return Save(ctx, s.cfg.Grid, s.cfg.Settings, s.cfg.Bus)
}

// Save persists the grid and announces it on the bus. Either destination
// may be nil.
func Save(ctx context.Context, g *Grid, settings Settings, bus syncbus.Bus) error {
	data, err := g.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode grid: %w", err)
	}
	if settings != nil {
		if err := settings.Set(SettingsKey, string(data)); err != nil {
			return fmt.Errorf("save grid: %w", err)
		}
	}
	if bus != nil {
		if err := bus.Publish(ctx, syncbus.KeyGrid, data); err != nil {
			return fmt.Errorf("publish grid: %w", err)
		}
	}
	return nil
}

// Load restores the grid from settings. When nothing is stored it reads
// seedPath, or builds a square grid over bbox when seedPath is empty.
func Load(settings Settings, seedPath string, bbox BBox, cellKm float64) (*Grid, error) {
	data, err := settings.Get(SettingsKey)
	switch {
	case err == nil:
		return Parse([]byte(data))
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("load grid: %w", err)
	}

	if seedPath != "" {
		raw, err := os.ReadFile(seedPath)
		if err != nil {
			return nil, fmt.Errorf("read grid seed: %w", err)
		}
		return Parse(raw)
	}
	return SquareGrid(bbox, cellKm)
}

// Follow reloads g whenever another context publishes a grid, until ctx is
// done. Publishes from bus itself are skipped.
func Follow(ctx context.Context, bus syncbus.Bus, g *Grid, log logrus.FieldLogger) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	msgs, stop := bus.Subscribe(syncbus.KeyGrid)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-msgs:
			if !ok {
				return
			}
			if m.Origin == bus.ID() {
				continue
			}
			if err := g.Replace(m.Value); err != nil {
				log.WithError(err).Warn("ignoring grid update")
				continue
			}
			log.WithField("origin", m.Origin).Debug("grid reloaded")
		}
	}
}
