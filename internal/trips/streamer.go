// Package trips fetches simulated trips for the current zoning grid. The
// trips service answers with a stream of JSON arrays, one batch at a time;
// each batch updates running statistics and is handed to a callback.
package trips

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Defaults.
const (
	DefaultTripsPerPerson = 2
	DefaultDebounce       = time.Second
)

// Trip is one simulated journey. Timestamps are Unix seconds, one per
// path vertex.
type Trip struct {
	Path       [][2]float64 `json:"path"`
	Timestamps []float64    `json:"timestamps"`
	Type       string       `json:"type"`
}

// Minutes is the travel time from first to last timestamp.
func (t Trip) Minutes() float64 {
	if len(t.Timestamps) == 0 {
		return 0
	}
	return (t.Timestamps[len(t.Timestamps)-1] - t.Timestamps[0]) / 60
}

// Stats summarizes the trips received since the last reset.
type Stats struct {
	Count int `json:"count"`
	// AvgTravelMinutes folds each batch mean into the previous value as
	// (prev + mean) / 2.
	AvgTravelMinutes float64 `json:"avg_travel_minutes"`
	Fetching         bool    `json:"fetching"`
}

// Config configures a Streamer.
type Config struct {
	URL            string
	TripsPerPerson int
	Debounce       time.Duration
	Client         *http.Client
	// OnBatch receives every non-empty batch with the stats after it.
	OnBatch func(batch []Trip, stats Stats)
	// OnError receives fetch failures. Cancelled fetches are not reported.
	OnError func(error)
	Logger  logrus.FieldLogger
}

// Streamer runs at most one fetch at a time. Trigger debounces requests;
// a new fetch cancels and awaits the previous one before starting.
type Streamer struct {
	cfg      Config
	endpoint string
	client   *http.Client
	log      logrus.FieldLogger

	mu      sync.Mutex
	timer   *time.Timer
	pending []byte
	cancel  context.CancelFunc
	done    chan struct{}
	gen     uint64
	stats   Stats
	closed  bool
}

// NewStreamer validates cfg and creates a Streamer.
func NewStreamer(cfg Config) (*Streamer, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("trips: invalid url %q", cfg.URL)
	}
	if cfg.TripsPerPerson <= 0 {
		cfg.TripsPerPerson = DefaultTripsPerPerson
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	q := u.Query()
	q.Set("trips_per_person", strconv.Itoa(cfg.TripsPerPerson))
	u.RawQuery = q.Encode()

	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &Streamer{
		cfg:      cfg,
		endpoint: u.String(),
		client:   client,
		log:      log.WithField("component", "trips"),
	}, nil
}

// Stats returns the current statistics.
func (s *Streamer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Trigger schedules a fetch for grid after the debounce delay. A running
// fetch is cancelled and the stats are zeroed immediately; repeated
// triggers within the delay collapse into one fetch of the latest grid.
func (s *Streamer) Trigger(grid []byte) {
	s.stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.pending = grid
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.cfg.Debounce, s.fire)
}

// Cancel drops any scheduled fetch, cancels and awaits a running one and
// zeroes the stats.
func (s *Streamer) Cancel() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.pending = nil
	s.mu.Unlock()

	s.stop()
}

// Close cancels everything; later triggers are ignored.
func (s *Streamer) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.Cancel()
}

// Wait blocks until the running fetch, if any, finishes.
func (s *Streamer) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// stop cancels the running fetch, waits for it and zeroes the stats.
func (s *Streamer) stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.gen++
	s.stats = Stats{}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (s *Streamer) fire() {
	s.stop()

	s.mu.Lock()
	if s.closed || s.pending == nil {
		s.mu.Unlock()
		return
	}
	grid := s.pending
	s.pending = nil
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel, s.done = cancel, done
	gen := s.gen
	s.stats.Fetching = true
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer cancel()

		err := s.fetch(ctx, gen, grid)

		s.mu.Lock()
		if s.gen == gen {
			s.stats.Fetching = false
		}
		s.mu.Unlock()

		if err != nil && ctx.Err() == nil {
			s.log.WithError(err).Error("trips fetch failed")
			if s.cfg.OnError != nil {
				s.cfg.OnError(err)
			}
		}
	}()
}

// Fetch posts grid and streams the response synchronously, updating the
// stats and calling OnBatch for every batch. Stats are not reset first.
func (s *Streamer) Fetch(ctx context.Context, grid []byte) error {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()
	return s.fetch(ctx, gen, grid)
}

func (s *Streamer) fetch(ctx context.Context, gen uint64, grid []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(grid))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	s.log.Debug("fetching trips")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("trips: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("trips: HTTP error! status: %d", resp.StatusCode)
	}

	iter := jsoniter.Parse(json, resp.Body, 4096)
	for {
		batch, err := nextBatch(iter)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("trips: decode batch: %w", err)
		}
		if len(batch) == 0 {
			continue
		}

		stats, current := s.record(gen, batch)
		if !current {
			return ctx.Err()
		}
		if s.cfg.OnBatch != nil {
			s.cfg.OnBatch(batch, stats)
		}
	}
}

// nextBatch reads the next top-level array, skipping whitespace between
// batches. A null batch decodes as empty. io.EOF marks a clean end of the
// stream.
func nextBatch(iter *jsoniter.Iterator) ([]Trip, error) {
	switch iter.WhatIsNext() {
	case jsoniter.ArrayValue:
	case jsoniter.NilValue:
		iter.Skip()
		return nil, iter.Error
	case jsoniter.InvalidValue:
		if iter.Error != nil {
			return nil, iter.Error
		}
		return nil, errors.New("expected an array of trips")
	default:
		return nil, errors.New("expected an array of trips")
	}

	var batch []Trip
	iter.ReadVal(&batch)
	if iter.Error != nil {
		if errors.Is(iter.Error, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, iter.Error
	}
	return batch, nil
}

// record folds batch into the stats unless a newer fetch superseded gen.
func (s *Streamer) record(gen uint64, batch []Trip) (Stats, bool) {
	var sum float64
	for _, t := range batch {
		sum += t.Minutes()
	}
	mean := sum / float64(len(batch))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return Stats{}, false
	}
	s.stats.Count += len(batch)
	if mean != 0 && !math.IsNaN(mean) {
		s.stats.AvgTravelMinutes = (s.stats.AvgTravelMinutes + mean) / 2
	}
	return s.stats, true
}
