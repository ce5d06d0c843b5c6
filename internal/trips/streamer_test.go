package trips

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// batchA has trips of 10 and 20 minutes, batchB one of 60 minutes.
const (
	batchA = `[{"path":[[0,0],[1,1]],"timestamps":[0,600],"type":"to_work"},{"path":[[1,1],[0,0]],"timestamps":[100,1300],"type":"to_home"}]`
	batchB = `[{"path":[[0,0],[2,2]],"timestamps":[0,3600],"type":"to_work"}]`
)

type recorder struct {
	mu      sync.Mutex
	batches [][]Trip
	stats   []Stats
	errs    []error
}

func (r *recorder) onBatch(b []Trip, s Stats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, b)
	r.stats = append(r.stats, s)
}

func (r *recorder) onError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) counts() (batches, errs int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches), len(r.errs)
}

func newStreamer(t *testing.T, url string, rec *recorder) *Streamer {
	t.Helper()
	log, _ := test.NewNullLogger()
	s, err := NewStreamer(Config{
		URL:      url,
		Debounce: 20 * time.Millisecond,
		OnBatch:  rec.onBatch,
		OnError:  rec.onError,
		Logger:   log,
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestTrip_Minutes(t *testing.T) {
	assert.Equal(t, 10.0, Trip{Timestamps: []float64{60, 660}}.Minutes())
	assert.Equal(t, 0.0, Trip{}.Minutes())
}

func TestNewStreamer_InvalidURL(t *testing.T) {
	_, err := NewStreamer(Config{URL: "not a url"})
	assert.Error(t, err)
}

func TestFetch_StreamsBatches(t *testing.T) {
	var gotQuery, gotBody, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("trips_per_person")
		gotType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)

		io.WriteString(w, batchA)
		w.(http.Flusher).Flush()
		io.WriteString(w, "\n"+batchB+"\n")
	}))
	defer srv.Close()

	rec := &recorder{}
	s := newStreamer(t, srv.URL, rec)

	require.NoError(t, s.Fetch(context.Background(), []byte(`{"type":"FeatureCollection"}`)))

	assert.Equal(t, "2", gotQuery)
	assert.Equal(t, "application/json", gotType)
	assert.JSONEq(t, `{"type":"FeatureCollection"}`, gotBody)

	require.Len(t, rec.batches, 2)
	assert.Len(t, rec.batches[0], 2)
	assert.Equal(t, "to_work", rec.batches[0][0].Type)

	// Batch means are 15 and 60 minutes: (0+15)/2 = 7.5, then (7.5+60)/2.
	assert.Equal(t, Stats{Count: 2, AvgTravelMinutes: 7.5}, rec.stats[0])
	assert.Equal(t, 3, rec.stats[1].Count)
	assert.InDelta(t, 33.75, rec.stats[1].AvgTravelMinutes, 1e-9)
	assert.Equal(t, 3, s.Stats().Count)
}

func TestFetch_StreamFormats(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		batches int
		wantErr bool
	}{
		{"back to back", batchA + batchB, 2, false},
		{"blank lines and indentation", "\n  " + batchA + "\r\n\n\t" + batchB + "  \n", 2, false},
		{"null and empty batches", batchA + "\nnull\n[]\n" + batchB, 2, false},
		{"empty body", "", 0, false},
		{"garbage after a batch", batchA + "\noops", 1, true},
		{"truncated batch", batchA + "\n" + batchB[:20], 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			rec := &recorder{}
			err := newStreamer(t, srv.URL, rec).Fetch(context.Background(), []byte(`{}`))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			batches, _ := rec.counts()
			assert.Equal(t, tt.batches, batches)
		})
	}
}

func TestFetch_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := newStreamer(t, srv.URL, &recorder{})
	err := s.Fetch(context.Background(), []byte(`{}`))
	assert.ErrorContains(t, err, "502")
}

func TestTrigger_DebouncesToLatestGrid(t *testing.T) {
	var mu sync.Mutex
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(body))
		mu.Unlock()
		io.WriteString(w, batchB)
	}))
	defer srv.Close()

	rec := &recorder{}
	s := newStreamer(t, srv.URL, rec)

	s.Trigger([]byte(`1`))
	s.Trigger([]byte(`2`))
	s.Trigger([]byte(`3`))

	assert.Eventually(t, func() bool {
		n, _ := rec.counts()
		return n == 1
	}, 2*time.Second, 5*time.Millisecond)
	s.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"3"}, bodies)
	assert.Equal(t, Stats{Count: 1, AvgTravelMinutes: 30}, s.Stats())
}

func TestCancel_StopsFetchAndZeroesStats(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, batchA)
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	rec := &recorder{}
	s := newStreamer(t, srv.URL, rec)
	s.Trigger([]byte(`{}`))

	assert.Eventually(t, func() bool { return s.Stats().Count == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, s.Stats().Fetching)

	done := make(chan struct{})
	go func() {
		s.Cancel()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Cancel did not await the running fetch")
	}

	assert.Equal(t, Stats{}, s.Stats())
	_, errs := rec.counts()
	assert.Zero(t, errs, "cancelled fetch must not report an error")
}

func TestTrigger_ReportsErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[{"path":`)
	}))
	defer srv.Close()

	rec := &recorder{}
	s := newStreamer(t, srv.URL, rec)
	s.Trigger([]byte(`{}`))

	assert.Eventually(t, func() bool {
		_, n := rec.counts()
		return n == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestClose_IgnoresLaterTriggers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected after Close")
	}))
	defer srv.Close()

	s := newStreamer(t, srv.URL, &recorder{})
	s.Close()
	s.Trigger([]byte(`{}`))
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, Stats{}, s.Stats())
}
