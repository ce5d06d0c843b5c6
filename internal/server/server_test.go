package server

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/mediamap/internal/syncbus"
)

func TestServer_Health(t *testing.T) {
	log, _ := test.NewNullLogger()
	bus := syncbus.NewMemoryBus(log)
	defer bus.Close()
	s := New(Config{Hub: NewHub(bus, log), Logger: log})

	t.Run("reports uptime and clients", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var response struct {
			Status  string `json:"status"`
			Uptime  string `json:"uptime"`
			Clients *int   `json:"clients"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
		assert.Equal(t, "ok", response.Status)
		assert.NotEmpty(t, response.Uptime)
		require.NotNil(t, response.Clients)
		assert.Equal(t, 0, *response.Clients)
	})

	t.Run("only allows GET", func(t *testing.T) {
		for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
			rec := httptest.NewRecorder()
			s.ServeHTTP(rec, httptest.NewRequest(method, "/api/health", nil))
			assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, method)
		}
	})
}

func TestServer_RoutesNeedApp(t *testing.T) {
	s := New(Config{})

	for _, path := range []string{"/api/calibration", "/api/transforms", "/api/viewport", "/api/grid", "/api/control", "/api/stream", "/api/ws"} {
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestServer_StaticFiles(t *testing.T) {
	dir := t.TempDir()
	index := "<html><body>mediamap</body></html>"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte(index), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "calibrate.js"), []byte("start()"), 0644))

	s := New(Config{StaticDir: dir})

	tests := []struct {
		path string
		code int
		body string
	}{
		{"/", http.StatusOK, index},
		{"/calibrate.js", http.StatusOK, "start()"},
		{"/missing.html", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.code, rec.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}

	t.Run("no static dir", func(t *testing.T) {
		rec := httptest.NewRecorder()
		New(Config{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestServer_ListenAndShutdown(t *testing.T) {
	log, _ := test.NewNullLogger()
	s := New(Config{Logger: log})

	// Shutdown before listening is a no-op.
	require.NoError(t, s.Shutdown(context.Background()))

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	errCh := make(chan error, 1)
	go func() { errCh <- s.ListenAndServe(addr) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/api/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ListenAndServe did not return after Shutdown")
	}
}
