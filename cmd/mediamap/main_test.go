package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ayusman/mediamap/internal/calibration"
)

func TestStatusLine(t *testing.T) {
	got := statusLine([]calibration.Status{
		{Name: "camera", State: calibration.Ready},
		{Name: "projection", State: calibration.Collecting},
	})
	if want := "camera ready, projection collecting"; got != want {
		t.Errorf("statusLine() = %q, want %q", got, want)
	}
	if got := statusLine(nil); got != "" {
		t.Errorf("statusLine(nil) = %q, want empty", got)
	}
}

func TestLocalURL(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{":8080", "http://localhost:8080"},
		{"127.0.0.1:9000", "http://127.0.0.1:9000"},
	}
	for _, tt := range tests {
		if got := localURL(tt.addr); got != tt.want {
			t.Errorf("localURL(%q) = %q, want %q", tt.addr, got, tt.want)
		}
	}
}

func TestFindWebDir_DataDir(t *testing.T) {
	dataDir := t.TempDir()
	web := filepath.Join(dataDir, "web")
	if err := os.Mkdir(web, 0755); err != nil {
		t.Fatal(err)
	}

	// The test runs from cmd/mediamap, where no relative web dir exists.
	if got := findWebDir(dataDir); got != web {
		t.Errorf("findWebDir() = %q, want %q", got, web)
	}
}
