// Package api provides the HTTP API handlers for calibration, the map view,
// the zoning grid and gesture control.
package api

import (
	"context"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"github.com/ayusman/mediamap/internal/calibration"
	"github.com/ayusman/mediamap/internal/gesture"
	"github.com/ayusman/mediamap/internal/viewport"
	"github.com/ayusman/mediamap/internal/zoning"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxBody caps request bodies.
const maxBody = 1 << 20

// Calibrations exposes the named calibration sessions.
type Calibrations interface {
	Calibration(name string) (*calibration.Session, error)
	Calibrations() []calibration.Status
	ResetCalibration(name string) error
}

// Viewports reads and replaces the map camera.
type Viewports interface {
	Viewport() viewport.State
	SetViewport(ctx context.Context, vp viewport.State) (viewport.State, error)
}

// Grids exposes the zoning grid.
type Grids interface {
	Grid() *zoning.Grid
	ToggleCell(ctx context.Context, id string) (zoning.Cell, bool, error)
}

// Controls switches gesture processing on and off and between modes.
type Controls interface {
	IsEnabled() bool
	SetEnabled(enabled bool)
	Mode() gesture.Mode
	SetMode(m gesture.Mode)
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// decode reads a JSON request body into v, answering 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return false
	}
	return true
}
