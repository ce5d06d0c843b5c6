package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ayusman/mediamap/internal/zoning"
)

// GridHandler handles the zoning grid resources.
type GridHandler struct {
	grids Grids
}

// NewGridHandler creates a new GridHandler.
func NewGridHandler(grids Grids) *GridHandler {
	return &GridHandler{grids: grids}
}

type toggleResponse struct {
	Cell    zoning.Cell `json:"cell"`
	Changed bool        `json:"changed"`
}

// ServeHTTP routes /api/grid, /api/grid/stats and
// /api/grid/{cellID}/toggle.
func (h *GridHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/grid")
	path = strings.Trim(path, "/")

	switch {
	case path == "":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		data, err := h.grids.Grid().MarshalJSON()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to encode grid")
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		w.Write(data)

	case path == "stats":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, h.grids.Grid().Stats())

	case strings.HasSuffix(path, "/toggle"):
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.toggle(w, r, strings.TrimSuffix(path, "/toggle"))

	default:
		http.NotFound(w, r)
	}
}

// toggle handles POST /api/grid/{cellID}/toggle.
func (h *GridHandler) toggle(w http.ResponseWriter, r *http.Request, id string) {
	cell, changed, err := h.grids.ToggleCell(r.Context(), id)
	if err != nil {
		if errors.Is(err, zoning.ErrCellNotFound) {
			writeError(w, http.StatusNotFound, "Cell not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to save grid")
		return
	}
	writeJSON(w, http.StatusOK, toggleResponse{Cell: cell, Changed: changed})
}
