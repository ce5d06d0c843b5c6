package api

import (
	"net/http"

	"github.com/ayusman/mediamap/internal/viewport"
)

// ViewportHandler handles GET and PUT /api/viewport.
type ViewportHandler struct {
	vp Viewports
}

// NewViewportHandler creates a new ViewportHandler.
func NewViewportHandler(vp Viewports) *ViewportHandler {
	return &ViewportHandler{vp: vp}
}

func (h *ViewportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.vp.Viewport())
	case http.MethodPut:
		var req viewport.State
		if !decode(w, r, &req) {
			return
		}
		vp, err := h.vp.SetViewport(r.Context(), req)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to save viewport")
			return
		}
		writeJSON(w, http.StatusOK, vp)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
