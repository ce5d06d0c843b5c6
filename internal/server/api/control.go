package api

import (
	"net/http"

	"github.com/ayusman/mediamap/internal/gesture"
)

// ControlHandler handles GET and PUT /api/control.
type ControlHandler struct {
	ctl Controls
}

// NewControlHandler creates a new ControlHandler.
func NewControlHandler(ctl Controls) *ControlHandler {
	return &ControlHandler{ctl: ctl}
}

type controlResponse struct {
	Enabled bool   `json:"enabled"`
	Mode    string `json:"mode"`
}

type updateControlRequest struct {
	Enabled *bool   `json:"enabled"`
	Mode    *string `json:"mode"`
}

func (h *ControlHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.get(w)
	case http.MethodPut:
		h.update(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *ControlHandler) get(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, controlResponse{
		Enabled: h.ctl.IsEnabled(),
		Mode:    h.ctl.Mode().String(),
	})
}

func (h *ControlHandler) update(w http.ResponseWriter, r *http.Request) {
	var req updateControlRequest
	if !decode(w, r, &req) {
		return
	}

	// Validate before applying anything.
	var mode gesture.Mode
	if req.Mode != nil {
		m, err := gesture.ParseMode(*req.Mode)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		mode = m
	}

	if req.Mode != nil {
		h.ctl.SetMode(mode)
	}
	if req.Enabled != nil {
		h.ctl.SetEnabled(*req.Enabled)
	}
	h.get(w)
}
