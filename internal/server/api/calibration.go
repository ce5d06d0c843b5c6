package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ayusman/mediamap/internal/calibration"
	"github.com/ayusman/mediamap/internal/geometry"
)

// CalibrationHandler handles the calibration sessions.
type CalibrationHandler struct {
	cal Calibrations
}

// NewCalibrationHandler creates a new CalibrationHandler.
func NewCalibrationHandler(cal Calibrations) *CalibrationHandler {
	return &CalibrationHandler{cal: cal}
}

// ServeHTTP routes /api/calibration, /api/calibration/{name} and
// /api/calibration/{name}/points.
func (h *CalibrationHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/calibration")
	path = strings.Trim(path, "/")

	if path == "" {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, listCalibrationsResponse{Calibrations: h.cal.Calibrations()})
		return
	}

	name, rest, _ := strings.Cut(path, "/")
	session, err := h.cal.Calibration(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "Calibration not found")
		return
	}

	switch rest {
	case "":
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, session.Status())
		case http.MethodDelete:
			h.reset(w, name)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case "points":
		switch r.Method {
		case http.MethodPost:
			h.addPoint(w, r, session)
		case http.MethodPut:
			h.setPoints(w, r, session)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	default:
		http.NotFound(w, r)
	}
}

type listCalibrationsResponse struct {
	Calibrations []calibration.Status `json:"calibrations"`
}

type setPointsRequest struct {
	Points []geometry.Point2D `json:"points"`
}

// addPoint handles POST /api/calibration/{name}/points.
func (h *CalibrationHandler) addPoint(w http.ResponseWriter, r *http.Request, s *calibration.Session) {
	var p geometry.Point2D
	if !decode(w, r, &p) {
		return
	}

	accepted, err := s.AddPoint(p)
	if err != nil {
		writeSolveError(w, err)
		return
	}
	if !accepted {
		writeError(w, http.StatusConflict, "Calibration is not collecting points; reset it first")
		return
	}
	writeJSON(w, http.StatusOK, s.Status())
}

// setPoints handles PUT /api/calibration/{name}/points.
func (h *CalibrationHandler) setPoints(w http.ResponseWriter, r *http.Request, s *calibration.Session) {
	var req setPointsRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Points) != 4 {
		writeError(w, http.StatusBadRequest, "exactly 4 points are required")
		return
	}

	var points [4]geometry.Point2D
	copy(points[:], req.Points)
	if err := s.SetPoints(points); err != nil {
		writeSolveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Status())
}

// reset handles DELETE /api/calibration/{name}.
func (h *CalibrationHandler) reset(w http.ResponseWriter, name string) {
	if err := h.cal.ResetCalibration(name); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset calibration")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeSolveError(w http.ResponseWriter, err error) {
	if errors.Is(err, geometry.ErrSingular) {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, "Failed to solve calibration")
}
