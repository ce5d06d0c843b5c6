package server

import (
	"fmt"
	"net/http"

	"github.com/ayusman/mediamap/internal/capture"
)

// StreamHandler serves the pipeline's latest frames as MJPEG, so
// calibration points can be picked on the live camera image.
type StreamHandler struct {
	latest *capture.Latest
}

// NewStreamHandler creates a new StreamHandler.
func NewStreamHandler(latest *capture.Latest) *StreamHandler {
	return &StreamHandler{latest: latest}
}

// ServeHTTP streams MJPEG frames to connected clients.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	var seq uint64
	for {
		buf, next, err := h.latest.Next(r.Context(), seq)
		if err != nil {
			return
		}
		seq = next

		fmt.Fprintf(w, "--frame\r\n")
		fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
		fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(buf))
		if _, err := w.Write(buf); err != nil {
			return
		}
		fmt.Fprintf(w, "\r\n")

		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
}
