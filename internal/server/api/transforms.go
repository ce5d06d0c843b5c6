package api

import (
	"errors"
	"net/http"

	"github.com/ayusman/mediamap/internal/transform"
)

// TransformHandler serves the matrices registered in a transform stack.
type TransformHandler struct {
	stack *transform.Stack
}

// NewTransformHandler creates a new TransformHandler.
func NewTransformHandler(stack *transform.Stack) *TransformHandler {
	return &TransformHandler{stack: stack}
}

type transformResponse struct {
	From   transform.Space `json:"from"`
	To     transform.Space `json:"to"`
	Matrix [16]float64     `json:"matrix"`
}

type listTransformsResponse struct {
	Transforms []transform.Registration `json:"transforms"`
}

// ServeHTTP handles GET /api/transforms. With from and to query
// parameters it returns that pair's matrix, inverting a registered reverse
// pair when needed; without them it lists the registered pairs.
func (h *TransformHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	from, to := transform.Space(q.Get("from")), transform.Space(q.Get("to"))
	if from == "" && to == "" {
		regs := h.stack.Registrations()
		if regs == nil {
			regs = []transform.Registration{}
		}
		writeJSON(w, http.StatusOK, listTransformsResponse{Transforms: regs})
		return
	}
	if from == "" || to == "" {
		writeError(w, http.StatusBadRequest, "from and to are both required")
		return
	}

	t, err := h.stack.Lookup(from, to)
	if err != nil {
		if errors.Is(err, transform.ErrUnknownSpace) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, transformResponse{From: from, To: to, Matrix: t.Matrix4()})
}
