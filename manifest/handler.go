package manifest

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Handler serves a Source over the wire shape HTTPSource consumes:
// GET /manifests/{id} (JSON) and GET /templates/{id} (HTML fragment).
type Handler struct {
	source Source
	mux    *http.ServeMux
}

// NewHandler creates a handler for source.
func NewHandler(source Source) *Handler {
	h := &Handler{source: source, mux: http.NewServeMux()}
	h.RegisterRoutes(h.mux)
	return h
}

// RegisterRoutes mounts the handler's routes onto mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /manifests/{id}", h.handleManifest)
	mux.HandleFunc("GET /templates/{id}", h.handleTemplate)
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleManifest(w http.ResponseWriter, r *http.Request) {
	m, err := h.source.Manifest(r.Context(), r.PathValue("id"))
	if err != nil {
		writeUnavailable(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(m)
}

func (h *Handler) handleTemplate(w http.ResponseWriter, r *http.Request) {
	markup, err := h.source.Template(r.Context(), r.PathValue("id"))
	if err != nil {
		writeUnavailable(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(markup))
}

func writeUnavailable(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	if errors.Is(err, ErrManifestUnavailable) || errors.Is(err, ErrTemplateUnavailable) {
		status = http.StatusNotFound
	}
	http.Error(w, err.Error(), status)
}
