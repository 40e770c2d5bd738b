// internal/api/handlers.go
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"stagehand/internal/delta"
	"stagehand/internal/diff"
	apperr "stagehand/internal/errors"
	"stagehand/internal/file"
	"stagehand/internal/logging"
	"stagehand/internal/repo"
	"stagehand/internal/validation"

	"go.uber.org/zap"
)

// Handler serves one repository. Repo is not safe for concurrent use, so
// every request holds mu while it touches the facade.
type Handler struct {
	mu   sync.Mutex
	repo *repo.Repo
}

func NewHandler(r *repo.Repo) *Handler {
	return &Handler{repo: r}
}

// PathRequest is the body of stage and unstage requests.
type PathRequest struct {
	Path string `json:"path"`
}

func (p *PathRequest) Validate() error {
	return validation.Path(p.Path)
}

// Register installs the routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /api/changes", h.Changes)
	mux.HandleFunc("GET /api/diff", h.Diff)
	mux.HandleFunc("POST /api/stage", h.Stage)
	mux.HandleFunc("POST /api/unstage", h.Unstage)
	mux.HandleFunc("POST /api/undo", h.Undo)
	mux.HandleFunc("POST /api/redo", h.Redo)
	mux.HandleFunc("GET /api/history", h.History)
	mux.HandleFunc("DELETE /api/history", h.ClearHistory)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) Changes(w http.ResponseWriter, r *http.Request) {
	var deltas []delta.Delta
	err := h.locked(func() (err error) {
		deltas, err = h.repo.Uncommitted(r.Context())
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if deltas == nil {
		deltas = []delta.Delta{}
	}
	writeJSON(w, http.StatusOK, deltas)
}

func (h *Handler) Diff(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if err := validation.Path(path); err != nil {
		writeError(w, r, err)
		return
	}

	var details *diff.Details
	err := h.locked(func() (err error) {
		details, err = h.repo.Details(r.Context(), path)
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (h *Handler) Stage(w http.ResponseWriter, r *http.Request) {
	h.pathCommand(w, r, h.repo.StageFile)
}

func (h *Handler) Unstage(w http.ResponseWriter, r *http.Request) {
	h.pathCommand(w, r, h.repo.UnstageFile)
}

func (h *Handler) pathCommand(w http.ResponseWriter, r *http.Request, run func(context.Context, file.Ref) error) {
	var req PathRequest
	if err := validation.DecodeRequest(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	err := h.locked(func() error {
		return run(r.Context(), file.FromPath(req.Path))
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Undo(w http.ResponseWriter, r *http.Request) {
	err := h.locked(func() error { return h.repo.Undo(r.Context()) })
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Redo(w http.ResponseWriter, r *http.Request) {
	err := h.locked(func() error { return h.repo.Redo(r.Context()) })
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	var snapshot repo.Snapshot
	h.locked(func() error {
		snapshot = h.repo.Snapshot()
		return nil
	})
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	err := h.locked(func() error { return h.repo.ClearHistory(r.Context()) })
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// locked runs fn with mu held. The unlock is deferred so a panic recovered
// further up the chain does not leave the facade locked.
func (h *Handler) locked(fn func() error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return fn()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError answers with the typed error. Untyped errors become a backend
// failure.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	typed, ok := apperr.As(err)
	if !ok {
		typed, _ = apperr.As(apperr.Backend("handling request", err))
	}
	code := typed.Code
	if code == 0 {
		code = http.StatusInternalServerError
	}
	if code >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeJSON(w, code, typed)
}
