package runner

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thiwi/valiax/internal/connections"
	"github.com/thiwi/valiax/internal/dispatch"
	"github.com/thiwi/valiax/internal/httpx"
	"github.com/thiwi/valiax/internal/recorder"
	"github.com/thiwi/valiax/internal/storage"
)

type ResultReader interface {
	Result(ctx context.Context, runID string) (recorder.Payload, error)
}

type Handler struct {
	Runner  *Runner
	Results ResultReader
	Timeout time.Duration
}

func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/run", h.HandleRun)
	r.Post("/connections/{connectionID}/test", h.HandleTestConnection)
	if h.Results != nil {
		r.Get("/runs/{runID}/result", h.HandleResult)
	}
	return r
}

func (h *Handler) HandleRun(w http.ResponseWriter, r *http.Request) {
	var req dispatch.Request
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	ack, err := h.Runner.Submit(r.Context(), req)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			httpx.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		httpx.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpx.WriteJSON(w, http.StatusAccepted, ack)
}

func (h *Handler) HandleTestConnection(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
	defer cancel()
	cfg, err := h.Runner.Resolver.Resolve(ctx, chi.URLParam(r, "connectionID"))
	if err != nil {
		switch {
		case errors.Is(err, connections.ErrNotFound):
			httpx.WriteError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, connections.ErrInvalidInput):
			httpx.WriteError(w, http.StatusBadRequest, err.Error())
		default:
			httpx.WriteError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	conn, err := h.Runner.ConnectorFactory(cfg)
	if err != nil {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	defer conn.Close()
	if err := conn.TestConnection(ctx); err != nil {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) HandleResult(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
	defer cancel()
	payload, err := h.Results.Result(ctx, chi.URLParam(r, "runID"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httpx.WriteError(w, http.StatusNotFound, "result not found")
			return
		}
		httpx.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpx.WriteJSON(w, http.StatusOK, payload)
}

func (h *Handler) timeout() time.Duration {
	if h.Timeout <= 0 {
		return 10 * time.Second
	}
	return h.Timeout
}
