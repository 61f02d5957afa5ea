// Package api is the pipeline service's HTTP surface: attribution session
// management, event ingest, and operational introspection.
package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/betlabs/kwai-pipeline/internal/attribution"
	"github.com/betlabs/kwai-pipeline/internal/bootstrap"
	"github.com/betlabs/kwai-pipeline/internal/debugconsole"
	"github.com/betlabs/kwai-pipeline/internal/dispatch"
	"github.com/betlabs/kwai-pipeline/internal/pkg/httputil"
	"github.com/betlabs/kwai-pipeline/internal/pkg/logger"
)

// Handler wires the pipeline's HTTP routes to the attribution store, the
// dispatcher, and the bootstrap registry.
type Handler struct {
	session        *attribution.Store
	dispatcher     *dispatch.Dispatcher
	boot           *bootstrap.Registry
	recorder       *debugconsole.Recorder
	allowedOrigins []string
}

// NewHandler creates the pipeline API handler. recorder may be nil, which
// disables the debug routes.
func NewHandler(session *attribution.Store, dispatcher *dispatch.Dispatcher, boot *bootstrap.Registry, recorder *debugconsole.Recorder, allowedOrigins []string) *Handler {
	return &Handler{
		session:        session,
		dispatcher:     dispatcher,
		boot:           boot,
		recorder:       recorder,
		allowedOrigins: allowedOrigins,
	}
}

// Routes builds the chi router for the pipeline service.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	origins := h.allowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Post("/session/capture", h.HandleCapture)
	r.Get("/session", h.HandleSession)
	r.Delete("/session", h.HandleClearSession)
	r.Post("/events", h.HandleEvent)
	r.Get("/health", h.HandleHealth)
	if h.recorder != nil {
		r.Get("/debug/dispatches", h.recorder.Handler())
	}
	return r
}

type captureRequest struct {
	URL string `json:"url"`
}

type captureResponse struct {
	Captured bool                `json:"captured"`
	Session  attribution.Session `json:"session"`
}

// HandleCapture inspects a landing URL for attribution parameters. The first
// capture wins; repeat calls report captured=false with the stored session.
func (h *Handler) HandleCapture(w http.ResponseWriter, r *http.Request) {
	var req captureRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.URL == "" {
		httputil.Fail(w, http.StatusBadRequest, "url is required")
		return
	}

	captured, err := h.session.Capture(r.Context(), req.URL)
	if err != nil {
		logger.Error("session capture failed", "error", err.Error())
		httputil.Fail(w, http.StatusInternalServerError, "session capture failed")
		return
	}
	httputil.OK(w, captureResponse{
		Captured: captured,
		Session:  h.session.Read(r.Context()),
	})
}

type sessionResponse struct {
	Attributed bool                `json:"attributed"`
	Session    attribution.Session `json:"session"`
}

// HandleSession returns the stored attribution session.
func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request) {
	sess := h.session.Read(r.Context())
	httputil.OK(w, sessionResponse{Attributed: sess.Attributed(), Session: sess})
}

// HandleClearSession drops the stored attribution.
func (h *Handler) HandleClearSession(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Clear(r.Context()); err != nil {
		logger.Error("session clear failed", "error", err.Error())
		httputil.Fail(w, http.StatusInternalServerError, "session clear failed")
		return
	}
	httputil.OK(w, map[string]bool{"cleared": true})
}

type eventRequest struct {
	Name       string         `json:"name"`
	Value      float64        `json:"value,omitempty"`
	OrderID    string         `json:"order_id,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// HandleEvent ingests one logical event and fans it out. Status codes map
// the dispatch refusals: 409 for an unattributed session, 503 when no
// destination is ready, 502 when every destination rejected.
func (h *Handler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		httputil.Fail(w, http.StatusBadRequest, "name is required")
		return
	}

	kind := dispatch.Kind(req.Name)
	var (
		out dispatch.Outcome
		err error
	)
	switch kind {
	case dispatch.Purchase:
		out, err = h.dispatcher.TrackPurchase(r.Context(), req.Value, req.OrderID)
	default:
		props := req.Properties
		if req.Value != 0 {
			if props == nil {
				props = map[string]any{}
			}
			props["value"] = req.Value
		}
		out, err = h.dispatcher.Dispatch(r.Context(), kind, props)
	}

	switch {
	case err == nil:
		httputil.OK(w, out)
	case errors.Is(err, dispatch.ErrUnknownEvent):
		httputil.Fail(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, dispatch.ErrUnattributed):
		httputil.Fail(w, http.StatusConflict, err.Error())
	case errors.Is(err, dispatch.ErrNoReadyDestinations):
		httputil.Fail(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, dispatch.ErrAllDestinationsFailed):
		httputil.JSON(w, http.StatusBadGateway, out)
	default:
		logger.Error("event dispatch failed", "event", req.Name, "error", err.Error())
		httputil.Fail(w, http.StatusInternalServerError, "dispatch failed")
	}
}

type healthResponse struct {
	Service      string             `json:"service"`
	Status       string             `json:"status"`
	Destinations []bootstrap.Status `json:"destinations"`
}

// HandleHealth reports service identity plus per-destination bootstrap
// state.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	var statuses []bootstrap.Status
	if h.boot != nil {
		statuses = h.boot.Snapshot()
	}
	httputil.OK(w, healthResponse{
		Service:      "Kwai Pixel Pipeline",
		Status:       "online",
		Destinations: statuses,
	})
}
