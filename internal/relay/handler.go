package relay

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/betlabs/kwai-pipeline/internal/pkg/httputil"
	"github.com/betlabs/kwai-pipeline/internal/pkg/logger"
)

// Handler serves the relay's HTTP surface: POST /kwai-track (dispatch) and
// GET /kwai-track (health/identity).
type Handler struct {
	vendor         *VendorClient
	creds          CredentialStore
	maxRetries     int
	allowedOrigins []string
}

// NewHandler creates a relay handler. creds may be nil, in which case every
// request must carry its own access token (trusted server-side callers).
func NewHandler(vendor *VendorClient, creds CredentialStore, maxRetries int, allowedOrigins []string) *Handler {
	return &Handler{vendor: vendor, creds: creds, maxRetries: maxRetries, allowedOrigins: allowedOrigins}
}

// Routes builds the chi router for the relay service.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	origins := h.allowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Post("/kwai-track", h.HandleTrack)
	r.Get("/kwai-track", h.HandleHealth)
	r.Get("/health", h.HandleHealth)
	return r
}

// HandleTrack validates the dispatch request, attaches the destination
// credential, forwards to the vendor API, and classifies the result.
func (h *Handler) HandleTrack(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req TrackRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	// Server-side credential lookup; a token already present in the body
	// (trusted caller) takes precedence.
	if req.AccessToken == "" && h.creds != nil && req.PixelID != "" {
		tok, err := h.creds.Lookup(r.Context(), req.PixelID)
		if err == nil {
			req.AccessToken = tok
		} else if !errors.Is(err, ErrUnknownPixel) {
			logger.Error("credential lookup failed", "pixel_id", req.PixelID, "error", err.Error())
		}
	}

	if field, ok := missingField(req); !ok {
		httputil.Fail(w, http.StatusBadRequest, "Campo obrigatório ausente: "+field)
		return
	}

	isAttributed := 0
	if req.ClickID != "" {
		isAttributed = 1
	}
	properties := req.Properties
	if properties == "" {
		properties = "{}"
	}

	payload := VendorPayload{
		AccessToken:  req.AccessToken,
		Callback:     req.Callback,
		ClickID:      req.ClickID,
		EventName:    req.EventName,
		IsAttributed: isAttributed,
		PartnerCode:  req.PartnerCode,
		PixelID:      req.PixelID,
		SDKVersion:   SDKVersion,
		Properties:   properties,
		TestFlag:     req.TestFlag,
		ThirdParty:   ThirdParty,
		TrackFlag:    true,
	}

	vr, err := h.vendor.Send(r.Context(), payload)
	duration := time.Since(start).Milliseconds()

	if err != nil {
		httputil.JSON(w, http.StatusInternalServerError, TrackResponse{
			Success:  false,
			Error:    err.Error(),
			Duration: duration,
		})
		h.logOutcome(req, duration, "relay_failure", err.Error())
		return
	}

	if vr.Accepted() {
		msg := "Evento enviado"
		if vr.Result == 1 {
			msg = "Evento de teste enviado"
		}
		result := vr.Result
		httputil.JSON(w, http.StatusOK, TrackResponse{
			Success:  true,
			Result:   &result,
			Message:  msg,
			Duration: duration,
		})
		h.logOutcome(req, duration, "accepted", "")
		return
	}

	errMsg := vr.ErrorMsg
	if errMsg == "" {
		errMsg = "Erro ao processar evento"
	}
	httputil.FailWithResult(w, http.StatusBadRequest, errMsg, vr.Result)
	h.logOutcome(req, duration, "vendor_rejection", errMsg)
}

// logOutcome records duration for observability after the response has been
// written, so logging never delays the caller. The access token never
// appears here; the logger additionally masks it if passed by mistake.
func (h *Handler) logOutcome(req TrackRequest, durationMillis int64, outcome, detail string) {
	logger.Info("kwai-track dispatch",
		"event", req.EventName,
		"verb", verbOrDefault(req.Verb),
		"pixel_id", req.PixelID,
		"clickid", req.ClickID,
		"mmpcode", req.PartnerCode,
		"outcome", outcome,
		"detail", detail,
		"duration_ms", durationMillis)
}

// HandleHealth serves the static identity payload.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, HealthResponse{
		Service:    "Kwai Pixel Tracking API",
		Status:     "online",
		Endpoint:   h.vendor.apiURL,
		Timeout:    fmt.Sprintf("%dms", h.vendor.timeout.Milliseconds()),
		MaxRetries: h.maxRetries,
	})
}

// missingField returns the first absent required field, in contract order.
func missingField(req TrackRequest) (string, bool) {
	values := map[string]string{
		"access_token": req.AccessToken,
		"clickid":      req.ClickID,
		"event_name":   req.EventName,
		"pixelId":      req.PixelID,
		"mmpcode":      req.PartnerCode,
	}
	for _, f := range requiredFields {
		if values[f] == "" {
			return f, false
		}
	}
	return "", true
}

func verbOrDefault(v string) string {
	if v == "" {
		return VerbTrack
	}
	return v
}
