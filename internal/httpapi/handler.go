package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"gatewatch/internal/coordinator"
	"gatewatch/internal/db"
	"gatewatch/internal/gateway"
	"gatewatch/internal/inventory"
	"gatewatch/internal/metrics"
)

// Service is the coordinator surface served over HTTP.
type Service interface {
	Data() inventory.Registry
	Device(id string) (inventory.Device, bool)
	Status() coordinator.Status
	Gateway() (gateway.Info, bool)
	Trigger() error
	Reboot(ctx context.Context) error
	Diagnostics(ctx context.Context) coordinator.Diagnostics
	SetUpdateInterval(d time.Duration) time.Duration
}

// CycleStore serves the refresh journal. It is optional.
type CycleStore interface {
	RecentCycles(ctx context.Context, limit int) ([]db.CycleRecord, error)
}

type Options struct {
	Store   CycleStore
	Metrics *metrics.Metrics
	// RefreshEvery and RebootEvery throttle the manual refresh and reboot
	// endpoints. Zero disables the limit.
	RefreshEvery time.Duration
	RebootEvery  time.Duration
}

type Handler struct {
	log     zerolog.Logger
	svc     Service
	store   CycleStore
	metrics *metrics.Metrics

	refreshLimit *rate.Limiter
	rebootLimit  *rate.Limiter
}

func NewHandler(log zerolog.Logger, svc Service, opts Options) *Handler {
	return &Handler{
		log:          log,
		svc:          svc,
		store:        opts.Store,
		metrics:      opts.Metrics,
		refreshLimit: newLimiter(opts.RefreshEvery),
		rebootLimit:  newLimiter(opts.RebootEvery),
	}
}

func newLimiter(every time.Duration) *rate.Limiter {
	if every <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(every), 1)
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(h.accessLog)

	// Health
	r.Get("/healthz", h.handleHealthz)
	r.Get("/readyz", h.handleReadyZ)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	// API
	r.Route("/api", func(r chi.Router) {
		r.Route("/v1", func(r chi.Router) {
			r.Route("/devices", func(r chi.Router) {
				r.Get("/", h.handleListDevices)
				r.Get("/{id}", h.handleGetDevice)
			})

			r.Route("/gateway", func(r chi.Router) {
				r.Get("/", h.handleGetGateway)
				r.Post("/reboot", h.handleReboot)
			})

			r.Post("/refresh", h.handleRefresh)
			r.Get("/status", h.handleStatus)
			r.Put("/settings/interval", h.handleSetInterval)
			r.Get("/diagnostics", h.handleDiagnostics)
			r.Get("/cycles", h.handleListCycles)
		})
	})

	return r
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		h.metrics.ObserveHTTPRequest(r.Method, route, ww.Status(), elapsed)

		h.log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Int64("duration_ms", elapsed.Milliseconds()).
			Msg("http_request")
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	resp := map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": msg,
		},
	}
	if details != nil {
		resp["error"].(map[string]any)["details"] = details
	}
	h.writeJSON(w, status, resp)
}

func decodeJSONStrict(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return errors.New("unexpected extra data after JSON body")
		}
		return err
	}
	return nil
}

func (h *Handler) ensureService(w http.ResponseWriter) bool {
	if h.svc == nil {
		h.writeError(w, http.StatusServiceUnavailable, "not_ready", "coordinator not configured", nil)
		return false
	}
	return true
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// readyz turns green once the first refresh cycle has been published.
func (h *Handler) handleReadyZ(w http.ResponseWriter, r *http.Request) {
	if !h.ensureService(w) {
		return
	}
	st := h.svc.Status()
	if !st.Ready {
		details := map[string]any{"phase": st.Phase.String()}
		if st.LastError != "" {
			details["last_error"] = st.LastError
			details["last_error_kind"] = st.LastKind
		}
		h.writeError(w, http.StatusServiceUnavailable, "not_ready", "no refresh cycle has been published yet", details)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

func (h *Handler) handleListDevices(w http.ResponseWriter, r *http.Request) {
	if !h.ensureService(w) {
		return
	}

	q := r.URL.Query()
	reg := h.svc.Data()

	if v := q.Get("interface"); v != "" {
		var f inventory.Filter
		switch strings.ToLower(v) {
		case "wifi", "wireless":
			f.Wireless = true
		case "ethernet", "wired":
			f.Wired = true
		default:
			h.writeError(w, http.StatusBadRequest, "validation_failed", "interface must be wifi or ethernet", map[string]any{"interface": v})
			return
		}
		reg = f.Apply(reg)
	}

	var wantActive *bool
	if v := q.Get("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "validation_failed", "active must be a boolean", map[string]any{"active": v})
			return
		}
		wantActive = &b
	}

	resp := make([]inventory.Device, 0, len(reg))
	for _, d := range reg.Sorted() {
		if wantActive != nil && d.Active != *wantActive {
			continue
		}
		resp = append(resp, d)
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.ensureService(w) {
		return
	}

	d, ok := h.svc.Device(id)
	if !ok {
		// MAC-keyed devices are also reachable in their normalised form.
		if mac, valid := gateway.NormalizeMAC(id); valid {
			d, ok = h.svc.Device(mac)
		}
	}
	if !ok {
		h.writeError(w, http.StatusNotFound, "not_found", "device not found", map[string]any{"id": id})
		return
	}

	h.writeJSON(w, http.StatusOK, d)
}

type gatewayResponse struct {
	gateway.Info
	DisplayName string `json:"display_name"`
}

func (h *Handler) handleGetGateway(w http.ResponseWriter, r *http.Request) {
	if !h.ensureService(w) {
		return
	}
	info, ok := h.svc.Gateway()
	if !ok {
		h.writeError(w, http.StatusServiceUnavailable, "not_ready", "gateway identity not known yet", nil)
		return
	}
	h.writeJSON(w, http.StatusOK, gatewayResponse{Info: info, DisplayName: info.DisplayName()})
}

func (h *Handler) handleReboot(w http.ResponseWriter, r *http.Request) {
	if !h.ensureService(w) {
		return
	}
	if !h.rebootLimit.Allow() {
		h.writeError(w, http.StatusTooManyRequests, "rate_limited", "reboot was requested too recently", nil)
		return
	}

	if err := h.svc.Reboot(r.Context()); err != nil {
		kind := gateway.Classify(err)
		if kind == gateway.KindUnsupported {
			h.writeError(w, http.StatusNotImplemented, "unsupported", "the gateway adapter cannot reboot the gateway", nil)
			return
		}
		h.log.Warn().Err(err).Str("kind", kind.String()).Msg("reboot request failed")
		h.writeError(w, http.StatusBadGateway, "gateway_error", "gateway reboot failed", map[string]any{"kind": kind.String(), "error": err.Error()})
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]any{"status": "rebooting"})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !h.ensureService(w) {
		return
	}
	if !h.refreshLimit.Allow() {
		h.writeError(w, http.StatusTooManyRequests, "rate_limited", "refresh was requested too recently", nil)
		return
	}

	if err := h.svc.Trigger(); err != nil {
		if errors.Is(err, coordinator.ErrCycleInProgress) {
			h.writeError(w, http.StatusConflict, "cycle_in_progress", "a refresh cycle is already running", nil)
			return
		}
		h.log.Error().Err(err).Msg("trigger refresh failed")
		h.writeError(w, http.StatusInternalServerError, "internal_error", "failed to trigger refresh", nil)
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted"})
}

type statusResponse struct {
	coordinator.Status
	UpdateIntervalSeconds float64 `json:"update_interval_seconds"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !h.ensureService(w) {
		return
	}
	st := h.svc.Status()
	h.writeJSON(w, http.StatusOK, statusResponse{Status: st, UpdateIntervalSeconds: st.UpdateInterval.Seconds()})
}

// maxIntervalSeconds bounds PUT /settings/interval so the conversion to a
// time.Duration cannot overflow.
const maxIntervalSeconds = 7 * 24 * 60 * 60

type intervalUpdate struct {
	Seconds *int `json:"seconds"`
}

func (h *Handler) handleSetInterval(w http.ResponseWriter, r *http.Request) {
	var req intervalUpdate
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	if req.Seconds == nil || *req.Seconds <= 0 {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "seconds must be a positive integer", nil)
		return
	}
	if *req.Seconds > maxIntervalSeconds {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "seconds is too large", map[string]any{"maximum": maxIntervalSeconds})
		return
	}
	if !h.ensureService(w) {
		return
	}

	effective := h.svc.SetUpdateInterval(time.Duration(*req.Seconds) * time.Second)
	h.log.Info().Dur("interval", effective).Msg("update interval changed")
	h.writeJSON(w, http.StatusOK, map[string]any{"seconds": int(effective / time.Second)})
}

func (h *Handler) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if !h.ensureService(w) {
		return
	}
	h.writeJSON(w, http.StatusOK, h.svc.Diagnostics(r.Context()))
}

func (h *Handler) handleListCycles(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not configured", nil)
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "validation_failed", "limit must be an integer", map[string]any{"limit": v})
			return
		}
		limit = n
	}

	rows, err := h.store.RecentCycles(r.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("list refresh cycles failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to list refresh cycles", nil)
		return
	}
	h.writeJSON(w, http.StatusOK, rows)
}
