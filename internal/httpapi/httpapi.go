package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"reflect"
	"strconv"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"
	limitermemory "github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/fabirmss/notaFi/internal/domain"
	"github.com/fabirmss/notaFi/internal/invoice"
	"github.com/fabirmss/notaFi/internal/obs"
	"github.com/fabirmss/notaFi/internal/service"
	"github.com/fabirmss/notaFi/internal/store"
)

type Options struct {
	AllowedOrigin  string
	LoginPerMinute int
	// LimiterStore backs the login rate limit. Nil means process memory.
	LimiterStore limiter.Store
	Metrics      *obs.Metrics
	Gatherer     prometheus.Gatherer
	Logger       zerolog.Logger
}

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *limiter.Limiter
	csrfSecret    []byte
	validate      *validator.Validate
	metrics       *obs.Metrics
	gatherer      prometheus.Gatherer
	logger        zerolog.Logger
}

func New(svc *service.Service, auth *AuthManager, opts Options) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	if opts.LoginPerMinute < 1 {
		opts.LoginPerMinute = 10
	}
	if opts.LimiterStore == nil {
		opts.LimiterStore = limitermemory.NewStore()
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: opts.AllowedOrigin,
		loginLimiter:  limiter.New(opts.LimiterStore, limiter.Rate{Period: time.Minute, Limit: int64(opts.LoginPerMinute)}),
		csrfSecret:    csrfSecret,
		validate:      newValidator(),
		metrics:       opts.Metrics,
		gatherer:      opts.Gatherer,
		logger:        opts.Logger,
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// csrfTokenForHour computes an HMAC-SHA256 token for one hour bucket.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	return a.csrfTokenForHour(time.Now().UTC().Truncate(time.Hour).Unix())
}

// validateCSRFToken accepts the current and the previous hour bucket.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	current := time.Now().UTC().Truncate(time.Hour).Unix()
	return hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(current))) ||
		hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(current-3600)))
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	if a.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("/api/v1/auth/csrf-token", a.handleCSRFToken)

	mux.HandleFunc("/api/v1/products", a.requireAuth(a.handleProducts, domain.RoleStore, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/clients", a.requireAuth(a.handleClients, domain.RoleStore, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/products/{id}", a.requireAuth(a.handleProduct, domain.RoleStore, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/clients/{id}", a.requireAuth(a.handleClient, domain.RoleStore, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/transporters", a.requireAuth(a.handleTransporters, domain.RoleStore, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/transporters/{id}", a.requireAuth(a.handleTransporter, domain.RoleStore, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/emitters", a.requireAuth(a.handleEmitters, domain.RoleStore, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/users", a.requireAuth(a.handleUsers, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/users/{id}", a.requireAuth(a.handleUser, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/dashboard", a.requireAuth(a.handleDashboard, domain.RoleStore, domain.RoleAdmin))

	mux.HandleFunc("/api/v1/drafts", a.requireAuth(a.handleDrafts, domain.RoleStore))
	mux.HandleFunc("/api/v1/drafts/{id}", a.requireAuth(a.handleDraft, domain.RoleStore))
	mux.HandleFunc("/api/v1/drafts/{id}/header", a.requireAuth(a.handleDraftHeader, domain.RoleStore))
	mux.HandleFunc("/api/v1/drafts/{id}/items", a.requireAuth(a.handleDraftItems, domain.RoleStore))
	mux.HandleFunc("/api/v1/drafts/{id}/items/{index}", a.requireAuth(a.handleDraftItem, domain.RoleStore))
	mux.HandleFunc("/api/v1/drafts/{id}/catalog/refresh", a.requireAuth(a.handleDraftRefresh, domain.RoleStore))
	mux.HandleFunc("/api/v1/drafts/{id}/preview", a.requireAuth(a.handleDraftPreview, domain.RoleStore))
	mux.HandleFunc("/api/v1/drafts/{id}/finalize", a.requireAuth(a.handleDraftFinalize, domain.RoleStore))

	mux.HandleFunc("/api/v1/invoices", a.requireAuth(a.handleInvoices, domain.RoleStore, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/invoices/{id}", a.requireAuth(a.handleInvoice, domain.RoleStore, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/invoices/{id}/preview", a.requireAuth(a.handleInvoicePreview, domain.RoleStore, domain.RoleAdmin))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, r, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		actor, err := a.auth.ParseToken(strings.TrimSpace(authorization[len("Bearer "):]))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err)
			return
		}
		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, r, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		ctx := service.WithActor(r.Context(), actor)
		logger := zerolog.Ctx(ctx).With().Str("user", actor.Username).Logger()
		next(w, r.WithContext(logger.WithContext(ctx)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func actorFrom(r *http.Request) domain.Actor {
	actor, _ := service.ActorFromContext(r.Context())
	return actor
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r)
		return
	}
	limit, err := a.loginLimiter.Get(r.Context(), "login:"+clientKey(r))
	if err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("login rate limiter unavailable")
	} else if limit.Reached {
		w.Header().Set("Retry-After", strconv.FormatInt(max(limit.Reset-time.Now().Unix(), 1), 10))
		writeError(w, r, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if !a.bind(w, r, &req) {
		return
	}
	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		status := http.StatusUnauthorized
		if !errors.Is(err, ErrInvalidCredentials) && !errors.Is(err, ErrInactiveAccount) {
			status = http.StatusInternalServerError
		}
		writeError(w, r, status, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCSRFToken returns a stateless token that mutating requests must
// echo in X-CSRF-Token.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"csrf_token": a.generateCSRFToken()})
}

var csrfExemptPaths = []string{
	"/api/v1/auth/login",
}

func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return true
	}
	for _, exempt := range csrfExemptPaths {
		if r.URL.Path == exempt {
			return true
		}
	}
	if !a.validateCSRFToken(strings.TrimSpace(r.Header.Get("X-CSRF-Token"))) {
		writeError(w, r, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	switch r.Method {
	case http.MethodGet:
		products, err := a.service.ListProducts(r.Context(), actor, r.URL.Query().Get("emitter_id"))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"products": products})
	case http.MethodPost:
		var req domain.ProductCreateRequest
		if !a.bind(w, r, &req) {
			return
		}
		product, err := a.service.CreateProduct(r.Context(), actor, req)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"product": product})
	default:
		writeMethodNotAllowed(w, r)
	}
}

func (a *API) handleClients(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	switch r.Method {
	case http.MethodGet:
		clients, err := a.service.ListClients(r.Context(), actor, r.URL.Query().Get("emitter_id"))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"clients": clients})
	case http.MethodPost:
		var req domain.ClientCreateRequest
		if !a.bind(w, r, &req) {
			return
		}
		client, err := a.service.CreateClient(r.Context(), actor, req)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"client": client})
	default:
		writeMethodNotAllowed(w, r)
	}
}

func (a *API) handleTransporters(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	switch r.Method {
	case http.MethodGet:
		transporters, err := a.service.ListTransporters(r.Context(), actor, r.URL.Query().Get("emitter_id"))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"transporters": transporters})
	case http.MethodPost:
		var req domain.TransporterCreateRequest
		if !a.bind(w, r, &req) {
			return
		}
		transporter, err := a.service.CreateTransporter(r.Context(), actor, req)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"transporter": transporter})
	default:
		writeMethodNotAllowed(w, r)
	}
}

func (a *API) handleProduct(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		writeMethodNotAllowed(w, r)
		return
	}
	var req domain.ProductCreateRequest
	if !a.bind(w, r, &req) {
		return
	}
	product, err := a.service.UpdateProduct(r.Context(), actorFrom(r), r.PathValue("id"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleClient(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		writeMethodNotAllowed(w, r)
		return
	}
	var req domain.ClientCreateRequest
	if !a.bind(w, r, &req) {
		return
	}
	client, err := a.service.UpdateClient(r.Context(), actorFrom(r), r.PathValue("id"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"client": client})
}

func (a *API) handleTransporter(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	id := r.PathValue("id")
	switch r.Method {
	case http.MethodPut:
		var req domain.TransporterCreateRequest
		if !a.bind(w, r, &req) {
			return
		}
		transporter, err := a.service.UpdateTransporter(r.Context(), actor, id, req)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"transporter": transporter})
	case http.MethodDelete:
		if err := a.service.DeleteTransporter(r.Context(), actor, r.URL.Query().Get("emitter_id"), id); err != nil {
			writeServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeMethodNotAllowed(w, r)
	}
}

func (a *API) handleEmitters(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	switch r.Method {
	case http.MethodGet:
		emitters, err := a.service.ListEmitters(r.Context(), actor)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"emitters": emitters})
	case http.MethodPost:
		var req domain.EmitterCreateRequest
		if !a.bind(w, r, &req) {
			return
		}
		emitter, err := a.service.CreateEmitter(r.Context(), actor, req)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"emitter": emitter})
	default:
		writeMethodNotAllowed(w, r)
	}
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"users": a.auth.ListUsers(r.Context())})
	case http.MethodPost:
		var req domain.UserCreateRequest
		if !a.bind(w, r, &req) {
			return
		}
		user, err := a.auth.CreateStoreUser(r.Context(), req)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"user": user})
	default:
		writeMethodNotAllowed(w, r)
	}
}

func (a *API) handleUser(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	switch r.Method {
	case http.MethodPatch:
		var req domain.UserUpdateRequest
		if !a.bind(w, r, &req) {
			return
		}
		user, err := a.auth.UpdateUser(r.Context(), id, req)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"user": user})
	case http.MethodDelete:
		if err := a.auth.DeleteUser(r.Context(), actorFrom(r), id); err != nil {
			writeServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeMethodNotAllowed(w, r)
	}
}

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r)
		return
	}
	summary, err := a.service.Dashboard(r.Context(), actorFrom(r), r.URL.Query().Get("emitter_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleDrafts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r)
		return
	}
	view, err := a.service.OpenDraft(r.Context(), actorFrom(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"draft": view})
}

func (a *API) handleDraft(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	switch r.Method {
	case http.MethodGet:
		view, err := a.service.GetDraft(r.Context(), actorFrom(r), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"draft": view})
	case http.MethodDelete:
		if err := a.service.DiscardDraft(r.Context(), actorFrom(r), id); err != nil {
			writeServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeMethodNotAllowed(w, r)
	}
}

func (a *API) handleDraftHeader(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		writeMethodNotAllowed(w, r)
		return
	}
	var req domain.DraftHeaderUpdate
	if !a.bind(w, r, &req) {
		return
	}
	view, err := a.service.UpdateDraftHeader(r.Context(), actorFrom(r), r.PathValue("id"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"draft": view})
}

func (a *API) handleDraftItems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r)
		return
	}
	var req domain.DraftItemRequest
	if !a.bind(w, r, &req) {
		return
	}
	view, err := a.service.AddDraftItem(r.Context(), actorFrom(r), r.PathValue("id"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"draft": view})
}

func (a *API) handleDraftItem(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, errors.New("item index must be a number"))
		return
	}
	id := r.PathValue("id")

	var view domain.DraftView
	switch r.Method {
	case http.MethodPatch:
		var req domain.DraftItemUpdate
		if !a.bind(w, r, &req) {
			return
		}
		view, err = a.service.UpdateDraftItem(r.Context(), actorFrom(r), id, index, req)
	case http.MethodDelete:
		view, err = a.service.RemoveDraftItem(r.Context(), actorFrom(r), id, index)
	default:
		writeMethodNotAllowed(w, r)
		return
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"draft": view})
}

func (a *API) handleDraftRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r)
		return
	}
	view, err := a.service.RefreshDraftCatalog(r.Context(), actorFrom(r), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"draft": view})
}

func (a *API) handleDraftPreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r)
		return
	}
	preview, err := a.service.PreviewDraft(r.Context(), actorFrom(r), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writePreview(w, r, preview)
}

func (a *API) handleDraftFinalize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r)
		return
	}
	inv, err := a.service.FinalizeDraft(r.Context(), actorFrom(r), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"invoice": inv})
}

func (a *API) handleInvoices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r)
		return
	}
	query := r.URL.Query()
	limit := parsePositiveLimit(query.Get("limit"), 50, 200)
	invoices, err := a.service.ListInvoices(r.Context(), actorFrom(r), query.Get("emitter_id"), limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoices": invoices})
}

func (a *API) handleInvoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r)
		return
	}
	inv, err := a.service.GetInvoice(r.Context(), actorFrom(r), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoice": inv})
}

func (a *API) handleInvoicePreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r)
		return
	}
	preview, err := a.service.PreviewInvoice(r.Context(), actorFrom(r), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writePreview(w, r, preview)
}

// writePreview answers with JSON, or with the printable DANFE page when
// format=html is requested.
func writePreview(w http.ResponseWriter, r *http.Request, preview invoice.Preview) {
	if !strings.EqualFold(r.URL.Query().Get("format"), "html") {
		writeJSON(w, http.StatusOK, map[string]any{"preview": preview})
		return
	}
	page, err := invoice.RenderHTML(preview)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(page)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (a *API) withMiddleware(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		_, route := mux.Handler(r)
		if route == "" {
			route = "unmatched"
		}
		logger := a.logger.With().Str("method", r.Method).Str("path", r.URL.Path).Logger()
		r = r.WithContext(logger.WithContext(r.Context()))

		if !a.checkCSRF(w, r) {
			return
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		a.metrics.TrackInFlight(1)
		mux.ServeHTTP(rec, r)
		a.metrics.TrackInFlight(-1)
		elapsed := time.Since(startedAt)
		a.metrics.ObserveRequest(r.Method, route, rec.status, elapsed)
		logger.Info().Int("status", rec.status).Dur("duration", elapsed).Msg("request")
	})
}

// bind decodes a JSON body into dest and runs struct validation on it.
func (a *API) bind(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := decodeJSON(r, dest); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return false
	}
	if err := a.validate.Struct(dest); err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fe.Field()+" is required")
		case "email":
			parts = append(parts, fe.Field()+" must be a valid e-mail")
		case "numeric":
			parts = append(parts, fe.Field()+" must contain only digits")
		case "min", "max", "len":
			parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		default:
			parts = append(parts, fe.Field()+" is invalid")
		}
	}
	return errors.New(strings.Join(parts, "; "))
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// statusFor maps domain and store errors to HTTP status codes.
func statusFor(err error) int {
	var perr *invoice.PersistenceError
	switch {
	case errors.Is(err, service.ErrDraftNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, invoice.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, invoice.ErrIndexOutOfRange), errors.Is(err, store.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrConflict),
		errors.Is(err, invoice.ErrDraftNotReady),
		errors.Is(err, invoice.ErrFinalizeInFlight),
		errors.Is(err, invoice.ErrDraftClosed):
		return http.StatusConflict
	case errors.As(err, &perr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	var perr *invoice.PersistenceError
	if status == http.StatusBadGateway && errors.As(err, &perr) {
		// The store's message is surfaced so the user can decide to retry.
		zerolog.Ctx(r.Context()).Error().Err(perr.Err).Msg("persistence failed")
		writeJSON(w, status, map[string]any{"error": perr.Error()})
		return
	}
	writeError(w, r, status, err)
}

func writeMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

// writeError returns 4xx messages as-is and replaces 5xx messages with a
// generic one after logging the cause.
func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		zerolog.Ctx(r.Context()).Error().Err(err).Int("status", status).Msg("internal error")
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
