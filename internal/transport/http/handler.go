package http

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nova-battle-service/internal/app"
	"nova-battle-service/internal/domain"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Config controls the session cookie and the dev login endpoint.
type Config struct {
	CookieName   string
	SecureCookie bool
	SessionTTL   time.Duration
	DevLogin     bool
}

// Handler exposes the battle use cases over HTTP/JSON.
type Handler struct {
	service  *app.BattleService
	sessions app.SessionRepository
	cfg      Config
	log      *zap.Logger
	metrics  http.Handler
	validate *validator.Validate
}

type HandlerOption func(*Handler)

func WithLogger(log *zap.Logger) HandlerOption {
	return func(h *Handler) {
		if log != nil {
			h.log = log
		}
	}
}

// WithMetrics mounts m on /metrics.
func WithMetrics(m http.Handler) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

func NewHandler(service *app.BattleService, sessions app.SessionRepository, cfg Config, opts ...HandlerOption) *Handler {
	if cfg.CookieName == "" {
		cfg.CookieName = "nova_session"
	}
	h := &Handler{
		service:  service,
		sessions: sessions,
		cfg:      cfg,
		log:      zap.NewNop(),
		validate: newValidator(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}
	if h.cfg.DevLogin {
		r.Post("/api/session", h.handleSession)
	}

	r.Route("/api/battle", func(r chi.Router) {
		r.Use(h.authenticate)
		r.Post("/create", h.handleCreate)
		r.Post("/join", h.handleJoin)
		r.Get("/all", h.handleList)
		r.Post("/evaluate", h.handleEvaluate)
		r.Post("/analysis", h.handleAnalysis)
		r.Get("/battlehist", h.handleHistory)
	})
	return r
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	username := strings.TrimSpace(req.Username)
	token, err := h.sessions.Issue(r.Context(), username)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.setSessionCookie(w, token)
	writeJSON(w, http.StatusOK, map[string]string{"username": username})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	battle, err := h.service.Create(r.Context(), usernameFrom(r.Context()), req.BattleName, req.Tags)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, battle)
}

func (h *Handler) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	battle, err := h.service.Join(r.Context(), req.BattleCode, usernameFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, battle)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	battles, err := h.service.ListRecent(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, battlesResponse{Battles: battles})
}

func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	user := usernameFrom(r.Context())
	given := strings.TrimSpace(req.Username)
	if given != "" && given != user {
		h.writeError(w, r, fmt.Errorf("%w: cannot submit answers for %s", domain.ErrUnauthorized, given))
		return
	}
	res, err := h.service.Evaluate(r.Context(), app.Submission{
		BattleID:       req.BattleID,
		Username:       user,
		Answers:        req.Answers,
		CompletionTime: req.CompletionTime,
		Finish:         req.Finish,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	var req analysisRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.service.Analysis(r.Context(), req.BattleID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	profile, err := h.service.History(r.Context(), usernameFrom(r.Context()), limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", domain.ErrValidation, name)
	}
	return n, nil
}
