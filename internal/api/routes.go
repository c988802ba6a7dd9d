package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/mswatii/pokedex-prices/internal/explorer"
	"github.com/mswatii/pokedex-prices/internal/models"
	"github.com/mswatii/pokedex-prices/internal/session"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// SessionHeader carries the session id in both directions
const SessionHeader = "X-Session-ID"

// Service is the application surface the API exposes; *explorer.Explorer satisfies it
type Service interface {
	Sets(ctx context.Context, sess *session.Session) ([]models.Set, error)
	FindSet(ctx context.Context, sess *session.Session, term string) (models.Set, error)
	SelectSet(ctx context.Context, sess *session.Session, term string) (models.Set, error)
	SetCards(ctx context.Context, sess *session.Session, set models.Set) (explorer.CardBatch, error)
	Search(ctx context.Context, name string) ([]explorer.PricedCard, error)
	Image(ctx context.Context, sess *session.Session, cardID, size string) ([]byte, error)
	Ask(ctx context.Context, sess *session.Session, question string) (explorer.Answer, error)
}

// Handler represents the API handler
type Handler struct {
	svc      Service
	sessions *session.Manager
	logger   *zap.Logger
}

// NewHandler creates a new API handler
func NewHandler(svc Service, sessions *session.Manager, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		svc:      svc,
		sessions: sessions,
		logger:   logger,
	}
}

// HandleRequest routes one request and logs its outcome
func (h *Handler) HandleRequest(ctx *fasthttp.RequestCtx) {
	start := time.Now()
	h.route(ctx)
	h.logger.Info("request",
		zap.ByteString("method", ctx.Method()),
		zap.ByteString("path", ctx.Path()),
		zap.Int("status", ctx.Response.StatusCode()),
		zap.Duration("took", time.Since(start)))
}

func (h *Handler) route(ctx *fasthttp.RequestCtx) {
	path := string(ctx.Path())

	switch {
	case path == "/api/health":
		h.handleHealth(ctx)
	case path == "/api/sessions":
		if !allow(ctx, fasthttp.MethodPost) {
			return
		}
		h.handleNewSession(ctx)
	case path == "/api/sets":
		if !allow(ctx, fasthttp.MethodGet) {
			return
		}
		h.handleSets(ctx)
	case strings.HasPrefix(path, "/api/sets/"):
		h.routeSet(ctx, strings.TrimPrefix(path, "/api/sets/"))
	case path == "/api/search":
		if !allow(ctx, fasthttp.MethodGet) {
			return
		}
		h.handleSearch(ctx)
	case strings.HasPrefix(path, "/api/images/"):
		if !allow(ctx, fasthttp.MethodGet) {
			return
		}
		h.handleImage(ctx, strings.TrimPrefix(path, "/api/images/"))
	case path == "/api/ask":
		if !allow(ctx, fasthttp.MethodPost) {
			return
		}
		h.handleAsk(ctx)
	default:
		writeError(ctx, fasthttp.StatusNotFound, "not found")
	}
}

// routeSet handles /api/sets/{id}/select and /api/sets/{id}/cards
func (h *Handler) routeSet(ctx *fasthttp.RequestCtx, rest string) {
	i := strings.LastIndexByte(rest, '/')
	if i <= 0 {
		writeError(ctx, fasthttp.StatusNotFound, "not found")
		return
	}
	id, err := url.PathUnescape(rest[:i])
	if err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, "malformed set id")
		return
	}

	switch rest[i+1:] {
	case "select":
		if allow(ctx, fasthttp.MethodPost) {
			h.handleSelect(ctx, id)
		}
	case "cards":
		if allow(ctx, fasthttp.MethodGet) {
			h.handleCards(ctx, id)
		}
	default:
		writeError(ctx, fasthttp.StatusNotFound, "not found")
	}
}

// handleHealth handles the health check endpoint
func (h *Handler) handleHealth(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, fasthttp.StatusOK, map[string]interface{}{
		"status":   "ok",
		"time":     time.Now().Format(time.RFC3339),
		"sessions": h.sessions.Len(),
	})
}

func (h *Handler) handleNewSession(ctx *fasthttp.RequestCtx) {
	sess := h.sessions.Create()
	ctx.Response.Header.Set(SessionHeader, sess.ID)
	writeJSON(ctx, fasthttp.StatusCreated, map[string]string{"session_id": sess.ID})
}

func (h *Handler) handleSets(ctx *fasthttp.RequestCtx) {
	sess := h.session(ctx)
	sets, err := h.svc.Sets(ctx, sess)
	if err != nil {
		h.fail(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]interface{}{
		"sets":  sets,
		"count": len(sets),
	})
}

func (h *Handler) handleSelect(ctx *fasthttp.RequestCtx, id string) {
	sess := h.session(ctx)
	set, err := h.svc.SelectSet(ctx, sess, id)
	if err != nil {
		h.fail(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]interface{}{"selected": set})
}

func (h *Handler) handleCards(ctx *fasthttp.RequestCtx, id string) {
	sess := h.session(ctx)
	set, err := h.svc.FindSet(ctx, sess, id)
	if err != nil {
		h.fail(ctx, err)
		return
	}
	batch, err := h.svc.SetCards(ctx, sess, set)
	if err != nil {
		h.fail(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, batch)
}

func (h *Handler) handleSearch(ctx *fasthttp.RequestCtx) {
	q := strings.TrimSpace(string(ctx.QueryArgs().Peek("q")))
	if q == "" {
		writeError(ctx, fasthttp.StatusBadRequest, "query parameter q is required")
		return
	}
	cards, err := h.svc.Search(ctx, q)
	if err != nil {
		h.fail(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]interface{}{
		"query": q,
		"cards": cards,
		"count": len(cards),
	})
}

type askRequest struct {
	Query string `json:"query"`
}

func (h *Handler) handleAsk(ctx *fasthttp.RequestCtx) {
	var req askRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil || strings.TrimSpace(req.Query) == "" {
		writeError(ctx, fasthttp.StatusBadRequest, `body must be {"query": "..."}`)
		return
	}
	sess := h.session(ctx)
	answer, err := h.svc.Ask(ctx, sess, strings.TrimSpace(req.Query))
	if err != nil {
		h.fail(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, answer)
}

// session resolves the caller's session, creating one when the header is absent or stale,
// and echoes its id back.
func (h *Handler) session(ctx *fasthttp.RequestCtx) *session.Session {
	sess, created := h.sessions.GetOrCreate(string(ctx.Request.Header.Peek(SessionHeader)))
	if created {
		h.logger.Debug("session started", zap.String("session", sess.ID))
	}
	ctx.Response.Header.Set(SessionHeader, sess.ID)
	return sess
}

// fail maps an application error to a status code
func (h *Handler) fail(ctx *fasthttp.RequestCtx, err error) {
	status := fasthttp.StatusBadGateway
	switch {
	case errors.Is(err, explorer.ErrSetNotFound):
		status = fasthttp.StatusNotFound
	case errors.Is(err, explorer.ErrAssistantDisabled):
		status = fasthttp.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = fasthttp.StatusGatewayTimeout
	}
	if status >= 500 {
		h.logger.Error("request failed", zap.ByteString("path", ctx.Path()), zap.Error(err))
	}
	writeError(ctx, status, err.Error())
}

func allow(ctx *fasthttp.RequestCtx, method string) bool {
	if string(ctx.Method()) == method {
		return true
	}
	ctx.Response.Header.Set("Allow", method)
	writeError(ctx, fasthttp.StatusMethodNotAllowed, "method not allowed")
	return false
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v interface{}) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	if err := json.NewEncoder(ctx).Encode(v); err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetBodyString(`{"error":"failed to encode response"}`)
	}
}

func writeError(ctx *fasthttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, map[string]string{"error": msg})
}

var _ Service = (*explorer.Explorer)(nil)
