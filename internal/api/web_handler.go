package api

import (
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/valyala/fasthttp"
)

// handleImage serves card image bytes from the session cache or the catalog
func (h *Handler) handleImage(ctx *fasthttp.RequestCtx, rawID string) {
	cardID, err := url.PathUnescape(rawID)
	if err != nil || strings.TrimSpace(cardID) == "" || strings.Contains(cardID, "/") {
		writeError(ctx, fasthttp.StatusBadRequest, "malformed card id")
		return
	}
	size := string(ctx.QueryArgs().Peek("size"))
	switch size {
	case "", "small", "large":
	default:
		writeError(ctx, fasthttp.StatusBadRequest, "size must be small or large")
		return
	}

	sess := h.session(ctx)
	content, err := h.svc.Image(ctx, sess, cardID, size)
	if err != nil {
		h.fail(ctx, err)
		return
	}

	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType(imageContentType(cardID, content))
	ctx.Response.Header.Set("Cache-Control", "private, max-age=3600")
	ctx.SetBody(content)
}

// imageContentType sniffs the bytes and falls back to the id's extension
func imageContentType(cardID string, content []byte) string {
	sniffed := http.DetectContentType(content)
	if strings.HasPrefix(sniffed, "image/") {
		return sniffed
	}
	switch filepath.Ext(cardID) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".svg":
		return "image/svg+xml"
	default:
		return "application/octet-stream"
	}
}
