package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/ashureev/fleetguard/internal/domain"
	"github.com/ashureev/fleetguard/internal/store"
	"github.com/go-chi/chi/v5"
)

// PageScope is the collection set of one page.
type PageScope struct {
	Page        string              `json:"page"`
	Known       bool                `json:"known"`
	Collections []domain.Collection `json:"collections"`
}

// HandlePages handles GET /api/pages.
func (h *Handler) HandlePages(w http.ResponseWriter, _ *http.Request) {
	pages := h.scopes.Pages()
	out := make([]PageScope, 0, len(pages))
	for _, p := range pages {
		out = append(out, PageScope{Page: p, Known: true, Collections: h.scopes.ResolveAllowed(p)})
	}
	JSON(w, http.StatusOK, map[string]any{
		"pages":    out,
		"fallback": h.scopes.Fallback(),
	})
}

// HandlePageCollections handles GET /api/pages/{page}/collections.
// Unknown pages answer with the fallback set.
func (h *Handler) HandlePageCollections(w http.ResponseWriter, r *http.Request) {
	page, known := h.scopes.Canonical(chi.URLParam(r, "page"))
	JSON(w, http.StatusOK, PageScope{
		Page:        page,
		Known:       known,
		Collections: h.scopes.ResolveAllowed(page),
	})
}

// HandleFleet handles GET /api/fleet/{collection}?page=... and returns the
// live rows of a collection the page may touch.
func (h *Handler) HandleFleet(w http.ResponseWriter, r *http.Request) {
	c := domain.Collection(chi.URLParam(r, "collection"))
	if !c.Valid() {
		Error(w, http.StatusNotFound, fmt.Sprintf("unknown collection %q", c))
		return
	}
	pageContext := r.URL.Query().Get("page")
	if !h.scopes.IsAllowed(pageContext, c) {
		page, _ := h.scopes.Canonical(pageContext)
		msg := fmt.Sprintf("the %s page can't read %s", page, c)
		if pages := h.scopes.PagesFor(c); len(pages) > 0 {
			msg += "; use " + strings.Join(pages, " or ")
		}
		Error(w, http.StatusForbidden, msg)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.queryTimeout)
	defer cancel()
	rows, err := h.fleet.List(ctx, c)
	if err != nil {
		h.logger.Error("Failed to list collection", "collection", c, "error", err)
		Error(w, http.StatusInternalServerError, "failed to read "+string(c))
		return
	}
	if rows == nil {
		rows = []store.Record{}
	}
	JSON(w, http.StatusOK, map[string]any{
		"collection": c,
		"count":      len(rows),
		"rows":       rows,
	})
}
