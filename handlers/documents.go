package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/procflow/procflow/internal/cache"
	"github.com/procflow/procflow/internal/document"
	"github.com/procflow/procflow/internal/document/service"
	"github.com/procflow/procflow/pkg/logger"
	"github.com/procflow/procflow/pkg/metrics"
	"github.com/procflow/procflow/pkg/middleware"
)

// DocumentHandler serves the document CRUD, version history, and summary
// endpoints. Reads of derived views (summary, listings) go through the cache;
// writes go straight to the service, which fans out invalidation.
type DocumentHandler struct {
	svc      *service.Service
	cache    cache.Cache
	cacheTTL time.Duration
}

func NewDocumentHandler(svc *service.Service, c cache.Cache, ttl time.Duration) *DocumentHandler {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &DocumentHandler{svc: svc, cache: c, cacheTTL: ttl}
}

// RegisterDocumentRoutes wires the document API under /api. Every route sits
// behind auth; limit maps a bucket name to its rate-limit middleware.
func (h *DocumentHandler) RegisterDocumentRoutes(r *gin.Engine, auth gin.HandlerFunc, limit func(bucket string) gin.HandlerFunc) {
	api := r.Group("/api", auth)

	api.POST("/documents", limit("write"), h.Create)
	api.GET("/documents", limit("read"), h.ListMine)
	api.GET("/documents/:id", limit("read"), h.Get)
	api.GET("/documents/:id/summary", limit("read"), h.Summary)
	api.PUT("/documents/:id", limit("write"), h.Update)
	api.DELETE("/documents/:id", limit("write"), h.Delete)

	api.GET("/documents/:id/versions", limit("expensive"), h.ListVersions)
	api.GET("/documents/:id/versions/:rev", limit("expensive"), h.GetVersion)

	api.GET("/projects/:id/documents", limit("read"), h.ListProject)
}

// writeError maps service errors onto the HTTP surface. A version conflict is
// the one structured failure: 409 with the winning document in the body so
// the client can rebase without a second round trip.
func writeError(c *gin.Context, err error) {
	if ce, ok := document.AsConflict(err); ok {
		c.JSON(http.StatusConflict, gin.H{"error": "version conflict", "currentDocument": ce.Current})
		return
	}
	switch {
	case errors.Is(err, document.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, document.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, document.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	default:
		logger.Errorf("documents: unhandled error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// Create accepts { title, content, projectId, meta } and returns the stored
// document at version 1.
func (h *DocumentHandler) Create(c *gin.Context) {
	var req struct {
		Title     string            `json:"title"`
		Content   string            `json:"content"`
		ProjectID string            `json:"projectId"`
		Meta      map[string]string `json:"meta,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	doc, err := h.svc.Create(c.Request.Context(), middleware.Subject(c), req.Title, req.Content, req.ProjectID, req.Meta)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, doc)
}

// Get returns the full document including content.
func (h *DocumentHandler) Get(c *gin.Context) {
	doc, err := h.svc.Get(c.Request.Context(), middleware.Subject(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// Summary serves the cached summary view. The ETag is derived from the
// document version, so If-None-Match lets unchanged documents answer 304
// without touching the repository on a warm cache.
func (h *DocumentHandler) Summary(c *gin.Context) {
	ctx := c.Request.Context()
	caller := middleware.Subject(c)
	id := c.Param("id")
	key := cache.KeyDocSummary(id)

	if raw, err := h.cache.Get(ctx, key); err == nil && raw != nil {
		var sum document.Summary
		if err := json.Unmarshal(raw, &sum); err == nil {
			metrics.CacheHits.Inc()
			if !h.svc.CanReadSummary(ctx, caller, &sum) {
				c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
				return
			}
			h.respondSummary(c, &sum)
			return
		}
	}
	metrics.CacheMisses.Inc()

	doc, err := h.svc.Get(ctx, caller, id)
	if err != nil {
		writeError(c, err)
		return
	}
	sum := doc.Summarize()
	if raw, err := json.Marshal(sum); err == nil {
		if err := h.cache.Set(ctx, key, raw, h.cacheTTL); err != nil {
			logger.Warnf("documents: caching summary for %s failed: %v", id, err)
		}
	}
	h.respondSummary(c, sum)
}

func (h *DocumentHandler) respondSummary(c *gin.Context, sum *document.Summary) {
	token := cache.ValidatorToken(sum.Version)
	c.Header("ETag", token)
	if c.GetHeader("If-None-Match") == token {
		c.Status(http.StatusNotModified)
		return
	}
	c.JSON(http.StatusOK, sum)
}

// Update applies a partial write guarded by expectedVersion. A stale version
// yields 409 with the current document; nothing is mutated in that case.
func (h *DocumentHandler) Update(c *gin.Context) {
	var req struct {
		ExpectedVersion int64             `json:"expectedVersion"`
		Title           *string           `json:"title,omitempty"`
		Content         *string           `json:"content,omitempty"`
		Meta            map[string]string `json:"meta,omitempty"`
		Message         string            `json:"message,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ExpectedVersion < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expectedVersion is required and must be >= 1"})
		return
	}
	patch := document.Patch{Title: req.Title, Content: req.Content, Meta: req.Meta, Message: req.Message}
	doc, err := h.svc.Update(c.Request.Context(), c.Param("id"), middleware.Subject(c), req.ExpectedVersion, patch)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document": doc, "version": doc.Version})
}

// Delete soft-deletes; history stays readable, writes stop being accepted.
func (h *DocumentHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), middleware.Subject(c), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListMine lists the caller's own documents as summaries, read through the
// owner-listing cache key.
func (h *DocumentHandler) ListMine(c *gin.Context) {
	ctx := c.Request.Context()
	caller := middleware.Subject(c)
	key := cache.KeyOwnerDocs(caller)

	if raw, err := h.cache.Get(ctx, key); err == nil && raw != nil {
		var out []*document.Summary
		if err := json.Unmarshal(raw, &out); err == nil {
			metrics.CacheHits.Inc()
			c.JSON(http.StatusOK, gin.H{"documents": out})
			return
		}
	}
	metrics.CacheMisses.Inc()

	docs, err := h.svc.ListByOwner(ctx, caller)
	if err != nil {
		writeError(c, err)
		return
	}
	out := summarize(docs)
	h.cacheList(ctx, key, out)
	c.JSON(http.StatusOK, gin.H{"documents": out})
}

// ListProject lists a project's documents as summaries. On a cache hit the
// membership check still runs; caching never widens access.
func (h *DocumentHandler) ListProject(c *gin.Context) {
	ctx := c.Request.Context()
	caller := middleware.Subject(c)
	projectID := c.Param("id")
	key := cache.KeyProjectDocs(projectID)

	if !h.svc.CanAccessProject(ctx, caller, projectID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	if raw, err := h.cache.Get(ctx, key); err == nil && raw != nil {
		var out []*document.Summary
		if err := json.Unmarshal(raw, &out); err == nil {
			metrics.CacheHits.Inc()
			c.JSON(http.StatusOK, gin.H{"documents": out})
			return
		}
	}
	metrics.CacheMisses.Inc()

	docs, err := h.svc.ListByProject(ctx, caller, projectID)
	if err != nil {
		writeError(c, err)
		return
	}
	out := summarize(docs)
	h.cacheList(ctx, key, out)
	c.JSON(http.StatusOK, gin.H{"documents": out})
}

func summarize(docs []*document.Document) []*document.Summary {
	out := make([]*document.Summary, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.Summarize())
	}
	return out
}

func (h *DocumentHandler) cacheList(ctx context.Context, key string, out []*document.Summary) {
	raw, err := json.Marshal(out)
	if err != nil {
		return
	}
	if err := h.cache.Set(ctx, key, raw, h.cacheTTL); err != nil {
		logger.Warnf("documents: caching %s failed: %v", key, err)
	}
}

// ListVersions pages the revision history newest-first. ?limit caps the page,
// ?before resumes below a revision number from a previous page.
func (h *DocumentHandler) ListVersions(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	var before int64
	if v := c.Query("before"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "before must be a positive integer"})
			return
		}
		before = n
	}
	revs, err := h.svc.ListVersions(c.Request.Context(), middleware.Subject(c), c.Param("id"), limit, before)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": revs})
}

// GetVersion returns one revision with its content materialized, fetching the
// payload back from blob storage when the row was offloaded.
func (h *DocumentHandler) GetVersion(c *gin.Context) {
	rev, err := strconv.ParseInt(c.Param("rev"), 10, 64)
	if err != nil || rev < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid revision number %q", c.Param("rev"))})
		return
	}
	r, err := h.svc.GetVersion(c.Request.Context(), middleware.Subject(c), c.Param("id"), rev)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}
