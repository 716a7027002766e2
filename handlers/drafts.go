package handlers

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/procflow/procflow/internal/autosave"
	"github.com/procflow/procflow/internal/document/service"
	"github.com/procflow/procflow/pkg/middleware"
)

// DraftHandler feeds editor keystroke batches into the autosave scheduler.
// Each draft POST replaces the document's pending snapshot; the scheduler
// decides when (and whether) it actually hits storage.
type DraftHandler struct {
	svc   *service.Service
	sched *autosave.Scheduler

	mu      sync.Mutex
	drafts  map[string]string // docID -> latest draft content
	authors map[string]string // docID -> caller who last touched the draft
}

// NewDraftHandler builds the handler together with its scheduler; the
// scheduler persists through the handler's own saver. Call Close on shutdown.
func NewDraftHandler(svc *service.Service, cfg autosave.Config) *DraftHandler {
	h := &DraftHandler{
		svc:     svc,
		drafts:  make(map[string]string),
		authors: make(map[string]string),
	}
	h.sched = autosave.NewScheduler(draftSaver{h}, cfg)
	return h
}

// Close stops the scheduler. Pending drafts are dropped; callers wanting
// durability flush first.
func (h *DraftHandler) Close() { h.sched.Close() }

// RegisterDraftRoutes wires the draft endpoints under /api. Drafts are writes
// for rate-limiting purposes even though persistence is deferred.
func (h *DraftHandler) RegisterDraftRoutes(r *gin.Engine, auth gin.HandlerFunc, limit func(bucket string) gin.HandlerFunc) {
	api := r.Group("/api", auth)
	api.POST("/documents/:id/draft", limit("write"), h.SubmitDraft)
	api.POST("/documents/:id/draft/flush", limit("write"), h.FlushDraft)
}

// draftSaver adapts the handler into the scheduler's persistence hook, saving
// on behalf of whichever caller last submitted a draft for the document.
type draftSaver struct{ h *DraftHandler }

func (s draftSaver) Save(ctx context.Context, documentID, snapshot string) (int64, error) {
	s.h.mu.Lock()
	author := s.h.authors[documentID]
	s.h.mu.Unlock()
	version, err := s.h.svc.SaveSnapshot(ctx, documentID, author, snapshot)
	if err == nil {
		// the draft is persisted; drop the entry unless a newer draft landed
		// while the save ran, so idle documents don't accumulate state
		s.h.mu.Lock()
		if s.h.drafts[documentID] == snapshot {
			delete(s.h.drafts, documentID)
			delete(s.h.authors, documentID)
		}
		s.h.mu.Unlock()
	}
	return version, err
}

// SubmitDraft accepts { content }, records it as the document's pending
// snapshot, and notifies the scheduler. Returns 202: nothing is persisted yet.
func (h *DraftHandler) SubmitDraft(c *gin.Context) {
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	caller := middleware.Subject(c)
	id := c.Param("id")

	// cheap existence/access check up front so a bad document id fails the
	// request instead of a background save later
	if _, err := h.svc.Get(c.Request.Context(), caller, id); err != nil {
		writeError(c, err)
		return
	}

	h.mu.Lock()
	h.drafts[id] = req.Content
	h.authors[id] = caller
	h.mu.Unlock()

	h.sched.NotifyChanged(id, func() (string, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.drafts[id], nil
	})
	c.JSON(http.StatusAccepted, gin.H{"queued": true})
}

// FlushDraft forces any pending snapshot to persist now (explicit save,
// navigation away). Safe when nothing is pending.
func (h *DraftHandler) FlushDraft(c *gin.Context) {
	caller := middleware.Subject(c)
	id := c.Param("id")
	if _, err := h.svc.Get(c.Request.Context(), caller, id); err != nil {
		writeError(c, err)
		return
	}
	h.sched.ForceFlush(id)
	c.JSON(http.StatusAccepted, gin.H{"flushed": true})
}
