package handlers

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/procflow/procflow/internal/authz"
	"github.com/procflow/procflow/internal/autosave"
	"github.com/procflow/procflow/internal/cache"
	"github.com/procflow/procflow/internal/document/repository"
	"github.com/procflow/procflow/internal/document/service"
	"github.com/procflow/procflow/internal/tokens"
	"github.com/procflow/procflow/pkg/middleware"
)

func newDraftAPI(t *testing.T, cfg autosave.Config) (*gin.Engine, *DraftHandler) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := repository.NewMemoryRepo()
	checker := authz.NewOwnerChecker(projMembers)
	mem := cache.NewMemoryCache()
	svc := service.New(repo, checker, service.Options{Invalidator: cache.Fanout{C: mem}})

	g := gin.New()
	auth := middleware.AuthMiddleware(tokens.NewHMACVerifier(testSecret))
	dh := NewDraftHandler(svc, cfg)
	t.Cleanup(dh.Close)

	NewDocumentHandler(svc, mem, time.Minute).RegisterDocumentRoutes(g, auth, noLimit)
	dh.RegisterDraftRoutes(g, auth, noLimit)
	return g, dh
}

func draftState(dh *DraftHandler) (drafts, authors int) {
	dh.mu.Lock()
	defer dh.mu.Unlock()
	return len(dh.drafts), len(dh.authors)
}

func docVersion(t *testing.T, g *gin.Engine, auth, id string) (int64, string) {
	t.Helper()
	w := do(t, g, http.MethodGet, "/api/documents/"+id, auth, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var doc struct {
		Version int64  `json:"version"`
		Content string `json:"content"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	return doc.Version, doc.Content
}

func TestDrafts_CoalescedBurstPersistsOnce(t *testing.T) {
	g, _ := newDraftAPI(t, autosave.Config{Debounce: time.Hour, Coalesce: 20 * time.Millisecond})
	alice := bearer(t, "alice")

	doc := createDoc(t, g, alice, `{"title":"flow","content":"A","projectId":"proj-1"}`)
	id := doc["id"].(string)

	// a keystroke burst: each draft replaces the previous one
	for _, body := range []string{`{"content":"A1"}`, `{"content":"A12"}`, `{"content":"A123"}`} {
		w := do(t, g, http.MethodPost, "/api/documents/"+id+"/draft", alice, body, nil)
		require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	}

	// exactly one save lands, carrying the final draft
	require.Eventually(t, func() bool {
		v, _ := docVersion(t, g, alice, id)
		return v == 2
	}, 2*time.Second, 10*time.Millisecond)
	v, content := docVersion(t, g, alice, id)
	require.EqualValues(t, 2, v)
	require.Equal(t, "A123", content)
}

func TestDrafts_FlushPersistsImmediately(t *testing.T) {
	g, _ := newDraftAPI(t, autosave.Config{Debounce: time.Hour, Coalesce: time.Hour})
	alice := bearer(t, "alice")

	doc := createDoc(t, g, alice, `{"title":"flow","content":"A","projectId":"proj-1"}`)
	id := doc["id"].(string)

	w := do(t, g, http.MethodPost, "/api/documents/"+id+"/draft", alice, `{"content":"B"}`, nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	// nothing persisted yet: the coalesce window is an hour
	v, _ := docVersion(t, g, alice, id)
	require.EqualValues(t, 1, v)

	// flush is synchronous
	w = do(t, g, http.MethodPost, "/api/documents/"+id+"/draft/flush", alice, "", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	v, content := docVersion(t, g, alice, id)
	require.EqualValues(t, 2, v)
	require.Equal(t, "B", content)

	// flushing again with no pending edits is a no-op
	w = do(t, g, http.MethodPost, "/api/documents/"+id+"/draft/flush", alice, "", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	v, _ = docVersion(t, g, alice, id)
	require.EqualValues(t, 2, v)
}

func TestDrafts_UnchangedContentWritesNothing(t *testing.T) {
	g, _ := newDraftAPI(t, autosave.Config{Debounce: time.Hour, Coalesce: time.Hour})
	alice := bearer(t, "alice")

	doc := createDoc(t, g, alice, `{"title":"flow","content":"A","projectId":"proj-1"}`)
	id := doc["id"].(string)

	w := do(t, g, http.MethodPost, "/api/documents/"+id+"/draft", alice, `{"content":"A"}`, nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	w = do(t, g, http.MethodPost, "/api/documents/"+id+"/draft/flush", alice, "", nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	v, _ := docVersion(t, g, alice, id)
	require.EqualValues(t, 1, v)
}

func TestDrafts_UnknownDocumentAndAccess(t *testing.T) {
	g, _ := newDraftAPI(t, autosave.Config{Debounce: time.Hour, Coalesce: time.Hour})
	alice := bearer(t, "alice")
	mallory := bearer(t, "mallory")

	w := do(t, g, http.MethodPost, "/api/documents/nope/draft", alice, `{"content":"B"}`, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	doc := createDoc(t, g, alice, `{"title":"flow","content":"A","projectId":"proj-1"}`)
	id := doc["id"].(string)
	w = do(t, g, http.MethodPost, "/api/documents/"+id+"/draft", mallory, `{"content":"B"}`, nil)
	require.Equal(t, http.StatusForbidden, w.Code)
	w = do(t, g, http.MethodPost, "/api/documents/"+id+"/draft/flush", mallory, "", nil)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestDrafts_StateEvictedOnceSaved(t *testing.T) {
	g, dh := newDraftAPI(t, autosave.Config{Debounce: time.Hour, Coalesce: time.Hour})
	alice := bearer(t, "alice")

	doc := createDoc(t, g, alice, `{"title":"flow","content":"A","projectId":"proj-1"}`)
	id := doc["id"].(string)

	w := do(t, g, http.MethodPost, "/api/documents/"+id+"/draft", alice, `{"content":"B"}`, nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	drafts, authors := draftState(dh)
	require.Equal(t, 1, drafts)
	require.Equal(t, 1, authors)

	w = do(t, g, http.MethodPost, "/api/documents/"+id+"/draft/flush", alice, "", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	v, content := docVersion(t, g, alice, id)
	require.EqualValues(t, 2, v)
	require.Equal(t, "B", content)

	// the persisted draft no longer holds handler state
	drafts, authors = draftState(dh)
	require.Zero(t, drafts)
	require.Zero(t, authors)
}
