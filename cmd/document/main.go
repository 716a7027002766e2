package main

import (
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/procflow/procflow/handlers"
	"github.com/procflow/procflow/internal/authz"
	"github.com/procflow/procflow/internal/autosave"
	"github.com/procflow/procflow/internal/cache"
	"github.com/procflow/procflow/internal/document/repository"
	"github.com/procflow/procflow/internal/document/service"
	"github.com/procflow/procflow/internal/oidc"
	"github.com/procflow/procflow/pkg/middleware"
)

// Standalone memory-backed document service for local frontend development:
// no Mongo, no Redis, tokens parsed without signature verification.
func main() {
	port := os.Getenv("DOC_SERVICE_PORT")
	if port == "" {
		port = "5010"
	}

	r := gin.New()
	r.Use(gin.Recovery())

	store := cache.NewMemoryCache()
	svc := service.New(repository.NewMemoryRepo(), authz.NewOwnerChecker(nil), service.Options{
		Invalidator: cache.Fanout{C: store},
	})

	auth := middleware.AuthMiddleware(oidc.NewInsecureVerifier())
	noLimit := func(string) gin.HandlerFunc {
		return func(c *gin.Context) { c.Next() }
	}

	handlers.NewDocumentHandler(svc, store, 5*time.Minute).RegisterDocumentRoutes(r, auth, noLimit)
	drafts := handlers.NewDraftHandler(svc, autosave.Config{})
	defer drafts.Close()
	drafts.RegisterDraftRoutes(r, auth, noLimit)
	handlers.RegisterSwagger(r)

	log.Printf("document service listening on :%s", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatal(err)
	}
}
