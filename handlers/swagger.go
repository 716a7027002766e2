package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterSwagger registers minimal Swagger/OpenAPI endpoints for the
// document service.
// - GET /swagger/index.html  -> a small HTML page that loads the OpenAPI JSON
// - GET /swagger/doc.json    -> machine-readable OpenAPI JSON
func RegisterSwagger(rg *gin.Engine) {
	rg.GET("/swagger/index.html", func(c *gin.Context) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.String(http.StatusOK, swaggerHTML)
	})

	rg.GET("/swagger/doc.json", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(swaggerJSON))
	})
}

const swaggerHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>procflow-documents — Swagger</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@4/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@4/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/swagger/doc.json',
        dom_id: '#swagger-ui',
      })
    </script>
  </body>
</html>`

// Minimal OpenAPI document covering the document, version, and draft endpoints.
const swaggerJSON = `{
  "openapi": "3.0.0",
  "info": { "title": "procflow-documents", "version": "v0.1.0" },
  "paths": {
    "/api/documents": {
      "get": { "summary": "List the caller's documents", "responses": { "200": { "description": "document summaries" } } },
      "post": {
        "summary": "Create a document",
        "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"title":{"type":"string"},"content":{"type":"string"},"projectId":{"type":"string"},"meta":{"type":"object"}}}}}},
        "responses": { "201": { "description": "document created at version 1" }, "400": { "description": "invalid input" } }
      }
    },
    "/api/documents/{id}": {
      "get": { "summary": "Get a document with content", "responses": { "200": { "description": "document" }, "404": { "description": "not found" } } },
      "put": {
        "summary": "Update a document (optimistic concurrency)",
        "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"expectedVersion":{"type":"integer"},"title":{"type":"string"},"content":{"type":"string"},"meta":{"type":"object"},"message":{"type":"string"}}}}}},
        "responses": { "200": { "description": "updated document and new version" }, "409": { "description": "stale expectedVersion; body carries currentDocument" } }
      },
      "delete": { "summary": "Soft-delete a document", "responses": { "204": { "description": "deleted" } } }
    },
    "/api/documents/{id}/summary": {
      "get": { "summary": "Cached summary view with version-derived ETag", "responses": { "200": { "description": "summary" }, "304": { "description": "If-None-Match matched the current version" } } }
    },
    "/api/documents/{id}/versions": {
      "get": { "summary": "Page revision history newest-first (?limit, ?before)", "responses": { "200": { "description": "revision list" } } }
    },
    "/api/documents/{id}/versions/{rev}": {
      "get": { "summary": "Fetch one revision with content", "responses": { "200": { "description": "revision" }, "404": { "description": "unknown revision" } } }
    },
    "/api/documents/{id}/draft": {
      "post": { "summary": "Submit editor draft for coalesced autosave", "responses": { "202": { "description": "queued" } } }
    },
    "/api/documents/{id}/draft/flush": {
      "post": { "summary": "Force pending draft to persist now", "responses": { "202": { "description": "flushed" } } }
    },
    "/api/projects/{id}/documents": {
      "get": { "summary": "List a project's documents", "responses": { "200": { "description": "document summaries" }, "403": { "description": "not a member" } } }
    },
    "/health": { "get": { "summary": "Liveness check", "responses": { "200": { "description": "healthy" } } } },
    "/ready": { "get": { "summary": "Readiness check", "responses": { "200": { "description": "ready" }, "503": { "description": "not ready" } } } }
  }
}`
