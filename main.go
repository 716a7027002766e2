package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/procflow/procflow/handlers"
	"github.com/procflow/procflow/internal/authz"
	"github.com/procflow/procflow/internal/autosave"
	"github.com/procflow/procflow/internal/cache"
	"github.com/procflow/procflow/internal/config"
	"github.com/procflow/procflow/internal/database"
	"github.com/procflow/procflow/internal/document/repository"
	"github.com/procflow/procflow/internal/document/service"
	"github.com/procflow/procflow/internal/oidc"
	"github.com/procflow/procflow/internal/ratelimit"
	"github.com/procflow/procflow/internal/storage"
	"github.com/procflow/procflow/internal/tokens"
	"github.com/procflow/procflow/pkg/logger"
	"github.com/procflow/procflow/pkg/metrics"
	"github.com/procflow/procflow/pkg/middleware"
)

var startTime = time.Now()

func bucketsFromConfig(cfg *config.Config) ratelimit.Buckets {
	return ratelimit.Buckets{
		ratelimit.BucketRead:      {Limit: cfg.RateLimit.Read.Limit, Window: cfg.RateLimit.Read.Window},
		ratelimit.BucketWrite:     {Limit: cfg.RateLimit.Write.Limit, Window: cfg.RateLimit.Write.Window},
		ratelimit.BucketExpensive: {Limit: cfg.RateLimit.Expensive.Limit, Window: cfg.RateLimit.Expensive.Window},
	}
}

func main() {
	// logging is controlled with LOG_LEVEL env: debug|info|warn|error|fatal
	logger.Init(os.Getenv("LOG_LEVEL"))
	logger.Debugf("startup: LOG_LEVEL=%s", logger.LevelString())

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Infof("config loaded: keycloak=%v mongo=%v redis=%v", cfg.Keycloak.URL != "", cfg.MongoDB.URI != "", cfg.Redis.Host != "")

	r := gin.New()

	// Lightweight CORS middleware for dev/test: set common headers and respond to OPTIONS.
	// (Keep this intentionally simple — production should use a stricter policy.)
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, If-None-Match")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Length, ETag, Retry-After, X-RateLimit-Remaining, X-RateLimit-Reset")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(200)
			return
		}
		c.Next()
	})

	// Global middlewares: logging + recovery
	r.Use(gin.Logger(), gin.Recovery())

	ctx := context.Background()

	// Connect to Redis early so both the cache and the rate limiter can use it
	var rdb *redis.Client
	if cfg.Redis.Host != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Host + ":" + cfg.Redis.Port, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warnf("failed to connect to Redis (%s:%s): %v", cfg.Redis.Host, cfg.Redis.Port, err)
			_ = rdb.Close()
			rdb = nil
		} else {
			logger.Infof("Connected to Redis: %s:%s", cfg.Redis.Host, cfg.Redis.Port)
		}
	}

	// Cache layer: Redis when available, in-process otherwise. Either way the
	// write path still fans out invalidation so readers never see stale state
	// past the TTL.
	var store cache.Cache
	switch {
	case !cfg.Cache.Enabled:
		store = cache.Noop{}
		logger.Warnf("cache disabled by config; derived reads always hit the repository")
	case rdb != nil:
		store = cache.NewRedisCache(rdb, cfg.Cache.FailOpen)
		logger.Infof("using Redis cache (failOpen=%v, ttl=%s)", cfg.Cache.FailOpen, cfg.Cache.TTL)
	default:
		store = cache.NewMemoryCache()
		logger.Infof("using in-process cache (ttl=%s)", cfg.Cache.TTL)
	}

	// Rate limiter: shared fixed windows in Redis when available, per-process
	// token buckets otherwise.
	var limiter ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		buckets := bucketsFromConfig(cfg)
		if cfg.RateLimit.UseRedis && rdb != nil {
			limiter = ratelimit.NewRedisLimiter(rdb, buckets, cfg.RateLimit.FailOpen)
		} else {
			limiter = ratelimit.NewMemoryLimiter(buckets)
		}
		logger.Infof("rate limiting enabled (%s)", limiter.Name())
	}
	limit := func(bucket string) gin.HandlerFunc {
		if limiter == nil {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimitMiddleware(limiter, bucket)
	}

	// Document repository: MongoDB when configured, with retry/backoff to
	// tolerate startup races; in-memory fallback otherwise.
	var repo repository.Repository = repository.NewMemoryRepo()
	var mongoClient *mongo.Client
	if cfg.MongoDB.URI != "" {
		const maxAttempts = 5
		backoff := time.Second
		var errConn error
		for attempt := 1; attempt <= maxAttempts; attempt++ {
			mongoClient, errConn = database.ConnectMongo(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout)
			if errConn == nil {
				break
			}
			logger.Warnf("attempt %d/%d: failed to connect to MongoDB: %v", attempt, maxAttempts, errConn)
			if attempt < maxAttempts {
				time.Sleep(backoff)
				backoff *= 2
			}
		}
		if errConn != nil {
			logger.Warnf("could not connect to MongoDB after %d attempts, falling back to in-memory repository: %v", maxAttempts, errConn)
			mongoClient = nil
		} else {
			defer func() { _ = mongoClient.Disconnect(ctx) }()
			repo = repository.NewMongoRepo(mongoClient, cfg.MongoDB.Database)
			logger.Infof("using MongoDB repository (db=%s)", cfg.MongoDB.Database)
		}
	}

	// Optional MinIO blob store for oversized revision payloads
	var blobs storage.BlobStore
	if cfg.Documents.BlobThreshold > 0 {
		mc := storage.LoadMinIOConfig()
		if mc.Endpoint != "" {
			bs, err := storage.NewMinIOStorage(mc)
			if err != nil {
				logger.Warnf("failed to initialize MinIO blob store, revision offload disabled: %v", err)
			} else {
				blobs = bs
				logger.Infof("revision payloads over %d bytes offloaded to MinIO bucket %s", cfg.Documents.BlobThreshold, mc.Bucket)
			}
		}
	}

	// Project membership is owned by the accounts service; until that wiring
	// lands, documents are owner-only outside of tests.
	// TODO: call the accounts service membership endpoint here once it ships.
	checker := authz.NewOwnerChecker(nil)

	svc := service.New(repo, checker, service.Options{
		Invalidator:            cache.Fanout{C: store},
		Blobs:                  blobs,
		BlobThreshold:          cfg.Documents.BlobThreshold,
		SnapshotMetadataWrites: cfg.Documents.SnapshotMetadataWrites,
	})

	// Token verifier: Keycloak OIDC when configured, HMAC otherwise, with an
	// insecure claims-only parser for integration tests.
	var verifier middleware.Verifier
	if cfg.Keycloak.URL != "" && cfg.Keycloak.ClientID != "" && cfg.Keycloak.Realm != "" {
		issuer := strings.TrimRight(cfg.Keycloak.URL, "/") + "/realms/" + cfg.Keycloak.Realm
		ver, err := oidc.NewVerifier(ctx, issuer, cfg.Keycloak.ClientID)
		if err != nil {
			logger.Warnf("failed to initialize OIDC verifier: %v", err)
		} else {
			verifier = ver
		}
	}
	if verifier == nil && cfg.JWT.Secret != "" {
		verifier = tokens.NewHMACVerifier(cfg.JWT.Secret)
		logger.Infof("using HMAC token verifier")
	}
	if verifier == nil {
		if strings.EqualFold(strings.TrimSpace(os.Getenv("ALLOW_INSECURE_TOKEN")), "true") {
			logger.Warn("enabling insecure token verifier (integration mode)")
			verifier = oidc.NewInsecureVerifier()
		} else {
			logger.Fatalf("no token verifier available: set KEYCLOAK_URL or JWT_SECRET (or ALLOW_INSECURE_TOKEN=true for integration tests)")
		}
	}
	auth := middleware.AuthMiddleware(verifier)

	// Handlers: documents + version history, draft autosave, swagger
	handlers.NewDocumentHandler(svc, store, cfg.Cache.TTL).RegisterDocumentRoutes(r, auth, limit)
	drafts := handlers.NewDraftHandler(svc, autosave.Config{Debounce: cfg.Autosave.Debounce, Coalesce: cfg.Autosave.Coalesce})
	defer drafts.Close()
	drafts.RegisterDraftRoutes(r, auth, limit)
	handlers.RegisterSwagger(r)

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})

	// readiness — 200 only when the configured dependencies answer
	r.GET("/ready", func(c *gin.Context) {
		ready := true
		deps := map[string]bool{}

		if cfg.MongoDB.URI != "" {
			deps["mongodb"] = mongoClient != nil
			if !deps["mongodb"] {
				ready = false
			}
		} else {
			deps["mongodb"] = true
		}

		if cfg.Redis.Host != "" {
			deps["redis"] = rdb != nil && store.Ping(c.Request.Context()) == nil
			if !deps["redis"] && !cfg.Cache.FailOpen {
				ready = false
			}
		} else {
			deps["redis"] = true
		}

		if !ready {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "deps": deps, "uptime": time.Since(startTime).String()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready", "deps": deps, "uptime": time.Since(startTime).String()})
	})

	// Expose Prometheus metrics
	metrics.RegisterCollectors(prometheus.DefaultRegisterer)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	logger.Infof("Starting document service on %s", addr)
	if err := r.Run(addr); err != nil {
		logger.Fatalf("server failed: %v", err)
	}
}
