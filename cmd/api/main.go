package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"smartattend/internal/audit"
	"smartattend/internal/config"
	"smartattend/internal/faceclient"
	"smartattend/internal/facestore"
	"smartattend/internal/httpmiddleware"
	"smartattend/internal/logging"
	"smartattend/internal/mediastore"
	"smartattend/internal/queue"
	"smartattend/internal/recognize"
	"smartattend/internal/reconcile"
	"smartattend/internal/roster"
	"smartattend/internal/session"
	"smartattend/internal/store"
	"smartattend/internal/token"
	"smartattend/internal/verify"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.Env)
	defer log.Sync()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, log); err != nil {
		log.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, log *zap.Logger) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Warn("db not reachable, using in-memory fallbacks", zap.Error(err))
		db = nil
	}
	defer db.Close()
	if db != nil {
		if err := db.Migrate(context.Background(), cfg.MigrationsDir); err != nil {
			log.Warn("migrations failed", zap.Error(err))
		}
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	face := faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(256)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "smartattend:audit")
	}
	recorder := audit.NewRecorder(q, log)

	var tokenStore token.Store
	if cfg.TokenBackend == "memory" {
		tokenStore = token.NewMemory()
	} else {
		tokenStore = token.NewRedisStore(redisClient.Client, "smartattend")
	}
	issuer := token.NewIssuer(tokenStore, cfg.TokenTTL)

	var templates facestore.Store
	var rosters roster.Provider
	var archiver session.Archiver
	var auditRepo *audit.Repository
	if db != nil {
		templates = facestore.NewPostgres(db.Client)
		rosters = roster.NewPostgres(db.Client)
		archiver = session.NewPostgresArchiver(db.Client)
		auditRepo = audit.NewRepository(db.Client)
	} else {
		templates = facestore.NewMemory()
		rosters = &roster.Static{
			Rosters: map[string][]string{cfg.DevScheduleID: strings.Split(cfg.DevStudents, ",")},
			Owners:  map[string]string{cfg.DevScheduleID: cfg.DevTeacherID},
		}
	}

	policy := reconcile.DefaultPolicy(cfg.PhotoThreshold)
	if cfg.PhotoOnlyPresent {
		policy.PhotoOnly = reconcile.Present
	}

	sessions := session.NewManager(session.Config{
		Issuer:         issuer,
		Rosters:        rosters,
		Policy:         policy,
		Archiver:       archiver,
		Audit:          recorder,
		Log:            log,
		MatchThreshold: cfg.MatchThreshold,
		SessionTTL:     cfg.SessionTTL,
	})

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	sessions.StartSweeper(sweepCtx, time.Minute)

	faces := facestore.NewService(templates, face, log)
	verifier := verify.New(templates, face, cfg.MinFaceTemplates, recorder, log)
	recognizer := recognize.New(face, log)

	var media *mediastore.Client
	if cfg.MediaCloudName != "" && cfg.MediaAPIKey != "" && cfg.MediaAPISecret != "" {
		media = mediastore.New(cfg.MediaCloudName, cfg.MediaAPIKey, cfg.MediaAPISecret, cfg.MediaFolder)
		log.Info("media store configured", zap.String("cloud", cfg.MediaCloudName))
	} else {
		log.Info("media store not configured; clients must pass hosted image URLs")
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).Gin())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		faceHealthy := face.Health(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !faceHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"status": "ok",
			"redis":  redisHealthy,
			"db":     db != nil,
			"face":   faceHealthy,
		})
	})

	h := &handlers{
		cfg:        cfg,
		log:        log,
		sessions:   sessions,
		faces:      faces,
		verifier:   verifier,
		recognizer: recognizer,
		media:      media,
		auditRepo:  auditRepo,
	}
	h.register(r)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("starting server", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced shutdown", zap.Error(err))
	}

	log.Info("server exited")
	return nil
}

// CORS middleware for browser requests.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Security headers middleware.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
