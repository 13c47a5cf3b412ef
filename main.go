package main

import (
	"context"
	"encoding/base64"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"content-gate/config"
	"content-gate/models"
	"content-gate/services"
	"content-gate/storage"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var (
	articlesSavedCounter   prometheus.Counter
	articlesDeletedCounter prometheus.Counter
	assetsUploadedCounter  prometheus.Counter
	indexConflictsCounter  prometheus.Counter
	articlesByStatusGauge  *prometheus.GaugeVec
)

func init() {
	articlesSavedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "articles_saved_total",
		Help: "Total number of successful article saves.",
	})
	articlesDeletedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "articles_deleted_total",
		Help: "Total number of successful article deletes.",
	})
	assetsUploadedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "assets_uploaded_total",
		Help: "Total number of uploaded assets.",
	})
	indexConflictsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "index_conflicts_total",
		Help: "Total number of rejected index writes due to revision mismatch.",
	})
	articlesByStatusGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "articles_in_index",
		Help: "Number of articles currently in the index, by status.",
	}, []string{"status"})
	prometheus.MustRegister(articlesSavedCounter, articlesDeletedCounter,
		assetsUploadedCounter, indexConflictsCounter, articlesByStatusGauge)
}

// bearerAuthMiddleware weist Anfragen ohne gültiges Bearer-Token ab, bevor
// irgendein Store-Aufruf passiert.
func bearerAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if token == "" || token != cfg.AdminToken {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid token"})
			return
		}
		c.Next()
	}
}

// corsMiddleware setzt die permissiven Cross-Origin-Header und beantwortet
// Preflight-Anfragen direkt.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	// Setup Services
	store := storage.NewClient(cfg, logging)
	articleService := services.NewArticleService(cfg, store, logging)
	assetService := services.NewAssetService(cfg, store, logging)

	router := buildRouter(cfg, articleService, assetService, logging)

	// Setup Cron: Index-Kennzahlen periodisch auffrischen. Für die Korrektheit
	// ist das nicht nötig, mutierende Operationen lesen den Index ohnehin neu.
	cronScheduler := cron.New()
	cronScheduler.AddFunc(cfg.MetricsCronSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		idx, _, err := articleService.List(ctx)
		if err != nil {
			logging.Error("Metrics refresh failed", zap.Error(err))
			return
		}
		counts := map[string]int{models.StatusPublished: 0, models.StatusDraft: 0}
		for _, a := range idx.Articles {
			counts[a.Status]++
		}
		for status, n := range counts {
			articlesByStatusGauge.WithLabelValues(status).Set(float64(n))
		}
	})
	cronScheduler.Start()

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
}

func buildRouter(cfg *config.Config, articleService *services.ArticleService, assetService *services.AssetService, logging *zap.Logger) *gin.Engine {
	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api", bearerAuthMiddleware(cfg))
	setupArticleRoutes(api, articleService, logging)
	setupAssetRoutes(api, assetService, logging)
	return router
}

func setupArticleRoutes(rg *gin.RouterGroup, svc *services.ArticleService, log *zap.Logger) {
	rg.GET("/articles", func(c *gin.Context) {
		idx, _, err := svc.List(c.Request.Context())
		if err != nil {
			log.Error("Index load failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "store error"})
			return
		}
		c.JSON(http.StatusOK, idx)
	})

	rg.POST("/articles", func(c *gin.Context) {
		type saveRequest struct {
			Article          models.ArticleRecord `json:"article"`
			RenderedDocument string               `json:"renderedDocument"`
			IsNew            bool                 `json:"isNew"`
		}

		var req saveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		res, err := svc.Save(c.Request.Context(), req.Article, req.RenderedDocument, req.IsNew)
		if err != nil {
			writeGatewayError(c, log, err, res != nil && res.IndexOK)
			return
		}

		articlesSavedCounter.Inc()
		c.JSON(http.StatusOK, gin.H{"success": true, "article": req.Article})
	})

	rg.DELETE("/articles", func(c *gin.Context) {
		type deleteRequest struct {
			ID   string `json:"id"`
			Slug string `json:"slug"`
		}

		var req deleteRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.ID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		if _, err := svc.Delete(c.Request.Context(), req.ID, req.Slug); err != nil {
			writeGatewayError(c, log, err, false)
			return
		}

		articlesDeletedCounter.Inc()
		c.JSON(http.StatusOK, gin.H{"success": true})
	})
}

func setupAssetRoutes(rg *gin.RouterGroup, svc *services.AssetService, log *zap.Logger) {
	rg.GET("/uploads", func(c *gin.Context) {
		images, err := svc.List(c.Request.Context(), c.Query("folder"))
		if err != nil {
			log.Error("Asset listing failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "store error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"images": images, "count": len(images)})
	})

	rg.POST("/uploads", func(c *gin.Context) {
		type uploadRequest struct {
			Filename string `json:"filename"`
			Content  string `json:"content"`
			Folder   string `json:"folder"`
		}

		var req uploadRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.Filename == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		content, err := base64.StdEncoding.DecodeString(req.Content)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid base64 content"})
			return
		}

		res, err := svc.Upload(c.Request.Context(), req.Folder, req.Filename, content)
		if err != nil {
			writeGatewayError(c, log, err, false)
			return
		}

		assetsUploadedCounter.Inc()
		c.JSON(http.StatusOK, gin.H{"success": true, "name": res.Name, "path": res.Path, "url": res.URL})
	})
}

// writeGatewayError bildet die Fehler-Taxonomie auf HTTP ab: Konflikt als 409
// mit Reload-Hinweis, teilweise Konsistenz als eigener Fehler mit den
// Einzel-Ergebnissen, alles andere als 500.
func writeGatewayError(c *gin.Context, log *zap.Logger, err error, indexCommitted bool) {
	var pc *services.PartialConsistencyError
	switch {
	case errors.Is(err, models.ErrInvalidRecord):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, storage.ErrConflict):
		indexConflictsCounter.Inc()
		c.JSON(http.StatusConflict, gin.H{"error": "someone else changed this, reload and retry"})
	case errors.As(err, &pc):
		log.Error("Partial consistency after index write", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":      "index and document are out of sync",
			"indexOk":    pc.IndexOK,
			"documentOk": pc.DocumentOK,
		})
	default:
		log.Error("Gateway operation failed", zap.Error(err), zap.Bool("index_committed", indexCommitted))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store error"})
	}
}
