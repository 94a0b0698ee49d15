package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"paper-graph/config"
	"paper-graph/models"
	"paper-graph/providers"
	"paper-graph/providers/classifier"
	"paper-graph/providers/extractor"
	"paper-graph/services"
	"paper-graph/storage"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	relationsCreatedCounter prometheus.Counter
	relationsDuplicateCount prometheus.Counter
	edgesUnmappableCounter  prometheus.Counter
	analysesStartedCounter  prometheus.Counter
)

func init() {
	relationsCreatedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relations_created_total",
			Help: "Total number of new relations persisted.",
		},
	)
	relationsDuplicateCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relations_duplicate_skipped_total",
			Help: "Total number of relations skipped as duplicates.",
		},
	)
	edgesUnmappableCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "graph_edges_unmappable_total",
			Help: "Total number of graph edges dropped for unmappable endpoints.",
		},
	)
	analysesStartedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "paper_analyses_started_total",
			Help: "Total number of analysis pipeline runs started.",
		},
	)
	prometheus.MustRegister(relationsCreatedCounter, relationsDuplicateCount, edgesUnmappableCounter, analysesStartedCounter)
}

func apiKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APISecretKey == "" {
			c.Next()
			return
		}
		apiKey := c.GetHeader("X-API-KEY")
		if apiKey != cfg.APISecretKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API Key"})
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

	// Setup Database Connection
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	logging.Info("Successfully connected to graph database.")

	// Auto-Migration
	if gin.Mode() == gin.DebugMode {
		logging.Info("Debug mode detected. Dropping tables for fresh start.")
		db.Migrator().DropTable("paper_references", &models.Relation{}, &models.Analysis{}, &models.Session{}, &models.Paper{})
	}
	logging.Info("Running database auto-migration...")
	db.AutoMigrate(&models.Paper{}, &models.Relation{}, &models.Session{}, &models.Analysis{})

	// Setup Extractor (Service oder lokaler Regex-Fallback)
	var ext providers.Extractor
	switch cfg.EnabledExtractor {
	case "local":
		ext = extractor.NewLocalExtractor(logging)
	case "service":
		ext = extractor.NewServiceExtractor(cfg, logging)
	default:
		logging.Fatal("Unknown extractor in config", zap.String("extractor", cfg.EnabledExtractor))
	}
	logging.Info("Active extractor loaded", zap.String("extractor", ext.Name()))

	// Setup Services
	s3Client, err := storage.NewS3Client(cfg)
	if err != nil {
		logging.Fatal("S3 client creation failed", zap.Error(err))
	}
	cache := services.NewCache(cfg.CacheTTL, logging)
	cache.StartSweeper(cfg.CacheSweep)
	defer cache.Stop()

	graphService := services.NewGraphService(db, logging)
	graphService.UpsertConcurrency = cfg.ExtractConcurrency
	graphService.FullGraphAnalyses = cfg.FullGraphAnalyses

	llm := classifier.NewLLMClassifier(cfg, logging)
	analysisService := services.NewAnalysisService(cfg, logging, ext, llm, cache, graphService)

	// Setup Router
	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(apiKeyAuthMiddleware(cfg))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Setup Routes
	setupGraphRoutes(router, analysisService, graphService, logging)
	setupSessionRoutes(router, db, graphService, s3Client, cfg, logging)
	setupPaperRoutes(router, db, logging)

	// Setup Cron: Cache aufräumen und Bestandszahlen loggen
	cronScheduler := cron.New()
	cronScheduler.AddFunc(cfg.CronSchedule, func() {
		removed := cache.Sweep()
		var papers, relations, sessions int64
		db.Model(&models.Paper{}).Count(&papers)
		db.Model(&models.Relation{}).Count(&relations)
		db.Model(&models.Session{}).Count(&sessions)
		logging.Info("Maintenance job completed",
			zap.Int("cache_entries_removed", removed),
			zap.Int64("papers", papers),
			zap.Int64("relations", relations),
			zap.Int64("sessions", sessions))
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

// setupGraphRoutes konfiguriert die Analyse- und Speicher-Endpoints.
func setupGraphRoutes(router *gin.Engine, analysis *services.AnalysisService, graphs *services.GraphService, log *zap.Logger) {
	rg := router.Group("/graph")

	// POST - Komplette Pipeline: Extraktion, Klassifikation, Persistenz
	rg.POST("/analyze", func(c *gin.Context) {
		var req struct {
			UserID    string   `json:"user_id" binding:"required"`
			Title     string   `json:"title"`
			PaperURLs []string `json:"paper_urls" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. 'user_id' and 'paper_urls' are required."})
			return
		}

		analysesStartedCounter.Inc()
		log.Info("Starting paper analysis",
			zap.String("user_id", req.UserID),
			zap.Int("papers", len(req.PaperURLs)))

		result, err := analysis.AnalyzePapers(c.Request.Context(), req.UserID, req.Title, req.PaperURLs)
		if err != nil {
			log.Error("Analysis pipeline failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to analyze papers"})
			return
		}

		trackStats(result.Stats)
		c.JSON(http.StatusOK, gin.H{
			"session":  result.Session,
			"analyses": result.Analyses,
			"nodes":    len(result.Graph.Nodes),
			"edges":    len(result.Graph.Edges),
			"stats":    result.Stats,
		})
	})

	// POST - Bereits assemblierten Graphen speichern
	rg.POST("/save", func(c *gin.Context) {
		var req struct {
			UserID         string             `json:"user_id" binding:"required"`
			Title          string             `json:"title"`
			Papers         []models.GraphNode `json:"papers"`
			Graph          *models.RawGraph   `json:"graph" binding:"required"`
			OriginalPapers []string           `json:"original_papers"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. 'user_id' and 'graph' are required."})
			return
		}
		if req.Graph.Nodes == nil || req.Graph.Edges == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed graph payload: nodes and edges arrays are required."})
			return
		}

		result, err := graphs.SaveAnalysis(c.Request.Context(), req.UserID, req.Title, req.Papers, req.Graph, req.OriginalPapers)
		if err != nil {
			if errors.Is(err, services.ErrEmptyGraph) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Graph contains no usable nodes"})
				return
			}
			log.Error("Failed to save graph", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save graph"})
			return
		}

		trackStats(result.Stats)
		c.JSON(http.StatusOK, gin.H{
			"session":  result.Session,
			"analyses": result.Analyses,
			"nodes":    len(result.Graph.Nodes),
			"edges":    len(result.Graph.Edges),
			"stats":    result.Stats,
		})
	})

	// GET - Health check for graph service
	rg.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "healthy",
			"service":  "paper-graph",
			"features": []string{"analyze", "save", "sessions", "merge", "export"},
		})
	})
}

// setupSessionRoutes konfiguriert Session-Endpoints: Lesen (gemergter
// Graph und roher Snapshot), Ersetzen und Export nach S3.
func setupSessionRoutes(router *gin.Engine, db *gorm.DB, graphs *services.GraphService, s3Client *s3.Client, cfg *config.Config, log *zap.Logger) {
	rg := router.Group("/graph/sessions")

	// GET - Sessions eines Users auflisten
	rg.GET("/", func(c *gin.Context) {
		userID := c.Query("user_id")
		if userID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id query parameter is required"})
			return
		}
		var sessions []models.Session
		if err := db.Where("user_id = ?", userID).Order("updated_at desc").Find(&sessions).Error; err != nil {
			log.Error("Database query for sessions failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, sessions)
	})

	// GET - Gemergter Gesamtgraph aus allen Analyses der Session.
	// Ohne Analyses antwortet der Endpoint mit JSON null.
	rg.GET("/:id", func(c *gin.Context) {
		sessionID, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
			return
		}

		graph, err := graphs.GetSessionGraphData(c.Request.Context(), uint(sessionID))
		if err != nil {
			log.Error("Failed to load session graph", zap.Uint64("session_id", sessionID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load session graph"})
			return
		}
		c.JSON(http.StatusOK, graph)
	})

	// GET - Roher Graph-Snapshot der Session (Cache, nicht Source of Truth)
	rg.GET("/:id/snapshot", func(c *gin.Context) {
		var session models.Session
		if err := db.First(&session, c.Param("id")).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.Data(http.StatusOK, "application/json", session.GraphSnapshot)
	})

	// PUT - Graph einer Session vollständig ersetzen
	rg.PUT("/:id", func(c *gin.Context) {
		sessionID, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
			return
		}

		var req struct {
			UserID string           `json:"user_id" binding:"required"`
			Graph  *models.RawGraph `json:"graph" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. 'user_id' and 'graph' are required."})
			return
		}

		result, err := graphs.UpdateSessionGraph(c.Request.Context(), uint(sessionID), req.UserID, req.Graph)
		if err != nil {
			switch {
			case errors.Is(err, services.ErrSessionNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			case errors.Is(err, services.ErrNotOwner):
				c.JSON(http.StatusForbidden, gin.H{"error": "session does not belong to user"})
			case errors.Is(err, services.ErrEmptyGraph):
				c.JSON(http.StatusBadRequest, gin.H{"error": "Graph contains no usable nodes"})
			default:
				log.Error("Failed to update session graph", zap.Uint64("session_id", sessionID), zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update session graph"})
			}
			return
		}

		trackStats(result.Stats)
		c.JSON(http.StatusOK, gin.H{
			"session": result.Session,
			"nodes":   len(result.Graph.Nodes),
			"edges":   len(result.Graph.Edges),
			"stats":   result.Stats,
		})
	})

	// POST - Gemergten Graphen als JSON nach S3 exportieren
	rg.POST("/:id/export", func(c *gin.Context) {
		sessionID, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
			return
		}

		graph, err := graphs.GetSessionGraphData(c.Request.Context(), uint(sessionID))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load session graph"})
			return
		}
		if graph == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "session has no graph data"})
			return
		}

		data, err := json.Marshal(graph)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to serialize graph"})
			return
		}

		key := fmt.Sprintf("exports/session-%d-%s.json", sessionID, time.Now().UTC().Format("2006-01-02T15-04-05Z"))
		link, err := storage.UploadJSON(c.Request.Context(), s3Client, cfg.StratoS3Bucket, key, data, cfg)
		if err != nil {
			log.Error("Graph export upload failed", zap.Uint64("session_id", sessionID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to upload export"})
			return
		}

		log.Info("Session graph exported", zap.Uint64("session_id", sessionID), zap.String("key", key))
		c.JSON(http.StatusOK, gin.H{"link": link, "key": key})
	})
}

// trackStats erhöht die Prometheus-Zähler aus einem Persistenzergebnis.
func trackStats(stats services.RelationStats) {
	relationsCreatedCounter.Add(float64(stats.Created))
	relationsDuplicateCount.Add(float64(stats.DuplicateSkipped))
	edgesUnmappableCounter.Add(float64(stats.Unmappable))
}

// setupPaperRoutes konfiguriert Paper-Endpoints (Lesen und explizites
// Löschen; Graph-Operationen löschen nie).
func setupPaperRoutes(router *gin.Engine, db *gorm.DB, log *zap.Logger) {
	rg := router.Group("/papers")

	rg.GET("/", func(c *gin.Context) {
		var papers []models.Paper
		if err := db.Find(&papers).Error; err != nil {
			log.Error("Database query for all papers failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, papers)
	})

	rg.GET("/:id", func(c *gin.Context) {
		id := c.Param("id")
		var paper models.Paper
		if err := db.Preload("References").First(&paper, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "paper not found"})
				return
			}
			log.Error("DB error fetching paper", zap.String("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, paper)
	})

	// POST - Query papers with filters
	rg.POST("/query", func(c *gin.Context) {
		type PaperQuery struct {
			URL   string `json:"url"`
			DOI   string `json:"doi"`
			Title string `json:"title"`
			Limit int    `json:"limit"`
		}

		var req PaperQuery
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		query := db.Model(&models.Paper{})
		if req.URL != "" {
			query = query.Where("url = ?", req.URL)
		}
		if req.DOI != "" {
			query = query.Where("doi = ?", req.DOI)
		}
		if req.Title != "" {
			query = query.Where("title ILIKE ?", "%"+req.Title+"%")
		}
		if req.Limit > 0 {
			query = query.Limit(req.Limit)
		}

		var papers []models.Paper
		if err := query.Order("created_at desc").Find(&papers).Error; err != nil {
			log.Error("Database query for papers failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, papers)
	})

	// GET - Relations, die ein Paper berühren
	rg.GET("/:id/relations", func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid paper id"})
			return
		}
		var relations []models.Relation
		if err := db.Where("from_paper_id = ? OR to_paper_id = ?", id, id).Find(&relations).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, relations)
	})

	// DELETE - Explizites Löschen inkl. anhängender Relations
	rg.DELETE("/:id", func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid paper id"})
			return
		}

		var paper models.Paper
		if err := db.First(&paper, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "paper not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		if err := db.Where("from_paper_id = ? OR to_paper_id = ?", id, id).Delete(&models.Relation{}).Error; err != nil {
			log.Error("Failed to delete relations for paper", zap.Uint64("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		if err := db.Model(&paper).Association("References").Clear(); err != nil {
			log.Warn("Failed to clear references", zap.Uint64("id", id), zap.Error(err))
		}
		if err := db.Delete(&paper).Error; err != nil {
			log.Error("Failed to delete paper", zap.Uint64("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete paper"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("paper %d deleted", id)})
	})
}
