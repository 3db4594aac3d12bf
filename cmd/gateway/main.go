package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"

	"github.com/SafeInboxAI/warden/pkg/cache"
	"github.com/SafeInboxAI/warden/pkg/classifier"
	"github.com/SafeInboxAI/warden/pkg/config"
	"github.com/SafeInboxAI/warden/pkg/detective"
	"github.com/SafeInboxAI/warden/pkg/email"
	"github.com/SafeInboxAI/warden/pkg/llm"
	"github.com/SafeInboxAI/warden/pkg/logging"
	"github.com/SafeInboxAI/warden/pkg/metrics"
	"github.com/SafeInboxAI/warden/pkg/pipeline"
	"github.com/SafeInboxAI/warden/pkg/ragdocs"
	"github.com/SafeInboxAI/warden/pkg/rules"
	"github.com/SafeInboxAI/warden/pkg/scan"
	"github.com/SafeInboxAI/warden/pkg/sessions"
	"github.com/SafeInboxAI/warden/pkg/store"
)

const Version = "0.1.0"

// Service holds every shared component once. Handlers are methods on
// it; nothing is captured in route closures.
type Service struct {
	cfg        *config.Config
	logger     *zap.Logger
	store      store.Store
	cache      cache.Cache
	sessions   sessions.Tracker
	docs       *ragdocs.Index
	pipeline   *pipeline.Pipeline
	metrics    *metrics.Metrics
	components map[string]string
}

func newService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Service, error) {
	s := &Service{cfg: cfg, logger: logger, metrics: metrics.New(), components: map[string]string{}}

	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, fmt.Errorf("postgres init failed: %w", err)
		}
		s.store = pg
		s.components["store"] = "postgres"
		logger.Info("✓ Postgres store connected")
	} else {
		s.store = store.NewMemoryStore()
		s.components["store"] = "memory"
		logger.Info("○ Postgres not configured, using in-memory store")
	}

	if cfg.RedisURL != "" {
		rc, err := cache.NewRedisCache(ctx, cfg.RedisURL, cfg.CacheTTL)
		if err != nil {
			return nil, fmt.Errorf("redis cache init failed: %w", err)
		}
		s.cache = rc
		tracker, err := sessions.NewRedisTracker(ctx, cfg.RedisURL, cfg.SessionTimeout)
		if err != nil {
			return nil, fmt.Errorf("redis session tracker init failed: %w", err)
		}
		s.sessions = tracker
		s.components["cache"] = "redis"
		s.components["sessions"] = "redis"
		logger.Info("✓ Redis cache and session tracker connected")
	} else {
		s.cache = cache.NewMemoryCache(cfg.CacheTTL, logger)
		s.sessions = sessions.NewMemoryTracker(cfg.SessionTimeout)
		s.components["cache"] = "memory"
		s.components["sessions"] = "memory"
		logger.Info("○ Redis not configured, using in-memory cache and sessions")
	}

	registry := rules.Get()
	if cfg.RuleSeedPath != "" {
		if err := registry.LoadSeeds(cfg.RuleSeedPath); err != nil {
			return nil, fmt.Errorf("rule seed load failed: %w", err)
		}
		logger.Info("✓ Rule seeds loaded", zap.String("path", cfg.RuleSeedPath))
	}
	engine := rules.NewEngine(registry, logger)

	backend := s.buildClassifier()
	adapter := classifier.NewAdapter(backend, classifier.Thresholds{
		BenignShortCircuit: cfg.BenignShortCircuit,
		Escalation:         cfg.EscalationThreshold,
	}, logger)

	reasoner := llm.NewClient(cfg)
	if reasoner != nil {
		s.components["reasoning"] = string(cfg.ReasoningProvider)
		logger.Info("✓ Reasoning provider enabled",
			zap.String("provider", string(cfg.ReasoningProvider)),
			zap.String("model", reasoner.Model()))
	} else {
		s.components["reasoning"] = "disabled"
		logger.Info("○ Reasoning provider disabled, Stage 3 uses keyword scoring")
	}

	if cfg.EmbeddingURL != "" {
		index, err := ragdocs.NewIndex(cfg.EmbeddingURL, cfg.EmbeddingModel, logger)
		if err != nil {
			logger.Warn("○ Document retrieval disabled", zap.Error(err))
		} else {
			s.docs = index
			logger.Info("✓ Document retrieval enabled", zap.String("model", cfg.EmbeddingModel))
		}
	} else {
		logger.Info("○ Document retrieval disabled (no embedding endpoint)")
	}
	if s.docs != nil {
		s.components["documents"] = "enabled"
	} else {
		s.components["documents"] = "disabled"
	}

	det := detective.New(reasoner, s.store, s.sessions, s.docs, logger)
	s.pipeline = pipeline.New(s.cache, engine, adapter, det, s.store, s.metrics, logger)
	return s, nil
}

// buildClassifier resolves the Stage 2 backend from configuration.
// Auto tries the local model first and degrades rather than failing.
func (s *Service) buildClassifier() classifier.Classifier {
	hugotCfg := classifier.HugotConfig{
		ModelName: s.cfg.ClassifierModel,
		ModelDir:  s.cfg.ModelDir,
	}

	switch s.cfg.ClassifierBackend {
	case config.BackendHugot:
		c, err := classifier.NewHugotClassifier(hugotCfg, s.logger)
		if err != nil {
			s.logger.Warn("○ Local classifier init failed, using keyword fallback", zap.Error(err))
			s.components["classifier"] = "fallback"
			return classifier.NewFallbackClassifier()
		}
		s.components["classifier"] = "hugot"
		s.logger.Info("✓ Local ONNX classifier enabled", zap.String("model", s.cfg.ClassifierModel))
		return c
	case config.BackendHTTP:
		s.components["classifier"] = "http"
		s.logger.Info("✓ HTTP classifier enabled", zap.String("url", s.cfg.ClassifierURL))
		return classifier.NewHTTPClassifier(s.cfg.ClassifierURL)
	case config.BackendFallback:
		s.components["classifier"] = "fallback"
		s.logger.Info("○ Keyword-fallback classifier selected")
		return classifier.NewFallbackClassifier()
	default: // auto
		if c, err := classifier.NewHugotClassifier(hugotCfg, s.logger); err == nil {
			s.components["classifier"] = "hugot"
			s.logger.Info("✓ Local ONNX classifier enabled", zap.String("model", s.cfg.ClassifierModel))
			return c
		}
		if s.cfg.ClassifierURL != "" {
			s.components["classifier"] = "http"
			s.logger.Info("✓ HTTP classifier enabled", zap.String("url", s.cfg.ClassifierURL))
			return classifier.NewHTTPClassifier(s.cfg.ClassifierURL)
		}
		s.components["classifier"] = "fallback"
		s.logger.Info("○ No classifier available, using keyword fallback")
		return classifier.NewFallbackClassifier()
	}
}

func (s *Service) register(app *fiber.App) {
	app.Post("/scan", s.handleScan)

	app.Get("/user/:id/experience", s.handleUserExperience)
	app.Post("/user/:id/profile", s.handleUpdateProfile)
	app.Put("/user/:id/profile", s.handleUpdateProfile)
	app.Post("/user/:id/contacts", s.handleAddContact)
	app.Post("/user/:id/organizations", s.handleAddOrganization)
	app.Get("/user/:id/dashboard", s.handleDashboard)

	app.Post("/user/:id/documents", s.handleUploadDocument)
	app.Get("/user/:id/documents", s.handleListDocuments)
	app.Get("/user/:id/documents/:docID", s.handleGetDocument)
	app.Delete("/user/:id/documents/:docID", s.handleDeleteDocument)

	app.Post("/suspect", s.handleUpsertSuspect)
	app.Post("/feedback", s.handleFeedback)
	app.Get("/training/stats", s.handleTrainingStats)
	app.Get("/scan-history/:id", s.handleScanHistory)

	app.Get("/health", s.handleHealth)
	app.Get("/metrics", s.handleMetrics)
}

type scanRequest struct {
	EmailData *email.RawEmail `json:"email_data"`
	UserID    string          `json:"user_id"`
	ScanType  string          `json:"scan_type"`
}

func (s *Service) handleScan(c fiber.Ctx) error {
	var req scanRequest
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.EmailData == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "No email data provided"})
	}
	if req.UserID != "" {
		req.EmailData.UserID = req.UserID
	}

	record, err := s.pipeline.Scan(c.Context(), req.EmailData)
	if err != nil {
		if errors.Is(err, email.ErrEmptyEmail) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "email has no sender, subject, or body"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "scan failed"})
	}
	return c.JSON(record)
}

func (s *Service) handleUserExperience(c fiber.Ctx) error {
	profile, err := s.store.GetUserProfile(c.Context(), c.Params("id"))
	if err != nil {
		return s.storageError(c, err)
	}
	return c.JSON(profile)
}

type profileRequest struct {
	PersonalInfo map[string]string `json:"personal_info"`
	RiskProfile  map[string]string `json:"risk_profile"`
	Preferences  map[string]string `json:"preferences"`
}

func (s *Service) handleUpdateProfile(c fiber.Ctx) error {
	var req profileRequest
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	profile, err := s.store.UpdateUserProfile(c.Context(), c.Params("id"),
		req.PersonalInfo, req.RiskProfile, req.Preferences)
	if err != nil {
		return s.storageError(c, err)
	}
	return c.JSON(profile)
}

func (s *Service) handleAddContact(c fiber.Ctx) error {
	var contact store.Contact
	if err := c.Bind().Body(&contact); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if contact.Email == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "contact email is required"})
	}
	profile, err := s.store.AddContact(c.Context(), c.Params("id"), contact)
	if err != nil {
		return s.storageError(c, err)
	}
	return c.JSON(profile)
}

func (s *Service) handleAddOrganization(c fiber.Ctx) error {
	var org store.Organization
	if err := c.Bind().Body(&org); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if org.Domain == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "organization domain is required"})
	}
	profile, err := s.store.AddOrganization(c.Context(), c.Params("id"), org)
	if err != nil {
		return s.storageError(c, err)
	}
	return c.JSON(profile)
}

func (s *Service) handleDashboard(c fiber.Ctx) error {
	stats, err := s.store.Dashboard(c.Context(), c.Params("id"))
	if err != nil {
		return s.storageError(c, err)
	}
	return c.JSON(stats)
}

type documentRequest struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

func (s *Service) handleUploadDocument(c fiber.Ctx) error {
	var req documentRequest
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if strings.TrimSpace(req.Content) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "document content is required"})
	}

	userID := c.Params("id")
	doc := &store.Document{
		UserID:      userID,
		Filename:    req.Filename,
		Content:     req.Content,
		ContentHash: store.HashContent(req.Content),
		Summary:     store.Summarize(req.Content),
	}
	created, err := s.store.SaveDocument(c.Context(), doc)
	if err != nil {
		return s.storageError(c, err)
	}
	if !created {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "identical document already uploaded"})
	}

	if s.docs != nil {
		if err := s.docs.Add(c.Context(), userID, doc.ID, req.Content); err != nil {
			s.logger.Warn("document index update failed", zap.String("doc_id", doc.ID), zap.Error(err))
		}
	}
	return c.Status(fiber.StatusCreated).JSON(doc)
}

func (s *Service) handleListDocuments(c fiber.Ctx) error {
	docs, err := s.store.ListDocuments(c.Context(), c.Params("id"))
	if err != nil {
		return s.storageError(c, err)
	}
	return c.JSON(fiber.Map{"documents": docs, "count": len(docs)})
}

func (s *Service) handleGetDocument(c fiber.Ctx) error {
	doc, err := s.store.GetDocument(c.Context(), c.Params("id"), c.Params("docID"))
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "document not found"})
	}
	if err != nil {
		return s.storageError(c, err)
	}
	return c.JSON(fiber.Map{"document": doc, "content": doc.Content})
}

func (s *Service) handleDeleteDocument(c fiber.Ctx) error {
	err := s.store.DeleteDocument(c.Context(), c.Params("id"), c.Params("docID"))
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "document not found"})
	}
	if err != nil {
		return s.storageError(c, err)
	}
	return c.JSON(fiber.Map{"status": "deleted"})
}

type suspectRequest struct {
	SenderEmail string   `json:"sender_email"`
	SenderName  string   `json:"sender_name"`
	Tactics     []string `json:"tactics"`
	ThreatLevel string   `json:"threat_level"`
}

func (s *Service) handleUpsertSuspect(c fiber.Ctx) error {
	var req suspectRequest
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.SenderEmail == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "sender_email is required"})
	}

	suspect, err := s.store.UpsertSuspect(c.Context(), &store.Suspect{
		SenderEmail: req.SenderEmail,
		SenderName:  req.SenderName,
		Tactics:     req.Tactics,
		ThreatLevel: scan.ThreatLevel(req.ThreatLevel),
	})
	if err != nil {
		return s.storageError(c, err)
	}
	return c.JSON(suspect)
}

type feedbackRequest struct {
	EmailText           string  `json:"email_text"`
	PredictedLabel      string  `json:"predicted_label"`
	PredictedConfidence float64 `json:"predicted_confidence"`
	ActualLabel         string  `json:"actual_label"`
	UserFeedback        string  `json:"user_feedback"`
}

func (s *Service) handleFeedback(c fiber.Ctx) error {
	var req feedbackRequest
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.EmailText == "" || req.ActualLabel == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "email_text and actual_label are required"})
	}

	sample := &store.TrainingSample{
		EmailText:           req.EmailText,
		PredictedLabel:      req.PredictedLabel,
		PredictedConfidence: req.PredictedConfidence,
		ActualLabel:         req.ActualLabel,
		UserFeedback:        req.UserFeedback,
	}
	if err := s.store.AddTrainingSample(c.Context(), sample); err != nil {
		return s.storageError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(sample)
}

func (s *Service) handleTrainingStats(c fiber.Ctx) error {
	stats, err := s.store.TrainingStats(c.Context())
	if err != nil {
		return s.storageError(c, err)
	}
	return c.JSON(stats)
}

func (s *Service) handleScanHistory(c fiber.Ctx) error {
	limit := queryInt(c, "limit", 20)
	offset := queryInt(c, "offset", 0)
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	records, total, err := s.store.ScanHistory(c.Context(), c.Params("id"), limit, offset)
	if err != nil {
		return s.storageError(c, err)
	}
	return c.JSON(fiber.Map{
		"scans":  records,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Service) handleHealth(c fiber.Ctx) error {
	if err := s.store.HealthCheck(c.Context()); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status":     "degraded",
			"version":    Version,
			"components": s.components,
			"error":      err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"status":     "ok",
		"version":    Version,
		"components": s.components,
	})
}

func (s *Service) handleMetrics(c fiber.Ctx) error {
	return c.JSON(s.metrics.Snapshot())
}

func (s *Service) storageError(c fiber.Ctx, err error) error {
	s.logger.Error("storage operation failed", zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "storage unavailable"})
}

// Close releases external connections.
func (s *Service) Close() {
	if err := s.cache.Close(); err != nil {
		s.logger.Warn("cache close failed", zap.Error(err))
	}
	if err := s.sessions.Close(); err != nil {
		s.logger.Warn("session tracker close failed", zap.Error(err))
	}
	if err := s.store.Close(); err != nil {
		s.logger.Warn("store close failed", zap.Error(err))
	}
}

func queryInt(c fiber.Ctx, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func main() {
	cfg := config.NewDefaultConfig()
	cfg.MustValidate()

	format := "console"
	if cfg.LogJSON {
		format = "json"
	}
	logger, err := logging.New(cfg.LogLevel, format)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	service, err := newService(ctx, cfg, logger)
	cancel()
	if err != nil {
		logger.Fatal("service init failed", zap.Error(err))
	}
	defer service.Close()

	app := fiber.New(fiber.Config{
		AppName: "Warden " + Version,
	})
	service.register(app)

	logger.Info("Warden gateway starting",
		zap.String("port", cfg.HTTPPort),
		zap.String("version", Version))

	if err := app.Listen(":" + cfg.HTTPPort); err != nil {
		logger.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}
