package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/krishkpatil/CreditUdaan/internal/ai"
	"github.com/krishkpatil/CreditUdaan/internal/analysis"
	"github.com/krishkpatil/CreditUdaan/internal/config"
	"github.com/krishkpatil/CreditUdaan/internal/model"
	"github.com/krishkpatil/CreditUdaan/internal/schema"
	"github.com/krishkpatil/CreditUdaan/internal/scoring"
	"github.com/krishkpatil/CreditUdaan/internal/store"
)

// Server wires HTTP handlers with the registry, validator and orchestrator.
type Server struct {
	cfg       *config.Config
	db        *store.Database
	validator *schema.Validator
	resolver  *ai.Resolver
	orch      *analysis.Orchestrator
	notifier  *TrainingNotifier

	remoteExplainer bool
	allowedOrigins  []string

	jobMu     sync.Mutex
	activeJob *trainingJob

	versionMu    sync.Mutex
	versionCache map[string]*model.Version
}

// NewServer constructs the API server and its collaborators.
func NewServer(cfg *config.Config) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	db, err := store.Open(cfg.Store.Path, cfg.Store.Silent)
	if err != nil {
		return nil, err
	}

	validator, err := schema.NewValidator(schema.Policy(cfg.Schema.AccountPolicy))
	if err != nil {
		return nil, fmt.Errorf("report validator: %w", err)
	}

	templates, err := ai.LoadTemplates(cfg.Explainer.KnowledgePath)
	if err != nil {
		return nil, fmt.Errorf("advice templates: %w", err)
	}

	var primary ai.Explainer
	remote := false
	if cfg.Explainer.Disabled {
		logrus.Info("explanation service disabled via configuration")
	} else {
		client, err := ai.NewClient(ai.Config{
			APIKey:            cfg.Explainer.APIKey,
			Model:             cfg.Explainer.Model,
			BaseURL:           cfg.Explainer.BaseURL,
			Temperature:       cfg.Explainer.Temperature,
			MaxTokens:         cfg.Explainer.MaxTokens,
			RequestsPerMinute: cfg.Explainer.RequestsPerMinute,
		})
		switch {
		case err == nil:
			primary = client
			remote = true
			logrus.WithField("model", cfg.Explainer.Model).Info("explanation service enabled")
		case errors.Is(err, ai.ErrDisabled):
			logrus.Info("no explanation API key configured, narratives come from templates")
		default:
			return nil, fmt.Errorf("explanation client: %w", err)
		}
	}

	resolver, err := ai.NewResolver(primary, templates)
	if err != nil {
		return nil, fmt.Errorf("explanation resolver: %w", err)
	}

	server := &Server{
		cfg:             cfg,
		db:              db,
		validator:       validator,
		resolver:        resolver,
		notifier:        NewTrainingNotifier(),
		remoteExplainer: remote,
		allowedOrigins:  cfg.Server.AllowedOrigins,
		versionCache:    make(map[string]*model.Version),
	}

	orch, err := analysis.New(server, validator, resolver, analysis.Options{
		MaxConcurrent:  cfg.Analysis.MaxConcurrent,
		MaxQueue:       cfg.Analysis.MaxQueue,
		ExplainTimeout: cfg.Analysis.ExplainTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	server.orch = orch

	return server, nil
}

// Close releases the registry connection.
func (s *Server) Close() error {
	return s.db.Close()
}

// Router configures gin routes.
func (s *Server) Router() (*gin.Engine, error) {
	r := gin.Default()

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowCredentials = true
	if len(s.allowedOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = s.allowedOrigins
	}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	corsCfg.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	r.Use(cors.New(corsCfg))

	r.GET("/api/healthz", s.handleHealth)
	r.GET("/api/config", s.handleConfig)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		api.POST("/predict", s.handlePredict)
		api.POST("/analyze", s.handleAnalyze)
		api.GET("/models", s.handleListModels)
		api.GET("/models/:version", s.handleGetModel)
		api.POST("/models/:version/promote", s.handlePromoteModel)
		api.POST("/train", s.handleTrain)
		api.GET("/train/status", s.handleTrainStatus)
		api.DELETE("/train/:jobID", s.handleCancelTrain)
		api.GET("/train/stream", s.handleTrainStream)
		api.GET("/runs", s.handleListRuns)
	}

	return r, nil
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.db.Ping(); err != nil {
		s.renderError(c, http.StatusServiceUnavailable, fmt.Errorf("registry unavailable: %w", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleConfig(c *gin.Context) {
	summary, err := s.db.Summary()
	if err != nil {
		s.renderError(c, http.StatusServiceUnavailable, err)
		return
	}
	opts := s.orch.Options()

	c.JSON(http.StatusOK, gin.H{
		"default_model_version": summary.LatestServable,
		"fairness_tolerance":    s.cfg.Training.Tolerance,
		"account_type_policy":   string(s.validator.Policy()),
		"explainer_enabled":     s.remoteExplainer,
		"max_concurrent":        opts.MaxConcurrent,
		"max_queue":             opts.MaxQueue,
		"explain_timeout":       opts.ExplainTimeout.String(),
		"registry":              summary,
	})
}

func (s *Server) handlePredict(c *gin.Context) {
	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	features, err := s.validator.Validate(req.RawFeatures)
	if err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}

	version, err := s.Resolve(req.ModelVersion)
	if err != nil {
		s.renderVersionError(c, req.ModelVersion, err)
		return
	}

	score := version.Predict(features)
	c.JSON(http.StatusOK, PredictResponse{
		ModelScore:   score,
		Band:         scoring.BandFor(score),
		Outlook:      scoring.ApprovalFor(score, features),
		ModelVersion: version.ID,
	})
}

func (s *Server) handleAnalyze(c *gin.Context) {
	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	result, err := s.orch.Analyze(c.Request.Context(), req.RawFeatures, req.ModelVersion)
	if err != nil {
		s.renderAnalyzeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleListModels(c *gin.Context) {
	offset, limit := pagination(c)
	rows, total, err := s.db.ListModelVersions(offset, limit)
	if err != nil {
		s.renderError(c, http.StatusServiceUnavailable, err)
		return
	}
	items := make([]ModelVersionDTO, 0, len(rows))
	for _, row := range rows {
		items = append(items, VersionFromRecord(row))
	}
	c.JSON(http.StatusOK, ModelsResponse{Items: items, Total: total})
}

func (s *Server) handleGetModel(c *gin.Context) {
	name := strings.TrimSpace(c.Param("version"))
	rec, err := s.db.GetModelVersion(name)
	if err != nil {
		s.renderVersionError(c, name, err)
		return
	}

	dto := VersionFromRecord(*rec)
	version, err := s.decodeVersion(rec)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	cfg := version.Config
	dto.Config = &cfg

	report, err := s.db.GetFairnessReport(name)
	switch {
	case err == nil:
		fairnessDTO, derr := ReportFromRecord(*report)
		if derr != nil {
			s.renderError(c, http.StatusInternalServerError, derr)
			return
		}
		dto.Fairness = &fairnessDTO
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		s.renderError(c, http.StatusServiceUnavailable, err)
		return
	}

	c.JSON(http.StatusOK, dto)
}

func (s *Server) handlePromoteModel(c *gin.Context) {
	name := strings.TrimSpace(c.Param("version"))
	if _, err := s.db.GetModelVersion(name); err != nil {
		s.renderVersionError(c, name, err)
		return
	}

	rec, err := s.db.GetFairnessReport(name)
	switch {
	case err == nil:
		report, derr := rec.Report()
		if derr != nil {
			s.renderError(c, http.StatusInternalServerError, derr)
			return
		}
		if gateErr := report.Gate(); gateErr != nil {
			s.renderError(c, http.StatusConflict, gateErr)
			return
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		// No stored report means the gate never ran; only a recorded
		// failure blocks promotion.
	default:
		s.renderError(c, http.StatusServiceUnavailable, err)
		return
	}

	if err := s.db.UpdateModelStatus(name, store.VersionServable); err != nil {
		s.renderVersionError(c, name, err)
		return
	}

	logrus.WithField("version", name).Info("model version promoted")
	c.JSON(http.StatusOK, gin.H{"version": name, "status": store.VersionServable})
}

func (s *Server) handleListRuns(c *gin.Context) {
	offset, limit := pagination(c)
	rows, total, err := s.db.ListTrainingRuns(offset, limit)
	if err != nil {
		s.renderError(c, http.StatusServiceUnavailable, err)
		return
	}
	items := make([]TrainingRunDTO, 0, len(rows))
	for _, row := range rows {
		items = append(items, RunFromRecord(row))
	}
	c.JSON(http.StatusOK, RunsResponse{Items: items, Total: total})
}

func (s *Server) handleTrainStream(c *gin.Context) {
	upgrader := websocket.Upgrader{
		HandshakeTimeout:  5 * time.Second,
		EnableCompression: true,
		CheckOrigin: func(r *http.Request) bool {
			if len(s.allowedOrigins) == 0 {
				return true
			}
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin == "" {
				// Non-browser clients send no Origin header; the
				// allowlist only guards browsers.
				return true
			}
			for _, allowed := range s.allowedOrigins {
				if strings.EqualFold(origin, allowed) {
					return true
				}
			}
			return false
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Warn("upgrade websocket")
		return
	}

	client := s.notifier.Register(conn)
	logrus.WithField("remote", conn.RemoteAddr().String()).Info("training websocket connected")
	defer s.notifier.Unregister(client)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.WithField("remote", conn.RemoteAddr().String()).Info("training websocket closed")
			} else {
				logrus.WithError(err).Warn("training websocket unexpected close")
			}
			break
		}
	}
}

// Resolve satisfies the orchestrator's version source. An empty version maps
// to the latest servable model; a named version resolves in any status so
// candidates can be trialled before promotion. Decoded versions are cached,
// stored weights never change.
func (s *Server) Resolve(version string) (*model.Version, error) {
	version = strings.TrimSpace(version)
	if version == "" {
		rec, err := s.db.LatestServable()
		if err != nil {
			return nil, err
		}
		return s.decodeVersion(rec)
	}

	s.versionMu.Lock()
	cached, ok := s.versionCache[version]
	s.versionMu.Unlock()
	if ok {
		return cached, nil
	}

	rec, err := s.db.GetModelVersion(version)
	if err != nil {
		return nil, err
	}
	return s.decodeVersion(rec)
}

func (s *Server) decodeVersion(rec *store.ModelVersion) (*model.Version, error) {
	s.versionMu.Lock()
	cached, ok := s.versionCache[rec.Version]
	s.versionMu.Unlock()
	if ok {
		return cached, nil
	}

	version, err := rec.DecodeVersion()
	if err != nil {
		return nil, err
	}

	s.versionMu.Lock()
	s.versionCache[rec.Version] = version
	s.versionMu.Unlock()
	return version, nil
}

func (s *Server) renderVersionError(c *gin.Context, version string, err error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if version == "" {
			s.renderError(c, http.StatusNotFound, errors.New("no servable model version, train and promote one first"))
		} else {
			s.renderError(c, http.StatusNotFound, fmt.Errorf("model version %s not found", version))
		}
		return
	}
	s.renderError(c, http.StatusServiceUnavailable, err)
}

func (s *Server) renderAnalyzeError(c *gin.Context, err error) {
	var validationErr *schema.ValidationError
	var unavailableErr *analysis.ModelUnavailableError
	var backpressureErr *analysis.BackpressureError

	switch {
	case errors.As(err, &validationErr):
		s.renderError(c, http.StatusBadRequest, err)
	case errors.As(err, &unavailableErr):
		s.renderError(c, http.StatusNotFound, err)
	case errors.As(err, &backpressureErr):
		c.Header("Retry-After", "1")
		s.renderError(c, http.StatusTooManyRequests, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.renderError(c, http.StatusServiceUnavailable, err)
	default:
		s.renderError(c, http.StatusInternalServerError, err)
	}
}

func (s *Server) renderError(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"error": err.Error()})
}

func pagination(c *gin.Context) (offset, limit int) {
	page, _ := strconv.Atoi(c.Query("page"))
	if page < 0 {
		page = 0
	}
	pageSize, _ := strconv.Atoi(c.Query("pageSize"))
	if pageSize <= 0 {
		pageSize = 50
	}
	return page * pageSize, pageSize
}
