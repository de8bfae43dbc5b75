// Package http provides the HTTP API for islandd.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/islandd/internal/embeddings"
	"github.com/fyrsmithlabs/islandd/internal/lifecycle"
	"github.com/fyrsmithlabs/islandd/internal/logging"
	"github.com/fyrsmithlabs/islandd/internal/metadata"
	"github.com/fyrsmithlabs/islandd/internal/router"
	"github.com/fyrsmithlabs/islandd/internal/scope"
	"github.com/fyrsmithlabs/islandd/internal/syncer"
	"github.com/fyrsmithlabs/islandd/internal/vectorstore"
)

// healthTimeout bounds each dependency check of GET /health.
const healthTimeout = 2 * time.Second

// Syncer runs a sync. *syncer.Syncer implements it.
type Syncer interface {
	Sync(ctx context.Context, req syncer.Request) (*syncer.Result, error)
}

// Searcher runs a scoped search. *router.Router implements it.
type Searcher interface {
	Search(ctx context.Context, q router.Query) (*router.SearchResult, error)
}

// Services are the components the API exposes.
type Services struct {
	Syncer  Syncer
	Router  Searcher
	Manager *lifecycle.Manager
}

// Server provides HTTP endpoints for islandd.
type Server struct {
	echo     *echo.Echo
	syncer   Syncer
	router   Searcher
	manager  *lifecycle.Manager
	store    *metadata.Store
	backend  vectorstore.Backend
	logger   *logging.Logger
	config   *Config
	shutdown time.Duration
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration
}

// NewServer creates a new HTTP server.
func NewServer(svc Services, logger *logging.Logger, cfg *Config) (*Server, error) {
	if svc.Syncer == nil || svc.Router == nil || svc.Manager == nil {
		return nil, fmt.Errorf("syncer, router and manager are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9090,
		}
	}
	logger = logger.Named("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			rid := c.Response().Header().Get(echo.HeaderXRequestID)
			ctx := logging.WithRequestID(c.Request().Context(), rid)
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if err != nil {
				// Let echo write the response so the logged status is final.
				c.Error(err)
			}

			logger.Info(ctx, "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return nil
		}
	})

	s := &Server{
		echo:     e,
		syncer:   svc.Syncer,
		router:   svc.Router,
		manager:  svc.Manager,
		store:    svc.Manager.Store(),
		backend:  svc.Manager.Backend(),
		logger:   logger,
		config:   cfg,
		shutdown: cfg.ShutdownTimeout,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/sync", s.handleSync)
	v1.POST("/search", s.handleSearch)
	v1.GET("/partitions", s.handlePartitions)
	v1.POST("/reconcile", s.handleReconcile)
	v1.POST("/shares", s.handleShare)
	v1.PATCH("/datasets/:project/:dataset", s.handleUpdateDataset)
	v1.DELETE("/datasets/:project/:dataset", s.handleDeleteDataset)
	v1.PATCH("/projects/:project", s.handleUpdateProject)
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// handleHealth checks the metadata store and the vector backend.
func (s *Server) handleHealth(c echo.Context) error {
	ctx := c.Request().Context()
	resp := HealthResponse{Status: "ok", Services: map[string]string{}}

	check := func(name string, fn func(context.Context) error) {
		cctx, cancel := context.WithTimeout(ctx, healthTimeout)
		defer cancel()
		if err := fn(cctx); err != nil {
			resp.Status = "degraded"
			resp.Services[name] = err.Error()
			return
		}
		resp.Services[name] = "ok"
	}
	check("metadata", s.store.Ping)
	check("vectorstore", func(ctx context.Context) error {
		_, err := s.backend.ListPartitions(ctx)
		return err
	})

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, resp)
}

// handleSync runs one sync to completion and reports its result.
func (s *Server) handleSync(c echo.Context) error {
	var req SyncRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid sync request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Root == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "root field is required")
	}

	res, err := s.syncer.Sync(c.Request().Context(), syncer.Request{
		Root:       req.Root,
		Project:    req.Project,
		Dataset:    req.Dataset,
		SourceKind: metadata.SourceKind(req.SourceKind),
		Global:     req.Global,
		TryLock:    !req.Wait,
	})
	if err != nil {
		if res == nil {
			return s.fail(c, err)
		}
		out := newSyncResponse(res)
		out.Error = err.Error()
		return c.JSON(statusFor(err), out)
	}
	return c.JSON(http.StatusOK, newSyncResponse(res))
}

func (s *Server) handleSearch(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid search request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Query == "" && len(req.Vector) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "query or vector field is required")
	}

	res, err := s.router.Search(c.Request().Context(), router.Query{
		Project:       req.Project,
		Dataset:       req.Dataset,
		Text:          req.Query,
		Vector:        req.Vector,
		Limit:         req.Limit,
		IncludeGlobal: req.IncludeGlobal,
	})
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, newSearchResponse(res))
}

// handlePartitions lists partition records, optionally for one project.
func (s *Server) handlePartitions(c echo.Context) error {
	parts, err := s.store.ListPartitions(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	if project := c.QueryParam("project"); project != "" {
		parts = filterByProject(parts, scope.ProjectID(project).String())
	}

	resp := PartitionsResponse{
		Partitions: make([]PartitionInfo, 0, len(parts)),
		Counts:     CountPartitions(parts),
	}
	for _, p := range parts {
		resp.Partitions = append(resp.Partitions, newPartitionInfo(p))
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleReconcile(c echo.Context) error {
	report, err := s.manager.ReconcileAllPointCounts(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	resp := ReconcileResponse{
		Checked:   report.Checked,
		Drift:     report.Drift,
		Recreated: report.Recreated,
		Orphans:   report.Orphans,
	}
	if report.Failed() {
		resp.Error = report.Err.Error()
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleShare(c echo.Context) error {
	var req ShareRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := scope.Validate(req.Project, req.Dataset, scope.Local); err != nil {
		return s.fail(c, err)
	}
	if req.Grantee == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "grantee field is required")
	}

	ctx := c.Request().Context()
	datasetID := scope.DatasetID(req.Project, req.Dataset).String()
	granteeID := scope.ProjectID(req.Grantee).String()

	if req.Revoke {
		if err := s.store.RevokeShare(ctx, datasetID, granteeID); err != nil {
			return s.fail(c, err)
		}
		s.logger.Info(logging.WithScope(ctx, req.Project, req.Dataset), "share revoked", zap.String("grantee", req.Grantee))
		return c.JSON(http.StatusOK, ShareResponse{DatasetID: datasetID, GranteeProjectID: granteeID, Revoked: true})
	}

	g, err := s.store.GrantShare(ctx, metadata.ShareGrant{
		DatasetID:        datasetID,
		GranteeProjectID: granteeID,
		CanWrite:         req.CanWrite,
		ExpiresAt:        req.Expires,
	})
	if err != nil {
		return s.fail(c, err)
	}
	s.logger.Info(logging.WithScope(ctx, req.Project, req.Dataset), "share granted", zap.String("grantee", req.Grantee))
	return c.JSON(http.StatusCreated, ShareResponse{
		ID:               g.ID,
		DatasetID:        g.DatasetID,
		GranteeProjectID: g.GranteeProjectID,
		CanWrite:         g.CanWrite,
		ExpiresAt:        g.ExpiresAt,
	})
}

// handleUpdateDataset changes display names and global visibility. The
// partition name never changes.
func (s *Server) handleUpdateDataset(c echo.Context) error {
	project, dataset := c.Param("project"), c.Param("dataset")
	if err := scope.Validate(project, dataset, scope.Local); err != nil {
		return s.fail(c, err)
	}
	var req DatasetUpdate
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	datasetID := scope.DatasetID(project, dataset).String()
	if req.Global != nil {
		if err := s.store.SetDatasetGlobal(ctx, datasetID, *req.Global); err != nil {
			return s.fail(c, err)
		}
	}
	if req.DisplayProject != "" || req.DisplayDataset != "" {
		if err := s.manager.RenameDisplayMetadata(ctx, datasetID, req.DisplayProject, req.DisplayDataset); err != nil {
			return s.fail(c, err)
		}
	}

	p, err := s.manager.Partition(ctx, datasetID)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, newPartitionInfo(p))
}

// handleUpdateProject sets a project's global visibility.
func (s *Server) handleUpdateProject(c echo.Context) error {
	project := c.Param("project")
	if err := scope.Validate(project, "", scope.Project); err != nil {
		return s.fail(c, err)
	}
	var req ProjectUpdate
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Global == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "global field is required")
	}

	p, err := s.manager.SetProjectGlobal(c.Request().Context(), project, *req.Global)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, ProjectInfo{ID: p.ID, Name: p.Name, Global: p.Global, System: p.System})
}

// handleDeleteDataset drops a dataset's partition and records.
func (s *Server) handleDeleteDataset(c echo.Context) error {
	project, dataset := c.Param("project"), c.Param("dataset")
	if err := scope.Validate(project, dataset, scope.Local); err != nil {
		return s.fail(c, err)
	}
	ctx := c.Request().Context()
	datasetID := scope.DatasetID(project, dataset).String()
	if _, err := s.store.GetDataset(ctx, datasetID); err != nil {
		return s.fail(c, err)
	}
	if err := s.manager.DeleteDataset(ctx, datasetID); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// fail logs err and converts it to an HTTP error.
func (s *Server) fail(c echo.Context, err error) error {
	status := statusFor(err)
	ctx := c.Request().Context()
	if status >= http.StatusInternalServerError {
		s.logger.Error(ctx, "request failed", zap.String("path", c.Path()), zap.Error(err))
	} else {
		s.logger.Debug(ctx, "request rejected", zap.String("path", c.Path()), zap.Error(err))
	}
	return echo.NewHTTPError(status, err.Error())
}

// statusFor maps package sentinels to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, scope.ErrInvalidScope),
		errors.Is(err, embeddings.ErrEmptyInput),
		errors.Is(err, syncer.ErrUnsupportedSource),
		errors.Is(err, metadata.ErrInvalidConfig),
		errors.Is(err, vectorstore.ErrDimensionMismatch):
		return http.StatusBadRequest
	case errors.Is(err, metadata.ErrNotFound),
		errors.Is(err, router.ErrNoAccessibleData):
		return http.StatusNotFound
	case errors.Is(err, syncer.ErrSyncInProgress),
		errors.Is(err, lifecycle.ErrDimensionMismatch):
		return http.StatusConflict
	case errors.Is(err, lifecycle.ErrBackend),
		errors.Is(err, vectorstore.ErrConnectionFailed),
		errors.Is(err, vectorstore.ErrCircuitOpen):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	if s.shutdown > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.shutdown)
		defer cancel()
	}
	return s.echo.Shutdown(ctx)
}
