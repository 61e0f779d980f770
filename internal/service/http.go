package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"backlab/internal/backtest"
	"backlab/internal/report"
	"backlab/internal/strategy"
)

// HTTPServer 提供 Gin 接口：提交任务、查询进度与结果、浏览数据集。
type HTTPServer struct {
	addr        string
	svc         *Service
	router      *gin.Engine
	readTimeout time.Duration
}

// HTTPConfig 配置 HTTP 服务。
type HTTPConfig struct {
	Addr        string
	Svc         *Service
	ReadTimeout time.Duration
}

// NewHTTPServer 构造并注册路由。
func NewHTTPServer(cfg HTTPConfig) (*HTTPServer, error) {
	if cfg.Svc == nil {
		return nil, errors.New("service 不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &HTTPServer{addr: cfg.Addr, svc: cfg.Svc, router: router, readTimeout: cfg.ReadTimeout}
	s.registerRoutes()
	return s, nil
}

func (s *HTTPServer) registerRoutes() {
	api := s.router.Group("/api")
	api.GET("/strategies", s.handleStrategies)
	api.GET("/strategies/:name", s.handleStrategyDetail)
	api.GET("/presets", s.handlePresets)
	api.GET("/datasets", s.handleDatasets)
	api.GET("/datasets/:symbol", s.handleDatasetDetail)
	api.POST("/backtests", s.handleBacktestStart)
	api.POST("/optimizations", s.handleOptimizationStart)
	api.GET("/runs", s.handleRunList)
	api.GET("/runs/:id", s.handleRunDetail)
	api.GET("/runs/:id/result", s.handleRunResult)
	api.GET("/runs/:id/report", s.handleRunReport)
}

func (s *HTTPServer) handleStrategies(c *gin.Context) {
	names := strategy.Names()
	out := make([]gin.H, 0, len(names))
	for _, name := range names {
		info, ranges, err := strategy.Describe(name)
		if err != nil {
			continue
		}
		out = append(out, gin.H{"name": name, "info": info, "ranges": ranges})
	}
	c.JSON(http.StatusOK, gin.H{"strategies": out})
}

func (s *HTTPServer) handleStrategyDetail(c *gin.Context) {
	info, ranges, err := strategy.Describe(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"info": info, "ranges": ranges})
}

func (s *HTTPServer) handlePresets(c *gin.Context) {
	if s.svc.presets == nil {
		c.JSON(http.StatusOK, gin.H{"presets": []any{}})
		return
	}
	snap := s.svc.presets.Snapshot()
	out := make([]strategy.Preset, 0, len(snap.Presets))
	for _, name := range s.svc.presets.Names() {
		out = append(out, snap.Presets[name])
	}
	c.JSON(http.StatusOK, gin.H{"presets": out, "version": snap.Version})
}

func (s *HTTPServer) handleDatasets(c *gin.Context) {
	symbols, err := s.svc.store.Symbols()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"datasets": symbols})
}

func (s *HTTPServer) handleDatasetDetail(c *gin.Context) {
	m, err := s.svc.store.Manifest(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"manifest": m})
}

func (s *HTTPServer) handleBacktestStart(c *gin.Context) {
	var req BacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	run, err := s.svc.StartBacktest(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run": run})
}

func (s *HTTPServer) handleOptimizationStart(c *gin.Context) {
	var req OptimizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	run, err := s.svc.StartOptimization(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run": run})
}

func (s *HTTPServer) handleRunList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := s.svc.results.ListRuns(c.Request.Context(), c.Query("kind"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *HTTPServer) handleRunDetail(c *gin.Context) {
	run, err := s.svc.results.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

func (s *HTTPServer) handleRunResult(c *gin.Context) {
	raw, err := s.svc.results.GetResult(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if raw == nil {
		c.JSON(http.StatusAccepted, gin.H{"status": "结果尚未生成"})
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
}

func (s *HTTPServer) handleRunReport(c *gin.Context) {
	run, err := s.svc.results.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if run.Kind != RunKindBacktest {
		c.JSON(http.StatusBadRequest, gin.H{"error": "仅回测任务支持图表报告"})
		return
	}
	raw, err := s.svc.results.GetResult(c.Request.Context(), run.ID)
	if err != nil || raw == nil {
		c.JSON(http.StatusAccepted, gin.H{"status": "结果尚未生成"})
		return
	}
	var result backtest.BacktestResult
	if err := json.Unmarshal(raw, &result); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	html, err := report.EquityChartHTML(&result)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", html)
}

// Start 启动 HTTP 服务，阻塞直到 ctx 取消或出现错误。
func (s *HTTPServer) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router, ReadTimeout: s.readTimeout}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
