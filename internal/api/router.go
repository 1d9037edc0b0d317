package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/LJTian/RSSDigest/internal/config"
	"github.com/LJTian/RSSDigest/internal/pipeline"
	"github.com/LJTian/RSSDigest/internal/report"
	"github.com/LJTian/RSSDigest/internal/scheduler"
	"github.com/LJTian/RSSDigest/internal/storage"
	"github.com/gin-gonic/gin"
)

// Fetcher 手动触发一轮抓取
type Fetcher interface {
	Run(ctx context.Context, opts pipeline.Options) pipeline.RunStats
}

// ReportGenerator 按指定窗口生成报表
type ReportGenerator interface {
	Generate(ctx context.Context, kind report.Kind, w report.Window) (*storage.Report, error)
}

// StatusSource 调度器状态
type StatusSource interface {
	Status() scheduler.Status
}

type Server struct {
	settings  *config.Provider
	store     *storage.Store
	fetcher   Fetcher
	reports   ReportGenerator
	schedules StatusSource
	log       *slog.Logger
	now       func() time.Time
}

func NewServer(settings *config.Provider, store *storage.Store, fetcher Fetcher, reports ReportGenerator, schedules StatusSource, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		settings:  settings,
		store:     store,
		fetcher:   fetcher,
		reports:   reports,
		schedules: schedules,
		log:       logger,
		now:       time.Now,
	}
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", s.health)

	g := r.Group("/api")
	{
		g.GET("/settings", s.getSettings)
		g.PUT("/settings", s.putSettings)
		g.POST("/fetch", s.fetch)
		g.GET("/articles", s.listArticles)
		g.GET("/articles/:id", s.getArticle)
		g.GET("/reports", s.listReports)
		g.GET("/reports/:id", s.getReport)
		g.POST("/reports/generate", s.generateReport)
		g.GET("/status", s.status)
	}
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"code":    "ok",
		"message": "success",
		"data":    data,
	})
}

func fail(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":    code,
		"message": msg,
	})
}

func (s *Server) internalError(c *gin.Context, err error) {
	s.log.Error("request failed", "path", c.FullPath(), "err", err)
	fail(c, http.StatusInternalServerError, "internal_error", "internal server error")
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getSettings(c *gin.Context) {
	ok(c, s.settings.Get().Redacted())
}

// putSettings 以当前配置为底合并请求体；值为 *** 的密钥沿用原值
func (s *Server) putSettings(c *gin.Context) {
	prev := s.settings.Get()
	next := prev.Redacted()
	if err := c.ShouldBindJSON(&next); err != nil {
		fail(c, http.StatusBadRequest, "bad_request", "invalid json body")
		return
	}
	next.MergeSecrets(prev)

	if err := s.settings.Update(next); err != nil {
		if errors.Is(err, config.ErrInvalid) {
			fail(c, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		s.internalError(c, err)
		return
	}
	s.log.Info("settings updated", "feeds", len(next.Fetch.Feeds), "interval", next.Fetch.IntervalMinutes)
	ok(c, s.settings.Get().Redacted())
}

type fetchRequest struct {
	Force bool `json:"force"`
}

// fetch 在请求内同步执行一轮抓取，可能与定时任务并发
func (s *Server) fetch(c *gin.Context) {
	var req fetchRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "bad_request", "invalid json body")
			return
		}
	}
	stats := s.fetcher.Run(c.Request.Context(), pipeline.Options{Force: req.Force})
	ok(c, stats)
}

func pageParams(c *gin.Context) (limit, offset int) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		limit = 50
	}
	offset, err = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}

func idParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		fail(c, http.StatusBadRequest, "bad_request", "invalid id")
		return 0, false
	}
	return uint(id), true
}

func (s *Server) listArticles(c *gin.Context) {
	limit, offset := pageParams(c)
	page, err := s.store.ListArticles(c.Request.Context(), limit, offset, strings.TrimSpace(c.Query("feed")))
	if err != nil {
		s.internalError(c, err)
		return
	}
	ok(c, page)
}

func (s *Server) getArticle(c *gin.Context) {
	id, valid := idParam(c)
	if !valid {
		return
	}
	a, err := s.store.GetArticle(c.Request.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		fail(c, http.StatusNotFound, "not_found", "article not found")
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}
	ok(c, a)
}

func (s *Server) listReports(c *gin.Context) {
	limit, offset := pageParams(c)
	kind := strings.TrimSpace(c.Query("kind"))
	if kind != "" {
		k, err := report.ParseKind(kind)
		if err != nil {
			fail(c, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		kind = string(k)
	}
	page, err := s.store.ListReports(c.Request.Context(), limit, offset, kind)
	if err != nil {
		s.internalError(c, err)
		return
	}
	ok(c, page)
}

func (s *Server) getReport(c *gin.Context) {
	id, valid := idParam(c)
	if !valid {
		return
	}
	r, err := s.store.GetReport(c.Request.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		fail(c, http.StatusNotFound, "not_found", "report not found")
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}
	ok(c, r)
}

type generateRequest struct {
	Kind  string `json:"kind"`
	Start string `json:"start"`
	End   string `json:"end"`
}

func (s *Server) generateReport(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "bad_request", "invalid json body")
		return
	}
	kind, err := report.ParseKind(req.Kind)
	if err != nil {
		fail(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	w, err := report.ResolveWindow(kind, req.Start, req.End, s.now())
	if err != nil {
		fail(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	r, err := s.reports.Generate(c.Request.Context(), kind, w)
	if err != nil {
		if errors.Is(err, report.ErrUnknownKind) || errors.Is(err, report.ErrInvalidWindow) {
			fail(c, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		s.internalError(c, err)
		return
	}
	ok(c, r)
}

type statusResponse struct {
	Scheduler scheduler.Status `json:"scheduler"`
	Articles  int64            `json:"articles"`
	Feeds     int              `json:"feeds"`
	AIEnabled bool             `json:"aiEnabled"`
}

func (s *Server) status(c *gin.Context) {
	n, err := s.store.CountArticles(c.Request.Context())
	if err != nil {
		s.internalError(c, err)
		return
	}
	cfg := s.settings.Get()
	ok(c, statusResponse{
		Scheduler: s.schedules.Status(),
		Articles:  n,
		Feeds:     len(cfg.Fetch.Feeds),
		AIEnabled: cfg.AI.Enabled && cfg.AI.APIKey != "",
	})
}
