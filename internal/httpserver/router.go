package httpserver

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"taskportal/internal/handler"
)

// Check 就绪检查项，返回 nil 表示就绪
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

type Router struct {
	Engine *gin.Engine
	logger *zap.Logger

	mu     sync.Mutex
	server *http.Server
}

func NewRouter(
	tablesHandler *handler.TablesHandler,
	dedupHandler *handler.DedupHandler,
	checks []Check,
	logger *zap.Logger,
) *Router {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", readiness(checks))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	admin := r.Group("/admin")
	{
		admin.GET("/projects", tablesHandler.ListTables)
		admin.POST("/projects/:id/tables", tablesHandler.EnsureTables)
		admin.GET("/projects/:id/tables", tablesHandler.GetTables)
		admin.DELETE("/projects/:id/tables", tablesHandler.DeleteTables)
		admin.POST("/projects/:id/seed", tablesHandler.Seed)
		admin.POST("/projects/:id/stages/sync", tablesHandler.SyncStages)

		admin.GET("/duplicates", dedupHandler.ListDuplicates)
		admin.POST("/maintenance/dedup", dedupHandler.RunMaintenance)
	}

	return &Router{Engine: r, logger: logger}
}

func readiness(checks []Check) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
		defer cancel()

		failed := gin.H{}
		for _, chk := range checks {
			if err := chk.Probe(ctx); err != nil {
				failed[chk.Name] = err.Error()
			}
		}
		if len(failed) > 0 {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "checks": failed})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

// Run 阻塞直到服务停止；Shutdown 导致的退出返回 nil
func (r *Router) Run(port string) error {
	srv := &http.Server{
		Addr:              port,
		Handler:           r.Engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.mu.Lock()
	r.server = srv
	r.mu.Unlock()

	r.logger.Info("HTTP server listening", zap.String("addr", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (r *Router) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	srv := r.server
	r.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
