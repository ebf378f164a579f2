// Package controlplane exposes the local HTTP surface a dashboard or CLI
// talks to: task management, status snapshots, conflicts and activity.
package controlplane

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	slogGin "github.com/samber/slog-gin"

	"github.com/skysyncd/skysync/internal/sync"
	"github.com/skysyncd/skysync/internal/version"
)

// DefaultAddr binds loopback only; the control plane is not an external API.
const DefaultAddr = "127.0.0.1:7438"

type Server struct {
	addr    string
	manager *sync.Manager
	http    *http.Server
}

func New(addr string, manager *sync.Manager) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	return &Server{addr: addr, manager: manager}
}

func (s *Server) Start(ctx context.Context) error {
	s.http = &http.Server{
		Addr:    s.addr,
		Handler: s.routes(),
	}

	go func() {
		<-ctx.Done()
		_ = s.Shutdown(context.Background())
	}()

	slog.Info("control plane listening", "addr", s.addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

func (s *Server) routes() http.Handler {
	r := gin.New()

	httpLogger := slog.Default().WithGroup("http")
	r.Use(slogGin.NewWithConfig(httpLogger, slogGin.Config{
		DefaultLevel:     slog.LevelDebug,
		ClientErrorLevel: slog.LevelWarn,
		ServerErrorLevel: slog.LevelError,
	}))
	r.Use(gin.Recovery())
	r.Use(cors.Default())

	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, version.Detailed())
	})
	r.GET("/healthz", func(c *gin.Context) {
		c.PureJSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")
	{
		v1.GET("/tasks", s.listTasks)
		v1.POST("/tasks", s.createTask)
		v1.GET("/tasks/:id", s.getTask)
		v1.DELETE("/tasks/:id", s.deleteTask)

		v1.POST("/tasks/:id/start", s.startTask)
		v1.POST("/tasks/:id/stop", s.stopTask)
		v1.POST("/tasks/:id/pause", s.pauseTask)
		v1.POST("/tasks/:id/resume", s.resumeTask)
		v1.POST("/tasks/:id/sync", s.runNow)

		v1.GET("/tasks/:id/conflicts", s.listConflicts)
		v1.POST("/tasks/:id/conflicts/:conflictID/resolve", s.resolveConflict)

		v1.GET("/status", s.statuses)
		v1.GET("/activity", s.listActivity)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	return r.Handler()
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}
