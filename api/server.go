package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"lite-nvr/capture"
	"lite-nvr/config"
	"lite-nvr/database"
	"lite-nvr/monitoring"
	"lite-nvr/registry"
	"lite-nvr/storage"

	"github.com/gin-gonic/gin"
)

// Controller routes control-plane commands to the per-stream workers.
// Commands for unknown ids are dropped.
type Controller interface {
	EnableStream(streamID string)
	DisableStream(streamID string)
	StartRecording(streamID string)
	StopRecording(streamID string)
}

type Server struct {
	config     config.Config
	registry   *registry.Registry
	controller Controller
	store      *storage.FileStore
	db         database.Database
	preview    *capture.Hub // nil when display_mode is off
	httpServer *http.Server
}

func NewServer(cfg config.Config, reg *registry.Registry, ctrl Controller, store *storage.FileStore, db database.Database, preview *capture.Hub) *Server {
	return &Server{
		config:     cfg,
		registry:   reg,
		controller: ctrl,
		store:      store,
		db:         db,
		preview:    preview,
	}
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	s.setupRoutes(r)

	addr := fmt.Sprintf(":%d", s.config.HTTPPort)
	log.Printf("[HTTP] Starting control server on %s", addr)
	s.httpServer = &http.Server{Addr: addr, Handler: r}
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown unblocks the accept loop and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) setupRoutes(r *gin.Engine) {
	r.POST("/stream/start", s.streamStart)
	r.POST("/stream/stop", s.streamStop)
	r.GET("/stream/status", s.streamStatus)
	r.GET("/stream/preview", s.streamPreview)

	r.POST("/record/start", s.recordStart)
	r.POST("/record/stop", s.recordStop)

	r.GET("/files/list", s.filesList)
	r.GET("/files/status", s.filesStatus)
	r.POST("/files/remove", s.filesRemove)

	r.GET("/recordings", s.listRecordings)
	r.GET("/system/health", s.systemHealth)

	r.NoRoute(func(c *gin.Context) {
		c.String(http.StatusNotFound, "Not Found")
	})
}

func (s *Server) systemHealth(c *gin.Context) {
	usage, err := monitoring.Snapshot()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "failed", "message": err.Error()})
		return
	}

	streams := s.registry.Snapshot()
	streaming, recordingCount := 0, 0
	for _, e := range streams {
		if e.Streaming {
			streaming++
		}
		if e.Recording {
			recordingCount++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"streams": gin.H{
			"total":     len(streams),
			"streaming": streaming,
			"recording": recordingCount,
		},
		"system": gin.H{
			"cpu_percent":    usage.CPUPercent,
			"memory_mb":      usage.MemoryUsedMB,
			"memory_percent": usage.MemoryPercent,
			"goroutines":     usage.NumGoroutines,
		},
	})
}
