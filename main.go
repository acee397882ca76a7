package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"lite-nvr/api"
	"lite-nvr/capture"
	"lite-nvr/config"
	"lite-nvr/cron"
	"lite-nvr/database"
	"lite-nvr/monitoring"
	"lite-nvr/recording"
	"lite-nvr/registry"
	"lite-nvr/service"
	"lite-nvr/signaling"
	"lite-nvr/storage"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// streamSet routes control-plane commands to the per-stream workers.
type streamSet struct {
	workers   map[string]*capture.Worker
	recorders map[string]*recording.Recorder
}

func (s *streamSet) EnableStream(id string) {
	if w, ok := s.workers[id]; ok {
		w.Enable()
	}
}

func (s *streamSet) DisableStream(id string) {
	if w, ok := s.workers[id]; ok {
		w.Disable()
	}
}

func (s *streamSet) StartRecording(id string) {
	if r, ok := s.recorders[id]; ok {
		r.Start()
	}
}

func (s *streamSet) StopRecording(id string) {
	if r, ok := s.recorders[id]; ok {
		r.Stop()
	}
}

// recorderBridge fans recorder lifecycle events out to the registry, the
// recordings index and the upload queue.
type recorderBridge struct {
	registry *registry.Registry
	db       database.Database
	uploads  *service.UploadService

	mu   sync.Mutex
	open map[string]string // recording path -> index row id
}

func newRecorderBridge(reg *registry.Registry, db database.Database, uploads *service.UploadService) *recorderBridge {
	return &recorderBridge{
		registry: reg,
		db:       db,
		uploads:  uploads,
		open:     make(map[string]string),
	}
}

func (b *recorderBridge) RecordingStarted(streamID, path string) bool {
	rowID := uuid.New().String()
	if err := b.db.CreateRecording(database.Recording{
		ID:        rowID,
		StreamID:  streamID,
		LocalPath: path,
		StartedAt: time.Now(),
		Status:    database.StatusRecording,
	}); err != nil {
		log.Printf("Error indexing recording %s: %v", path, err)
	} else {
		b.mu.Lock()
		b.open[path] = rowID
		b.mu.Unlock()
	}
	return b.registry.OnRecordStarted(streamID, path)
}

func (b *recorderBridge) RecordingStopped(streamID string) {
	b.registry.OnRecordStopped(streamID)
}

func (b *recorderBridge) RecordingFinalized(streamID, path string) {
	b.mu.Lock()
	rowID, ok := b.open[path]
	delete(b.open, path)
	b.mu.Unlock()
	if !ok {
		return
	}

	var size int64
	if fi, err := os.Stat(path); err == nil {
		size = fi.Size()
	}
	if err := b.db.FinishRecording(rowID, time.Now(), size); err != nil {
		log.Printf("Error finishing recording %s: %v", path, err)
		return
	}
	if b.uploads != nil {
		b.uploads.Enqueue(rowID)
	}
}

func usage(bin string) {
	fmt.Fprintf(os.Stderr, "Usage:\n  %s --config config.json\n", bin)
}

func main() {
	// --config <file>, unknown flags logged and ignored
	var configPath string
	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		if args[i] == "--config" && i+1 < len(args) {
			i++
			configPath = args[i]
		} else {
			log.Printf("[CFG] Unknown argument ignored: %s", args[i])
		}
	}
	if configPath == "" {
		usage(os.Args[0])
		os.Exit(1)
	}

	// .env is optional; it carries the R2 credentials when uploads are on
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment from .env")
	}

	cfg, err := config.LoadConfigFromFile(configPath)
	if err != nil {
		log.Printf("[CFG] %v", err)
		os.Exit(1)
	}
	if err := config.EnsurePaths(cfg); err != nil {
		log.Printf("[CFG] %v", err)
		os.Exit(1)
	}

	db, err := database.NewSQLiteDB(cfg.DatabasePath)
	if err != nil {
		log.Printf("Failed to initialize SQLite database: %v", err)
		os.Exit(1)
	}
	defer db.Close()

	var uploads *service.UploadService
	if cfg.R2.Enabled() {
		r2, err := storage.NewR2Storage(cfg.R2)
		if err != nil {
			log.Printf("Failed to initialize R2 storage: %v", err)
			os.Exit(1)
		}
		uploads = service.NewUploadService(db, r2)
	} else {
		log.Println("R2 upload disabled (no credentials configured)")
	}

	reg := registry.New()
	bridge := newRecorderBridge(reg, db, uploads)

	var preview *capture.Hub
	if cfg.DisplayMode == 1 {
		preview = capture.NewHub()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	set := &streamSet{
		workers:   make(map[string]*capture.Worker),
		recorders: make(map[string]*recording.Recorder),
	}

	for _, sc := range cfg.Streams {
		reg.Register(sc.ID)

		rec := recording.NewRecorder(sc.ID, recording.Params{
			PreRollSeconds:  cfg.PreBufferingTime,
			PostRollSeconds: cfg.PostBufferingTime,
			FolderBase:      cfg.RecBaseFolder,
		}, recording.NewMP4Writer, bridge)
		set.recorders[sc.ID] = rec

		worker := capture.NewWorker(sc.ID, sc.URL, rec, reg.MarkStreaming, preview)
		set.workers[sc.ID] = worker

		wg.Add(2)
		go func() { defer wg.Done(); rec.Run(ctx) }()
		go func() { defer wg.Done(); worker.Run(ctx) }()

		if cfg.Autostart == 1 {
			worker.Enable()
		}
	}

	if uploads != nil {
		wg.Add(1)
		go func() { defer wg.Done(); uploads.Run(ctx) }()
	}

	cleanup := cron.NewCleanupCron(db, cfg.AutoDeleteDays)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := cleanup.Start(ctx); err != nil {
			log.Printf("Cleanup cron error: %v", err)
		}
	}()

	monitoring.StartMonitoring(5 * time.Minute)

	if cfg.SerialPort != "" {
		buttons := signaling.NewButtonSignal(cfg.SerialPort, cfg.SerialBaud, func(token string) error {
			return toggleRecordingForButton(cfg, reg, set, token)
		})
		if err := buttons.Connect(); err != nil {
			log.Printf("Serial button panel unavailable: %v", err)
		} else {
			defer buttons.Close()
			log.Printf("Serial button panel connected on %s", cfg.SerialPort)
		}
	}

	server := api.NewServer(cfg, reg, set, storage.NewFileStore(cfg.RecBaseFolder), db, preview)
	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received %s, shutting down", sig)
	case err := <-serverErr:
		log.Printf("HTTP server error: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}

	cancel()
	wg.Wait()
	log.Println("Shutdown complete")
}

// toggleRecordingForButton maps a serial button token to its stream and
// flips its recording state, taking the same pending-aware path as the HTTP
// handlers.
func toggleRecordingForButton(cfg config.Config, reg *registry.Registry, set *streamSet, token string) error {
	for _, sc := range cfg.Streams {
		if sc.Button == "" || sc.Button != token {
			continue
		}
		switch reg.TryBeginStop(sc.ID) {
		case registry.StopProceed:
			log.Printf("Button %q: stopping recording on %s", token, sc.ID)
			set.StopRecording(sc.ID)
		case registry.StopDeferred:
			log.Printf("Button %q: stop queued behind pending start on %s", token, sc.ID)
		case registry.StopNotRecording:
			if reg.TryBeginStart(sc.ID) == registry.StartProceed {
				log.Printf("Button %q: starting recording on %s", token, sc.ID)
				set.StartRecording(sc.ID)
			}
		}
		return nil
	}
	return fmt.Errorf("no stream mapped to button %q", token)
}
