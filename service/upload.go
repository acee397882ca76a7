package service

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"lite-nvr/database"
	"lite-nvr/storage"

	"golang.org/x/sync/semaphore"
)

// uploadConcurrency caps parallel uploads so they never starve the capture
// pipelines of bandwidth.
const uploadConcurrency = 2

// UploadService mirrors finalized recordings to R2 in the background.
type UploadService struct {
	db    database.Database
	r2    *storage.R2Storage
	sem   *semaphore.Weighted
	queue chan string
}

func NewUploadService(db database.Database, r2 *storage.R2Storage) *UploadService {
	return &UploadService{
		db:    db,
		r2:    r2,
		sem:   semaphore.NewWeighted(uploadConcurrency),
		queue: make(chan string, 256),
	}
}

// Enqueue schedules the recording with the given index id for upload.
// Drops with a log line when the queue is saturated.
func (s *UploadService) Enqueue(recordingID string) {
	select {
	case s.queue <- recordingID:
	default:
		log.Printf("Upload queue full, dropping recording %s", recordingID)
	}
}

// Run drains the queue until ctx is cancelled.
func (s *UploadService) Run(ctx context.Context) {
	log.Printf("Upload worker started (concurrency %d)", uploadConcurrency)
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-s.queue:
			if err := s.sem.Acquire(ctx, 1); err != nil {
				return
			}
			go func(recordingID string) {
				defer s.sem.Release(1)
				if err := s.uploadOne(recordingID); err != nil {
					log.Printf("Upload of recording %s failed: %v", recordingID, err)
				}
			}(id)
		}
	}
}

func (s *UploadService) uploadOne(recordingID string) error {
	rec, err := s.db.GetRecording(recordingID)
	if err != nil {
		return err
	}
	if rec.LocalPath == "" {
		return fmt.Errorf("recording %s has no local path", recordingID)
	}

	remotePath := fmt.Sprintf("recordings/%s/%s", rec.StreamID, filepath.Base(rec.LocalPath))
	url, err := s.r2.UploadFile(rec.LocalPath, remotePath)
	if err != nil {
		if derr := s.db.UpdateRecordingStatus(recordingID, database.StatusFailed, err.Error()); derr != nil {
			log.Printf("Error updating recording %s status: %v", recordingID, derr)
		}
		return err
	}

	return s.db.SetUploadURL(recordingID, url)
}
