package cron

import (
	"context"
	"log"
	"os"
	"time"

	"lite-nvr/database"

	"github.com/robfig/cron/v3"
)

// CleanupCron removes recordings older than the retention window from disk
// and marks their index rows deleted.
type CleanupCron struct {
	cron           *cron.Cron
	db             database.Database
	autoDeleteDays int
}

// NewCleanupCron creates the retention job. autoDeleteDays <= 0 disables it.
func NewCleanupCron(db database.Database, autoDeleteDays int) *CleanupCron {
	return &CleanupCron{
		cron:           cron.New(),
		db:             db,
		autoDeleteDays: autoDeleteDays,
	}
}

// Start schedules the daily cleanup and blocks until ctx is cancelled.
func (c *CleanupCron) Start(ctx context.Context) error {
	if c.autoDeleteDays <= 0 {
		log.Println("Recording retention disabled (auto_delete_days=0)")
		<-ctx.Done()
		return nil
	}

	log.Printf("Starting recording cleanup cron (retention %d days)", c.autoDeleteDays)

	// Daily at 03:15, plus one pass at boot.
	if _, err := c.cron.AddFunc("15 3 * * *", c.runCleanup); err != nil {
		return err
	}
	c.cron.Start()
	c.runCleanup()

	<-ctx.Done()
	c.cron.Stop()
	return nil
}

func (c *CleanupCron) runCleanup() {
	expiry := time.Now().AddDate(0, 0, -c.autoDeleteDays)
	log.Printf("Cleaning up recordings started before: %s", expiry.Format("2006-01-02"))

	expired, err := c.db.ListExpired(expiry)
	if err != nil {
		log.Printf("Cleanup query error: %v", err)
		return
	}

	removed := 0
	for _, rec := range expired {
		if rec.LocalPath != "" {
			if _, err := os.Stat(rec.LocalPath); err == nil {
				log.Printf("Deleting expired recording file: %s", rec.LocalPath)
				if err := os.Remove(rec.LocalPath); err != nil {
					log.Printf("Error deleting recording file %s: %v", rec.LocalPath, err)
					continue
				}
			}
		}
		if err := c.db.UpdateRecordingStatus(rec.ID, database.StatusDeleted, ""); err != nil {
			log.Printf("Error marking recording %s deleted: %v", rec.ID, err)
			continue
		}
		removed++
	}

	log.Printf("Cleanup done: %d expired recordings removed", removed)
}
