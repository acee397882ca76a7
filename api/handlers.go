package api

import (
	"log"
	"net/http"
	"time"

	"lite-nvr/registry"

	"github.com/gin-gonic/gin"
)

const (
	// How long /record/start waits for the recorder to report a file.
	recordStartDeadline = 2000 * time.Millisecond
	recordStartPoll     = 50 * time.Millisecond

	// How long /record/stop waits for a known file.
	recordStopDeadline = 1000 * time.Millisecond
	recordStopPoll     = 25 * time.Millisecond
)

type streamRequest struct {
	StreamID string `json:"stream_id"`
}

// bindStreamID parses the request body. A false return means the 400 response
// was already written.
func bindStreamID(c *gin.Context) (string, bool) {
	var req streamRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.StreamID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"status":  "error",
			"message": "Missing or invalid 'stream_id'",
		})
		return "", false
	}
	return req.StreamID, true
}

func (s *Server) streamStart(c *gin.Context) {
	id, ok := bindStreamID(c)
	if !ok {
		return
	}
	log.Printf("[HTTP] POST /stream/start for stream: %s", id)
	s.controller.EnableStream(id)
	c.JSON(http.StatusOK, gin.H{"status": "ok", "stream_id": id})
}

func (s *Server) streamStop(c *gin.Context) {
	id, ok := bindStreamID(c)
	if !ok {
		return
	}
	log.Printf("[HTTP] POST /stream/stop for stream: %s", id)
	s.controller.DisableStream(id)
	c.JSON(http.StatusOK, gin.H{"status": "ok", "stream_id": id})
}

func entryJSON(e registry.Entry) gin.H {
	out := gin.H{
		"stream_id":     e.StreamID,
		"streaming":     e.Streaming,
		"recording":     e.Recording,
		"start_pending": e.StartPending,
		"stop_pending":  e.StopPending,
	}
	if e.LastFile != "" {
		out["file"] = e.LastFile
	} else {
		out["file"] = nil
	}
	return out
}

func (s *Server) streamStatus(c *gin.Context) {
	if id, present := c.GetQuery("stream_id"); present {
		e, ok := s.registry.SnapshotOne(id)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{
				"status":  "not_found",
				"message": "Unknown stream_id",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "stream": entryJSON(e)})
		return
	}

	entries := s.registry.Snapshot()
	streams := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		streams = append(streams, entryJSON(e))
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "streams": streams})
}

func (s *Server) streamPreview(c *gin.Context) {
	if s.preview == nil {
		c.JSON(http.StatusNotFound, gin.H{"status": "failed", "message": "preview disabled"})
		return
	}
	id := c.Query("stream_id")
	if !s.registry.Known(id) {
		c.JSON(http.StatusNotFound, gin.H{"status": "not_found", "message": "Unknown stream_id"})
		return
	}
	if text := s.preview.Status(id); text != "" {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "stream_id": id, "state": text})
		return
	}
	jpg, err := s.preview.JPEG(id, 80)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"status": "failed", "message": err.Error()})
		return
	}
	c.Data(http.StatusOK, "image/jpeg", jpg)
}

// waitForFile polls the registry until the recorder has reported a file for
// id, or the deadline elapses.
func (s *Server) waitForFile(id string, poll, deadline time.Duration) string {
	end := time.Now().Add(deadline)
	for {
		if f := s.registry.LastFile(id); f != "" {
			return f
		}
		if time.Now().After(end) {
			return ""
		}
		time.Sleep(poll)
	}
}

func (s *Server) recordStart(c *gin.Context) {
	id, ok := bindStreamID(c)
	if !ok {
		return
	}
	if !s.registry.Known(id) {
		c.JSON(http.StatusNotFound, gin.H{
			"status":  "failed",
			"message": "Unknown 'stream_id'",
		})
		return
	}
	log.Printf("[HTTP] POST /record/start for stream: %s", id)

	switch s.registry.TryBeginStart(id) {
	case registry.StartAlreadyRecording:
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "already recording",
			"file":    s.registry.LastFile(id),
		})
		return
	case registry.StartAlreadyPending:
		c.JSON(http.StatusAccepted, gin.H{
			"status":  "ok",
			"message": "start already pending",
		})
		return
	}

	s.controller.StartRecording(id)

	if file := s.waitForFile(id, recordStartPoll, recordStartDeadline); file != "" {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "stream_id": id, "file": file})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"status":  "failed",
		"message": "timeout waiting for recording file to be created/known",
		"file":    nil,
	})
}

func (s *Server) recordStop(c *gin.Context) {
	id, ok := bindStreamID(c)
	if !ok {
		return
	}
	if !s.registry.Known(id) {
		c.JSON(http.StatusNotFound, gin.H{
			"status":  "failed",
			"message": "Unknown 'stream_id'",
		})
		return
	}
	log.Printf("[HTTP] POST /record/stop for stream: %s", id)

	switch s.registry.TryBeginStop(id) {
	case registry.StopNotRecording:
		c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "not recording"})
		return
	case registry.StopDeferred:
		// Start has not confirmed yet; the started bridge will relay the
		// stop. Wait briefly in case the file becomes known meanwhile.
	default:
		s.controller.StopRecording(id)
	}

	if file := s.waitForFile(id, recordStopPoll, recordStopDeadline); file != "" {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "stream_id": id, "file": file})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"stream_id": id,
		"file":      nil,
		"message":   "stop requested; recording file not yet known",
	})
}

func (s *Server) listRecordings(c *gin.Context) {
	limit, offset := 50, 0
	recs, err := s.db.ListRecordings(limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "failed", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "count": len(recs), "recordings": recs})
}
