package api

import (
	"errors"
	"log"
	"net/http"
	"os"

	"lite-nvr/storage"

	"github.com/gin-gonic/gin"
)

func listAll(v string) bool {
	return v == "1" || v == "true" || v == "yes"
}

func (s *Server) filesList(c *gin.Context) {
	ext := c.DefaultQuery("ext", "mp4")
	if listAll(c.Query("all")) {
		ext = ""
	}

	files, err := s.store.List(ext)
	if err != nil {
		if errors.Is(err, storage.ErrBaseMissing) {
			c.JSON(http.StatusInternalServerError, gin.H{
				"status":  "failed",
				"message": "Base folder does not exist",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"status": "failed", "message": err.Error()})
		return
	}

	if files == nil {
		files = []storage.FileEntry{}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"folder_base": s.store.Base(),
		"count":       len(files),
		"ext_filter":  ext,
		"files":       files,
	})
}

func (s *Server) filesStatus(c *gin.Context) {
	name := c.Query("file")
	if !storage.SafeBasename(name) {
		c.JSON(http.StatusBadRequest, gin.H{
			"status":  "error",
			"message": "Missing or invalid 'file'",
		})
		return
	}

	details, err := s.store.Stat(name)
	if err != nil {
		if os.IsNotExist(err) {
			c.JSON(http.StatusNotFound, gin.H{"status": "failed", "message": "File not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"status": "failed", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":            "ok",
		"file":              details.Name,
		"path":              details.Path,
		"folder_base":       details.FolderBase,
		"size_bytes":        details.SizeBytes,
		"suffix":            details.Suffix,
		"last_modified_utc": details.LastModifiedUTC,
		"created_utc":       details.CreatedUTC,
		"is_readable":       details.IsReadable,
	})
}

type removeRequest struct {
	File string `json:"file"`
}

func (s *Server) filesRemove(c *gin.Context) {
	var req removeRequest
	_ = c.ShouldBindJSON(&req)
	name := req.File
	if name == "" {
		name = c.Query("file")
	}
	if !storage.SafeBasename(name) {
		c.JSON(http.StatusBadRequest, gin.H{
			"status":  "error",
			"message": "Missing or invalid 'file'",
		})
		return
	}

	path, err := s.store.Resolve(name)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Missing or invalid 'file'"})
		return
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		c.JSON(http.StatusNotFound, gin.H{"status": "failed", "message": "File not found"})
		return
	}

	if err := s.store.Remove(name); err != nil {
		log.Printf("[HTTP] remove %s failed: %v", name, err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "failed", "message": err.Error()})
		return
	}

	log.Printf("[HTTP] removed file %s", name)
	c.JSON(http.StatusOK, gin.H{"status": "ok", "file": name})
}
