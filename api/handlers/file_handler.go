package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/devadigapratham/fleet3d/api/models"
	"github.com/devadigapratham/fleet3d/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// GetFiles returns the file library
func (h *Handler) GetFiles(c *gin.Context) {
	c.JSON(http.StatusOK, h.Node.GetFSM().GetFiles())
}

// UploadFile stores a multipart file in the library
func (h *Handler) UploadFile(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no file in request"})
		return
	}
	if header.Filename == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no file selected"})
		return
	}
	if !storage.AllowedFile(header.Filename, h.Extensions) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported file type"})
		return
	}
	name := storage.SecureFilename(header.Filename)
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file name"})
		return
	}

	src, err := header.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer src.Close()

	// Stored under a unique key so equal names never overwrite each other
	key := uuid.New().String() + "-" + name
	size, err := h.Files.Put(key, src)
	if err != nil {
		if errors.Is(err, storage.ErrTooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	now := time.Now().UTC()
	cmd := &models.Command{
		Type: models.AddFile,
		File: &models.File{
			Name:        name,
			Path:        key,
			Size:        size,
			Type:        storage.FileType(name, h.Extensions),
			Description: c.PostForm("description"),
			Uploaded:    now,
			Modified:    now,
		},
		Timestamp: now,
	}

	res, ok := h.apply(c, cmd)
	if !ok {
		h.Files.Delete(key)
		return
	}

	file := res.(*models.File)
	h.Logger.Info("file uploaded", "id", file.ID, "name", file.Name, "size", file.Size)
	c.JSON(http.StatusCreated, file)
}

// DeleteFile removes a file from the library
func (h *Handler) DeleteFile(c *gin.Context) {
	id := c.Param("id")
	file, ok := h.Node.GetFSM().GetFile(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}

	if _, ok := h.apply(c, &models.Command{Type: models.RemoveFile, TargetID: id}); !ok {
		return
	}
	// The library entry is gone; leftover bytes are only wasted space
	if err := h.Files.Delete(file.Path); err != nil {
		h.Logger.Warn("failed to remove file content", "id", id, "key", file.Path, "error", err)
	}

	h.Logger.Info("file deleted", "id", id)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// DownloadFile streams a library file as an attachment
func (h *Handler) DownloadFile(c *gin.Context) {
	file, ok := h.Node.GetFSM().GetFile(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}

	rc, size, err := h.Files.Open(file.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.JSON(http.StatusNotFound, gin.H{"error": "file content not available on this node"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer rc.Close()

	c.DataFromReader(http.StatusOK, size, "application/octet-stream", rc, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", file.Name),
	})
}

// Backup streams the library folder as a tar archive
func (h *Handler) Backup(c *gin.Context) {
	c.Header("Content-Type", "application/x-tar")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "fleet3d-files-"+time.Now().UTC().Format("20060102-150405")+".tar"))
	c.Status(http.StatusOK)
	if err := h.Files.Backup(c.Writer); err != nil {
		h.Logger.Error("backup failed", "error", err)
	}
}

// Restore replaces the library folder with an archive produced by Backup
func (h *Handler) Restore(c *gin.Context) {
	if err := h.Files.Restore(c.Request.Body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.Logger.Info("file library restored", "files", len(h.Files.Keys()))
	c.JSON(http.StatusOK, gin.H{"success": true, "files": len(h.Files.Keys())})
}
