package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"legalchat-backend/models"
	"legalchat-backend/repository"
	"legalchat-backend/storage"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const defaultMaxUploadSize = 20 * 1024 * 1024

// AttachmentStore records uploaded attachments
type AttachmentStore interface {
	Create(ctx context.Context, att *models.Attachment) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Attachment, error)
}

// FileHandler handles HTTP requests for attachment uploads
type FileHandler struct {
	attachments      AttachmentStore
	storage          storage.Storage
	logger           *slog.Logger
	maxFileSize      int64
	allowedMimeTypes map[string]bool
}

// NewFileHandler creates a new file handler
func NewFileHandler(attachments AttachmentStore, store storage.Storage, logger *slog.Logger) *FileHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileHandler{
		attachments: attachments,
		storage:     store,
		logger:      logger,
		maxFileSize: defaultMaxUploadSize,
		allowedMimeTypes: map[string]bool{
			"application/pdf":          true,
			"text/plain":               true,
			"text/csv":                 true,
			"text/html":                true,
			"application/vnd.ms-excel": true,
			"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true,
		},
	}
}

// UploadFile handles POST /api/files/upload. The returned url is a
// storage:// locator that can be embedded in chat attachment markers.
func (h *FileHandler) UploadFile(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "MISSING_FILE",
				"message": "File is required",
			},
		})
		return
	}

	if fileHeader.Size > h.maxFileSize {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "FILE_TOO_LARGE",
				"message": fmt.Sprintf("File size exceeds maximum of %d bytes", h.maxFileSize),
			},
		})
		return
	}

	mimeType := mediaType(fileHeader.Header.Get("Content-Type"))
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = storage.ContentTypeFor(fileHeader.Filename)
	}
	if !h.allowedMimeTypes[mimeType] {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_FILE_TYPE",
				"message": "File type not allowed. Allowed types: PDF, TXT, CSV, HTML, XLS, XLSX",
			},
		})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "FILE_OPEN_ERROR",
				"message": err.Error(),
			},
		})
		return
	}
	defer file.Close()

	ctx := c.Request.Context()
	fileID := uuid.New()

	key, err := h.storage.Upload(ctx, fileID, fileHeader.Filename, mimeType, file)
	if err != nil {
		h.logger.Error("Failed to upload attachment", "filename", fileHeader.Filename, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "UPLOAD_FAILED",
				"message": fmt.Sprintf("Failed to upload file: %v", err),
			},
		})
		return
	}

	att := &models.Attachment{
		ID:          fileID,
		Filename:    fileHeader.Filename,
		ContentType: mimeType,
		Size:        fileHeader.Size,
		StorageKey:  key,
	}
	if err := h.attachments.Create(ctx, att); err != nil {
		if delErr := h.storage.Delete(ctx, key); delErr != nil {
			h.logger.Warn("Failed to clean up orphaned upload", "key", key, "error", delErr)
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "DATABASE_ERROR",
				"message": fmt.Sprintf("Failed to save attachment record: %v", err),
			},
		})
		return
	}

	h.logger.Info("Attachment uploaded", "attachment_id", att.ID, "content_type", mimeType, "size", att.Size)
	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data": gin.H{
			"id":          att.ID,
			"url":         storage.Locator(key),
			"pathname":    key,
			"contentType": att.ContentType,
			"size":        att.Size,
		},
	})
}

// GetFile handles GET /api/files/:id
func (h *FileHandler) GetFile(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_ID",
				"message": "Invalid file ID format",
			},
		})
		return
	}

	att, err := h.attachments.GetByID(c.Request.Context(), id)
	if err != nil {
		status, code := http.StatusInternalServerError, "DATABASE_ERROR"
		if errors.Is(err, repository.ErrNotFound) {
			status, code = http.StatusNotFound, "NOT_FOUND"
		}
		c.JSON(status, gin.H{
			"success": false,
			"error": gin.H{
				"code":    code,
				"message": "File not found",
			},
		})
		return
	}

	reader, err := h.storage.Download(c.Request.Context(), att.StorageKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "DOWNLOAD_FAILED",
				"message": fmt.Sprintf("Failed to download file: %v", err),
			},
		})
		return
	}
	defer reader.Close()

	c.DataFromReader(http.StatusOK, att.Size, att.ContentType, reader, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", att.Filename),
	})
}

func mediaType(header string) string {
	if header == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(header))
	}
	return mt
}
