package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/gurukul/internal/media"
	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var errContentTypeMismatch = errors.New("server: declared content type disagrees with upload content")

type deleteMediaRequest struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

func (h *httpHandler) handleMediaUpload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file_too_large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "file_required"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		h.logger.Error("failed to open upload", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "file_required"})
		return
	}
	defer file.Close()

	contentType, err := uploadContentType(fileHeader, file)
	if errors.Is(err, errContentTypeMismatch) {
		h.logger.Info("upload rejected", zap.String("external_id", c.GetString(callerIDContextKey)), zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "content_type_mismatch"})
		return
	}
	if err != nil {
		h.logger.Error("failed to sniff upload", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload_failed"})
		return
	}

	asset, err := h.media.Upload(c.Request.Context(), c.GetString(callerIDContextKey), contentType, file, fileHeader.Size)
	switch {
	case err == nil:
	case errors.Is(err, media.ErrUnsupportedMedia):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported_media_type"})
		return
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"publicId": asset.PublicID, "type": asset.Kind})
}

// uploadContentType sniffs the upload and returns the detected type. A specific declared
// type must belong to the same family (image, video, ...) as the detected one.
func uploadContentType(header *multipart.FileHeader, file multipart.File) (string, error) {
	detected, err := mimetype.DetectReader(file)
	if err != nil {
		return "", err
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	declared := strings.TrimSpace(header.Header.Get("Content-Type"))
	if declared != "" && declared != "application/octet-stream" && mediaFamily(declared) != mediaFamily(detected.String()) {
		return "", fmt.Errorf("%w: declared %q, detected %q", errContentTypeMismatch, declared, detected.String())
	}
	return detected.String(), nil
}

func mediaFamily(contentType string) string {
	family, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(contentType)), "/")
	return family
}

func (h *httpHandler) handleMediaDelete(c *gin.Context) {
	var request deleteMediaRequest
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.ID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	kind, err := media.ParseKind(request.Type)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported_media_type"})
		return
	}

	err = h.media.Delete(c.Request.Context(), c.GetString(callerIDContextKey), request.ID, kind)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "deleted"})
	case errors.Is(err, media.ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, media.ErrInvalidPublicID):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_public_id"})
	case errors.Is(err, media.ErrUnsupportedMedia):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported_media_type"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
	}
}
