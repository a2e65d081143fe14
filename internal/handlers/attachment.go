package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/ai"
	"messaging-service/internal/media"
	"messaging-service/internal/models"
)

// maxUploadBytes caps a single attachment upload.
const maxUploadBytes = 64 << 20

// AttachmentHandler ingests attachment uploads and voice transcriptions.
type AttachmentHandler struct {
	uploader *media.Uploader
	ai       *ai.Client
}

// NewAttachmentHandler builds an AttachmentHandler.
func NewAttachmentHandler(uploader *media.Uploader, aiClient *ai.Client) *AttachmentHandler {
	return &AttachmentHandler{uploader: uploader, ai: aiClient}
}

// UploadAttachment accepts a multipart file, stores the blob, and returns
// the content block the client embeds in its next message.
func (h *AttachmentHandler) UploadAttachment(c *gin.Context) {
	userID := userIDFromContext(c)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file field"})
		return
	}
	if fileHeader.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "attachment too large"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
		return
	}

	kind := models.BlockKind(c.DefaultPostForm("kind", string(models.BlockDocument)))
	switch kind {
	case models.BlockImage, models.BlockDocument, models.BlockAudio:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported attachment kind"})
		return
	}

	block, err := h.uploader.Upload(c.Request.Context(), userID, data, fileHeader.Header.Get("Content-Type"), fileHeader.Filename, kind)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, block)
}

// DownloadAttachment redirects to a freshly signed link for a stored
// blob. Attachment links embedded in old messages expire with the
// presign window; clients follow this route to renew them.
func (h *AttachmentHandler) DownloadAttachment(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing attachment key"})
		return
	}

	url, err := h.uploader.SignedURL(c.Request.Context(), key)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Redirect(http.StatusTemporaryRedirect, url)
}

// Generate produces a draft message from a prompt and optional
// conversation context.
func (h *AttachmentHandler) Generate(c *gin.Context) {
	var req struct {
		Prompt  string `json:"prompt" binding:"required"`
		Context string `json:"context"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	text, err := h.ai.Generate(c.Request.Context(), req.Prompt, req.Context)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"text": text})
}

// Transcribe converts an uploaded voice recording to text.
func (h *AttachmentHandler) Transcribe(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxUploadBytes))
	if err != nil || len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty audio body"})
		return
	}

	text, err := h.ai.Transcribe(c.Request.Context(), data, c.ContentType())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"text": text})
}
