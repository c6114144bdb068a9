package http

import (
	"context"
	"io"
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"

	"github.com/mvolkov/roomcast-server/internal/broker"
	"github.com/mvolkov/roomcast-server/internal/s3"
)

// ObjectStorage is the slice of the attachment store the image routes consume.
type ObjectStorage interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Download(ctx context.Context, key string) (io.ReadCloser, minio.ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

// EventPublisher publishes attachment lifecycle events to the side channel.
type EventPublisher interface {
	Publish(ctx context.Context, ev broker.Event) error
}

// ImageHandler serves attachment upload, download, and delete. The broadcast
// engine is untouched by these routes; they talk to object storage and
// announce lifecycle changes on the broker side channel.
type ImageHandler struct {
	storage ObjectStorage
	events  EventPublisher
	log     *zerolog.Logger
}

// NewImageHandler builds the attachment routes. Either collaborator may be
// nil: without storage the routes answer 501, without a publisher lifecycle
// events are skipped.
func NewImageHandler(storage ObjectStorage, events EventPublisher, logger *zerolog.Logger) *ImageHandler {
	return &ImageHandler{storage: storage, events: events, log: logger}
}

// Upload accepts POST /images/upload/:user_id with a multipart "file" field.
// The object key is a generated time-ordered UUID.
func (h *ImageHandler) Upload(c *gin.Context) {
	if h.storage == nil {
		c.JSON(stdhttp.StatusNotImplemented, ErrorResponse{Error: "object storage is not configured"})
		return
	}

	userID, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		c.JSON(stdhttp.StatusBadRequest, ErrorResponse{Error: "user id must be a valid UUID"})
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(stdhttp.StatusBadRequest, ErrorResponse{Error: "multipart field \"file\" is required"})
		return
	}

	file, err := header.Open()
	if err != nil {
		c.JSON(stdhttp.StatusInternalServerError, ErrorResponse{Error: "failed to read upload"})
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key, err := uuid.NewV7()
	if err != nil {
		c.JSON(stdhttp.StatusInternalServerError, ErrorResponse{Error: "failed to generate key"})
		return
	}

	if err := h.storage.Upload(c.Request.Context(), key.String(), file, header.Size, contentType); err != nil {
		h.log.Error().Err(err).Msg("upload failed")
		c.JSON(stdhttp.StatusInternalServerError, ErrorResponse{Error: "upload failed"})
		return
	}

	h.announce(c, broker.Event{
		UserID: userID.String(),
		Action: broker.ActionCreate,
		Data:   key.String(),
	})

	c.JSON(stdhttp.StatusOK, gin.H{"key": key.String()})
}

// Download streams GET /images/:filename back as an attachment.
func (h *ImageHandler) Download(c *gin.Context) {
	if h.storage == nil {
		c.JSON(stdhttp.StatusNotImplemented, ErrorResponse{Error: "object storage is not configured"})
		return
	}

	filename := c.Param("filename")
	body, info, err := h.storage.Download(c.Request.Context(), filename)
	if err != nil {
		if s3.ErrNotFound(err) {
			c.JSON(stdhttp.StatusNotFound, ErrorResponse{Error: "image not found"})
			return
		}
		h.log.Error().Err(err).Str("key", filename).Msg("download failed")
		c.JSON(stdhttp.StatusInternalServerError, ErrorResponse{Error: "download failed"})
		return
	}
	defer body.Close()

	c.DataFromReader(stdhttp.StatusOK, info.Size, info.ContentType, body, map[string]string{
		"Content-Disposition": `attachment; filename="` + filename + `"`,
	})
}

// Delete removes DELETE /images/:filename from object storage and announces
// the removal. The route carries no user id, so the event identifies the
// attachment by its key alone.
func (h *ImageHandler) Delete(c *gin.Context) {
	if h.storage == nil {
		c.JSON(stdhttp.StatusNotImplemented, ErrorResponse{Error: "object storage is not configured"})
		return
	}

	filename := c.Param("filename")
	if err := h.storage.Delete(c.Request.Context(), filename); err != nil {
		h.log.Error().Err(err).Str("key", filename).Msg("delete failed")
		c.JSON(stdhttp.StatusInternalServerError, ErrorResponse{Error: "delete failed"})
		return
	}

	h.announce(c, broker.Event{
		Action: broker.ActionDelete,
		Data:   filename,
	})

	h.log.Info().Str("key", filename).Msg("image deleted")
	c.JSON(stdhttp.StatusOK, gin.H{"key": filename})
}

// announce publishes a lifecycle event when a publisher is configured. A
// failed publish is logged, not surfaced: the side channel is advisory.
func (h *ImageHandler) announce(c *gin.Context, ev broker.Event) {
	if h.events == nil {
		return
	}
	if err := h.events.Publish(c.Request.Context(), ev); err != nil {
		h.log.Warn().Err(err).Str("action", string(ev.Action)).Msg("failed to publish attachment event")
	}
}
